package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// These tests exercise the database-side guarantees that the service layer
// relies on: the one-open-draft partial unique index, the status-guarded
// finalize, and the immutability trigger on finalized rows. They need a
// real Postgres and are skipped in short mode.

func openTestStore(t *testing.T) *PostgresStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	db, err := Open(ctx, testDatabaseURL())
	if err != nil {
		t.Skipf("test database unavailable: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := ApplyMigrations(ctx, db, "../../db/migrations"); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return NewPostgresStore(db)
}

func testDatabaseURL() string {
	if url := os.Getenv("TEST_DATABASE_URL"); url != "" {
		return url
	}
	host := envOr("POSTGRES_HOST", "localhost")
	port := envOr("POSTGRES_PORT", "5432")
	user := envOr("POSTGRES_USER", "pmdos")
	pass := envOr("POSTGRES_PASSWORD", "pmdos")
	dbname := envOr("POSTGRES_DB", "pmdos_test")
	return "postgres://" + user + ":" + pass + "@" + host + ":" + port + "/" + dbname + "?sslmode=disable"
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func TestSecondDraftForSameTypeHitsUniqueIndex(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	c, err := s.CreateCase(ctx, "ITEST1", "default")
	if err != nil {
		t.Fatalf("create case: %v", err)
	}
	t.Cleanup(func() { cleanupCase(ctx, s, c.ID) })

	draft := DecisionEvent{CaseID: c.ID, Ticker: c.Ticker, EventType: "RISK_NOTE", EventTS: time.Now(), Payload: map[string]any{}}
	if _, err := s.CreateDraft(ctx, draft); err != nil {
		t.Fatalf("create first draft: %v", err)
	}
	_, err = s.CreateDraft(ctx, draft)
	if !errors.Is(err, ErrDraftExists) {
		t.Fatalf("second draft: got %v, want ErrDraftExists", err)
	}
}

func TestFinalizeGuardLosesToFirstFinalize(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	c, err := s.CreateCase(ctx, "ITEST2", "default")
	if err != nil {
		t.Fatalf("create case: %v", err)
	}
	t.Cleanup(func() { cleanupCase(ctx, s, c.ID) })

	draft, err := s.CreateDraft(ctx, DecisionEvent{
		CaseID: c.ID, Ticker: c.Ticker, EventType: "TICKER_RULE", EventTS: time.Now(),
		Payload: map[string]any{"ticker": c.Ticker, "rule_text": "rule", "tags": []string{}, "status": "ACTIVE"},
	})
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}

	final, err := s.FinalizeDraft(ctx, draft.ID, nil, draft.UpdatedAt)
	if err != nil {
		t.Fatalf("first finalize: %v", err)
	}
	if _, err := s.FinalizeDraft(ctx, draft.ID, nil, final.UpdatedAt); err == nil {
		t.Fatal("second finalize found a row, want zero rows")
	}
}

func TestFinalizeGuardLosesToInterleavedPatch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	c, err := s.CreateCase(ctx, "ITEST5", "default")
	if err != nil {
		t.Fatalf("create case: %v", err)
	}
	t.Cleanup(func() { cleanupCase(ctx, s, c.ID) })

	draft, err := s.CreateDraft(ctx, DecisionEvent{
		CaseID: c.ID, Ticker: c.Ticker, EventType: "TICKER_RULE", EventTS: time.Now(),
		Payload: map[string]any{"ticker": c.Ticker, "rule_text": "rule", "tags": []string{}, "status": "ACTIVE"},
	})
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}

	// A patch after the finalizer's read bumps updated_at, so promoting with
	// the stale fingerprint must find zero rows.
	if _, err := s.UpdateDraftPayload(ctx, draft.ID, map[string]any{"rule_text": "changed"}, nil); err != nil {
		t.Fatalf("interleaved patch: %v", err)
	}
	if _, err := s.FinalizeDraft(ctx, draft.ID, nil, draft.UpdatedAt); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("stale finalize: got %v, want sql.ErrNoRows", err)
	}

	ev, err := s.GetEvent(ctx, draft.ID)
	if err != nil {
		t.Fatalf("reread event: %v", err)
	}
	if ev.Status != "DRAFT" {
		t.Fatalf("event must stay DRAFT, got %s", ev.Status)
	}
}

func TestFinalizedEventRejectsMutation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	c, err := s.CreateCase(ctx, "ITEST3", "default")
	if err != nil {
		t.Fatalf("create case: %v", err)
	}
	t.Cleanup(func() { cleanupCase(ctx, s, c.ID) })

	final, err := s.InsertFinalEvent(ctx, DecisionEvent{
		CaseID: c.ID, Ticker: c.Ticker, EventType: "RISK_NOTE", EventTS: time.Now(),
		Payload: map[string]any{"risk_type": "EVENT", "severity": "LOW", "note": "n", "action": "MONITOR", "due_by": "2026-09-01"},
	})
	if err != nil {
		t.Fatalf("insert final event: %v", err)
	}

	_, err = s.DB().ExecContext(ctx, `UPDATE decision_events SET payload='{}'::jsonb WHERE id=$1`, final.ID)
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.SQLState() != "55000" {
		t.Fatalf("update finalized event: got %v, want SQLSTATE 55000", err)
	}

	_, err = s.DB().ExecContext(ctx, `DELETE FROM decision_events WHERE id=$1`, final.ID)
	if !errors.As(err, &pgErr) || pgErr.SQLState() != "55000" {
		t.Fatalf("delete finalized event: got %v, want SQLSTATE 55000", err)
	}
}

func TestReplayOrderIsEventTSCreatedAtID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	c, err := s.CreateCase(ctx, "ITEST4", "default")
	if err != nil {
		t.Fatalf("create case: %v", err)
	}
	t.Cleanup(func() { cleanupCase(ctx, s, c.ID) })

	ts := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	later := ts.Add(24 * time.Hour)
	for _, eventTS := range []time.Time{later, ts, ts} {
		_, err := s.InsertFinalEvent(ctx, DecisionEvent{
			CaseID: c.ID, Ticker: c.Ticker, EventType: "RISK_NOTE", EventTS: eventTS,
			Payload: map[string]any{"risk_type": "EVENT", "severity": "LOW", "note": "n", "action": "MONITOR", "due_by": "2026-09-01"},
		})
		if err != nil {
			t.Fatalf("insert final event: %v", err)
		}
	}

	events, err := s.ListFinalEvents(ctx, c.ID, nil)
	if err != nil {
		t.Fatalf("list final events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i].EventTS.Before(events[i-1].EventTS) {
			t.Fatalf("events out of event_ts order at %d", i)
		}
	}

	cutoff := ts
	bounded, err := s.ListFinalEvents(ctx, c.ID, &cutoff)
	if err != nil {
		t.Fatalf("list bounded events: %v", err)
	}
	if len(bounded) != 2 {
		t.Fatalf("asof bound returned %d events, want 2", len(bounded))
	}
}

// cleanupCase removes test rows; finalized events are trigger-protected, so
// the trigger is disabled for the session-scoped cleanup.
func cleanupCase(ctx context.Context, s *PostgresStore, caseID string) {
	_, _ = s.DB().ExecContext(ctx, `ALTER TABLE decision_events DISABLE TRIGGER trg_decision_events_block_delete`)
	_, _ = s.DB().ExecContext(ctx, `DELETE FROM decision_events WHERE case_id=$1`, caseID)
	_, _ = s.DB().ExecContext(ctx, `ALTER TABLE decision_events ENABLE TRIGGER trg_decision_events_block_delete`)
	_, _ = s.DB().ExecContext(ctx, `DELETE FROM trade_cases WHERE id=$1`, caseID)
}
