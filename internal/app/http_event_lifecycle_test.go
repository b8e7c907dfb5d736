package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pmdos/api/internal/auth"
	"pmdos/api/internal/store"
)

func bearerFor(t *testing.T, role string) string {
	t.Helper()
	token, err := auth.IssueToken([]byte("test-secret"), auth.Claims{
		Sub:   "user-1",
		Email: "dev@pmdos.local",
		Name:  "Dev Analyst",
		Role:  role,
		JTI:   "jti-1",
		Exp:   time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func doJSON(t *testing.T, client *http.Client, method, url, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reqBody bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&reqBody).Encode(body); err != nil {
			t.Fatalf("encode request body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &reqBody)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	decoded := map[string]any{}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response body: %v", err)
	}
	return resp, decoded
}

// TestEventLifecycleOverHTTP walks a draft from creation through patches to
// finalize against an in-memory store fake.
func TestEventLifecycleOverHTTP(t *testing.T) {
	var draft *store.DecisionEvent
	fs := &fakeStore{
		getDraftFn: func(_ context.Context, caseID, eventType string) (store.DecisionEvent, error) {
			if draft == nil || draft.CaseID != caseID || draft.EventType != eventType || draft.Status != "DRAFT" {
				return store.DecisionEvent{}, sql.ErrNoRows
			}
			return *draft, nil
		},
		createDraftFn: func(_ context.Context, ev store.DecisionEvent) (store.DecisionEvent, error) {
			if draft != nil {
				return store.DecisionEvent{}, store.ErrDraftExists
			}
			ev.ID = "event-1"
			ev.Status = "DRAFT"
			draft = &ev
			return ev, nil
		},
		getEventFn: func(_ context.Context, eventID string) (store.DecisionEvent, error) {
			if draft == nil || draft.ID != eventID {
				return store.DecisionEvent{}, sql.ErrNoRows
			}
			return *draft, nil
		},
		updateDraftPayloadFn: func(_ context.Context, eventID string, payload map[string]any, _ *time.Time) (store.DecisionEvent, error) {
			if draft == nil || draft.ID != eventID || draft.Status != "DRAFT" {
				return store.DecisionEvent{}, sql.ErrNoRows
			}
			draft.Payload = payload
			draft.UpdatedAt = time.Now().UTC()
			return *draft, nil
		},
		finalizeDraftFn: func(_ context.Context, eventID string, _ *time.Time, readUpdatedAt time.Time) (store.DecisionEvent, error) {
			if draft == nil || draft.ID != eventID || draft.Status != "DRAFT" || !draft.UpdatedAt.Equal(readUpdatedAt) {
				return store.DecisionEvent{}, sql.ErrNoRows
			}
			now := time.Now().UTC()
			draft.Status = "FINAL"
			draft.FinalizedAt = &now
			return *draft, nil
		},
	}
	svc := newTestService(fs, &fakeGit{})
	srv := httptest.NewServer(NewHTTPServer(svc, "*").Handler())
	defer srv.Close()

	token := bearerFor(t, "analyst")
	client := srv.Client()

	resp, body := doJSON(t, client, http.MethodPost, srv.URL+"/api/cases/case-1/drafts", token, map[string]any{
		"event_type":   "RESIZE",
		"seed_payload": map[string]any{"from_pct": 2.0},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start draft: status %d body %v", resp.StatusCode, body)
	}
	missing, _ := body["missing_fields"].([]any)
	if len(missing) != 4 {
		t.Fatalf("expected 4 missing fields after seeding from_pct, got %v", body["missing_fields"])
	}

	// Finalizing the partial draft must fail and leave it patchable.
	resp, body = doJSON(t, client, http.MethodPost, srv.URL+"/api/cases/case-1/events/event-1/finalize", token, map[string]any{})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("premature finalize: status %d body %v", resp.StatusCode, body)
	}
	if body["code"] != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR, got %v", body["code"])
	}

	resp, body = doJSON(t, client, http.MethodPatch, srv.URL+"/api/cases/case-1/events/event-1", token, map[string]any{
		"payload_patch": map[string]any{
			"to_pct":    1.0,
			"reason":    "RISK",
			"rationale": "cutting gross into the print",
			"constraints": map[string]any{
				"adv_cap_binding": false, "gross_cap_binding": true, "net_cap_binding": false,
			},
		},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch draft: status %d body %v", resp.StatusCode, body)
	}
	missing, _ = body["missing_fields"].([]any)
	if len(missing) != 0 {
		t.Fatalf("expected a complete draft, still missing %v", missing)
	}

	resp, body = doJSON(t, client, http.MethodPost, srv.URL+"/api/cases/case-1/events/event-1/finalize", token, map[string]any{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("finalize: status %d body %v", resp.StatusCode, body)
	}
	if body["status"] != "FINAL" {
		t.Fatalf("expected FINAL event, got %v", body["status"])
	}

	// A second patch hits the frozen row.
	resp, body = doJSON(t, client, http.MethodPatch, srv.URL+"/api/cases/case-1/events/event-1", token, map[string]any{
		"payload_patch": map[string]any{"to_pct": 0.5},
	})
	if resp.StatusCode != http.StatusConflict || body["code"] != "STATE_CONFLICT" {
		t.Fatalf("patch after finalize: status %d body %v", resp.StatusCode, body)
	}
}

func TestHTTPRequiresSession(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeGit{})
	srv := httptest.NewServer(NewHTTPServer(svc, "*").Handler())
	defer srv.Close()

	resp, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/cases", "", nil)
	if resp.StatusCode != http.StatusUnauthorized || body["code"] != "UNAUTHORIZED" {
		t.Fatalf("expected 401 UNAUTHORIZED, got %d %v", resp.StatusCode, body)
	}

	// Health and readiness stay open.
	resp, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/health", "", nil)
	if resp.StatusCode != http.StatusOK || body["ok"] != true {
		t.Fatalf("health: status %d body %v", resp.StatusCode, body)
	}
	resp, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/ready", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ready: status %d", resp.StatusCode)
	}
}

func TestHTTPViewerCannotRecord(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeGit{})
	srv := httptest.NewServer(NewHTTPServer(svc, "*").Handler())
	defer srv.Close()

	token := bearerFor(t, "viewer")
	resp, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/cases/case-1/drafts", token, map[string]any{
		"event_type": "INITIATE",
	})
	if resp.StatusCode != http.StatusForbidden || body["code"] != "FORBIDDEN" {
		t.Fatalf("expected 403 FORBIDDEN, got %d %v", resp.StatusCode, body)
	}

	// Reads stay allowed.
	resp, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/cases/case-1", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("viewer read: status %d", resp.StatusCode)
	}
}

func TestHTTPCreateCaseConflict(t *testing.T) {
	fs := &fakeStore{
		createCaseFn: func(context.Context, string, string) (store.Case, error) {
			return store.Case{}, store.ErrOpenCaseExists
		},
	}
	svc := newTestService(fs, &fakeGit{})
	srv := httptest.NewServer(NewHTTPServer(svc, "*").Handler())
	defer srv.Close()

	token := bearerFor(t, "pm")
	resp, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/cases", token, map[string]any{
		"ticker": "AAPL",
	})
	if resp.StatusCode != http.StatusConflict || body["code"] != "CONCURRENCY_CONFLICT" {
		t.Fatalf("expected 409 CONCURRENCY_CONFLICT, got %d %v", resp.StatusCode, body)
	}
}

func TestHTTPCompileRejectsBadAsOf(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeGit{})
	srv := httptest.NewServer(NewHTTPServer(svc, "*").Handler())
	defer srv.Close()

	token := bearerFor(t, "analyst")
	resp, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/cases/case-1/thesis/compile?asof=yesterday", token, map[string]any{})
	if resp.StatusCode != http.StatusUnprocessableEntity || body["code"] != "VALIDATION_ERROR" {
		t.Fatalf("expected 422 VALIDATION_ERROR, got %d %v", resp.StatusCode, body)
	}
}

func TestHTTPReplayComposesState(t *testing.T) {
	asof := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	fs := &fakeStore{
		listFinalEventsFn: func(context.Context, string, *time.Time) ([]store.DecisionEvent, error) {
			return []store.DecisionEvent{{
				ID: "ev-1", CaseID: "case-1", Ticker: "AAPL", EventType: "INITIATE", Status: "FINAL",
				EventTS: asof.AddDate(0, 0, -5),
				Payload: map[string]any{"direction": "LONG"},
			}}, nil
		},
		latestSnapshotFn: func(context.Context, string, time.Time) (store.ThesisSnapshot, error) {
			return store.ThesisSnapshot{ID: "snap-1", CaseID: "case-1", Ticker: "AAPL", AsOf: asof}, nil
		},
		latestPriceFn: func(context.Context, string, time.Time) (store.MarketPriceDaily, error) {
			return store.MarketPriceDaily{Ticker: "AAPL", Date: asof.AddDate(0, 0, -1), Close: 230.1}, nil
		},
	}
	svc := newTestService(fs, &fakeGit{})
	srv := httptest.NewServer(NewHTTPServer(svc, "*").Handler())
	defer srv.Close()

	token := bearerFor(t, "viewer")
	resp, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/cases/case-1/replay?asof=2026-02-01T00:00:00Z", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("replay: status %d body %v", resp.StatusCode, body)
	}
	if body["case"] == nil || body["latest_snapshot"] == nil || body["market_summary"] == nil {
		t.Fatalf("replay missing sections: %v", body)
	}
	events, _ := body["events"].([]any)
	if len(events) != 1 {
		t.Fatalf("expected one replayed event, got %v", body["events"])
	}
}
