package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrDraftExists reports a violation of the one-open-draft-per-(case, type)
// index during concurrent draft creation.
var ErrDraftExists = errors.New("draft already exists for case and event type")

// ErrOpenCaseExists reports a second OPEN case for the same (ticker, book).
var ErrOpenCaseExists = errors.New("open case already exists for ticker and book")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

const caseColumns = `id, ticker, book, status, created_at, updated_at, closed_at`

func scanCase(row *sql.Row) (Case, error) {
	var c Case
	err := row.Scan(&c.ID, &c.Ticker, &c.Book, &c.Status, &c.CreatedAt, &c.UpdatedAt, &c.ClosedAt)
	return c, err
}

func (s *PostgresStore) CreateCase(ctx context.Context, ticker, book string) (Case, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO trade_cases (ticker, book)
		VALUES ($1, $2)
		RETURNING `+caseColumns, ticker, book)
	c, err := scanCase(row)
	if isUniqueViolation(err) {
		return Case{}, ErrOpenCaseExists
	}
	if err != nil {
		return Case{}, fmt.Errorf("insert case: %w", err)
	}
	return c, nil
}

// EnsureOpenCase returns the OPEN case for (ticker, book), creating one when
// none exists. The bool reports whether a new case was created.
func (s *PostgresStore) EnsureOpenCase(ctx context.Context, ticker, book string) (Case, bool, error) {
	existing, err := s.GetOpenCase(ctx, ticker, book)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Case{}, false, err
	}

	created, err := s.CreateCase(ctx, ticker, book)
	if errors.Is(err, ErrOpenCaseExists) {
		// Lost the race to another creator; the winner's case serves.
		won, lookupErr := s.GetOpenCase(ctx, ticker, book)
		if lookupErr != nil {
			return Case{}, false, lookupErr
		}
		return won, false, nil
	}
	if err != nil {
		return Case{}, false, err
	}
	return created, true, nil
}

func (s *PostgresStore) GetCase(ctx context.Context, caseID string) (Case, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM trade_cases WHERE id=$1`, caseID)
	c, err := scanCase(row)
	if err != nil {
		return Case{}, err
	}
	return c, nil
}

func (s *PostgresStore) GetOpenCase(ctx context.Context, ticker, book string) (Case, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+caseColumns+` FROM trade_cases WHERE ticker=$1 AND book=$2 AND status='OPEN'
	`, ticker, book)
	c, err := scanCase(row)
	if err != nil {
		return Case{}, err
	}
	return c, nil
}

func (s *PostgresStore) ListCases(ctx context.Context, status, ticker string, limit int) ([]Case, error) {
	query := `SELECT ` + caseColumns + ` FROM trade_cases WHERE 1=1`
	args := []any{}
	if status != "" {
		args = append(args, status)
		query += fmt.Sprintf(" AND status=$%d", len(args))
	}
	if ticker != "" {
		args = append(args, ticker)
		query += fmt.Sprintf(" AND ticker=$%d", len(args))
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	defer rows.Close()

	items := make([]Case, 0)
	for rows.Next() {
		var c Case
		if err := rows.Scan(&c.ID, &c.Ticker, &c.Book, &c.Status, &c.CreatedAt, &c.UpdatedAt, &c.ClosedAt); err != nil {
			return nil, fmt.Errorf("scan case: %w", err)
		}
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cases: %w", err)
	}
	return items, nil
}

// CloseCase flips an OPEN case to CLOSED. Returns sql.ErrNoRows when the
// case is missing or already closed.
func (s *PostgresStore) CloseCase(ctx context.Context, caseID string) (Case, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE trade_cases
		SET status='CLOSED', closed_at=NOW(), updated_at=NOW()
		WHERE id=$1 AND status='OPEN'
		RETURNING `+caseColumns, caseID)
	c, err := scanCase(row)
	if err != nil {
		return Case{}, err
	}
	return c, nil
}

const eventColumns = `id, case_id, ticker, event_type, status, event_ts, payload, created_by, created_at, updated_at, finalized_at`

func scanEventRow(scan func(dest ...any) error) (DecisionEvent, error) {
	var ev DecisionEvent
	var payload []byte
	err := scan(&ev.ID, &ev.CaseID, &ev.Ticker, &ev.EventType, &ev.Status, &ev.EventTS,
		&payload, &ev.CreatedBy, &ev.CreatedAt, &ev.UpdatedAt, &ev.FinalizedAt)
	if err != nil {
		return DecisionEvent{}, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &ev.Payload); err != nil {
			return DecisionEvent{}, fmt.Errorf("decode event payload: %w", err)
		}
	}
	if ev.Payload == nil {
		ev.Payload = map[string]any{}
	}
	return ev, nil
}

func (s *PostgresStore) GetEvent(ctx context.Context, eventID string) (DecisionEvent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM decision_events WHERE id=$1`, eventID)
	return scanEventRow(row.Scan)
}

func (s *PostgresStore) GetDraft(ctx context.Context, caseID, eventType string) (DecisionEvent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+eventColumns+`
		FROM decision_events
		WHERE case_id=$1 AND event_type=$2 AND status='DRAFT'
	`, caseID, eventType)
	return scanEventRow(row.Scan)
}

func (s *PostgresStore) CreateDraft(ctx context.Context, ev DecisionEvent) (DecisionEvent, error) {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return DecisionEvent{}, fmt.Errorf("encode draft payload: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO decision_events (case_id, ticker, event_type, status, event_ts, payload, created_by)
		VALUES ($1, $2, $3, 'DRAFT', $4, $5, $6)
		RETURNING `+eventColumns,
		ev.CaseID, ev.Ticker, ev.EventType, ev.EventTS, payload, ev.CreatedBy)
	created, err := scanEventRow(row.Scan)
	if isUniqueViolation(err) {
		return DecisionEvent{}, ErrDraftExists
	}
	if err != nil {
		return DecisionEvent{}, fmt.Errorf("insert draft: %w", err)
	}
	return created, nil
}

// UpdateDraftPayload replaces a draft's payload. The status guard in the
// WHERE clause makes a patch racing a finalize lose cleanly: zero rows
// surfaces as sql.ErrNoRows.
func (s *PostgresStore) UpdateDraftPayload(ctx context.Context, eventID string, payload map[string]any, eventTS *time.Time) (DecisionEvent, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return DecisionEvent{}, fmt.Errorf("encode draft payload: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `
		UPDATE decision_events
		SET payload=$2, event_ts=COALESCE($3, event_ts), updated_at=NOW()
		WHERE id=$1 AND status='DRAFT'
		RETURNING `+eventColumns, eventID, encoded, eventTS)
	return scanEventRow(row.Scan)
}

// FinalizeDraft promotes a draft to FINAL. The status guard makes a second
// finalize find zero rows; the updated_at fingerprint makes the promote lose
// to any patch that landed after the caller read and validated the row, so a
// payload can never reach FINAL without having been the one validated.
func (s *PostgresStore) FinalizeDraft(ctx context.Context, eventID string, eventTS *time.Time, readUpdatedAt time.Time) (DecisionEvent, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE decision_events
		SET status='FINAL', event_ts=COALESCE($2, event_ts), finalized_at=NOW(), updated_at=NOW()
		WHERE id=$1 AND status='DRAFT' AND updated_at=$3
		RETURNING `+eventColumns, eventID, eventTS, readUpdatedAt)
	return scanEventRow(row.Scan)
}

func (s *PostgresStore) DeleteDraft(ctx context.Context, eventID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM decision_events WHERE id=$1 AND status='DRAFT'`, eventID)
	if err != nil {
		return fmt.Errorf("delete draft: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete draft rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) InsertFinalEvent(ctx context.Context, ev DecisionEvent) (DecisionEvent, error) {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return DecisionEvent{}, fmt.Errorf("encode event payload: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO decision_events (case_id, ticker, event_type, status, event_ts, payload, created_by, finalized_at)
		VALUES ($1, $2, $3, 'FINAL', $4, $5, $6, NOW())
		RETURNING `+eventColumns,
		ev.CaseID, ev.Ticker, ev.EventType, ev.EventTS, payload, ev.CreatedBy)
	created, err := scanEventRow(row.Scan)
	if err != nil {
		return DecisionEvent{}, fmt.Errorf("insert final event: %w", err)
	}
	return created, nil
}

// ListFinalEvents returns a case's finalized events in replay order. The
// (event_ts, created_at, id) ordering is the compile contract; asof, when
// set, bounds event_ts inclusively.
func (s *PostgresStore) ListFinalEvents(ctx context.Context, caseID string, asof *time.Time) ([]DecisionEvent, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM decision_events
		WHERE case_id=$1 AND status='FINAL'
	`
	args := []any{caseID}
	if asof != nil {
		args = append(args, *asof)
		query += fmt.Sprintf(" AND event_ts <= $%d", len(args))
	}
	query += ` ORDER BY event_ts, created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list final events: %w", err)
	}
	defer rows.Close()

	items := make([]DecisionEvent, 0)
	for rows.Next() {
		ev, err := scanEventRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		items = append(items, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListCaseEvents(ctx context.Context, caseID, status string) ([]DecisionEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM decision_events WHERE case_id=$1`
	args := []any{caseID}
	if status != "" {
		args = append(args, status)
		query += fmt.Sprintf(" AND status=$%d", len(args))
	}
	query += ` ORDER BY event_ts, created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list case events: %w", err)
	}
	defer rows.Close()

	items := make([]DecisionEvent, 0)
	for rows.Next() {
		ev, err := scanEventRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		items = append(items, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return items, nil
}

// ListTickerRules projects finalized TICKER_RULE events into the rules view.
func (s *PostgresStore) ListTickerRules(ctx context.Context, ticker, status string) ([]TickerRule, error) {
	query := `
		SELECT id, case_id, ticker, payload, event_ts, created_at
		FROM decision_events
		WHERE event_type='TICKER_RULE' AND status='FINAL'
	`
	args := []any{}
	if ticker != "" {
		args = append(args, ticker)
		query += fmt.Sprintf(" AND ticker=$%d", len(args))
	}
	if status != "" {
		args = append(args, status)
		query += fmt.Sprintf(" AND payload->>'status'=$%d", len(args))
	}
	query += ` ORDER BY event_ts DESC, created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list ticker rules: %w", err)
	}
	defer rows.Close()

	items := make([]TickerRule, 0)
	for rows.Next() {
		var rule TickerRule
		var payload []byte
		if err := rows.Scan(&rule.EventID, &rule.CaseID, &rule.Ticker, &payload, &rule.EventTS, &rule.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ticker rule: %w", err)
		}
		var body struct {
			RuleText string   `json:"rule_text"`
			Tags     []string `json:"tags"`
			Status   string   `json:"status"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			return nil, fmt.Errorf("decode ticker rule payload: %w", err)
		}
		rule.RuleText = body.RuleText
		rule.Tags = body.Tags
		rule.Status = body.Status
		if rule.Tags == nil {
			rule.Tags = []string{}
		}
		items = append(items, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ticker rules: %w", err)
	}
	return items, nil
}

// DeactivateTickerRule flips a finalized rule's payload.status to INACTIVE.
// The immutability trigger allows exactly this change and nothing else.
// Zero rows surfaces as sql.ErrNoRows so callers can 404.
func (s *PostgresStore) DeactivateTickerRule(ctx context.Context, eventID, ticker string) (DecisionEvent, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE decision_events
		SET payload=jsonb_set(payload, '{status}', '"INACTIVE"'), updated_at=NOW()
		WHERE id=$1 AND ticker=$2 AND event_type='TICKER_RULE' AND status='FINAL'
		RETURNING `+eventColumns, eventID, ticker)
	return scanEventRow(row.Scan)
}

func (s *PostgresStore) InsertSnapshot(ctx context.Context, snap ThesisSnapshot) (ThesisSnapshot, error) {
	compiled, err := json.Marshal(snap.Compiled)
	if err != nil {
		return ThesisSnapshot{}, fmt.Errorf("encode snapshot: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO thesis_snapshots (case_id, ticker, asof, compiled, narrative, commit_hash, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`, snap.CaseID, snap.Ticker, snap.AsOf, compiled, snap.Narrative, snap.CommitHash, snap.CreatedBy)
	if err := row.Scan(&snap.ID, &snap.CreatedAt); err != nil {
		return ThesisSnapshot{}, fmt.Errorf("insert snapshot: %w", err)
	}
	return snap, nil
}

func (s *PostgresStore) GetSnapshot(ctx context.Context, snapshotID string) (ThesisSnapshot, error) {
	var snap ThesisSnapshot
	var compiled []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, case_id, ticker, asof, compiled, narrative, commit_hash, created_by, created_at
		FROM thesis_snapshots
		WHERE id=$1
	`, snapshotID).Scan(&snap.ID, &snap.CaseID, &snap.Ticker, &snap.AsOf, &compiled, &snap.Narrative, &snap.CommitHash, &snap.CreatedBy, &snap.CreatedAt)
	if err != nil {
		return ThesisSnapshot{}, err
	}
	if err := json.Unmarshal(compiled, &snap.Compiled); err != nil {
		return ThesisSnapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

// LatestSnapshot returns the most recent snapshot whose asof does not pass
// the given cutoff.
func (s *PostgresStore) LatestSnapshot(ctx context.Context, caseID string, asof time.Time) (ThesisSnapshot, error) {
	var snap ThesisSnapshot
	var compiled []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, case_id, ticker, asof, compiled, narrative, commit_hash, created_by, created_at
		FROM thesis_snapshots
		WHERE case_id=$1 AND asof<=$2
		ORDER BY asof DESC, created_at DESC
		LIMIT 1
	`, caseID, asof).Scan(&snap.ID, &snap.CaseID, &snap.Ticker, &snap.AsOf, &compiled, &snap.Narrative, &snap.CommitHash, &snap.CreatedBy, &snap.CreatedAt)
	if err != nil {
		return ThesisSnapshot{}, err
	}
	if err := json.Unmarshal(compiled, &snap.Compiled); err != nil {
		return ThesisSnapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

func (s *PostgresStore) ListSnapshots(ctx context.Context, caseID string) ([]ThesisSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, case_id, ticker, asof, compiled, narrative, commit_hash, created_by, created_at
		FROM thesis_snapshots
		WHERE case_id=$1
		ORDER BY created_at DESC
	`, caseID)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	items := make([]ThesisSnapshot, 0)
	for rows.Next() {
		var snap ThesisSnapshot
		var compiled []byte
		if err := rows.Scan(&snap.ID, &snap.CaseID, &snap.Ticker, &snap.AsOf, &compiled, &snap.Narrative, &snap.CommitHash, &snap.CreatedBy, &snap.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		if err := json.Unmarshal(compiled, &snap.Compiled); err != nil {
			return nil, fmt.Errorf("decode snapshot: %w", err)
		}
		items = append(items, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return items, nil
}

// LatestPrice returns the newest daily bar at or before asof.
func (s *PostgresStore) LatestPrice(ctx context.Context, ticker string, asof time.Time) (MarketPriceDaily, error) {
	var p MarketPriceDaily
	err := s.db.QueryRowContext(ctx, `
		SELECT ticker, date, open, high, low, close, volume
		FROM market_prices_daily
		WHERE ticker=$1 AND date <= $2
		ORDER BY date DESC
		LIMIT 1
	`, ticker, asof).Scan(&p.Ticker, &p.Date, &p.Open, &p.High, &p.Low, &p.Close, &p.Volume)
	if err != nil {
		return MarketPriceDaily{}, err
	}
	return p, nil
}

func (s *PostgresStore) ListPrices(ctx context.Context, ticker string, from, to time.Time) ([]MarketPriceDaily, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ticker, date, open, high, low, close, volume
		FROM market_prices_daily
		WHERE ticker=$1 AND date >= $2 AND date <= $3
		ORDER BY date
	`, ticker, from, to)
	if err != nil {
		return nil, fmt.Errorf("list prices: %w", err)
	}
	defer rows.Close()

	items := make([]MarketPriceDaily, 0)
	for rows.Next() {
		var p MarketPriceDaily
		if err := rows.Scan(&p.Ticker, &p.Date, &p.Open, &p.High, &p.Low, &p.Close, &p.Volume); err != nil {
			return nil, fmt.Errorf("scan price: %w", err)
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate prices: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpsertDailyPrice(ctx context.Context, p MarketPriceDaily) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO market_prices_daily (ticker, date, open, high, low, close, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (ticker, date) DO UPDATE
		SET open=EXCLUDED.open, high=EXCLUDED.high, low=EXCLUDED.low,
			close=EXCLUDED.close, volume=EXCLUDED.volume
	`, p.Ticker, p.Date, p.Open, p.High, p.Low, p.Close, p.Volume)
	if err != nil {
		return fmt.Errorf("upsert price: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, email, displayName, passwordHash, role string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (email, display_name, password_hash, role)
		VALUES ($1, $2, $3, $4)
		RETURNING id, email, display_name, password_hash, role, created_at, updated_at
	`, email, displayName, passwordHash, role).Scan(
		&user.ID, &user.Email, &user.DisplayName, &user.PasswordHash, &user.Role, &user.CreatedAt, &user.UpdatedAt)
	if isUniqueViolation(err) {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, password_hash, role, created_at, updated_at
		FROM users WHERE email=$1
	`, email).Scan(&user.ID, &user.Email, &user.DisplayName, &user.PasswordHash, &user.Role, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, password_hash, role, created_at, updated_at
		FROM users WHERE id=$1
	`, userID).Scan(&user.ID, &user.Email, &user.DisplayName, &user.PasswordHash, &user.Role, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.email, u.display_name, u.role
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`, tokenHash).Scan(&user.ID, &user.Email, &user.DisplayName, &user.Role)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}
