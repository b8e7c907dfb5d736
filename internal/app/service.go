// Package app wires the decision journal's HTTP surface to storage, the
// thesis compiler, search, snapshot history, and the assist layer.
package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"strings"
	"time"

	"pmdos/api/internal/assist"
	"pmdos/api/internal/auth"
	"pmdos/api/internal/authpw"
	"pmdos/api/internal/compiler"
	"pmdos/api/internal/config"
	"pmdos/api/internal/export"
	"pmdos/api/internal/gitrepo"
	"pmdos/api/internal/merge"
	"pmdos/api/internal/rbac"
	"pmdos/api/internal/schema"
	"pmdos/api/internal/search"
	"pmdos/api/internal/session"
	"pmdos/api/internal/store"
	"pmdos/api/internal/util"
)

const defaultBook = "default"

var tickerRe = regexp.MustCompile(`^[A-Z][A-Z0-9]{0,5}(\.[A-Z])?$`)

// Session is an authenticated caller resolved from an access token.
type Session struct {
	UserID string
	Email  string
	Name   string
	Role   rbac.Role
	JTI    string
	Exp    time.Time
}

// dataStore is the storage surface the service depends on. *store.PostgresStore
// satisfies it; tests substitute fakes.
type dataStore interface {
	Ping(ctx context.Context) error

	CreateCase(ctx context.Context, ticker, book string) (store.Case, error)
	EnsureOpenCase(ctx context.Context, ticker, book string) (store.Case, bool, error)
	GetCase(ctx context.Context, caseID string) (store.Case, error)
	ListCases(ctx context.Context, status, ticker string, limit int) ([]store.Case, error)
	CloseCase(ctx context.Context, caseID string) (store.Case, error)

	GetEvent(ctx context.Context, eventID string) (store.DecisionEvent, error)
	GetDraft(ctx context.Context, caseID, eventType string) (store.DecisionEvent, error)
	CreateDraft(ctx context.Context, ev store.DecisionEvent) (store.DecisionEvent, error)
	UpdateDraftPayload(ctx context.Context, eventID string, payload map[string]any, eventTS *time.Time) (store.DecisionEvent, error)
	FinalizeDraft(ctx context.Context, eventID string, eventTS *time.Time, readUpdatedAt time.Time) (store.DecisionEvent, error)
	DeleteDraft(ctx context.Context, eventID string) error
	InsertFinalEvent(ctx context.Context, ev store.DecisionEvent) (store.DecisionEvent, error)
	ListFinalEvents(ctx context.Context, caseID string, asof *time.Time) ([]store.DecisionEvent, error)
	ListCaseEvents(ctx context.Context, caseID, status string) ([]store.DecisionEvent, error)

	ListTickerRules(ctx context.Context, ticker, status string) ([]store.TickerRule, error)
	DeactivateTickerRule(ctx context.Context, eventID, ticker string) (store.DecisionEvent, error)

	InsertSnapshot(ctx context.Context, snap store.ThesisSnapshot) (store.ThesisSnapshot, error)
	GetSnapshot(ctx context.Context, snapshotID string) (store.ThesisSnapshot, error)
	ListSnapshots(ctx context.Context, caseID string) ([]store.ThesisSnapshot, error)
	LatestSnapshot(ctx context.Context, caseID string, asof time.Time) (store.ThesisSnapshot, error)

	LatestPrice(ctx context.Context, ticker string, asof time.Time) (store.MarketPriceDaily, error)
	UpsertDailyPrice(ctx context.Context, p store.MarketPriceDaily) error

	CreateUser(ctx context.Context, email, displayName, passwordHash, role string) (store.User, error)
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
}

// gitService records compiled snapshots into per-case git history.
type gitService interface {
	EnsureCaseRepo(caseID, author string) error
	CommitSnapshot(caseID string, compiled []byte, narrative, author, message string) (gitrepo.CommitInfo, error)
	History(caseID string, limit int) ([]gitrepo.CommitInfo, error)
	SnapshotByHash(caseID, hash string) ([]byte, error)
}

type Service struct {
	cfg       config.Config
	store     dataStore
	git       gitService
	passwords *authpw.Service
	assist    *assist.Service

	// Optional subsystems; nil when not configured.
	search   *search.Service
	export   *export.Service
	sessions *session.RedisStore
}

func New(cfg config.Config, st *store.PostgresStore, git *gitrepo.Service) *Service {
	return &Service{
		cfg:       cfg,
		store:     st,
		git:       git,
		passwords: authpw.NewService(st),
		assist:    assist.NewService(cfg.OpenAIAPIKey, cfg.LLMModel, cfg.LLMTemperature, cfg.LLMPromptVersion),
	}
}

func (s *Service) WithSearch(sv *search.Service) *Service {
	s.search = sv
	return s
}

func (s *Service) WithExport(sv *export.Service) *Service {
	s.export = sv
	return s
}

func (s *Service) WithSessions(sv *session.RedisStore) *Service {
	s.sessions = sv
	return s
}

func (s *Service) Can(role rbac.Role, action rbac.Action) bool {
	return rbac.Can(role, action)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Bootstrap seeds a development user, one case with a finalized INITIATE and
// a couple of daily bars, then compiles the first snapshot. Runs only against
// an empty database.
func (s *Service) Bootstrap(ctx context.Context) error {
	existing, err := s.store.ListCases(ctx, "", "", 1)
	if err != nil {
		return fmt.Errorf("bootstrap list cases: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}

	user, err := s.passwords.SignUp(ctx, authpw.SignUpRequest{
		Email:       "dev@pmdos.local",
		Password:    "pmdos-dev-password",
		DisplayName: "Dev Analyst",
		Role:        string(rbac.RoleAdmin),
	})
	if err != nil {
		return fmt.Errorf("bootstrap user: %w", err)
	}

	c, _, err := s.EnsureOpenCase(ctx, "AAPL", defaultBook)
	if err != nil {
		return fmt.Errorf("bootstrap case: %w", err)
	}

	now := time.Now().UTC()
	for i, px := range []float64{231.5, 233.2} {
		bar := store.MarketPriceDaily{
			Ticker: "AAPL",
			Date:   now.AddDate(0, 0, i-2).Truncate(24 * time.Hour),
			Open:   px - 1.0,
			High:   px + 1.2,
			Low:    px - 1.8,
			Close:  px,
			Volume: 48_000_000,
		}
		if err := s.store.UpsertDailyPrice(ctx, bar); err != nil {
			return fmt.Errorf("bootstrap price: %w", err)
		}
	}

	seed := map[string]any{
		"direction":             "LONG",
		"horizon_days":          90,
		"entry_thesis":          "Services mix shift keeps gross margin trending up.",
		"conviction":            65,
		"key_drivers":           []string{"services growth", "buyback pace"},
		"key_risks":             []string{"hardware cycle softness"},
		"invalidation_triggers": []string{"services growth below 8% y/y"},
		"position_intent_pct":   2.0,
	}
	if _, err := s.InsertFinalEvent(ctx, c.ID, schema.TypeInitiate, seed, nil, user.Email); err != nil {
		return fmt.Errorf("bootstrap initiate: %w", err)
	}
	if _, err := s.CompileThesis(ctx, c.ID, now, user.Email); err != nil {
		return fmt.Errorf("bootstrap compile: %w", err)
	}
	log.Printf("app: bootstrap seeded case %s", c.ID)
	return nil
}

// --- auth & sessions ---

type UserInfo struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         UserInfo  `json:"user"`
}

func userInfo(u store.User) UserInfo {
	return UserInfo{ID: u.ID, Email: u.Email, DisplayName: u.DisplayName, Role: string(rbac.Normalize(u.Role))}
}

func (s *Service) SignUp(ctx context.Context, req authpw.SignUpRequest) (TokenPair, error) {
	user, err := s.passwords.SignUp(ctx, req)
	if err != nil {
		return TokenPair{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	}
	return s.issueSession(ctx, user)
}

func (s *Service) SignIn(ctx context.Context, req authpw.SignInRequest) (TokenPair, error) {
	user, err := s.passwords.SignIn(ctx, req)
	if err != nil {
		return TokenPair{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", err.Error(), nil)
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (TokenPair, error) {
	exp := time.Now().Add(s.cfg.AccessTTL)
	access, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:   user.ID,
		Email: user.Email,
		Name:  user.DisplayName,
		Role:  string(rbac.Normalize(user.Role)),
		JTI:   util.NewUUID(),
		Exp:   exp.Unix(),
	})
	if err != nil {
		return TokenPair{}, fmt.Errorf("issue access token: %w", err)
	}

	refresh := util.NewID("rt")
	refreshExp := time.Now().Add(s.cfg.RefreshTTL)
	hash := auth.HashToken(refresh)
	if s.sessions != nil {
		err = s.sessions.SaveSession(ctx, hash, user, refreshExp)
	} else {
		err = s.store.SaveRefreshSession(ctx, hash, user.ID, refreshExp)
	}
	if err != nil {
		return TokenPair{}, fmt.Errorf("save refresh session: %w", err)
	}

	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    exp,
		User:         userInfo(user),
	}, nil
}

// Refresh rotates a refresh token: the presented token is revoked and a new
// pair is issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	if refreshToken == "" {
		return TokenPair{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "refresh token required", nil)
	}
	hash := auth.HashToken(refreshToken)

	var user store.User
	var err error
	if s.sessions != nil {
		user, err = s.sessions.LookupSession(ctx, hash)
	} else {
		user, err = s.store.LookupRefreshSession(ctx, hash)
	}
	if err != nil {
		return TokenPair{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "invalid refresh token", nil)
	}

	if s.sessions != nil {
		_ = s.sessions.RevokeSession(ctx, hash)
	} else {
		_ = s.store.RevokeRefreshSession(ctx, hash)
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Logout(ctx context.Context, sess Session, refreshToken string) error {
	if refreshToken != "" {
		hash := auth.HashToken(refreshToken)
		if s.sessions != nil {
			_ = s.sessions.RevokeSession(ctx, hash)
		} else {
			_ = s.store.RevokeRefreshSession(ctx, hash)
		}
	}
	if err := s.store.RevokeAccessToken(ctx, sess.JTI, sess.Exp); err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, fmt.Errorf("check token revocation: %w", err)
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}
	return Session{
		UserID: claims.Sub,
		Email:  claims.Email,
		Name:   claims.Name,
		Role:   rbac.Normalize(claims.Role),
		JTI:    claims.JTI,
		Exp:    time.Unix(claims.Exp, 0),
	}, nil
}

// --- cases ---

func normalizeTicker(raw string) (string, error) {
	ticker := strings.ToUpper(strings.TrimSpace(raw))
	if !tickerRe.MatchString(ticker) {
		return "", domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			"ticker must be 1-6 uppercase letters or digits, optionally with a class suffix", nil)
	}
	return ticker, nil
}

func normalizeBook(raw string) string {
	book := strings.TrimSpace(raw)
	if book == "" {
		return defaultBook
	}
	return book
}

func (s *Service) CreateCase(ctx context.Context, ticker, book string) (store.Case, error) {
	ticker, err := normalizeTicker(ticker)
	if err != nil {
		return store.Case{}, err
	}
	c, err := s.store.CreateCase(ctx, ticker, normalizeBook(book))
	if err != nil {
		return store.Case{}, err
	}
	s.indexCase(c)
	return c, nil
}

// EnsureOpenCase returns the OPEN case for (ticker, book), creating one when
// absent. The bool reports creation.
func (s *Service) EnsureOpenCase(ctx context.Context, ticker, book string) (store.Case, bool, error) {
	ticker, err := normalizeTicker(ticker)
	if err != nil {
		return store.Case{}, false, err
	}
	c, created, err := s.store.EnsureOpenCase(ctx, ticker, normalizeBook(book))
	if err != nil {
		return store.Case{}, false, err
	}
	if created {
		s.indexCase(c)
	}
	return c, created, nil
}

func (s *Service) GetCase(ctx context.Context, caseID string) (store.Case, error) {
	return s.store.GetCase(ctx, caseID)
}

func (s *Service) ListCases(ctx context.Context, status, ticker string, limit int) ([]store.Case, error) {
	if status != "" && status != "OPEN" && status != "CLOSED" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "status must be OPEN or CLOSED", nil)
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.store.ListCases(ctx, status, ticker, limit)
}

// CloseCase is idempotent: closing a CLOSED case returns it unchanged.
func (s *Service) CloseCase(ctx context.Context, caseID string) (store.Case, error) {
	c, err := s.store.GetCase(ctx, caseID)
	if err != nil {
		return store.Case{}, err
	}
	if c.Status == "CLOSED" {
		return c, nil
	}
	closed, err := s.store.CloseCase(ctx, caseID)
	if errors.Is(err, sql.ErrNoRows) {
		// Closed between the read and the update; settle with a re-read.
		return s.store.GetCase(ctx, caseID)
	}
	if err != nil {
		return store.Case{}, err
	}
	s.indexCase(closed)
	return closed, nil
}

// --- drafts & events ---

func requireEventType(eventType string) error {
	if !schema.IsEventType(eventType) {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			fmt.Sprintf("unknown event type %q", eventType),
			map[string]any{"known_types": schema.EventTypes()})
	}
	return nil
}

func (s *Service) requireOpenCase(ctx context.Context, caseID string) (store.Case, error) {
	c, err := s.store.GetCase(ctx, caseID)
	if err != nil {
		return store.Case{}, err
	}
	if c.Status != "OPEN" {
		return store.Case{}, domainError(http.StatusConflict, "STATE_CONFLICT", "case is closed", nil)
	}
	return c, nil
}

// StartOrReuseDraft returns the existing DRAFT for (case, event type) when one
// exists; the seed payload is ignored on reuse so in-progress input is never
// overwritten. The partial unique index arbitrates concurrent starts.
func (s *Service) StartOrReuseDraft(ctx context.Context, caseID, eventType string, seed map[string]any, eventTS *time.Time, createdBy string) (store.DecisionEvent, []string, error) {
	if err := requireEventType(eventType); err != nil {
		return store.DecisionEvent{}, nil, err
	}
	c, err := s.requireOpenCase(ctx, caseID)
	if err != nil {
		return store.DecisionEvent{}, nil, err
	}

	existing, err := s.store.GetDraft(ctx, caseID, eventType)
	if err == nil {
		return existing, schema.MissingFields(eventType, existing.Payload), nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return store.DecisionEvent{}, nil, err
	}

	if seed == nil {
		seed = map[string]any{}
	}
	ts := time.Now().UTC()
	if eventTS != nil {
		ts = *eventTS
	}
	created, err := s.store.CreateDraft(ctx, store.DecisionEvent{
		CaseID:    caseID,
		Ticker:    c.Ticker,
		EventType: eventType,
		EventTS:   ts,
		Payload:   seed,
		CreatedBy: createdBy,
	})
	if errors.Is(err, store.ErrDraftExists) {
		// Lost the start race; the winner's draft serves and the seed is dropped.
		won, lookupErr := s.store.GetDraft(ctx, caseID, eventType)
		if lookupErr != nil {
			return store.DecisionEvent{}, nil, lookupErr
		}
		return won, schema.MissingFields(eventType, won.Payload), nil
	}
	if err != nil {
		return store.DecisionEvent{}, nil, err
	}
	return created, schema.MissingFields(eventType, created.Payload), nil
}

// PatchDraft deep-merges a patch into a draft's payload. Lists in the patch
// replace the stored lists wholesale.
func (s *Service) PatchDraft(ctx context.Context, caseID, eventID string, patch map[string]any, eventTS *time.Time) (store.DecisionEvent, []string, error) {
	ev, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return store.DecisionEvent{}, nil, err
	}
	if ev.CaseID != caseID {
		return store.DecisionEvent{}, nil, sql.ErrNoRows
	}
	if ev.Status != schema.StatusDraft {
		return store.DecisionEvent{}, nil, domainError(http.StatusConflict, "STATE_CONFLICT",
			"finalized events are immutable", map[string]any{"event_id": eventID, "status": ev.Status})
	}

	merged := merge.Deep(ev.Payload, patch)
	updated, err := s.store.UpdateDraftPayload(ctx, eventID, merged, eventTS)
	if errors.Is(err, sql.ErrNoRows) {
		return store.DecisionEvent{}, nil, domainError(http.StatusConflict, "CONCURRENCY_CONFLICT",
			"draft was finalized concurrently", map[string]any{"event_id": eventID})
	}
	if err != nil {
		return store.DecisionEvent{}, nil, err
	}
	return updated, schema.MissingFields(updated.EventType, updated.Payload), nil
}

// Finalize promotes a draft to FINAL after strict validation. Validation
// failure leaves the draft untouched and patchable.
func (s *Service) Finalize(ctx context.Context, caseID, eventID string, eventTS *time.Time) (store.DecisionEvent, error) {
	ev, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return store.DecisionEvent{}, err
	}
	if ev.CaseID != caseID {
		return store.DecisionEvent{}, sql.ErrNoRows
	}
	if ev.Status != schema.StatusDraft {
		return store.DecisionEvent{}, domainError(http.StatusConflict, "STATE_CONFLICT",
			"event is already finalized", map[string]any{"event_id": eventID, "status": ev.Status})
	}

	if violations := schema.Validate(ev.EventType, ev.Payload); len(violations) > 0 {
		return store.DecisionEvent{}, validationError(violations)
	}

	// The promote carries the updated_at we validated against, so a patch
	// landing after the read above cannot be frozen unvalidated.
	finalized, err := s.store.FinalizeDraft(ctx, eventID, eventTS, ev.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return store.DecisionEvent{}, domainError(http.StatusConflict, "CONCURRENCY_CONFLICT",
			"draft changed concurrently", map[string]any{"event_id": eventID})
	}
	if err != nil {
		return store.DecisionEvent{}, err
	}
	s.indexEvent(finalized)
	return finalized, nil
}

func validationError(violations []schema.Violation) *DomainError {
	fields := make([]string, 0, len(violations))
	for _, v := range violations {
		fields = append(fields, v.Field)
	}
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
		"payload failed validation: "+strings.Join(fields, ", "),
		map[string]any{"violations": violations})
}

func (s *Service) DeleteDraft(ctx context.Context, caseID, eventID string) error {
	ev, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if ev.CaseID != caseID {
		return sql.ErrNoRows
	}
	if ev.Status != schema.StatusDraft {
		return domainError(http.StatusConflict, "STATE_CONFLICT",
			"finalized events cannot be deleted", map[string]any{"event_id": eventID, "status": ev.Status})
	}
	return s.store.DeleteDraft(ctx, eventID)
}

// InsertFinalEvent validates strictly and writes a FINAL event without a
// draft stage.
func (s *Service) InsertFinalEvent(ctx context.Context, caseID, eventType string, payload map[string]any, eventTS *time.Time, createdBy string) (store.DecisionEvent, error) {
	if err := requireEventType(eventType); err != nil {
		return store.DecisionEvent{}, err
	}
	c, err := s.requireOpenCase(ctx, caseID)
	if err != nil {
		return store.DecisionEvent{}, err
	}
	if payload == nil {
		payload = map[string]any{}
	}
	if violations := schema.Validate(eventType, payload); len(violations) > 0 {
		return store.DecisionEvent{}, validationError(violations)
	}

	ts := time.Now().UTC()
	if eventTS != nil {
		ts = *eventTS
	}
	ev, err := s.store.InsertFinalEvent(ctx, store.DecisionEvent{
		CaseID:    caseID,
		Ticker:    c.Ticker,
		EventType: eventType,
		EventTS:   ts,
		Payload:   payload,
		CreatedBy: createdBy,
	})
	if err != nil {
		return store.DecisionEvent{}, err
	}
	s.indexEvent(ev)
	return ev, nil
}

// ListFinalEvents returns the case's finalized journal in as-of order.
func (s *Service) ListFinalEvents(ctx context.Context, caseID string, asof *time.Time) ([]store.DecisionEvent, error) {
	if _, err := s.store.GetCase(ctx, caseID); err != nil {
		return nil, err
	}
	return s.store.ListFinalEvents(ctx, caseID, asof)
}

func (s *Service) ListCaseEvents(ctx context.Context, caseID, status string) ([]store.DecisionEvent, error) {
	if status != "" && status != schema.StatusDraft && status != schema.StatusFinal {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "status must be DRAFT or FINAL", nil)
	}
	if _, err := s.store.GetCase(ctx, caseID); err != nil {
		return nil, err
	}
	return s.store.ListCaseEvents(ctx, caseID, status)
}

// --- thesis compile & replay ---

// CompileThesis folds the case's finalized events at or before asof into a
// thesis state, persists it as a new snapshot row and commits the canonical
// JSON into the case's history repo.
func (s *Service) CompileThesis(ctx context.Context, caseID string, asof time.Time, createdBy string) (store.ThesisSnapshot, error) {
	c, err := s.store.GetCase(ctx, caseID)
	if err != nil {
		return store.ThesisSnapshot{}, err
	}

	events, err := s.store.ListFinalEvents(ctx, caseID, &asof)
	if err != nil {
		return store.ThesisSnapshot{}, err
	}
	folded := make([]compiler.Event, 0, len(events))
	for _, ev := range events {
		folded = append(folded, compiler.Event{
			ID:        ev.ID,
			EventType: ev.EventType,
			EventTS:   ev.EventTS,
			CreatedAt: ev.CreatedAt,
			Payload:   ev.Payload,
		})
	}

	var market *compiler.MarketContext
	price, err := s.store.LatestPrice(ctx, c.Ticker, asof)
	if err == nil {
		market = &compiler.MarketContext{Date: price.Date.Format("2006-01-02"), Close: price.Close}
	} else if !errors.Is(err, sql.ErrNoRows) {
		return store.ThesisSnapshot{}, err
	}

	state := compiler.Compile(c.Ticker, asof, folded, market)
	canonical, err := compiler.MarshalCanonical(state)
	if err != nil {
		return store.ThesisSnapshot{}, fmt.Errorf("marshal compiled state: %w", err)
	}
	var compiled map[string]any
	if err := json.Unmarshal(canonical, &compiled); err != nil {
		return store.ThesisSnapshot{}, fmt.Errorf("decode compiled state: %w", err)
	}

	narrative := s.assist.Narrative(ctx, c.Ticker, compiled)

	// Snapshot history is best effort: a git failure degrades provenance,
	// not the compile itself.
	commitHash := ""
	if s.git != nil {
		if err := s.git.EnsureCaseRepo(caseID, createdBy); err != nil {
			log.Printf("app: ensure case repo %s: %v", caseID, err)
		} else {
			message := fmt.Sprintf("compile %s asof %s", c.Ticker, asof.UTC().Format(time.RFC3339))
			info, err := s.git.CommitSnapshot(caseID, canonical, narrative, createdBy, message)
			if err != nil {
				log.Printf("app: commit snapshot %s: %v", caseID, err)
			} else {
				commitHash = info.Hash
			}
		}
	}

	return s.store.InsertSnapshot(ctx, store.ThesisSnapshot{
		CaseID:     caseID,
		Ticker:     c.Ticker,
		AsOf:       asof,
		Compiled:   compiled,
		Narrative:  narrative,
		CommitHash: commitHash,
		CreatedBy:  createdBy,
	})
}

func (s *Service) GetSnapshot(ctx context.Context, snapshotID string) (store.ThesisSnapshot, error) {
	return s.store.GetSnapshot(ctx, snapshotID)
}

func (s *Service) ListSnapshots(ctx context.Context, caseID string) ([]store.ThesisSnapshot, error) {
	if _, err := s.store.GetCase(ctx, caseID); err != nil {
		return nil, err
	}
	return s.store.ListSnapshots(ctx, caseID)
}

func (s *Service) SnapshotHistory(ctx context.Context, caseID string, limit int) ([]gitrepo.CommitInfo, error) {
	if _, err := s.store.GetCase(ctx, caseID); err != nil {
		return nil, err
	}
	if s.git == nil {
		return []gitrepo.CommitInfo{}, nil
	}
	return s.git.History(caseID, limit)
}

// ReplayResult is the read-only composition served by the replay endpoint.
type ReplayResult struct {
	Case           store.Case              `json:"case"`
	Events         []store.DecisionEvent   `json:"events"`
	LatestSnapshot *store.ThesisSnapshot   `json:"latest_snapshot"`
	MarketSummary  *compiler.MarketContext `json:"market_summary"`
}

// Replay returns the case's journal and latest snapshot as of a timestamp.
func (s *Service) Replay(ctx context.Context, caseID string, asof time.Time) (ReplayResult, error) {
	c, err := s.store.GetCase(ctx, caseID)
	if err != nil {
		return ReplayResult{}, err
	}
	events, err := s.store.ListFinalEvents(ctx, caseID, &asof)
	if err != nil {
		return ReplayResult{}, err
	}

	result := ReplayResult{Case: c, Events: events}

	snap, err := s.store.LatestSnapshot(ctx, caseID, asof)
	if err == nil {
		result.LatestSnapshot = &snap
	} else if !errors.Is(err, sql.ErrNoRows) {
		return ReplayResult{}, err
	}

	price, err := s.store.LatestPrice(ctx, c.Ticker, asof)
	if err == nil {
		result.MarketSummary = &compiler.MarketContext{Date: price.Date.Format("2006-01-02"), Close: price.Close}
	} else if !errors.Is(err, sql.ErrNoRows) {
		return ReplayResult{}, err
	}
	return result, nil
}

// --- ticker rules ---

func (s *Service) ListTickerRules(ctx context.Context, ticker, status string) ([]store.TickerRule, error) {
	ticker, err := normalizeTicker(ticker)
	if err != nil {
		return nil, err
	}
	if status != "" && status != "ACTIVE" && status != "INACTIVE" && status != "ALL" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "status must be ACTIVE, INACTIVE, or ALL", nil)
	}
	if status == "" {
		status = "ACTIVE"
	}
	if status == "ALL" {
		status = ""
	}
	return s.store.ListTickerRules(ctx, ticker, status)
}

// CreateTickerRule records a rule as a finalized TICKER_RULE event on the
// ticker's open case.
func (s *Service) CreateTickerRule(ctx context.Context, ticker, ruleText string, tags []string, createdBy string) (store.DecisionEvent, error) {
	ticker, err := normalizeTicker(ticker)
	if err != nil {
		return store.DecisionEvent{}, err
	}
	ruleText = strings.TrimSpace(ruleText)
	if ruleText == "" {
		return store.DecisionEvent{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "rule_text is required", nil)
	}
	cleaned := make([]string, 0, len(tags))
	for _, tag := range tags {
		if t := strings.TrimSpace(tag); t != "" {
			cleaned = append(cleaned, t)
		}
	}

	c, _, err := s.EnsureOpenCase(ctx, ticker, defaultBook)
	if err != nil {
		return store.DecisionEvent{}, err
	}
	payload := map[string]any{
		"ticker":    ticker,
		"rule_text": ruleText,
		"tags":      cleaned,
		"status":    "ACTIVE",
	}
	ev, err := s.InsertFinalEvent(ctx, c.ID, schema.TypeTickerRule, payload, nil, createdBy)
	if err != nil {
		return store.DecisionEvent{}, err
	}
	s.indexRule(ev)
	return ev, nil
}

// DeactivateTickerRule retires a rule by flipping its payload status. This is
// the one sanctioned write to a finalized row; the database trigger enforces
// that nothing else changes.
func (s *Service) DeactivateTickerRule(ctx context.Context, ticker, eventID string) (store.DecisionEvent, error) {
	ticker, err := normalizeTicker(ticker)
	if err != nil {
		return store.DecisionEvent{}, err
	}
	ev, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return store.DecisionEvent{}, err
	}
	if ev.EventType != schema.TypeTickerRule || ev.Ticker != ticker || ev.Status != schema.StatusFinal {
		return store.DecisionEvent{}, sql.ErrNoRows
	}
	updated, err := s.store.DeactivateTickerRule(ctx, eventID, ticker)
	if err != nil {
		return store.DecisionEvent{}, err
	}
	s.indexRule(updated)
	return updated, nil
}

// --- search ---

func (s *Service) Search(q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(q)
}

func (s *Service) indexCase(c store.Case) {
	if s.search == nil {
		return
	}
	s.search.IndexCase(search.CaseRecord{ID: c.ID, Ticker: c.Ticker, Book: c.Book, Status: c.Status})
}

func (s *Service) indexEvent(ev store.DecisionEvent) {
	if s.search == nil || ev.EventType == schema.TypeTickerRule {
		return
	}
	s.search.IndexEvent(search.EventRecord{
		ID:        ev.ID,
		CaseID:    ev.CaseID,
		Ticker:    ev.Ticker,
		EventType: ev.EventType,
		Body:      payloadText(ev.Payload),
	})
}

func (s *Service) indexRule(ev store.DecisionEvent) {
	if s.search == nil {
		return
	}
	rec := search.RuleRecord{ID: ev.ID, CaseID: ev.CaseID, Ticker: ev.Ticker}
	if text, ok := ev.Payload["rule_text"].(string); ok {
		rec.RuleText = text
	}
	if status, ok := ev.Payload["status"].(string); ok {
		rec.Status = status
	}
	s.search.IndexRule(rec)
}

// payloadText flattens a payload's string values for indexing.
func payloadText(payload map[string]any) string {
	parts := make([]string, 0, len(payload))
	for _, value := range payload {
		switch v := value.(type) {
		case string:
			parts = append(parts, v)
		case []string:
			parts = append(parts, strings.Join(v, " "))
		case []any:
			for _, item := range v {
				if str, ok := item.(string); ok {
					parts = append(parts, str)
				}
			}
		}
	}
	return strings.Join(parts, " ")
}

// --- export ---

// ExportSnapshotPDF renders a snapshot as a PDF report.
func (s *Service) ExportSnapshotPDF(ctx context.Context, caseID, snapshotID string) (*export.Result, error) {
	if s.export == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "report export is not configured", nil)
	}
	snap, err := s.store.GetSnapshot(ctx, snapshotID)
	if err != nil {
		return nil, err
	}
	if snap.CaseID != caseID {
		return nil, sql.ErrNoRows
	}
	c, err := s.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}

	var state compiler.State
	encoded, err := json.Marshal(snap.Compiled)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot state: %w", err)
	}
	if err := json.Unmarshal(encoded, &state); err != nil {
		return nil, fmt.Errorf("decode snapshot state: %w", err)
	}

	caseName := ""
	if c.Book != defaultBook {
		caseName = c.Book
	}
	result, err := s.export.SnapshotPDF(ctx, export.ReportData{
		CaseName:   caseName,
		Ticker:     snap.Ticker,
		AsOf:       snap.AsOf,
		CreatedBy:  snap.CreatedBy,
		CommitHash: snap.CommitHash,
		State:      state,
	})
	if errors.Is(err, export.ErrPDFDependencyMissing) {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "pdf renderer unavailable", nil)
	}
	return result, err
}

// --- assist passthroughs ---

func (s *Service) SummarizeEvent(ctx context.Context, eventType string, payload map[string]any) (assist.EventSummary, error) {
	if err := requireEventType(eventType); err != nil {
		return assist.EventSummary{}, err
	}
	if payload == nil {
		payload = map[string]any{}
	}
	return s.assist.SummarizeEvent(ctx, eventType, payload), nil
}

func (s *Service) MissingFieldPrompts(ctx context.Context, eventType string, missingFields []string) ([]assist.FieldPrompt, error) {
	if err := requireEventType(eventType); err != nil {
		return nil, err
	}
	return s.assist.MissingFieldPrompts(ctx, eventType, missingFields), nil
}

func (s *Service) Coach(ctx context.Context, eventType string, payload map[string]any) (assist.CoachResult, error) {
	if err := requireEventType(eventType); err != nil {
		return assist.CoachResult{}, err
	}
	if payload == nil {
		payload = map[string]any{}
	}
	return s.assist.Coach(ctx, eventType, payload), nil
}

func (s *Service) Interpret(ctx context.Context, req assist.InterpretRequest) assist.InterpretResult {
	return s.assist.Interpret(ctx, req)
}
