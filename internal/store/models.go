package store

import "time"

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Case struct {
	ID        string     `json:"id"`
	Ticker    string     `json:"ticker"`
	Book      string     `json:"book"`
	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at"`
}

type DecisionEvent struct {
	ID          string         `json:"id"`
	CaseID      string         `json:"case_id"`
	Ticker      string         `json:"ticker"`
	EventType   string         `json:"event_type"`
	Status      string         `json:"status"`
	EventTS     time.Time      `json:"event_ts"`
	Payload     map[string]any `json:"payload"`
	CreatedBy   string         `json:"created_by"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	FinalizedAt *time.Time     `json:"finalized_at"`
}

type ThesisSnapshot struct {
	ID         string         `json:"id"`
	CaseID     string         `json:"case_id"`
	Ticker     string         `json:"ticker"`
	AsOf       time.Time      `json:"asof"`
	Compiled   map[string]any `json:"compiled"`
	Narrative  string         `json:"narrative"`
	CommitHash string         `json:"commit_hash"`
	CreatedBy  string         `json:"created_by"`
	CreatedAt  time.Time      `json:"created_at"`
}

type MarketPriceDaily struct {
	Ticker string    `json:"ticker"`
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// TickerRule is the rules view projected from finalized TICKER_RULE events.
type TickerRule struct {
	EventID   string    `json:"event_id"`
	CaseID    string    `json:"case_id"`
	Ticker    string    `json:"ticker"`
	RuleText  string    `json:"rule_text"`
	Tags      []string  `json:"tags"`
	Status    string    `json:"status"`
	EventTS   time.Time `json:"event_ts"`
	CreatedAt time.Time `json:"created_at"`
}
