package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across cases, finalized events, and
// ticker rules using plainto_tsquery and ts_rank, with ts_headline snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultCase {
		caseWhere := "c.fts @@ " + tsQuery
		if q.FilterTicker != "" {
			caseWhere += fmt.Sprintf(" AND c.ticker = $%d", argN)
			args = append(args, q.FilterTicker)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'case'::text AS type, c.id::text, coalesce(nullif(c.book, 'default'), c.ticker) AS title,
				c.status AS snippet,
				c.id::text AS case_id, c.ticker,
				ts_rank(c.fts, %s) AS rank
			FROM trade_cases c
			WHERE %s`, tsQuery, caseWhere))
	}

	if q.FilterType == "" || q.FilterType == ResultEvent {
		eventWhere := "e.fts @@ " + tsQuery + " AND e.status = 'FINAL' AND e.event_type <> 'TICKER_RULE'"
		if q.FilterTicker != "" {
			eventWhere += fmt.Sprintf(" AND e.ticker = $%d", argN)
			args = append(args, q.FilterTicker)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'event'::text AS type, e.id::text, e.event_type AS title,
				ts_headline('english', e.payload::text, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				e.case_id::text, e.ticker,
				ts_rank(e.fts, %s) AS rank
			FROM decision_events e
			WHERE %s`, tsQuery, tsQuery, eventWhere))
	}

	if q.FilterType == "" || q.FilterType == ResultRule {
		ruleWhere := "e.fts @@ " + tsQuery + " AND e.status = 'FINAL' AND e.event_type = 'TICKER_RULE'"
		if q.FilterTicker != "" {
			ruleWhere += fmt.Sprintf(" AND e.ticker = $%d", argN)
			args = append(args, q.FilterTicker)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'rule'::text AS type, e.id::text, e.ticker AS title,
				ts_headline('english', coalesce(e.payload->>'rule_text', ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				e.case_id::text, e.ticker,
				ts_rank(e.fts, %s) AS rank
			FROM decision_events e
			WHERE %s`, tsQuery, tsQuery, ruleWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, case_id, ticker
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.CaseID, &r.Ticker); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]CaseRecord, []EventRecord, []RuleRecord, error) {
	caseRows, err := p.db.QueryContext(ctx, `
		SELECT id, ticker, book, status FROM trade_cases
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load cases: %w", err)
	}
	defer caseRows.Close()

	cases := make([]CaseRecord, 0)
	for caseRows.Next() {
		var c CaseRecord
		if err := caseRows.Scan(&c.ID, &c.Ticker, &c.Book, &c.Status); err != nil {
			return nil, nil, nil, fmt.Errorf("scan case: %w", err)
		}
		cases = append(cases, c)
	}
	if err := caseRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate cases: %w", err)
	}

	eventRows, err := p.db.QueryContext(ctx, `
		SELECT id, case_id, ticker, event_type, payload::text
		FROM decision_events
		WHERE status = 'FINAL' AND event_type <> 'TICKER_RULE'
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load events: %w", err)
	}
	defer eventRows.Close()

	events := make([]EventRecord, 0)
	for eventRows.Next() {
		var ev EventRecord
		if err := eventRows.Scan(&ev.ID, &ev.CaseID, &ev.Ticker, &ev.EventType, &ev.Body); err != nil {
			return nil, nil, nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err := eventRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate events: %w", err)
	}

	ruleRows, err := p.db.QueryContext(ctx, `
		SELECT id, case_id, ticker, coalesce(payload->>'rule_text', ''), coalesce(payload->>'status', '')
		FROM decision_events
		WHERE status = 'FINAL' AND event_type = 'TICKER_RULE'
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load rules: %w", err)
	}
	defer ruleRows.Close()

	rules := make([]RuleRecord, 0)
	for ruleRows.Next() {
		var rule RuleRecord
		if err := ruleRows.Scan(&rule.ID, &rule.CaseID, &rule.Ticker, &rule.RuleText, &rule.Status); err != nil {
			return nil, nil, nil, fmt.Errorf("scan rule: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := ruleRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate rules: %w", err)
	}

	return cases, events, rules, nil
}
