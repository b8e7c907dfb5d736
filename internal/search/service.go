package search

import (
	"context"
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexCase indexes a case (fire-and-forget to Meilisearch).
func (s *Service) IndexCase(c CaseRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexCase(c); err != nil {
			log.Printf("search: index case %s: %v", c.ID, err)
		}
	}()
}

// IndexEvent indexes a finalized event (fire-and-forget to Meilisearch).
func (s *Service) IndexEvent(ev EventRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexEvent(ev); err != nil {
			log.Printf("search: index event %s: %v", ev.ID, err)
		}
	}()
}

// IndexRule indexes a ticker rule (fire-and-forget to Meilisearch).
func (s *Service) IndexRule(rule RuleRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexRule(rule); err != nil {
			log.Printf("search: index rule %s: %v", rule.ID, err)
		}
	}()
}

// ReindexAll pushes the given records into Meilisearch in bulk.
func (s *Service) ReindexAll(cases []CaseRecord, events []EventRecord, rules []RuleRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}

	if len(cases) > 0 {
		if err := s.meili.IndexCases(cases); err != nil {
			log.Printf("search: reindex cases: %v", err)
		}
	}
	if len(events) > 0 {
		if err := s.meili.IndexEvents(events); err != nil {
			log.Printf("search: reindex events: %v", err)
		}
	}
	if len(rules) > 0 {
		if err := s.meili.IndexRules(rules); err != nil {
			log.Printf("search: reindex rules: %v", err)
		}
	}
}

// ReindexAllFromPG reindexes all searchable entities from PostgreSQL into Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	cases, events, rules, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	s.ReindexAll(cases, events, rules)
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
