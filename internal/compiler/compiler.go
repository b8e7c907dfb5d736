// Package compiler folds a case's finalized decision events into a
// deterministic thesis snapshot. The fold is pure: no I/O, no clock, no
// hidden state, so compiling the same event sequence twice yields
// byte-identical output.
package compiler

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"pmdos/api/internal/schema"
)

// Event is the slice of a decision event the reducer needs.
type Event struct {
	ID        string
	EventType string
	EventTS   time.Time
	CreatedAt time.Time
	Payload   map[string]any
}

// RiskEntry is one RISK_NOTE projected into the risk ledger.
type RiskEntry struct {
	RiskType string `json:"risk_type"`
	Severity string `json:"severity"`
	Note     string `json:"note"`
	Action   string `json:"action"`
	DueBy    string `json:"due_by"`
	EventTS  string `json:"event_ts"`
}

// UpdateEntry is one THESIS_UPDATE projected into the update trail.
type UpdateEntry struct {
	WhatChanged     string  `json:"what_changed"`
	Summary         string  `json:"summary"`
	ConvictionDelta int     `json:"conviction_delta"`
	Confidence      float64 `json:"confidence"`
	EventTS         string  `json:"event_ts"`
}

// Annotation carries a TICKER_RULE or POST_MORTEM payload verbatim; these
// event types are recorded, not folded into thesis state.
type Annotation struct {
	EventID string         `json:"event_id"`
	EventTS string         `json:"event_ts"`
	Payload map[string]any `json:"payload"`
}

// MarketContext is the optional latest market summary as of the compile time.
type MarketContext struct {
	Date  string  `json:"date"`
	Close float64 `json:"close"`
}

// State is the accumulator folded over the event sequence.
type State struct {
	Ticker               string         `json:"ticker"`
	AsOf                 string         `json:"asof"`
	Direction            string         `json:"direction"`
	HorizonDays          int            `json:"horizon_days"`
	EntryThesis          string         `json:"entry_thesis"`
	Conviction           int            `json:"conviction"`
	ConvictionClamped    bool           `json:"conviction_clamped"`
	Confidence           *float64       `json:"confidence"`
	KeyDrivers           []string       `json:"key_drivers"`
	KeyRisks             []string       `json:"key_risks"`
	InvalidationTriggers []string       `json:"invalidation_triggers"`
	PositionIntentPct    *float64       `json:"position_intent_pct"`
	OpenRisks            []RiskEntry    `json:"open_risks"`
	RiskHistory          []RiskEntry    `json:"risk_history"`
	Updates              []UpdateEntry  `json:"updates"`
	TickerRules          []Annotation   `json:"ticker_rules"`
	PostMortems          []Annotation   `json:"post_mortems"`
	EventCount           int            `json:"event_count"`
	Market               *MarketContext `json:"market"`
}

func newState(ticker string, asof time.Time) State {
	return State{
		Ticker:               ticker,
		AsOf:                 asof.UTC().Format(time.RFC3339),
		KeyDrivers:           []string{},
		KeyRisks:             []string{},
		InvalidationTriggers: []string{},
		OpenRisks:            []RiskEntry{},
		RiskHistory:          []RiskEntry{},
		Updates:              []UpdateEntry{},
		TickerRules:          []Annotation{},
		PostMortems:          []Annotation{},
	}
}

// Compile filters events to event_ts <= asof, orders them by
// (event_ts, created_at, id) and folds them left to right. Events later than
// asof never affect the output, regardless of when they were finalized.
func Compile(ticker string, asof time.Time, events []Event, market *MarketContext) State {
	selected := make([]Event, 0, len(events))
	for _, ev := range events {
		if !ev.EventTS.After(asof) {
			selected = append(selected, ev)
		}
	}
	sort.SliceStable(selected, func(i, j int) bool {
		a, b := selected[i], selected[j]
		if !a.EventTS.Equal(b.EventTS) {
			return a.EventTS.Before(b.EventTS)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	state := newState(ticker, asof)
	for _, ev := range selected {
		state = Reduce(state, ev)
	}
	if market != nil {
		state.Market = market
	}
	return state
}

// Reduce applies one event to the accumulator and returns the next state.
func Reduce(state State, ev Event) State {
	switch ev.EventType {
	case schema.TypeInitiate:
		state = applyInitiate(state, ev)
	case schema.TypeThesisUpdate:
		state = applyThesisUpdate(state, ev)
	case schema.TypeRiskNote:
		state = applyRiskNote(state, ev)
	case schema.TypeResize:
		if pct, ok := number(ev.Payload["to_pct"]); ok {
			state.PositionIntentPct = &pct
		}
	case schema.TypeTickerRule:
		state.TickerRules = append(state.TickerRules, annotation(ev))
	case schema.TypePostMortem:
		state.PostMortems = append(state.PostMortems, annotation(ev))
	}
	state.EventCount++
	return state
}

// applyInitiate reseeds the whole thesis state from the episode opener.
func applyInitiate(state State, ev Event) State {
	payload := ev.Payload
	state.Direction = str(payload["direction"])
	state.HorizonDays = intval(payload["horizon_days"])
	state.EntryThesis = str(payload["entry_thesis"])
	state.Conviction = clampConviction(intval(payload["conviction"]), &state.ConvictionClamped)
	state.KeyDrivers = stringList(payload["key_drivers"])
	state.KeyRisks = stringList(payload["key_risks"])
	state.InvalidationTriggers = stringList(payload["invalidation_triggers"])
	state.Confidence = nil
	if pct, ok := number(payload["position_intent_pct"]); ok {
		state.PositionIntentPct = &pct
	} else {
		state.PositionIntentPct = nil
	}
	return state
}

func applyThesisUpdate(state State, ev Event) State {
	payload := ev.Payload

	delta := intval(payload["conviction_delta"])
	state.Conviction = clampConviction(state.Conviction+delta, &state.ConvictionClamped)

	state.KeyDrivers = applyDelta(state.KeyDrivers, payload["drivers_delta"])
	state.KeyRisks = applyDelta(state.KeyRisks, payload["risks_delta"])
	state.InvalidationTriggers = applyDelta(state.InvalidationTriggers, payload["triggers_delta"])

	entry := UpdateEntry{
		WhatChanged:     str(payload["what_changed"]),
		Summary:         str(payload["update_summary"]),
		ConvictionDelta: delta,
		EventTS:         ev.EventTS.UTC().Format(time.RFC3339),
	}
	if confidence, ok := number(payload["confidence"]); ok {
		entry.Confidence = confidence
		state.Confidence = &confidence
	}
	state.Updates = append(state.Updates, entry)
	return state
}

func applyRiskNote(state State, ev Event) State {
	entry := RiskEntry{
		RiskType: str(ev.Payload["risk_type"]),
		Severity: str(ev.Payload["severity"]),
		Note:     str(ev.Payload["note"]),
		Action:   str(ev.Payload["action"]),
		DueBy:    str(ev.Payload["due_by"]),
		EventTS:  ev.EventTS.UTC().Format(time.RFC3339),
	}
	state.RiskHistory = append(state.RiskHistory, entry)

	// Latest note per risk_type wins for the current view; output stays
	// sorted by risk_type for determinism.
	replaced := false
	for i := range state.OpenRisks {
		if state.OpenRisks[i].RiskType == entry.RiskType {
			state.OpenRisks[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		state.OpenRisks = append(state.OpenRisks, entry)
		sort.Slice(state.OpenRisks, func(i, j int) bool {
			return state.OpenRisks[i].RiskType < state.OpenRisks[j].RiskType
		})
	}
	return state
}

// applyDelta removes before adding so an add can reintroduce an item removed
// by the same event.
func applyDelta(items []string, raw any) []string {
	obj, ok := raw.(map[string]any)
	if !ok {
		return items
	}
	out := items
	for _, removed := range stringList(obj["remove"]) {
		out = without(out, removed)
	}
	for _, added := range stringList(obj["add"]) {
		if !contains(out, added) {
			out = append(out, added)
		}
	}
	return out
}

func clampConviction(value int, clamped *bool) int {
	if value < 0 {
		*clamped = true
		return 0
	}
	if value > 100 {
		*clamped = true
		return 100
	}
	return value
}

// MarshalCanonical renders the compiled state as its canonical JSON form.
// Struct field order is fixed and map keys marshal sorted, so identical
// states produce identical bytes.
func MarshalCanonical(state State) ([]byte, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("marshal compiled state: %w", err)
	}
	return data, nil
}

func annotation(ev Event) Annotation {
	return Annotation{
		EventID: ev.ID,
		EventTS: ev.EventTS.UTC().Format(time.RFC3339),
		Payload: ev.Payload,
	}
}

func str(value any) string {
	s, _ := value.(string)
	return s
}

func number(value any) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func intval(value any) int {
	n, _ := number(value)
	return int(n)
}

func stringList(value any) []string {
	out := []string{}
	switch items := value.(type) {
	case []string:
		out = append(out, items...)
	case []any:
		for _, item := range items {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

func contains(items []string, needle string) bool {
	for _, item := range items {
		if item == needle {
			return true
		}
	}
	return false
}

func without(items []string, needle string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item != needle {
			out = append(out, item)
		}
	}
	return out
}
