// Package schema defines the per-event-type payload contracts for decision
// events. The same field table drives both draft-mode missing-field reporting
// and strict finalize-time validation, so the two modes cannot disagree.
package schema

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

const (
	TypeInitiate     = "INITIATE"
	TypeThesisUpdate = "THESIS_UPDATE"
	TypeRiskNote     = "RISK_NOTE"
	TypeResize       = "RESIZE"
	TypeTickerRule   = "TICKER_RULE"
	TypePostMortem   = "POST_MORTEM"
)

const (
	StatusDraft = "DRAFT"
	StatusFinal = "FINAL"
)

var eventTypes = map[string]struct{}{
	TypeInitiate:     {},
	TypeThesisUpdate: {},
	TypeRiskNote:     {},
	TypeResize:       {},
	TypeTickerRule:   {},
	TypePostMortem:   {},
}

// IsEventType reports whether tag is one of the six known event types.
func IsEventType(tag string) bool {
	_, ok := eventTypes[tag]
	return ok
}

// EventTypes returns the known event-type tags in sorted order.
func EventTypes() []string {
	out := make([]string, 0, len(eventTypes))
	for t := range eventTypes {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

type kind int

const (
	kindString kind = iota
	kindEnum
	kindInt
	kindBoundedInt
	kindNumber
	kindBoundedNumber
	kindStringList
	kindDelta    // object with add/remove string lists
	kindBoolKeys // object with a fixed set of boolean keys
	kindDate     // YYYY-MM-DD string
)

type field struct {
	name       string
	kind       kind
	enum       map[string]struct{}
	min, max   float64
	boolKeys   []string
	nullable   bool
	allowEmpty bool
}

func enumSet(values ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

// Required fields per event type, in canonical order. The first missing field
// is the next question the chat layer asks, so ordering is part of the
// contract.
var fieldsByType = map[string][]field{
	TypeInitiate: {
		{name: "direction", kind: kindEnum, enum: enumSet("LONG", "SHORT")},
		{name: "horizon_days", kind: kindInt},
		{name: "entry_thesis", kind: kindString},
		{name: "key_drivers", kind: kindStringList},
		{name: "key_risks", kind: kindStringList},
		{name: "invalidation_triggers", kind: kindStringList},
		{name: "conviction", kind: kindBoundedInt, min: 0, max: 100},
		{name: "position_intent_pct", kind: kindNumber, nullable: true},
	},
	TypeThesisUpdate: {
		{name: "what_changed", kind: kindEnum, enum: enumSet("FUNDAMENTALS", "VALUATION", "TECHNICALS", "POSITIONING", "MACRO", "DATA")},
		{name: "update_summary", kind: kindString},
		{name: "drivers_delta", kind: kindDelta},
		{name: "risks_delta", kind: kindDelta},
		{name: "triggers_delta", kind: kindDelta},
		{name: "conviction_delta", kind: kindBoundedInt, min: -20, max: 20},
		{name: "confidence", kind: kindBoundedNumber, min: 0, max: 1},
	},
	TypeRiskNote: {
		{name: "risk_type", kind: kindEnum, enum: enumSet("DRAWDOWN", "LIQUIDITY", "EARNINGS", "MACRO", "THESIS_BREAK", "POSITIONING", "OTHER")},
		{name: "severity", kind: kindEnum, enum: enumSet("LOW", "MEDIUM", "HIGH")},
		{name: "note", kind: kindString},
		{name: "action", kind: kindEnum, enum: enumSet("MONITOR", "HEDGE", "REDUCE", "EXIT", "NONE")},
		{name: "due_by", kind: kindDate, nullable: true},
	},
	TypeResize: {
		{name: "from_pct", kind: kindNumber, nullable: true},
		{name: "to_pct", kind: kindNumber},
		{name: "reason", kind: kindEnum, enum: enumSet("RISK", "THESIS", "PRICE", "CONSTRAINTS", "LIQUIDITY", "OTHER")},
		{name: "rationale", kind: kindString},
		{name: "constraints", kind: kindBoolKeys, boolKeys: []string{"adv_cap_binding", "gross_cap_binding", "net_cap_binding"}},
	},
	TypeTickerRule: {
		{name: "ticker", kind: kindString},
		{name: "rule_text", kind: kindString},
		{name: "tags", kind: kindStringList, allowEmpty: true},
		{name: "status", kind: kindEnum, enum: enumSet("ACTIVE", "INACTIVE")},
	},
	TypePostMortem: {
		{name: "outcome", kind: kindEnum, enum: enumSet("WIN", "LOSS", "FLAT")},
		{name: "thesis_outcome", kind: kindEnum, enum: enumSet("CONFIRMED", "PARTIALLY_CONFIRMED", "INVALIDATED")},
		{name: "process_adherence", kind: kindEnum, enum: enumSet("HIGH", "MEDIUM", "LOW")},
		{name: "primary_reason", kind: kindEnum, enum: enumSet("THESIS", "TIMING", "RISK_MGMT", "EXOGENOUS")},
		{name: "what_worked", kind: kindString},
		{name: "what_failed", kind: kindString},
		{name: "rule_violations", kind: kindStringList},
		{name: "lesson", kind: kindString, nullable: true},
	},
}

// RequiredFields returns the canonical ordered required-field names for an
// event type, nullable fields included, or nil for an unknown type.
func RequiredFields(eventType string) []string {
	specs := fieldsByType[eventType]
	out := make([]string, 0, len(specs))
	for _, f := range specs {
		out = append(out, f.name)
	}
	return out
}

// Violation describes one field that failed strict validation.
type Violation struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// MissingFields returns, in canonical order, the required fields of the event
// type that are absent or do not yet satisfy their full constraint. A field
// counts as present only once it would pass finalize-time validation, so an
// empty missing list and a clean Validate always agree. Nullable fields are
// satisfied by absence or an explicit null.
func MissingFields(eventType string, payload map[string]any) []string {
	specs := fieldsByType[eventType]
	missing := make([]string, 0)
	for _, f := range specs {
		value, ok := payload[f.name]
		if !ok || value == nil {
			if !f.nullable {
				missing = append(missing, f.name)
			}
			continue
		}
		if _, bad := checkValue(f, value); bad != "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}

// Validate runs strict finalize-mode validation and returns every violated
// field, not just the first.
func Validate(eventType string, payload map[string]any) []Violation {
	specs := fieldsByType[eventType]
	violations := make([]Violation, 0)
	for _, f := range specs {
		value, ok := payload[f.name]
		if !ok || value == nil {
			if !f.nullable {
				violations = append(violations, Violation{Field: f.name, Reason: "required"})
			}
			continue
		}
		if _, reason := checkValue(f, value); reason != "" {
			violations = append(violations, Violation{Field: f.name, Reason: reason})
		}
	}
	return violations
}

// checkValue applies the full constraint for a field. It returns the
// normalized value and an empty reason on success.
func checkValue(f field, value any) (any, string) {
	switch f.kind {
	case kindString:
		s, ok := value.(string)
		if !ok {
			return nil, "must be a string"
		}
		if strings.TrimSpace(s) == "" {
			return nil, "must be a non-empty string"
		}
		return s, ""
	case kindEnum:
		s, ok := value.(string)
		if !ok {
			return nil, "must be a string"
		}
		if _, member := f.enum[s]; !member {
			return nil, "invalid value"
		}
		return s, ""
	case kindInt, kindBoundedInt:
		n, ok := asNumber(value)
		if !ok || n != math.Trunc(n) {
			return nil, "must be an integer"
		}
		if f.kind == kindBoundedInt && (n < f.min || n > f.max) {
			return nil, fmt.Sprintf("out of range (%g..%g)", f.min, f.max)
		}
		return int(n), ""
	case kindNumber, kindBoundedNumber:
		n, ok := asNumber(value)
		if !ok {
			return nil, "must be a number"
		}
		if f.kind == kindBoundedNumber && (n < f.min || n > f.max) {
			return nil, fmt.Sprintf("out of range (%g..%g)", f.min, f.max)
		}
		return n, ""
	case kindStringList:
		items, reason := asStringList(value)
		if reason != "" {
			return nil, reason
		}
		if len(items) == 0 && !f.allowEmpty {
			return nil, "must be a non-empty array of strings"
		}
		return items, ""
	case kindDelta:
		obj, ok := value.(map[string]any)
		if !ok {
			return nil, "must be an object with add/remove"
		}
		for _, key := range []string{"add", "remove"} {
			inner, present := obj[key]
			if !present {
				return nil, "must be an object with add/remove"
			}
			if _, reason := asStringListAllowEmpty(inner); reason != "" {
				return nil, key + " must be an array of strings"
			}
		}
		return obj, ""
	case kindBoolKeys:
		obj, ok := value.(map[string]any)
		if !ok {
			return nil, "must be an object"
		}
		for _, key := range f.boolKeys {
			if _, isBool := obj[key].(bool); !isBool {
				return nil, key + " must be a boolean"
			}
		}
		return obj, ""
	case kindDate:
		s, ok := value.(string)
		if !ok {
			return nil, "must be a YYYY-MM-DD string"
		}
		if _, err := time.Parse("2006-01-02", s); err != nil {
			return nil, "must be a YYYY-MM-DD string"
		}
		return s, ""
	}
	return nil, "unsupported field kind"
}

func asNumber(value any) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func asStringList(value any) ([]string, string) {
	items, reason := asStringListAllowEmpty(value)
	if reason != "" {
		return nil, reason
	}
	return items, ""
}

func asStringListAllowEmpty(value any) ([]string, string) {
	raw, ok := value.([]any)
	if !ok {
		if typed, isTyped := value.([]string); isTyped {
			return typed, ""
		}
		return nil, "must be an array of strings"
	}
	items := make([]string, 0, len(raw))
	for _, item := range raw {
		s, isString := item.(string)
		if !isString {
			return nil, "must be an array of strings"
		}
		items = append(items, s)
	}
	return items, ""
}

