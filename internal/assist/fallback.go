package assist

import (
	"fmt"
	"strings"

	"pmdos/api/internal/schema"
)

// EventSummary is the chat-transcript rendering of a single decision event.
type EventSummary struct {
	Headline string   `json:"headline"`
	Bullets  []string `json:"bullets"`
	Tags     []string `json:"tags"`
}

// DeterministicEventFallback renders an event summary straight from the
// payload, no model involved. It is the response of record whenever the model
// is unavailable or its output violates the guardrails.
func DeterministicEventFallback(eventType string, payload map[string]any) EventSummary {
	headline := eventType
	var bullets []string

	switch eventType {
	case schema.TypeInitiate:
		headline = "INITIATE " + strings.TrimSpace(payloadString(payload, "direction"))
		bullets = []string{
			valueBullet("Horizon days: %v", payload, "horizon_days"),
			valueBullet("Conviction: %v", payload, "conviction"),
			valueBullet("Position intent %%: %v", payload, "position_intent_pct"),
		}
	case schema.TypeThesisUpdate:
		headline = "THESIS_UPDATE " + strings.TrimSpace(payloadString(payload, "what_changed"))
		bullets = []string{truncate(payloadString(payload, "update_summary"), 120)}
	case schema.TypeRiskNote:
		headline = "RISK_NOTE " + strings.TrimSpace(payloadString(payload, "risk_type"))
		bullets = []string{truncate(payloadString(payload, "note"), 120)}
	case schema.TypeResize:
		headline = "RESIZE"
		bullets = []string{
			valueBullet("From: %v%%", payload, "from_pct"),
			valueBullet("To: %v%%", payload, "to_pct"),
			valueBullet("Reason: %v", payload, "reason"),
		}
	case schema.TypeTickerRule:
		headline = "TICKER_RULE"
		bullets = []string{truncate(payloadString(payload, "rule_text"), 120)}
	case schema.TypePostMortem:
		headline = "POST_MORTEM " + strings.TrimSpace(payloadString(payload, "outcome"))
		bullets = []string{payloadString(payload, "lesson")}
	}

	kept := make([]string, 0, len(bullets))
	for _, b := range bullets {
		if strings.TrimSpace(b) != "" {
			kept = append(kept, b)
		}
	}
	if len(kept) > 6 {
		kept = kept[:6]
	}
	return EventSummary{Headline: truncate(strings.TrimSpace(headline), 120), Bullets: kept, Tags: []string{}}
}

// valueBullet formats a labeled bullet for a payload field, or returns an
// empty string (dropped by the blank filter) when the field is absent.
func valueBullet(format string, payload map[string]any, key string) string {
	value, ok := payload[key]
	if !ok || value == nil {
		return ""
	}
	return fmt.Sprintf(format, value)
}

func payloadString(payload map[string]any, key string) string {
	if s, ok := payload[key].(string); ok {
		return s
	}
	return ""
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
