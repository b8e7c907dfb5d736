package assist

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
)

var eventSummarySchema = json.RawMessage(`{
	"type": "object",
	"additionalProperties": false,
	"properties": {
		"headline": {"type": "string"},
		"bullets": {"type": "array", "items": {"type": "string"}},
		"tags": {"type": "array", "items": {"type": "string"}}
	},
	"required": ["headline", "bullets", "tags"]
}`)

var missingPromptsSchema = json.RawMessage(`{
	"type": "object",
	"additionalProperties": false,
	"properties": {
		"prompts": {
			"type": "array",
			"items": {
				"type": "object",
				"additionalProperties": false,
				"properties": {
					"field": {"type": "string"},
					"prompt": {"type": "string"}
				},
				"required": ["field", "prompt"]
			}
		}
	},
	"required": ["prompts"]
}`)

var coachSchema = json.RawMessage(`{
	"type": "object",
	"additionalProperties": false,
	"properties": {
		"questions": {"type": "array", "items": {"type": "string"}},
		"checks": {"type": "array", "items": {"type": "string"}},
		"warnings": {"type": "array", "items": {"type": "string"}}
	},
	"required": ["questions", "checks", "warnings"]
}`)

var narrativeSchema = json.RawMessage(`{
	"type": "object",
	"additionalProperties": false,
	"properties": {
		"narrative": {"type": "string"}
	},
	"required": ["narrative"]
}`)

// FieldPrompt is one question the chat layer asks to fill a missing field.
type FieldPrompt struct {
	Field  string `json:"field"`
	Prompt string `json:"prompt"`
}

// CoachResult carries clarifying questions and consistency checks grounded in
// a draft payload. No field of it ever contains advice.
type CoachResult struct {
	Questions []string `json:"questions"`
	Checks    []string `json:"checks"`
	Warnings  []string `json:"warnings"`
}

// SummarizeEvent returns a headline and bullets restating an existing event
// payload. The model may only reformat the payload; anything that reads as a
// recommendation falls back to the deterministic rendering.
func (s *Service) SummarizeEvent(ctx context.Context, eventType string, payload map[string]any) EventSummary {
	if !s.Enabled() {
		return DeterministicEventFallback(eventType, payload)
	}

	system := "You are a portfolio journaling assistant. " +
		"You must not introduce new facts, predictions, causal claims, or recommendations. " +
		"You may only restate and format the provided event payload. " +
		"Never use the words: should, recommend, buy, sell, likely, expect, forecast." +
		" Prompt version: " + s.promptVersion + "."
	user := fmt.Sprintf(
		"Produce a concise summary for a chat transcript.\nevent_type: %s\npayload: %s\nReturn JSON strictly matching the schema.",
		eventType, compactJSON(payload))

	var out EventSummary
	if err := s.callStructured(ctx, system, user, "event_summary", eventSummarySchema, &out); err != nil {
		log.Printf("assist: event summary call failed, using fallback: %v", err)
		return DeterministicEventFallback(eventType, payload)
	}
	if ContainsForbiddenText(out.Headline) || ContainsForbiddenText(out.Bullets) || ContainsForbiddenText(out.Tags) {
		log.Printf("assist: event summary tripped guardrails, using fallback")
		return DeterministicEventFallback(eventType, payload)
	}

	out.Headline = truncate(out.Headline, 120)
	out.Bullets = clampList(out.Bullets, 6, 120)
	out.Tags = clampList(out.Tags, 8, 32)
	return out
}

// MissingFieldPrompts returns one short prompt per missing field, in the order
// given. Fields the model skips get the plain "Provide type.field" prompt.
func (s *Service) MissingFieldPrompts(ctx context.Context, eventType string, missingFields []string) []FieldPrompt {
	prompts := make([]FieldPrompt, 0, len(missingFields))
	fallbackFor := func(field string) string {
		return fmt.Sprintf("Provide %s.%s", eventType, field)
	}
	if !s.Enabled() {
		for _, f := range missingFields {
			prompts = append(prompts, FieldPrompt{Field: f, Prompt: fallbackFor(f)})
		}
		return prompts
	}

	system := "You generate short, clear prompts for completing a structured portfolio journal event. " +
		"No advice, no predictions, no recommendations, no new facts. " +
		"Return JSON strictly matching the schema." +
		" Prompt version: " + s.promptVersion + "."
	user := fmt.Sprintf(
		"event_type: %s\nmissing_fields: %s\nWrite one short prompt per missing field.",
		eventType, compactJSON(missingFields))

	var out struct {
		Prompts []FieldPrompt `json:"prompts"`
	}
	byField := map[string]string{}
	if err := s.callStructured(ctx, system, user, "missing_field_prompts", missingPromptsSchema, &out); err != nil {
		log.Printf("assist: missing-field prompts call failed, using fallback: %v", err)
	} else if ContainsForbiddenText(promptValues(out.Prompts)) {
		log.Printf("assist: missing-field prompts tripped guardrails, using fallback")
	} else {
		for _, p := range out.Prompts {
			byField[p.Field] = p.Prompt
		}
	}

	for _, f := range missingFields {
		prompt := byField[f]
		if prompt == "" {
			prompt = fallbackFor(f)
		}
		prompts = append(prompts, FieldPrompt{Field: f, Prompt: truncate(prompt, 160)})
	}
	return prompts
}

// Coach returns clarifying questions, consistency checks, and neutral warnings
// for a draft payload. Guardrail violations collapse to empty lists rather
// than a deterministic rendering, since coaching has no payload to restate.
func (s *Service) Coach(ctx context.Context, eventType string, payload map[string]any) CoachResult {
	empty := CoachResult{Questions: []string{}, Checks: []string{}, Warnings: []string{}}
	if !s.Enabled() {
		return empty
	}

	system := "You are a portfolio journaling coach. " +
		"You MUST NOT provide trade recommendations, predictions, or causal explanations. " +
		"You may only ask clarifying questions and provide consistency checks based on the provided payload. " +
		"Never use the words: should, recommend, buy, sell, likely, expect, forecast. " +
		"Return JSON strictly matching the schema." +
		" Prompt version: " + s.promptVersion + "."
	user := fmt.Sprintf(
		"event_type: %s\npayload: %s\nGenerate:\n1) questions (max 5)\n2) checks (max 5)\n3) warnings (max 3)\nAll must be grounded in the payload fields and phrased neutrally.",
		eventType, compactJSON(payload))

	var out CoachResult
	if err := s.callStructured(ctx, system, user, "coach", coachSchema, &out); err != nil {
		log.Printf("assist: coach call failed: %v", err)
		return empty
	}
	if ContainsForbiddenText(out.Questions) || ContainsForbiddenText(out.Checks) || ContainsForbiddenText(out.Warnings) {
		log.Printf("assist: coach output tripped guardrails")
		return empty
	}
	return CoachResult{
		Questions: clampList(out.Questions, 5, 160),
		Checks:    clampList(out.Checks, 5, 160),
		Warnings:  clampList(out.Warnings, 3, 160),
	}
}

// Narrative produces a short prose restatement of a compiled thesis state.
// Best effort: any failure or guardrail hit returns an empty string and the
// compile result ships without a narrative.
func (s *Service) Narrative(ctx context.Context, ticker string, compiled map[string]any) string {
	if !s.Enabled() {
		return ""
	}

	system := "You restate a compiled investment thesis state as neutral prose. " +
		"You must not introduce new facts, predictions, causal claims, or recommendations. " +
		"Never use the words: should, recommend, buy, sell, likely, expect, forecast. " +
		"Return JSON strictly matching the schema." +
		" Prompt version: " + s.promptVersion + "."
	user := fmt.Sprintf(
		"ticker: %s\ncompiled_state: %s\nWrite one short paragraph (max 600 characters) restating the state.",
		ticker, compactJSON(compiled))

	var out struct {
		Narrative string `json:"narrative"`
	}
	if err := s.callStructured(ctx, system, user, "compile_narrative", narrativeSchema, &out); err != nil {
		log.Printf("assist: narrative call failed: %v", err)
		return ""
	}
	if ContainsForbiddenText(out.Narrative) {
		log.Printf("assist: narrative tripped guardrails")
		return ""
	}
	return truncate(out.Narrative, 600)
}

func clampList(items []string, maxItems, maxLen int) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if len(out) == maxItems {
			break
		}
		out = append(out, truncate(item, maxLen))
	}
	return out
}

func promptValues(prompts []FieldPrompt) []string {
	values := make([]string, 0, len(prompts))
	for _, p := range prompts {
		values = append(values, p.Prompt)
	}
	return values
}

func compactJSON(value any) string {
	raw, err := json.Marshal(value)
	if err != nil {
		return "{}"
	}
	return string(raw)
}
