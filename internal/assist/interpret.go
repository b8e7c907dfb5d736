package assist

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strings"

	"pmdos/api/internal/schema"
)

var interpretSchema = json.RawMessage(`{
	"type": "object",
	"additionalProperties": false,
	"properties": {
		"mode": {"type": "string", "enum": ["EXECUTE", "CLARIFY", "NOOP"]},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1},
		"action": {
			"type": ["object", "null"],
			"additionalProperties": false,
			"properties": {
				"type": {
					"type": "string",
					"enum": ["SET_CONTEXT", "START_EVENT", "ANSWER_FIELD", "FINALIZE_DRAFT", "SHOW_EVENTS", "SHOW_DRAFT", "CANCEL"]
				},
				"ticker": {"type": ["string", "null"]},
				"event_type": {
					"type": ["string", "null"],
					"enum": [null, "INITIATE", "THESIS_UPDATE", "RISK_NOTE", "RESIZE", "TICKER_RULE", "POST_MORTEM"]
				},
				"field": {"type": ["string", "null"]},
				"answer_text": {"type": ["string", "null"]},
				"seed_payload": {"type": ["object", "null"]}
			},
			"required": ["type", "ticker", "event_type", "field", "answer_text", "seed_payload"]
		},
		"clarify": {
			"type": ["object", "null"],
			"additionalProperties": false,
			"properties": {
				"question": {"type": "string", "minLength": 1, "maxLength": 200},
				"choices": {
					"type": "array",
					"minItems": 2,
					"maxItems": 5,
					"items": {
						"type": "object",
						"additionalProperties": false,
						"properties": {
							"label": {"type": "string", "minLength": 1, "maxLength": 60},
							"action": {"$ref": "#/properties/action"}
						},
						"required": ["label", "action"]
					}
				}
			},
			"required": ["question", "choices"]
		},
		"message": {"type": ["string", "null"], "maxLength": 200}
	},
	"required": ["mode", "confidence", "action", "clarify", "message"]
}`)

// tickerTokenRe matches explicit uppercase ticker tokens. Company names are
// never resolved to tickers.
var tickerTokenRe = regexp.MustCompile(`\b[A-Z][A-Z0-9]{0,5}(?:\.[A-Z])?\b`)

// seedAllowlist limits the payload keys an interpreted START_EVENT may seed.
// Everything else the model invents is dropped.
var seedAllowlist = map[string][]string{
	schema.TypeInitiate:     {},
	schema.TypeThesisUpdate: {"update_summary"},
	schema.TypeRiskNote:     {"note"},
	schema.TypeResize:       {"rationale"},
	schema.TypeTickerRule:   {"rule_text"},
	schema.TypePostMortem:   {"lesson"},
}

// Confidence policy: ambiguity is forced down into CLARIFY or NOOP.
const (
	executeMinConfidence = 0.80
	clarifyMinConfidence = 0.40
)

// Action is one allowed intent the console may execute.
type Action struct {
	Type        string         `json:"type"`
	Ticker      *string        `json:"ticker"`
	EventType   *string        `json:"event_type"`
	Field       *string        `json:"field"`
	AnswerText  *string        `json:"answer_text"`
	SeedPayload map[string]any `json:"seed_payload"`
}

// ClarifyChoice pairs a label with the action it would execute when picked.
type ClarifyChoice struct {
	Label  string  `json:"label"`
	Action *Action `json:"action"`
}

type Clarify struct {
	Question string          `json:"question"`
	Choices  []ClarifyChoice `json:"choices"`
}

// InterpretResult is the gated outcome of interpreting free text. It never
// executes anything itself.
type InterpretResult struct {
	Mode       string   `json:"mode"`
	Confidence float64  `json:"confidence"`
	Action     *Action  `json:"action"`
	Clarify    *Clarify `json:"clarify"`
	Message    *string  `json:"message"`
}

// InterpretRequest carries the free text plus the console state used for
// deterministic gating of the model's answer.
type InterpretRequest struct {
	Text string
	// AllowedTickers restricts which tickers the result may reference. Nil
	// means extract them from the text; an explicit empty list forbids all.
	AllowedTickers []string
	// PendingField, when set, is the only field ANSWER_FIELD may target.
	PendingField string
	// MissingFields widens ANSWER_FIELD to any of these when no field is
	// pending. Nil means ANSWER_FIELD is not permitted at all.
	MissingFields []string
}

// ExtractAllowedTickers returns the explicit uppercase ticker tokens in text,
// unique in first-seen order.
func ExtractAllowedTickers(text string) []string {
	found := tickerTokenRe.FindAllString(text, -1)
	out := make([]string, 0, len(found))
	seen := make(map[string]struct{}, len(found))
	for _, t := range found {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func defaultNoop() InterpretResult {
	msg := "Use an uppercase ticker (e.g., AAPL) and commands like: ticker AAPL, long AAPL, update:, risk:, size:, rule:, post:."
	return InterpretResult{Mode: "NOOP", Confidence: 0, Message: &msg}
}

// Interpret translates free text into one gated intent. The model proposes;
// the allowlists dispose. Unconfigured or failing model clients yield NOOP.
func (s *Service) Interpret(ctx context.Context, req InterpretRequest) InterpretResult {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return defaultNoop()
	}

	allowedTickers := req.AllowedTickers
	if allowedTickers == nil {
		allowedTickers = ExtractAllowedTickers(text)
	}
	kept := make([]string, 0, len(allowedTickers))
	for _, t := range allowedTickers {
		if tickerTokenRe.MatchString(t) {
			kept = append(kept, t)
		}
	}
	allowedTickers = kept

	if len(allowedTickers) == 0 {
		// No explicit uppercase tickers present. Refuse to guess.
		return clarifyNoTicker()
	}
	if !s.Enabled() {
		return defaultNoop()
	}

	system := "You are a strict command interpreter for a portfolio journaling console. " +
		"You MUST output JSON matching the schema exactly. " +
		"You MUST NOT introduce or guess tickers. " +
		"You may only use tickers from allowed_tickers. " +
		"If intent is ambiguous, return CLARIFY with 2-5 choices. " +
		"You MUST NOT provide recommendations, predictions, or advice. " +
		"Prompt version: " + s.promptVersion + "."
	user := fmt.Sprintf(
		"text: %s\nallowed_tickers: %s\npending_field: %s\nmissing_fields: %s\n"+
			"Interpret into one safe intent.\n"+
			"If multiple tickers appear and context is unclear, ask CLARIFY.\n"+
			"If user is answering a pending field, choose ANSWER_FIELD.\n"+
			"If user wants to switch tickers, choose SET_CONTEXT.\n"+
			"If user wants to log an event, choose START_EVENT with minimal seed_payload (allowed keys only).\n"+
			"Do not invent event payload structure.",
		text, compactJSON(allowedTickers), req.PendingField, compactJSON(req.MissingFields))

	var out InterpretResult
	if err := s.callStructured(ctx, system, user, "interpret", interpretSchema, &out); err != nil {
		log.Printf("assist: interpret call failed: %v", err)
		return defaultNoop()
	}
	return gateInterpretation(out, allowedTickers, req.PendingField, req.MissingFields)
}

// gateInterpretation applies the deterministic allowlist and confidence policy
// to a raw model interpretation.
func gateInterpretation(out InterpretResult, allowedTickers []string, pendingField string, missingFields []string) InterpretResult {
	mode := out.Mode
	conf := out.Confidence

	switch mode {
	case "EXECUTE", "CLARIFY", "NOOP":
	default:
		return defaultNoop()
	}
	if mode == "EXECUTE" && conf < executeMinConfidence {
		mode = "CLARIFY"
	}
	if mode == "CLARIFY" && conf < clarifyMinConfidence {
		return defaultNoop()
	}

	if mode == "NOOP" {
		message := defaultNoop().Message
		if out.Message != nil && *out.Message != "" {
			trimmed := truncate(*out.Message, 200)
			message = &trimmed
		}
		return InterpretResult{Mode: "NOOP", Confidence: conf, Message: message}
	}

	if mode == "EXECUTE" {
		action := out.Action
		if action == nil {
			return defaultNoop()
		}
		sanitizeSeedPayload(action)
		if !actionAllowed(action, allowedTickers, pendingField, missingFields) {
			return defaultNoop()
		}
		return InterpretResult{Mode: "EXECUTE", Confidence: conf, Action: action}
	}

	// CLARIFY
	if out.Clarify == nil {
		return defaultNoop()
	}
	question := out.Clarify.Question
	choices := out.Clarify.Choices
	if question == "" || len(choices) < 2 || len(choices) > 5 {
		return defaultNoop()
	}
	cleaned := make([]ClarifyChoice, 0, len(choices))
	for _, choice := range choices {
		if choice.Label == "" || choice.Action == nil {
			continue
		}
		sanitizeSeedPayload(choice.Action)
		if !actionAllowed(choice.Action, allowedTickers, pendingField, missingFields) {
			continue
		}
		cleaned = append(cleaned, ClarifyChoice{Label: truncate(choice.Label, 60), Action: choice.Action})
	}
	if len(cleaned) < 2 {
		return defaultNoop()
	}
	if len(cleaned) > 5 {
		cleaned = cleaned[:5]
	}
	return InterpretResult{
		Mode:       "CLARIFY",
		Confidence: conf,
		Clarify:    &Clarify{Question: truncate(question, 200), Choices: cleaned},
	}
}

// sanitizeSeedPayload drops every seed key outside the per-type allowlist.
func sanitizeSeedPayload(action *Action) {
	if action.SeedPayload == nil || action.EventType == nil {
		action.SeedPayload = nil
		return
	}
	allowed := map[string]struct{}{}
	for _, key := range seedAllowlist[*action.EventType] {
		allowed[key] = struct{}{}
	}
	if len(allowed) == 0 {
		action.SeedPayload = nil
		return
	}
	filtered := make(map[string]any)
	for key, value := range action.SeedPayload {
		if _, ok := allowed[key]; ok {
			filtered[key] = value
		}
	}
	action.SeedPayload = filtered
}

func actionAllowed(action *Action, allowedTickers []string, pendingField string, missingFields []string) bool {
	if action.Ticker != nil && !contains(allowedTickers, *action.Ticker) {
		return false
	}
	if action.EventType != nil && !schema.IsEventType(*action.EventType) {
		return false
	}
	if action.Type == "ANSWER_FIELD" {
		if action.Field == nil || *action.Field == "" {
			return false
		}
		if pendingField != "" {
			return *action.Field == pendingField
		}
		if missingFields != nil {
			return contains(missingFields, *action.Field)
		}
		return false
	}
	return true
}

func clarifyNoTicker() InterpretResult {
	cancel := &Action{Type: "CANCEL"}
	showDraft := &Action{Type: "SHOW_DRAFT"}
	return InterpretResult{
		Mode:       "CLARIFY",
		Confidence: 0.6,
		Clarify: &Clarify{
			Question: "Enter an uppercase ticker (e.g., AAPL). Company names are not supported.",
			Choices: []ClarifyChoice{
				{Label: "OK", Action: cancel},
				{Label: "Show commands", Action: showDraft},
			},
		},
	}
}

func contains(items []string, want string) bool {
	for _, item := range items {
		if item == want {
			return true
		}
	}
	return false
}
