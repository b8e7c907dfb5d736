package assist

import (
	"context"
	"reflect"
	"testing"
)

func strptr(s string) *string { return &s }

func TestExtractAllowedTickers(t *testing.T) {
	got := ExtractAllowedTickers("long NVDA, trim AAPL, watch BRK.B and NVDA again")
	want := []string{"NVDA", "AAPL", "BRK.B"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("tickers = %v, want %v", got, want)
	}
	if got := ExtractAllowedTickers("buy some apple shares"); len(got) != 0 {
		t.Fatalf("lowercase text produced tickers: %v", got)
	}
}

func TestInterpretEmptyTextIsNoop(t *testing.T) {
	svc := NewService("", "gpt-4.1", 0.2, "test")
	out := svc.Interpret(context.Background(), InterpretRequest{Text: "   "})
	if out.Mode != "NOOP" {
		t.Fatalf("mode = %q, want NOOP", out.Mode)
	}
	if out.Message == nil || *out.Message == "" {
		t.Fatal("expected help message on NOOP")
	}
}

func TestInterpretWithoutExplicitTickerAsksForOne(t *testing.T) {
	svc := NewService("", "gpt-4.1", 0.2, "test")
	out := svc.Interpret(context.Background(), InterpretRequest{Text: "start a long in the chipmaker"})
	if out.Mode != "CLARIFY" {
		t.Fatalf("mode = %q, want CLARIFY", out.Mode)
	}
	if out.Clarify == nil || len(out.Clarify.Choices) != 2 {
		t.Fatalf("clarify = %+v, want two choices", out.Clarify)
	}
}

func TestInterpretWithoutClientIsNoop(t *testing.T) {
	svc := NewService("", "gpt-4.1", 0.2, "test")
	out := svc.Interpret(context.Background(), InterpretRequest{Text: "update NVDA thesis"})
	if out.Mode != "NOOP" {
		t.Fatalf("mode = %q, want NOOP when no model client is configured", out.Mode)
	}
}

func TestGateRejectsUnlistedTicker(t *testing.T) {
	out := gateInterpretation(InterpretResult{
		Mode:       "EXECUTE",
		Confidence: 0.95,
		Action:     &Action{Type: "SET_CONTEXT", Ticker: strptr("TSLA")},
	}, []string{"NVDA"}, "", nil)
	if out.Mode != "NOOP" {
		t.Fatalf("mode = %q, want NOOP for ticker outside allowlist", out.Mode)
	}
}

func TestGateForcesLowConfidenceExecuteDown(t *testing.T) {
	// 0.5 demotes EXECUTE to CLARIFY; with no clarify block that is a NOOP.
	out := gateInterpretation(InterpretResult{
		Mode:       "EXECUTE",
		Confidence: 0.5,
		Action:     &Action{Type: "SET_CONTEXT", Ticker: strptr("NVDA")},
	}, []string{"NVDA"}, "", nil)
	if out.Mode != "NOOP" {
		t.Fatalf("mode = %q, want NOOP", out.Mode)
	}

	out = gateInterpretation(InterpretResult{Mode: "CLARIFY", Confidence: 0.2}, []string{"NVDA"}, "", nil)
	if out.Mode != "NOOP" {
		t.Fatalf("mode = %q, want NOOP for low-confidence CLARIFY", out.Mode)
	}
}

func TestGateSanitizesSeedPayload(t *testing.T) {
	action := &Action{
		Type:      "START_EVENT",
		Ticker:    strptr("NVDA"),
		EventType: strptr("THESIS_UPDATE"),
		SeedPayload: map[string]any{
			"update_summary": "margins revised",
			"conviction":     float64(95),
		},
	}
	out := gateInterpretation(InterpretResult{Mode: "EXECUTE", Confidence: 0.9, Action: action}, []string{"NVDA"}, "", nil)
	if out.Mode != "EXECUTE" {
		t.Fatalf("mode = %q, want EXECUTE", out.Mode)
	}
	want := map[string]any{"update_summary": "margins revised"}
	if !reflect.DeepEqual(out.Action.SeedPayload, want) {
		t.Fatalf("seed payload = %v, want %v", out.Action.SeedPayload, want)
	}
}

func TestGateSeedPayloadDroppedForInitiate(t *testing.T) {
	action := &Action{
		Type:        "START_EVENT",
		Ticker:      strptr("NVDA"),
		EventType:   strptr("INITIATE"),
		SeedPayload: map[string]any{"entry_thesis": "seeded"},
	}
	out := gateInterpretation(InterpretResult{Mode: "EXECUTE", Confidence: 0.9, Action: action}, []string{"NVDA"}, "", nil)
	if out.Mode != "EXECUTE" {
		t.Fatalf("mode = %q, want EXECUTE", out.Mode)
	}
	if out.Action.SeedPayload != nil {
		t.Fatalf("seed payload = %v, want nil (no keys allowed for INITIATE)", out.Action.SeedPayload)
	}
}

func TestGateAnswerFieldRespectsPendingField(t *testing.T) {
	answer := func(field string) *Action {
		return &Action{Type: "ANSWER_FIELD", Field: strptr(field), AnswerText: strptr("90")}
	}

	out := gateInterpretation(InterpretResult{Mode: "EXECUTE", Confidence: 0.9, Action: answer("horizon_days")},
		[]string{"NVDA"}, "horizon_days", nil)
	if out.Mode != "EXECUTE" {
		t.Fatalf("pending field answer rejected: mode = %q", out.Mode)
	}

	out = gateInterpretation(InterpretResult{Mode: "EXECUTE", Confidence: 0.9, Action: answer("conviction")},
		[]string{"NVDA"}, "horizon_days", nil)
	if out.Mode != "NOOP" {
		t.Fatalf("mode = %q, want NOOP for answer to the wrong field", out.Mode)
	}

	// No pending field, but the field is among the draft's missing fields.
	out = gateInterpretation(InterpretResult{Mode: "EXECUTE", Confidence: 0.9, Action: answer("conviction")},
		[]string{"NVDA"}, "", []string{"conviction", "entry_thesis"})
	if out.Mode != "EXECUTE" {
		t.Fatalf("missing-field answer rejected: mode = %q", out.Mode)
	}

	// No pending field and no missing-field list: ANSWER_FIELD is refused.
	out = gateInterpretation(InterpretResult{Mode: "EXECUTE", Confidence: 0.9, Action: answer("conviction")},
		[]string{"NVDA"}, "", nil)
	if out.Mode != "NOOP" {
		t.Fatalf("mode = %q, want NOOP", out.Mode)
	}
}

func TestGateClarifyFiltersBadChoices(t *testing.T) {
	good := func(ticker string) *Action { return &Action{Type: "SET_CONTEXT", Ticker: strptr(ticker)} }
	out := gateInterpretation(InterpretResult{
		Mode:       "CLARIFY",
		Confidence: 0.7,
		Clarify: &Clarify{
			Question: "Which ticker?",
			Choices: []ClarifyChoice{
				{Label: "NVDA", Action: good("NVDA")},
				{Label: "AAPL", Action: good("AAPL")},
				{Label: "TSLA", Action: good("TSLA")},
			},
		},
	}, []string{"NVDA", "AAPL"}, "", nil)
	if out.Mode != "CLARIFY" {
		t.Fatalf("mode = %q, want CLARIFY", out.Mode)
	}
	if len(out.Clarify.Choices) != 2 {
		t.Fatalf("choices = %d, want 2 after filtering", len(out.Clarify.Choices))
	}

	// Fewer than two surviving choices collapses to NOOP.
	out = gateInterpretation(InterpretResult{
		Mode:       "CLARIFY",
		Confidence: 0.7,
		Clarify: &Clarify{
			Question: "Which ticker?",
			Choices: []ClarifyChoice{
				{Label: "NVDA", Action: good("NVDA")},
				{Label: "TSLA", Action: good("TSLA")},
			},
		},
	}, []string{"NVDA"}, "", nil)
	if out.Mode != "NOOP" {
		t.Fatalf("mode = %q, want NOOP", out.Mode)
	}
}
