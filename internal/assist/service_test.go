package assist

import (
	"context"
	"testing"
)

func TestSummarizeEventWithoutClientUsesFallback(t *testing.T) {
	svc := NewService("", "gpt-4.1", 0.2, "test")
	if svc.Enabled() {
		t.Fatal("service without API key reports enabled")
	}
	out := svc.SummarizeEvent(context.Background(), "RISK_NOTE", map[string]any{
		"risk_type": "EARNINGS",
		"note":      "Print on 2026-02-12, guide matters more than the quarter",
	})
	if out.Headline != "RISK_NOTE EARNINGS" {
		t.Fatalf("headline = %q", out.Headline)
	}
	if len(out.Bullets) != 1 {
		t.Fatalf("bullets = %v", out.Bullets)
	}
}

func TestMissingFieldPromptsWithoutClient(t *testing.T) {
	svc := NewService("", "gpt-4.1", 0.2, "test")
	prompts := svc.MissingFieldPrompts(context.Background(), "INITIATE", []string{"direction", "horizon_days"})
	if len(prompts) != 2 {
		t.Fatalf("prompts = %v", prompts)
	}
	if prompts[0].Field != "direction" || prompts[0].Prompt != "Provide INITIATE.direction" {
		t.Fatalf("first prompt = %+v", prompts[0])
	}
	if prompts[1].Prompt != "Provide INITIATE.horizon_days" {
		t.Fatalf("second prompt = %+v", prompts[1])
	}
}

func TestCoachWithoutClientIsEmpty(t *testing.T) {
	svc := NewService("", "gpt-4.1", 0.2, "test")
	out := svc.Coach(context.Background(), "RESIZE", map[string]any{"from_pct": 2.0, "to_pct": 1.0})
	if len(out.Questions) != 0 || len(out.Checks) != 0 || len(out.Warnings) != 0 {
		t.Fatalf("coach output = %+v, want empty lists", out)
	}
	if out.Questions == nil || out.Checks == nil || out.Warnings == nil {
		t.Fatal("coach lists must be non-nil for JSON encoding")
	}
}

func TestNarrativeWithoutClientIsEmpty(t *testing.T) {
	svc := NewService("", "gpt-4.1", 0.2, "test")
	if got := svc.Narrative(context.Background(), "NVDA", map[string]any{"direction": "LONG"}); got != "" {
		t.Fatalf("narrative = %q, want empty", got)
	}
}
