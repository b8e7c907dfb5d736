package assist

import (
	"reflect"
	"testing"
)

func TestContainsForbiddenTextScansNestedValues(t *testing.T) {
	value := map[string]any{
		"headline": "INITIATE LONG",
		"bullets": []any{
			"Horizon days: 90",
			map[string]any{"note": "we expect earnings to improve"},
		},
	}
	if !ContainsForbiddenText(value) {
		t.Fatal("expected nested forbidden phrase to be detected")
	}
}

func TestContainsForbiddenTextIsCaseInsensitive(t *testing.T) {
	if !ContainsForbiddenText("You SHOULD reduce here") {
		t.Fatal("expected case-insensitive match")
	}
	if !ContainsForbiddenText([]string{"clean", "Strong Buy setup"}) {
		t.Fatal("expected match inside string slice")
	}
}

func TestContainsForbiddenTextPassesNeutralText(t *testing.T) {
	value := map[string]any{
		"headline": "THESIS_UPDATE VALUATION",
		"bullets":  []any{"Multiple compressed to 12x", "Conviction: 60"},
		"tags":     []string{"valuation"},
		"count":    float64(2),
	}
	if ContainsForbiddenText(value) {
		t.Fatal("neutral restatement flagged as forbidden")
	}
}

func TestDeterministicFallbackInitiate(t *testing.T) {
	out := DeterministicEventFallback("INITIATE", map[string]any{
		"direction":           "LONG",
		"horizon_days":        float64(90),
		"conviction":          float64(70),
		"position_intent_pct": 2.5,
	})
	if out.Headline != "INITIATE LONG" {
		t.Fatalf("headline = %q", out.Headline)
	}
	want := []string{"Horizon days: 90", "Conviction: 70", "Position intent %: 2.5"}
	if !reflect.DeepEqual(out.Bullets, want) {
		t.Fatalf("bullets = %v, want %v", out.Bullets, want)
	}
	if len(out.Tags) != 0 || out.Tags == nil {
		t.Fatalf("tags = %v, want empty non-nil", out.Tags)
	}
}

func TestDeterministicFallbackSkipsMissingFields(t *testing.T) {
	out := DeterministicEventFallback("RESIZE", map[string]any{
		"to_pct": 1.0,
	})
	if out.Headline != "RESIZE" {
		t.Fatalf("headline = %q", out.Headline)
	}
	want := []string{"To: 1%"}
	if !reflect.DeepEqual(out.Bullets, want) {
		t.Fatalf("bullets = %v, want %v", out.Bullets, want)
	}
}

func TestDeterministicFallbackTruncatesLongText(t *testing.T) {
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'x'
	}
	out := DeterministicEventFallback("TICKER_RULE", map[string]any{
		"rule_text": string(long),
	})
	if out.Headline != "TICKER_RULE" {
		t.Fatalf("headline = %q", out.Headline)
	}
	if len(out.Bullets) != 1 || len(out.Bullets[0]) != 120 {
		t.Fatalf("expected single 120-char bullet, got %d bullets", len(out.Bullets))
	}
}

func TestDeterministicFallbackUnknownTypeKeepsTag(t *testing.T) {
	out := DeterministicEventFallback("SOMETHING_ELSE", map[string]any{})
	if out.Headline != "SOMETHING_ELSE" {
		t.Fatalf("headline = %q", out.Headline)
	}
	if len(out.Bullets) != 0 {
		t.Fatalf("bullets = %v, want none", out.Bullets)
	}
}
