package merge

import (
	"reflect"
	"testing"
)

func TestDeepMergesNestedObjects(t *testing.T) {
	base := map[string]any{
		"constraints": map[string]any{
			"adv_cap_binding":   false,
			"gross_cap_binding": false,
		},
		"rationale": "initial",
	}
	patch := map[string]any{
		"constraints": map[string]any{
			"adv_cap_binding": true,
			"net_cap_binding": false,
		},
	}

	got := Deep(base, patch)

	want := map[string]any{
		"constraints": map[string]any{
			"adv_cap_binding":   true,
			"gross_cap_binding": false,
			"net_cap_binding":   false,
		},
		"rationale": "initial",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("merge mismatch:\n got %#v\nwant %#v", got, want)
	}
}

func TestDeepReplacesListsWholesale(t *testing.T) {
	base := map[string]any{"key_drivers": []any{"a"}}
	patch := map[string]any{"key_drivers": []any{"b", "c"}}

	got := Deep(base, patch)

	drivers, ok := got["key_drivers"].([]any)
	if !ok {
		t.Fatalf("expected list, got %T", got["key_drivers"])
	}
	if !reflect.DeepEqual(drivers, []any{"b", "c"}) {
		t.Fatalf("expected lists to be replaced, got %#v", drivers)
	}
}

func TestDeepNilPatchValueKeepsBase(t *testing.T) {
	base := map[string]any{"conviction": float64(60)}
	patch := map[string]any{"conviction": nil}

	got := Deep(base, patch)

	if got["conviction"] != float64(60) {
		t.Fatalf("nil patch value overwrote base: %#v", got["conviction"])
	}
}

func TestDeepDoesNotMutateInputs(t *testing.T) {
	base := map[string]any{"nested": map[string]any{"a": "x"}}
	patch := map[string]any{"nested": map[string]any{"b": "y"}}

	_ = Deep(base, patch)

	nested := base["nested"].(map[string]any)
	if _, leaked := nested["b"]; leaked {
		t.Fatal("merge mutated base map")
	}
}

func TestDeepScalarReplacesObject(t *testing.T) {
	base := map[string]any{"note": map[string]any{"draft": true}}
	patch := map[string]any{"note": "final text"}

	got := Deep(base, patch)

	if got["note"] != "final text" {
		t.Fatalf("scalar patch should replace object, got %#v", got["note"])
	}
}
