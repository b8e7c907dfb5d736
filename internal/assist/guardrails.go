// Package assist provides the non-authoritative LLM layer: event summaries,
// missing-field prompts, coaching questions, and free-text interpretation.
// Nothing in this package writes to the journal. Every model output is scanned
// for recommendation language and replaced with a deterministic rendering of
// the payload when it trips the scan.
package assist

import "strings"

// forbiddenSubstrings are phrases that turn a neutral restatement into advice
// or a prediction. Matching is case-insensitive substring.
var forbiddenSubstrings = []string{
	"you should",
	"recommend",
	"buy",
	"sell",
	"go long",
	"go short",
	"likely",
	"expect",
	"forecast",
	"outperform",
	"underperform",
}

// ContainsForbiddenText walks strings, lists, and objects recursively and
// reports whether any string value contains a forbidden phrase.
func ContainsForbiddenText(value any) bool {
	switch v := value.(type) {
	case string:
		lowered := strings.ToLower(v)
		for _, phrase := range forbiddenSubstrings {
			if strings.Contains(lowered, phrase) {
				return true
			}
		}
		return false
	case []string:
		for _, item := range v {
			if ContainsForbiddenText(item) {
				return true
			}
		}
		return false
	case []any:
		for _, item := range v {
			if ContainsForbiddenText(item) {
				return true
			}
		}
		return false
	case map[string]any:
		for _, item := range v {
			if ContainsForbiddenText(item) {
				return true
			}
		}
		return false
	default:
		return false
	}
}
