package export

import (
	"strings"
	"testing"
	"time"

	"pmdos/api/internal/compiler"
)

func sampleReport() ReportData {
	pct := 4.0
	return ReportData{
		CaseName:   "Margin inflection",
		Ticker:     "ACME",
		AsOf:       time.Date(2026, 3, 28, 16, 0, 0, 0, time.UTC),
		CreatedBy:  "Jordan",
		CommitHash: "abc1234",
		State: compiler.State{
			Ticker:               "ACME",
			Direction:            "LONG",
			HorizonDays:          90,
			EntryThesis:          "Margin inflection under-modeled by the street.",
			Conviction:           80,
			KeyDrivers:           []string{"gross margin", "backlog"},
			KeyRisks:             []string{"fx"},
			InvalidationTriggers: []string{"backlog decline"},
			PositionIntentPct:    &pct,
			OpenRisks: []compiler.RiskEntry{
				{RiskType: "CROWDING", Severity: "MED", Note: "positioning stretched", Action: "MONITOR", DueBy: "2026-04-01"},
			},
			Updates: []compiler.UpdateEntry{
				{WhatChanged: "earnings", Summary: "Guide raised.", ConvictionDelta: 10, Confidence: 0.7, EventTS: "2026-03-05T10:00:00Z"},
			},
		},
	}
}

func TestRenderReportHTML(t *testing.T) {
	html, err := RenderReportHTML(sampleReport())
	if err != nil {
		t.Fatalf("RenderReportHTML() error = %v", err)
	}

	for _, want := range []string{
		"ACME",
		"Margin inflection",
		"LONG",
		"gross margin",
		"positioning stretched",
		"Guide raised.",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("rendered report missing %q", want)
		}
	}
}

func TestRenderReportHTMLEscapesPayloadText(t *testing.T) {
	data := sampleReport()
	data.State.EntryThesis = `<script>alert("x")</script>`
	html, err := RenderReportHTML(data)
	if err != nil {
		t.Fatalf("RenderReportHTML() error = %v", err)
	}
	if strings.Contains(html, "<script>") {
		t.Fatal("payload text not escaped")
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"ACME thesis 2026-03-28", "ACME-thesis-2026-03-28"},
		{"!!!", "thesis"},
		{"a b/c", "a-bc"},
	}
	for _, tc := range cases {
		if got := sanitizeFilename(tc.in); got != tc.want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	got := percentEncodeForDataURL("a b+c")
	if got != "a%20b%2Bc" {
		t.Errorf("percentEncodeForDataURL() = %q", got)
	}
}
