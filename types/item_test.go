package types

import "testing"

func TestDedupKeyFor_CanonicalizesURL(t *testing.T) {
	base := DedupKeyFor("https://example.com/post", "Hello World")

	variants := []struct {
		name  string
		url   string
		title string
	}{
		{"trailing slash", "https://example.com/post/", "Hello World"},
		{"host case", "https://EXAMPLE.com/post", "Hello World"},
		{"fragment", "https://example.com/post#section", "Hello World"},
		{"utm noise", "https://example.com/post?utm_source=tw&utm_medium=x", "Hello World"},
		{"title whitespace", "https://example.com/post", "  hello   WORLD "},
	}

	for _, tc := range variants {
		t.Run(tc.name, func(t *testing.T) {
			if got := DedupKeyFor(tc.url, tc.title); got != base {
				t.Errorf("expected same key as base, got %s", got)
			}
		})
	}
}

func TestDedupKeyFor_DistinctContent(t *testing.T) {
	a := DedupKeyFor("https://example.com/a", "Hello")
	b := DedupKeyFor("https://example.com/b", "Hello")
	if a == b {
		t.Error("different URLs must produce different keys")
	}

	c := DedupKeyFor("https://example.com/a", "Goodbye")
	if a == c {
		t.Error("different titles must produce different keys")
	}
}

func TestDedupKeyFor_KeepsMeaningfulQuery(t *testing.T) {
	a := DedupKeyFor("https://example.com/view?id=1", "t")
	b := DedupKeyFor("https://example.com/view?id=2", "t")
	if a == b {
		t.Error("non-tracking query params must stay significant")
	}
}

func TestScoresMean(t *testing.T) {
	s := Scores{MetricRelevance: 9, MetricAsymmetry: 6, MetricPotential: 3}
	if got := s.Mean(RequiredMetrics); got != 6 {
		t.Errorf("mean = %v, want 6", got)
	}

	// Missing metrics count as zero.
	partial := Scores{MetricRelevance: 9}
	if got := partial.Mean(RequiredMetrics); got != 3 {
		t.Errorf("partial mean = %v, want 3", got)
	}

	if got := (Scores{}).Mean(nil); got != 0 {
		t.Errorf("empty mean = %v, want 0", got)
	}
}

func TestParseStage(t *testing.T) {
	for _, s := range Stages {
		if _, err := ParseStage(string(s)); err != nil {
			t.Errorf("ParseStage(%q): %v", s, err)
		}
	}
	if _, err := ParseStage("publish"); err == nil {
		t.Error("expected error for unknown stage")
	}
}

func TestParseRunDate(t *testing.T) {
	d, err := ParseRunDate("2026-08-27")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !d.Valid() {
		t.Error("parsed date should be valid")
	}
	if _, err := ParseRunDate("20260827"); err == nil {
		t.Error("expected error for compact date format")
	}
}

func TestRunRecordValidate(t *testing.T) {
	rec := &RunRecord{RunDate: "2026-08-27", Stage: StageIngest, AttemptID: 1, State: StateRunning}
	if err := rec.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	bad := *rec
	bad.AttemptID = 0
	if err := bad.Validate(); err == nil {
		t.Error("expected error for attempt id 0")
	}

	bad = *rec
	bad.State = "done"
	if err := bad.Validate(); err == nil {
		t.Error("expected error for unknown state")
	}
}
