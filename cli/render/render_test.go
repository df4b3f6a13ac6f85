package render

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/seamline-io/conveyor/cli/reader"
	"github.com/seamline-io/conveyor/types"
)

func TestParseFormat(t *testing.T) {
	for _, in := range []string{"json", "JSON", "table", "Table", "yaml"} {
		if _, err := ParseFormat(in); err != nil {
			t.Errorf("ParseFormat(%q) = %v, want nil", in, err)
		}
	}
	if f, err := ParseFormat(""); err != nil || f != "" {
		t.Errorf("ParseFormat(\"\") = %v, %v; want empty and nil", f, err)
	}
	_, err := ParseFormat("csv")
	if err == nil {
		t.Fatal("expected error for unsupported format")
	}
	if !strings.Contains(err.Error(), "json, table, or yaml") {
		t.Errorf("error should list the valid formats, got: %v", err)
	}
}

func sampleReport() types.RunReport {
	return types.RunReport{
		Status:    types.RunSucceeded,
		AttemptID: 2,
		Replayed:  true,
		ArtifactRefs: []types.ArtifactRef{
			"mem://date=2026-03-14/stage=select/selection.json",
		},
	}
}

func TestRender_JSON_RunReport(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatJSON, false, &buf)

	if err := r.Render(sampleReport()); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	got := buf.String()
	for _, want := range []string{`"status": "succeeded"`, `"attempt_id": 2`, `"replayed": true`, "selection.json"} {
		if !strings.Contains(got, want) {
			t.Errorf("JSON output missing %q:\n%s", want, got)
		}
	}
}

func TestRender_YAML_RunReport(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatYAML, false, &buf)

	if err := r.Render(sampleReport()); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	got := buf.String()
	if !strings.Contains(got, "status: succeeded") || !strings.Contains(got, "replayed: true") {
		t.Errorf("YAML output missing expected fields:\n%s", got)
	}
}

func TestRender_Table_RunReport(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatTable, false, &buf)

	if err := r.Render(sampleReport()); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	got := buf.String()
	for _, want := range []string{"status:", "succeeded", "replayed:", "artifact:", "selection.json"} {
		if !strings.Contains(got, want) {
			t.Errorf("table output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "cause:") {
		t.Errorf("empty cause should be omitted:\n%s", got)
	}
}

func TestRender_Table_Status(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatTable, false, &buf)

	resp := &reader.StatusResponse{
		RunDate: "2026-03-14",
		Stages: []reader.StageStatus{
			{Stage: "ingest", State: "succeeded", Attempt: 1, Attempts: 1, StartedAt: time.Now()},
			{Stage: "generate", State: "failed", Attempt: 2, Attempts: 2, Paid: true, Cause: "renderer timeout"},
		},
		Audits:   1,
		Findings: 3,
	}
	if err := r.Render(resp); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	got := buf.String()
	for _, want := range []string{"2026-03-14", "STAGE", "ingest", "1/1", "2/2", "renderer timeout", "yes"} {
		if !strings.Contains(got, want) {
			t.Errorf("status table missing %q:\n%s", want, got)
		}
	}
}

func TestRender_Table_AttemptsEmpty(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatTable, false, &buf)

	if err := r.Render([]reader.AttemptItem{}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(buf.String(), "(no attempts recorded)") {
		t.Errorf("empty attempt history should say so, got:\n%s", buf.String())
	}
}

func TestRender_Table_Dates(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatTable, false, &buf)

	dates := []reader.DateItem{
		{RunDate: "2026-03-13", Attempts: 4, Succeeded: 3, Failed: 1},
		{RunDate: "2026-03-14", Attempts: 2, Succeeded: 2},
	}
	if err := r.Render(dates); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	got := buf.String()
	if !strings.Contains(got, "DATE") || !strings.Contains(got, "2026-03-13") || !strings.Contains(got, "2026-03-14") {
		t.Errorf("dates table missing rows:\n%s", got)
	}
}

func TestRender_Table_StatsSortsKinds(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatTable, false, &buf)

	resp := &reader.StatsResponse{
		Dates:    2,
		Attempts: 7,
		FindingsByKind: map[string]int{
			"stale_item":       1,
			"missing_artifact": 2,
			"orphan_artifact":  1,
		},
	}
	if err := r.Render(resp); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	got := buf.String()
	missing := strings.Index(got, "findings[missing_artifact]")
	orphan := strings.Index(got, "findings[orphan_artifact]")
	stale := strings.Index(got, "findings[stale_item]")
	if missing < 0 || orphan < 0 || stale < 0 {
		t.Fatalf("stats table missing finding rows:\n%s", got)
	}
	if !(missing < orphan && orphan < stale) {
		t.Errorf("finding kinds should be sorted:\n%s", got)
	}
}

type receipt struct {
	Token string
}

func (rc receipt) Table(w io.Writer) {
	fmt.Fprintf(w, "token:\t%s\n", rc.Token)
}

func TestRender_Table_TabularHook(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatTable, false, &buf)

	if err := r.Render(receipt{Token: "rcpt-7f3a"}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(buf.String(), "rcpt-7f3a") {
		t.Errorf("Tabular layout not used:\n%s", buf.String())
	}
}

func TestRender_Table_UnknownShapeErrors(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatTable, false, &buf)

	err := r.Render(map[string]int{"x": 1})
	if err == nil {
		t.Fatal("expected error for a shape without a table layout")
	}
	if !strings.Contains(err.Error(), "--format json") {
		t.Errorf("error should point at --format json, got: %v", err)
	}
}

func TestRender_NoColor_DoesNotAffectJSON(t *testing.T) {
	var plain, noColor bytes.Buffer
	if err := NewRendererWithWriter(FormatJSON, false, &plain).Render(sampleReport()); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if err := NewRendererWithWriter(FormatJSON, true, &noColor).Render(sampleReport()); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if plain.String() != noColor.String() {
		t.Error("--no-color should not change JSON output")
	}
}
