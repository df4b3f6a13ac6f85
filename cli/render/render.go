// Package render provides output rendering for the conveyor CLI.
//
// Format selection rules:
//   - If output is a TTY, default to table
//   - If output is not a TTY, default to json
//   - --format flag always overrides defaults
//   - Invalid formats are errors
//
// json and yaml encode the response shapes as-is. table knows the conveyor
// response shapes and lays each one out by hand; a shape the table mode does
// not know is an error, not a reflective dump.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/seamline-io/conveyor/cli/reader"
	"github.com/seamline-io/conveyor/cli/tui"
	"github.com/seamline-io/conveyor/types"
)

// Format represents an output format.
type Format string

// Supported formats.
const (
	FormatJSON  Format = "json"
	FormatTable Format = "table"
	FormatYAML  Format = "yaml"
)

// ParseFormat parses a format string, returning an error for invalid formats.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON, nil
	case "table":
		return FormatTable, nil
	case "yaml":
		return FormatYAML, nil
	case "":
		return "", nil // Let caller decide default
	default:
		return "", fmt.Errorf("invalid format: %q (must be json, table, or yaml)", s)
	}
}

// Tabular is implemented by response types that carry their own table
// layout. Rows are tab-separated; the renderer owns column alignment.
type Tabular interface {
	Table(w io.Writer)
}

// Renderer handles output formatting.
type Renderer struct {
	format  Format
	noColor bool
	out     io.Writer
}

// NewRenderer creates a renderer from CLI context.
// Applies format selection rules.
func NewRenderer(c *cli.Context) (*Renderer, error) {
	format, err := ParseFormat(c.String("format"))
	if err != nil {
		return nil, err
	}
	if format == "" {
		if isTTY(os.Stdout) {
			format = FormatTable
		} else {
			format = FormatJSON
		}
	}
	return &Renderer{
		format:  format,
		noColor: c.Bool("no-color"),
		out:     os.Stdout,
	}, nil
}

// NewRendererWithWriter creates a renderer with a custom writer (for testing).
func NewRendererWithWriter(format Format, noColor bool, out io.Writer) *Renderer {
	return &Renderer{
		format:  format,
		noColor: noColor,
		out:     out,
	}
}

// Render outputs the data in the configured format.
func (r *Renderer) Render(data any) error {
	switch r.format {
	case FormatJSON:
		enc := json.NewEncoder(r.out)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case FormatYAML:
		enc := yaml.NewEncoder(r.out)
		enc.SetIndent(2)
		return enc.Encode(data)
	case FormatTable:
		return r.renderTable(data)
	default:
		return fmt.Errorf("unknown format: %s", r.format)
	}
}

// RenderTUI initiates TUI mode for the given view type.
// TUI is opt-in only and read-only.
func (r *Renderer) RenderTUI(viewType string, data any) error {
	if !tui.IsTUISupported(viewType) {
		return fmt.Errorf("--tui is not supported for %s", viewType)
	}
	return tui.Run(viewType, data)
}

func (r *Renderer) renderTable(data any) error {
	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	switch v := data.(type) {
	case types.RunReport:
		runReportTable(w, v)
	case *reader.StatusResponse:
		statusTable(w, v)
	case []reader.AttemptItem:
		attemptsTable(w, v)
	case []reader.DateItem:
		datesTable(w, v)
	case *reader.StatsResponse:
		statsTable(w, v)
	case Tabular:
		v.Table(w)
	default:
		return fmt.Errorf("no table layout for %T, use --format json or yaml", data)
	}
	return w.Flush()
}

func runReportTable(w io.Writer, rep types.RunReport) {
	fmt.Fprintf(w, "status:\t%s\n", rep.Status)
	if rep.AttemptID > 0 {
		fmt.Fprintf(w, "attempt:\t%d\n", rep.AttemptID)
	}
	if rep.Replayed {
		fmt.Fprintln(w, "replayed:\ttrue")
	}
	if rep.Cause != "" {
		fmt.Fprintf(w, "cause:\t%s\n", rep.Cause)
	}
	for _, ref := range rep.ArtifactRefs {
		fmt.Fprintf(w, "artifact:\t%s\n", ref)
	}
}

func statusTable(w io.Writer, s *reader.StatusResponse) {
	fmt.Fprintf(w, "run date:\t%s\n", s.RunDate)
	if len(s.Stages) == 0 {
		fmt.Fprintln(w, "(no attempts recorded)")
	} else {
		fmt.Fprintln(w, "\nSTAGE\tSTATE\tATTEMPT\tMODE\tPAID\tCAUSE")
		for _, st := range s.Stages {
			fmt.Fprintf(w, "%s\t%s\t%d/%d\t%s\t%s\t%s\n",
				st.Stage, st.State, st.Attempt, st.Attempts,
				st.Mode, yesNo(st.Paid), st.Cause)
		}
	}
	fmt.Fprintf(w, "\naudits:\t%d\n", s.Audits)
	fmt.Fprintf(w, "findings:\t%d\n", s.Findings)
}

func attemptsTable(w io.Writer, attempts []reader.AttemptItem) {
	if len(attempts) == 0 {
		fmt.Fprintln(w, "(no attempts recorded)")
		return
	}
	fmt.Fprintln(w, "ATTEMPT\tSTATE\tMODE\tPAID\tSUPERSEDED\tCAUSE")
	for _, a := range attempts {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			a.Attempt, a.State, a.Mode, yesNo(a.Paid), yesNo(a.Superseded), a.Cause)
	}
}

func datesTable(w io.Writer, dates []reader.DateItem) {
	if len(dates) == 0 {
		fmt.Fprintln(w, "(no run dates recorded)")
		return
	}
	fmt.Fprintln(w, "DATE\tATTEMPTS\tSUCCEEDED\tFAILED\tRUNNING")
	for _, d := range dates {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\n",
			d.RunDate, d.Attempts, d.Succeeded, d.Failed, d.Running)
	}
}

func statsTable(w io.Writer, s *reader.StatsResponse) {
	fmt.Fprintf(w, "dates:\t%d\n", s.Dates)
	fmt.Fprintf(w, "attempts:\t%d\n", s.Attempts)
	fmt.Fprintf(w, "succeeded:\t%d\n", s.Succeeded)
	fmt.Fprintf(w, "failed:\t%d\n", s.Failed)
	fmt.Fprintf(w, "running:\t%d\n", s.Running)
	fmt.Fprintf(w, "superseded:\t%d\n", s.Superseded)
	fmt.Fprintf(w, "items:\t%d total, %d admitted, %d rejected\n",
		s.ItemsTotal, s.ItemsAdmitted, s.ItemsRejected)
	for _, stage := range sortedKeys(s.AttemptsPerStage) {
		fmt.Fprintf(w, "attempts[%s]:\t%d\n", stage, s.AttemptsPerStage[stage])
	}
	for _, kind := range sortedKeys(s.FindingsByKind) {
		fmt.Fprintf(w, "findings[%s]:\t%d\n", kind, s.FindingsByKind[kind])
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "-"
}

// isTTY returns true if the writer is a TTY.
func isTTY(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
