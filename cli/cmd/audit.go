package cmd

import (
	"fmt"
	"io"

	"github.com/urfave/cli/v2"

	"github.com/seamline-io/conveyor/cli/render"
	"github.com/seamline-io/conveyor/types"
)

// AuditResponse is the audit command's rendered result.
type AuditResponse struct {
	RunDate  string                `json:"run_date"`
	Status   string                `json:"status"`
	Attempt  int                   `json:"attempt,omitempty"`
	Cause    string                `json:"cause,omitempty"`
	Findings []AuditFindingPayload `json:"findings"`
}

// AuditFindingPayload is one finding in the audit response.
type AuditFindingPayload struct {
	Stage  string `json:"stage,omitempty"`
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

// Table renders the audit outcome with one row per finding.
func (a AuditResponse) Table(w io.Writer) {
	fmt.Fprintf(w, "run date:\t%s\n", a.RunDate)
	fmt.Fprintf(w, "status:\t%s\n", a.Status)
	if a.Attempt > 0 {
		fmt.Fprintf(w, "attempt:\t%d\n", a.Attempt)
	}
	if a.Cause != "" {
		fmt.Fprintf(w, "cause:\t%s\n", a.Cause)
	}
	if len(a.Findings) == 0 {
		fmt.Fprintln(w, "findings:\tnone")
		return
	}
	fmt.Fprintln(w, "\nSTAGE\tKIND\tDETAIL")
	for _, f := range a.Findings {
		fmt.Fprintf(w, "%s\t%s\t%s\n", f.Stage, f.Kind, f.Detail)
	}
}

// AuditCommand returns the audit command. Every invocation reconciles the
// current state and appends a fresh immutable audit record; earlier records
// stay in the history untouched.
func AuditCommand() *cli.Command {
	return &cli.Command{
		Name:  "audit",
		Usage: "Reconcile the ledger against stored artifacts for a run date",
		Flags: []cli.Flag{
			ConfigFlag,
			DataFlag,
			FormatFlag,
			NoColorFlag,
			DateFlag,
		},
		Action: auditAction,
	}
}

func auditAction(c *cli.Context) error {
	date, err := runDate(c)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}

	e, err := buildEnv(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("setup failed: %v", err), exitInvalidInput)
	}
	defer e.Close()

	report, err := e.coord.Run(c.Context, types.StageAudit, date, types.RunOptions{})
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}

	resp := AuditResponse{
		RunDate: string(date),
		Status:  string(report.Status),
		Attempt: report.AttemptID,
		Cause:   report.Cause,
	}
	if report.Status == types.RunSucceeded {
		findings, ferr := e.reader.Findings(c.Context, date)
		if ferr != nil {
			return cli.Exit(ferr.Error(), exitInvalidInput)
		}
		resp.Findings = make([]AuditFindingPayload, 0, len(findings))
		for _, f := range findings {
			resp.Findings = append(resp.Findings, AuditFindingPayload{
				Stage:  f.Stage,
				Kind:   f.Kind,
				Detail: f.Detail,
			})
		}
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}
	if err := r.Render(resp); err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}

	return cli.Exit("", statusToExitCode(report.Status))
}
