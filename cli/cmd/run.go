package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/seamline-io/conveyor/adapter"
	"github.com/seamline-io/conveyor/cli/render"
	"github.com/seamline-io/conveyor/types"
)

// Exit codes for the run command.
const (
	exitSuccess      = 0
	exitStageFailed  = 1
	exitBusy         = 2
	exitInvalidInput = 3
)

// RunCommand returns the run command: the only mutating entrypoint apart
// from ack.
func RunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Execute one pipeline stage for a run date",
		Flags: []cli.Flag{
			ConfigFlag,
			DataFlag,
			FormatFlag,
			NoColorFlag,
			DateFlag,
			&cli.StringFlag{
				Name:     "stage",
				Aliases:  []string{"s"},
				Usage:    "Stage to run: ingest, select, generate, audit",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "mode",
				Usage: "Analysis mode for select: lite or full",
			},
			&cli.StringFlag{
				Name:  "theme",
				Usage: "Scan theme override for ingest",
			},
			&cli.StringFlag{
				Name:  "topic",
				Usage: "Topic override for paid generate",
			},
			&cli.BoolFlag{
				Name:  "paid",
				Usage: "Run the paid-report variant of generate",
			},
			&cli.BoolFlag{
				Name:  "force",
				Usage: "Re-run even when a succeeded record exists",
			},
			&cli.BoolFlag{
				Name:  "quiet",
				Usage: "Suppress report output",
			},
		},
		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	stage, err := types.ParseStage(c.String("stage"))
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}
	date, err := runDate(c)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}

	e, err := buildEnv(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("setup failed: %v", err), exitInvalidInput)
	}
	defer e.Close()

	// SIGINT/SIGTERM cancel the run; the coordinator still records the
	// failed transition before exiting.
	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		cancel()
	}()

	opts := types.RunOptions{
		ForceRerun: c.Bool("force"),
		Theme:      c.String("theme"),
		Topic:      c.String("topic"),
		Mode:       c.String("mode"),
		Paid:       c.Bool("paid"),
	}

	report, err := e.coord.Run(ctx, stage, date, opts)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}

	publishEvent(c.Context, e, stage, date, opts, report)

	if !c.Bool("quiet") {
		r, rerr := render.NewRenderer(c)
		if rerr != nil {
			return cli.Exit(rerr.Error(), exitInvalidInput)
		}
		if rerr := r.Render(report); rerr != nil {
			return cli.Exit(rerr.Error(), exitInvalidInput)
		}
	}

	return cli.Exit("", statusToExitCode(report.Status))
}

func statusToExitCode(status types.RunStatus) int {
	switch status {
	case types.RunSucceeded:
		return exitSuccess
	case types.RunFailed:
		return exitStageFailed
	case types.RunBusy:
		return exitBusy
	default:
		return exitStageFailed
	}
}

// runDate resolves --date, defaulting to today in UTC.
func runDate(c *cli.Context) (types.RunDate, error) {
	if s := c.String("date"); s != "" {
		return types.ParseRunDate(s)
	}
	return types.DateOf(time.Now().UTC()), nil
}

// publishEvent notifies the configured adapter of the terminal report.
// Publication failures never change the run's outcome.
func publishEvent(ctx context.Context, e *env, stage types.Stage, date types.RunDate, opts types.RunOptions, report types.RunReport) {
	if e.events == nil {
		return
	}
	refs := make([]string, 0, len(report.ArtifactRefs))
	for _, ref := range report.ArtifactRefs {
		refs = append(refs, string(ref))
	}
	event := &adapter.StageCompletedEvent{
		EventType:    "stage_completed",
		RunDate:      string(date),
		Stage:        string(stage),
		Attempt:      report.AttemptID,
		Status:       string(report.Status),
		Cause:        report.Cause,
		Paid:         opts.Paid,
		Replayed:     report.Replayed,
		ArtifactRefs: refs,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	}
	publishCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := e.events.Publish(publishCtx, event); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: event publish failed: %v\n", err)
	}
}
