package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/seamline-io/conveyor/cli/render"
	"github.com/seamline-io/conveyor/cli/tui"
)

// StatusCommand returns the status command: the newest attempt per stage for
// one run date, plus its audit history. Read-only.
func StatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show pipeline status for a run date",
		Flags: append(ReadOnlyFlags(), DateFlag,
			&cli.StringFlag{
				Name:  "stage",
				Usage: "Show attempt history for one stage instead",
			},
		),
		Action: statusAction,
	}
}

func statusAction(c *cli.Context) error {
	date, err := runDate(c)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}

	e, err := buildReadEnv(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("setup failed: %v", err), exitInvalidInput)
	}
	defer e.Close()

	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}

	// --stage switches to the full attempt history for that stage.
	if stage := c.String("stage"); stage != "" {
		if c.Bool("tui") {
			return cli.Exit("--tui is not supported with --stage", exitInvalidInput)
		}
		attempts, err := e.reader.Attempts(c.Context, date, stage)
		if err != nil {
			return cli.Exit(err.Error(), exitInvalidInput)
		}
		return r.Render(attempts)
	}

	resp, err := e.reader.Status(c.Context, date)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}

	if c.Bool("tui") {
		return r.RenderTUI(tui.ViewStatus, resp)
	}
	return r.Render(resp)
}
