package cmd

import (
	"fmt"
	"io"

	"github.com/urfave/cli/v2"

	"github.com/seamline-io/conveyor/cli/render"
)

// AckResponse is the ack command's rendered result.
type AckResponse struct {
	RunDate string `json:"run_date"`
	Stage   string `json:"stage"`
	Attempt int    `json:"attempt"`
	Token   string `json:"token"`
}

// Table renders the acknowledgment receipt.
func (a AckResponse) Table(w io.Writer) {
	fmt.Fprintf(w, "run date:\t%s\n", a.RunDate)
	fmt.Fprintf(w, "stage:\t%s\n", a.Stage)
	fmt.Fprintf(w, "attempt:\t%d\n", a.Attempt)
	fmt.Fprintf(w, "token:\t%s\n", a.Token)
}

// AckCommand returns the ack command. It records an external delivery
// acknowledgment on the newest succeeded paid generate attempt; until the
// acknowledgment lands, the paid report counts as not delivered.
func AckCommand() *cli.Command {
	return &cli.Command{
		Name:  "ack",
		Usage: "Record a delivery acknowledgment for a paid report",
		Flags: []cli.Flag{
			ConfigFlag,
			DataFlag,
			FormatFlag,
			NoColorFlag,
			DateFlag,
			&cli.StringFlag{
				Name:     "token",
				Usage:    "Acknowledgment token from the delivery channel",
				Required: true,
			},
		},
		Action: ackAction,
	}
}

func ackAction(c *cli.Context) error {
	date, err := runDate(c)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}

	e, err := buildEnv(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("setup failed: %v", err), exitInvalidInput)
	}
	defer e.Close()

	rec, err := e.coord.AcknowledgeDelivery(c.Context, date, c.String("token"))
	if err != nil {
		return cli.Exit(err.Error(), exitStageFailed)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}
	return r.Render(AckResponse{
		RunDate: string(rec.RunDate),
		Stage:   string(rec.Stage),
		Attempt: rec.AttemptID,
		Token:   c.String("token"),
	})
}
