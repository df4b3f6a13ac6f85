package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/seamline-io/conveyor/cli/render"
	"github.com/seamline-io/conveyor/cli/tui"
	"github.com/seamline-io/conveyor/trend"
)

// trendWindowDays is the trailing window for trend summaries.
const trendWindowDays = 7

// TrendSummary supplements the stats output when a trend store is configured.
type TrendSummary struct {
	Daily  []trend.DailyCount `json:"daily"`
	Themes []trend.ThemeCount `json:"themes"`
}

// Table renders the trailing trend window.
func (t TrendSummary) Table(w io.Writer) {
	if len(t.Daily) > 0 {
		fmt.Fprintln(w, "DAY\tADMITTED")
		for _, d := range t.Daily {
			fmt.Fprintf(w, "%s\t%d\n", d.Day, d.Count)
		}
	}
	if len(t.Themes) > 0 {
		fmt.Fprintln(w, "THEME\tADMITTED")
		for _, th := range t.Themes {
			fmt.Fprintf(w, "%s\t%d\n", th.Theme, th.Count)
		}
	}
}

// StatsCommand returns the stats command: aggregated counts across every
// recorded run date. Read-only.
func StatsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show aggregated statistics across run dates",
		Flags: append(ReadOnlyFlags(),
			&cli.BoolFlag{
				Name:  "dates",
				Usage: "List per-date attempt counts instead of totals",
			},
		),
		Action: statsAction,
	}
}

func statsAction(c *cli.Context) error {
	e, err := buildReadEnv(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("setup failed: %v", err), exitInvalidInput)
	}
	defer e.Close()

	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}

	if c.Bool("dates") {
		if c.Bool("tui") {
			return cli.Exit("--tui is not supported with --dates", exitInvalidInput)
		}
		dates, err := e.reader.Dates(c.Context)
		if err != nil {
			return cli.Exit(err.Error(), exitInvalidInput)
		}
		return r.Render(dates)
	}

	resp, err := e.reader.Stats(c.Context)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}

	if c.Bool("tui") {
		return r.RenderTUI(tui.ViewStats, resp)
	}
	if err := r.Render(resp); err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}
	renderTrends(c, e, r)
	return nil
}

// renderTrends appends a trend summary when a trend store is configured.
// Trend reads are best effort; failures never fail the stats command.
func renderTrends(c *cli.Context, e *env, r *render.Renderer) {
	if e.cfg.Trends.DSN == "" {
		return
	}
	trends, err := trend.Open(e.cfg.Trends.DSN)
	if err != nil || !trends.Enabled() {
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: trend store unavailable: %v\n", err)
		}
		return
	}
	defer trends.Close()

	daily, err := trends.DailyCounts(c.Context, trendWindowDays)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: trend query failed: %v\n", err)
		return
	}
	themes, err := trends.TopThemes(c.Context, trendWindowDays, 5)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: trend query failed: %v\n", err)
		return
	}
	if len(daily) == 0 && len(themes) == 0 {
		return
	}
	if err := r.Render(TrendSummary{Daily: daily, Themes: themes}); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: trend render failed: %v\n", err)
	}
}
