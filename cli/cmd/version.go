package cmd

import (
	"fmt"
	"io"

	"github.com/urfave/cli/v2"

	"github.com/seamline-io/conveyor/cli/render"
	"github.com/seamline-io/conveyor/types"
)

// VersionResponse is the response for the version command.
type VersionResponse struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

// Table renders version information.
func (v VersionResponse) Table(w io.Writer) {
	fmt.Fprintf(w, "version:\t%s\n", v.Version)
	fmt.Fprintf(w, "commit:\t%s\n", v.Commit)
}

// VersionCommand returns the version command. It never touches storage.
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:   "version",
		Usage:  "Show version information",
		Flags:  ReadOnlyFlags(),
		Action: versionAction(commit),
	}
}

func versionAction(commit string) cli.ActionFunc {
	return func(c *cli.Context) error {
		r, err := render.NewRenderer(c)
		if err != nil {
			return err
		}

		if c.Bool("tui") {
			return cli.Exit("--tui is not supported for version command", exitStageFailed)
		}

		return r.Render(VersionResponse{
			Version: types.Version,
			Commit:  commit,
		})
	}
}
