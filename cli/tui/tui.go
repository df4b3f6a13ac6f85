package tui

import "fmt"

// Run starts the TUI for a view type. Returns an error for views that have
// no interactive mode.
func Run(viewType string, data any) error {
	switch viewType {
	case ViewStatus:
		return RunStatusTUI(data)
	case ViewStats:
		return RunStatsTUI(data)
	default:
		return fmt.Errorf("TUI mode is not supported for %s", viewType)
	}
}

// View types with an interactive mode.
const (
	ViewStatus = "status"
	ViewStats  = "stats"
)

// IsTUISupported reports whether the view type has an interactive mode.
func IsTUISupported(viewType string) bool {
	return viewType == ViewStatus || viewType == ViewStats
}
