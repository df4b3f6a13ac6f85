package pipeline

import (
	"time"

	"github.com/seamline-io/conveyor/types"
)

// defaultThemes is the weekday scan rotation used when the trigger supplies
// no theme override.
var defaultThemes = map[time.Weekday]string{
	time.Monday:    "ai-infrastructure",
	time.Tuesday:   "enterprise-software",
	time.Wednesday: "semiconductors",
	time.Thursday:  "consumer-platforms",
	time.Friday:    "energy-transition",
	time.Saturday:  "biotech",
	time.Sunday:    "fintech",
}

// themeFor resolves the scan theme for an ingest run: explicit override
// first, weekday rotation otherwise.
func (c *Coordinator) themeFor(date types.RunDate, override string) string {
	if override != "" {
		return override
	}
	return defaultThemes[date.Time().Weekday()]
}
