package types

// RunStatus is the terminal status reported to the trigger.
type RunStatus string

// Run statuses. Busy means a fresh running attempt already holds the
// (run_date, stage) slot; the caller should back off and re-trigger.
const (
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunBusy      RunStatus = "busy"
)

// RunOptions are the caller-supplied options for a stage invocation.
type RunOptions struct {
	// ForceRerun creates a new attempt even when a succeeded record exists.
	// The prior record is superseded only if the new attempt itself succeeds.
	ForceRerun bool `json:"force_rerun,omitempty"`
	// Theme overrides the scheduled scan theme for ingest.
	Theme string `json:"theme,omitempty"`
	// Topic overrides topic selection for paid generate runs.
	Topic string `json:"topic,omitempty"`
	// Mode selects the analysis depth for select: lite or full.
	Mode string `json:"mode,omitempty"`
	// Paid runs the paid-report variant of generate.
	Paid bool `json:"paid,omitempty"`
}

// Analysis modes for the select stage.
const (
	ModeLite = "lite"
	ModeFull = "full"
)

// RunReport is the terminal result of a stage invocation. Expected failure
// modes are reported here, never raised as errors.
type RunReport struct {
	Status RunStatus `json:"status"`
	// Cause is a human-readable failure or busy cause.
	Cause string `json:"cause,omitempty"`
	// AttemptID identifies the attempt that produced this report. Zero when
	// the invocation was refused as busy.
	AttemptID int `json:"attempt_id,omitempty"`
	// Replayed is set when a succeeded record satisfied the invocation
	// without re-invoking external work.
	Replayed bool `json:"replayed,omitempty"`
	// ArtifactRefs are the produced (or replayed) output references.
	ArtifactRefs []ArtifactRef `json:"artifact_refs,omitempty"`
}
