package types

import (
	"fmt"
	"time"
)

// ArtifactRef is an opaque reference to a produced output. References are
// path-addressed (file://, s3://) or ack-addressed (ack://) and are resolved
// only by the artifact store or the reconciler.
type ArtifactRef string

// RunRecord is one attempt of one stage for one run date.
//
// Invariant: for a given (run_date, stage), at most one RunRecord is in
// the running state at any time. The ledger enforces this.
type RunRecord struct {
	// RunDate is the logical date the run belongs to.
	RunDate RunDate `json:"run_date" msgpack:"run_date"`
	// Stage is the pipeline stage this attempt executed.
	Stage Stage `json:"stage" msgpack:"stage"`
	// AttemptID is a monotonically increasing counter per (run_date, stage),
	// starting at 1.
	AttemptID int `json:"attempt_id" msgpack:"attempt_id"`
	// State is the attempt state.
	State RunState `json:"state" msgpack:"state"`
	// Mode records the analysis mode for select attempts (lite or full) so
	// audits are mode-aware.
	Mode string `json:"mode,omitempty" msgpack:"mode,omitempty"`
	// Theme records the scan theme for ingest attempts.
	Theme string `json:"theme,omitempty" msgpack:"theme,omitempty"`
	// Paid marks attempts belonging to the paid-report variant.
	Paid bool `json:"paid,omitempty" msgpack:"paid,omitempty"`
	// Cause is the human-readable failure cause for failed attempts.
	Cause string `json:"cause,omitempty" msgpack:"cause,omitempty"`
	// Superseded is set on a succeeded record when a forced re-run attempt
	// succeeded after it. Its artifacts remain retrievable.
	Superseded bool `json:"superseded,omitempty" msgpack:"superseded,omitempty"`
	// ArtifactRefs is the ordered sequence of produced-output references.
	ArtifactRefs []ArtifactRef `json:"artifact_refs,omitempty" msgpack:"artifact_refs,omitempty"`
	// StartedAt is when the attempt began running.
	StartedAt time.Time `json:"started_at" msgpack:"started_at"`
	// FinishedAt is when the attempt reached a terminal state.
	FinishedAt time.Time `json:"finished_at,omitempty" msgpack:"finished_at,omitempty"`
}

// Validate checks structural invariants of a run record.
func (r *RunRecord) Validate() error {
	if r == nil {
		return fmt.Errorf("run record is nil")
	}
	if !r.RunDate.Valid() {
		return fmt.Errorf("invalid run date: %q", r.RunDate)
	}
	if _, err := ParseStage(string(r.Stage)); err != nil {
		return err
	}
	if r.AttemptID < 1 {
		return fmt.Errorf("attempt id must be >= 1, got %d", r.AttemptID)
	}
	switch r.State {
	case StatePending, StateRunning, StateSucceeded, StateFailed:
	default:
		return fmt.Errorf("invalid run state: %q", r.State)
	}
	return nil
}

// Key returns the (run_date, stage, attempt_id) identity string.
func (r *RunRecord) Key() string {
	return fmt.Sprintf("%s/%s/%d", r.RunDate, r.Stage, r.AttemptID)
}

// Selection is the output of the select stage: the chosen topic, ranked title
// candidates, and an outline reference. Consumed by generate, re-readable for
// retries.
type Selection struct {
	// Topic is the chosen topic.
	Topic string `json:"topic" msgpack:"topic"`
	// Candidates are ranked alternate topics, best first, used as cooldown
	// fallbacks.
	Candidates []string `json:"candidates,omitempty" msgpack:"candidates,omitempty"`
	// Headlines are ranked title candidates for the chosen topic.
	Headlines []string `json:"headlines,omitempty" msgpack:"headlines,omitempty"`
	// Outline is the article outline text.
	Outline string `json:"outline,omitempty" msgpack:"outline,omitempty"`
	// ItemKeys are the dedup keys of the admitted items the selection drew on.
	ItemKeys []string `json:"item_keys,omitempty" msgpack:"item_keys,omitempty"`
	// Mode is the analysis mode the selection was produced under.
	Mode string `json:"mode,omitempty" msgpack:"mode,omitempty"`
}

// Empty reports whether the selection carries no usable topic.
func (s *Selection) Empty() bool {
	return s == nil || s.Topic == ""
}

// Artifact describes an output of the generate stage or a paid-report variant.
type Artifact struct {
	// Ref is the opaque store reference.
	Ref ArtifactRef `json:"ref" msgpack:"ref"`
	// Kind tags the artifact: draft, document, or report.
	Kind string `json:"kind" msgpack:"kind"`
	// RequiresHumanReview holds the artifact in the review gate; it must not
	// be auto-delivered.
	RequiresHumanReview bool `json:"requires_human_review" msgpack:"requires_human_review"`
	// Bytes is the stored size.
	Bytes int64 `json:"bytes,omitempty" msgpack:"bytes,omitempty"`
}

// Artifact kinds.
const (
	ArtifactKindSelection = "selection"
	ArtifactKindDraft     = "draft"
	ArtifactKindDocument  = "document"
	ArtifactKindReport    = "report"
	ArtifactKindFindings  = "findings"
)
