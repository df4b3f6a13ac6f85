// Package types defines core domain types for the Conveyor pipeline engine.
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"fmt"
	"time"
)

// Stage is one of the four ordered processing phases.
type Stage string

// Pipeline stages in causal order. Audit has no ordering dependency.
const (
	StageIngest   Stage = "ingest"
	StageSelect   Stage = "select"
	StageGenerate Stage = "generate"
	StageAudit    Stage = "audit"
)

// Stages lists all stages in causal order.
var Stages = []Stage{StageIngest, StageSelect, StageGenerate, StageAudit}

// ParseStage parses a stage name, returning an error for unknown names.
// An unknown stage is a programming-contract violation, not an expected
// failure mode.
func ParseStage(s string) (Stage, error) {
	switch Stage(s) {
	case StageIngest, StageSelect, StageGenerate, StageAudit:
		return Stage(s), nil
	default:
		return "", fmt.Errorf("invalid stage: %q (must be ingest, select, generate, or audit)", s)
	}
}

// RunState is the state of a single stage attempt.
type RunState string

// Attempt states. Succeeded and failed are terminal; a succeeded record is
// never re-executed automatically.
const (
	StatePending   RunState = "pending"
	StateRunning   RunState = "running"
	StateSucceeded RunState = "succeeded"
	StateFailed    RunState = "failed"
)

// Terminal reports whether the state admits no further transitions.
func (s RunState) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// RunDate is the logical day a pipeline execution belongs to, independent of
// wall-clock execution time. Formatted as YYYY-MM-DD.
type RunDate string

// runDateLayout is the canonical run date format.
const runDateLayout = "2006-01-02"

// ParseRunDate parses a YYYY-MM-DD run date.
func ParseRunDate(s string) (RunDate, error) {
	t, err := time.Parse(runDateLayout, s)
	if err != nil {
		return "", fmt.Errorf("invalid run date %q (want YYYY-MM-DD): %w", s, err)
	}
	return RunDate(t.Format(runDateLayout)), nil
}

// DateOf returns the run date for a wall-clock instant.
func DateOf(t time.Time) RunDate {
	return RunDate(t.Format(runDateLayout))
}

// Time returns the midnight instant of the run date in UTC.
// Run dates produced by ParseRunDate always convert cleanly.
func (d RunDate) Time() time.Time {
	t, _ := time.Parse(runDateLayout, string(d))
	return t
}

// Valid reports whether the run date is well-formed.
func (d RunDate) Valid() bool {
	_, err := time.Parse(runDateLayout, string(d))
	return err == nil
}
