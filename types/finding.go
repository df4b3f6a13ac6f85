package types

import "time"

// FindingKind classifies a reconciler discrepancy.
type FindingKind string

// Finding kinds.
const (
	// FindingMissingArtifact: the ledger references an artifact that the
	// artifact store no longer has.
	FindingMissingArtifact FindingKind = "missing_artifact"
	// FindingOrphanArtifact: the artifact store holds an artifact no ledger
	// record references.
	FindingOrphanArtifact FindingKind = "orphan_artifact"
	// FindingStaleItem: an admitted item was never consumed by a selection.
	FindingStaleItem FindingKind = "stale_item"
	// FindingScoreDrift: a sampled artifact scored below the quality
	// threshold. Advisory only.
	FindingScoreDrift FindingKind = "score_drift"
)

// AuditFinding is one discrepancy produced by the reconciler.
type AuditFinding struct {
	RunDate RunDate     `json:"run_date" msgpack:"run_date"`
	Stage   Stage       `json:"stage" msgpack:"stage"`
	Kind    FindingKind `json:"kind" msgpack:"kind"`
	Detail  string      `json:"detail" msgpack:"detail"`
}

// AuditRecord is an immutable per-date audit result. Re-running audit for the
// same date appends a fresh record rather than mutating history.
type AuditRecord struct {
	RunDate   RunDate        `json:"run_date" msgpack:"run_date"`
	Seq       int            `json:"seq" msgpack:"seq"`
	CreatedAt time.Time      `json:"created_at" msgpack:"created_at"`
	Findings  []AuditFinding `json:"findings" msgpack:"findings"`
}
