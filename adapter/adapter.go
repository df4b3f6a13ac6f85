// Package adapter defines the notification adapter boundary.
//
// Adapters publish stage completion notifications to downstream systems.
// The CLI owns adapter lifecycle; users provide configuration only.
package adapter

import "context"

// StageCompletedEvent is the payload published when a stage attempt reaches
// a terminal state.
type StageCompletedEvent struct {
	EventType    string   `json:"event_type"` // always "stage_completed"
	RunDate      string   `json:"run_date"`
	Stage        string   `json:"stage"`
	Attempt      int      `json:"attempt"`
	Status       string   `json:"status"` // succeeded, failed, busy
	Cause        string   `json:"cause,omitempty"`
	Paid         bool     `json:"paid,omitempty"`
	Replayed     bool     `json:"replayed,omitempty"`
	ArtifactRefs []string `json:"artifact_refs,omitempty"`
	Timestamp    string   `json:"timestamp"` // ISO 8601
}

// Adapter publishes stage completion events to a downstream system.
// Implementations must be safe for single-use per invocation.
type Adapter interface {
	// Publish sends a stage completion event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *StageCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}
