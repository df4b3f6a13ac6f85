// Package reader provides the read-side data access layer for the conveyor
// CLI. Every read-only command goes through it; nothing here mutates the
// ledger, the item store, or the artifact store.
package reader

import "time"

// StageStatus summarizes the newest attempt of one stage for a run date.
type StageStatus struct {
	Stage      string     `json:"stage"`
	State      string     `json:"state"`
	Attempt    int        `json:"attempt"`
	Attempts   int        `json:"attempts"`
	Mode       string     `json:"mode,omitempty"`
	Theme      string     `json:"theme,omitempty"`
	Paid       bool       `json:"paid,omitempty"`
	Cause      string     `json:"cause,omitempty"`
	Artifacts  int        `json:"artifacts"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// StatusResponse is the per-date pipeline status.
type StatusResponse struct {
	RunDate  string        `json:"run_date"`
	Stages   []StageStatus `json:"stages"`
	Audits   int           `json:"audits"`
	Findings int           `json:"findings"`
}

// AttemptItem is one ledger attempt row.
type AttemptItem struct {
	Stage      string     `json:"stage"`
	Attempt    int        `json:"attempt"`
	State      string     `json:"state"`
	Mode       string     `json:"mode,omitempty"`
	Paid       bool       `json:"paid,omitempty"`
	Superseded bool       `json:"superseded,omitempty"`
	Cause      string     `json:"cause,omitempty"`
	Artifacts  int        `json:"artifacts"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// FindingItem is one reconciler finding from the newest audit record.
type FindingItem struct {
	Stage  string `json:"stage,omitempty"`
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

// AuditSummary is one immutable audit record header.
type AuditSummary struct {
	Seq       int       `json:"seq"`
	CreatedAt time.Time `json:"created_at"`
	Findings  int       `json:"findings"`
}

// DateItem is one run date with attempt counts.
type DateItem struct {
	RunDate   string `json:"run_date"`
	Attempts  int    `json:"attempts"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Running   int    `json:"running"`
}

// StatsResponse aggregates ledger and item-store counts across all dates.
type StatsResponse struct {
	Dates            int            `json:"dates"`
	Attempts         int            `json:"attempts"`
	Succeeded        int            `json:"succeeded"`
	Failed           int            `json:"failed"`
	Running          int            `json:"running"`
	Superseded       int            `json:"superseded"`
	ItemsTotal       int            `json:"items_total"`
	ItemsAdmitted    int            `json:"items_admitted"`
	ItemsRejected    int            `json:"items_rejected"`
	FindingsByKind   map[string]int `json:"findings_by_kind,omitempty"`
	AttemptsPerStage map[string]int `json:"attempts_per_stage,omitempty"`
}
