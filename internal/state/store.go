// Package state persists validation run history in a local SQLite database.
package state

import "time"

// RunStatus represents the lifecycle state of a validation run.
type RunStatus string

const (
	// RunStatusRunning marks a run that has started but not finished.
	RunStatusRunning RunStatus = "running"
	// RunStatusSuccess marks a run whose dataset passed every rule.
	RunStatusSuccess RunStatus = "success"
	// RunStatusFailed marks a run with violations or an engine failure.
	RunStatusFailed RunStatus = "failed"
)

// Run is one validation run record.
type Run struct {
	ID             string
	Dataset        string
	Status         RunStatus
	RuleCount      int
	RowCount       int64
	ViolationCount int64
	IsValid        bool
	StartedAt      time.Time
	CompletedAt    *time.Time
	Error          string
}

// Outcome carries the figures recorded when a run completes.
type Outcome struct {
	Status         RunStatus
	RowCount       int64
	ViolationCount int64
	IsValid        bool
	Error          string
}
