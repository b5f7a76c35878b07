// Package statussync reconciles externally observed manual tasks with
// the persisted task set and provides validated batch status operations
// with history-checked rollback.
package statussync

import (
	"github.com/taskforge/taskforge/internal/task"
)

// InvalidTransition records a proposed status change the lifecycle
// table rejected. The item it belongs to is left untouched.
type InvalidTransition struct {
	TaskID string
	From   task.Status
	To     task.Status
}

// ItemError records a per-task failure inside a batch operation.
type ItemError struct {
	TaskID string
	Reason string
}

// SyncReport is the outcome of one reconciliation pass. Counts and
// lists carry enough detail to render a diagnostic without re-querying
// the store.
type SyncReport struct {
	Imported           int
	Updated            int
	Unchanged          int
	InvalidTransitions []InvalidTransition
	Errors             []ItemError
}

// BatchReport is the outcome of a batch transition: per-item isolation,
// one bad task never blocks the rest.
type BatchReport struct {
	Successful int
	Failed     int
	Failures   []ItemError
}

// RollbackReport is the outcome of a history-checked rollback.
type RollbackReport struct {
	Successful int
	Failed     int
	Failures   []ItemError
}
