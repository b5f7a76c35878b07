package events

import (
	"time"

	"github.com/taskforge/taskforge/internal/task"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	TaskID() string
}

// Topic constants
const (
	TopicTask = "task"
	TopicRun  = "run"
	TopicSync = "sync"
)

// Event type constants
const (
	EventTypeTaskTransitioned = "task.transitioned"
	EventTypeRunStarted       = "run.started"
	EventTypeStepCompleted    = "run.step_completed"
	EventTypeRunFinished      = "run.finished"
	EventTypeSyncCompleted    = "sync.completed"
)

// TaskTransitionedEvent is published when a task changes status.
type TaskTransitionedEvent struct {
	ID        string
	From      task.Status
	To        task.Status
	Timestamp time.Time
}

func (e TaskTransitionedEvent) EventType() string { return EventTypeTaskTransitioned }
func (e TaskTransitionedEvent) TaskID() string    { return e.ID }

// RunStartedEvent is published when a workflow run begins executing steps.
type RunStartedEvent struct {
	RunID       string
	WorkflowKey string
	ID          string // Task id the run executes against
	Timestamp   time.Time
}

func (e RunStartedEvent) EventType() string { return EventTypeRunStarted }
func (e RunStartedEvent) TaskID() string    { return e.ID }

// StepCompletedEvent is published after each step attempt settles.
type StepCompletedEvent struct {
	RunID     string
	StepKey   string
	ID        string
	Success   bool
	Attempts  int
	Duration  time.Duration
	Timestamp time.Time
}

func (e StepCompletedEvent) EventType() string { return EventTypeStepCompleted }
func (e StepCompletedEvent) TaskID() string    { return e.ID }

// RunFinishedEvent is published when a run reaches a terminal state.
type RunFinishedEvent struct {
	RunID       string
	WorkflowKey string
	ID          string
	FinalStatus string
	Duration    time.Duration
	Timestamp   time.Time
}

func (e RunFinishedEvent) EventType() string { return EventTypeRunFinished }
func (e RunFinishedEvent) TaskID() string    { return e.ID }

// SyncCompletedEvent is published after a reconciliation pass.
type SyncCompletedEvent struct {
	Imported  int
	Updated   int
	Unchanged int
	Invalid   int
	Errors    int
	Timestamp time.Time
}

func (e SyncCompletedEvent) EventType() string { return EventTypeSyncCompleted }
func (e SyncCompletedEvent) TaskID() string    { return "" }
