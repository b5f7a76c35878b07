package task

import (
	"time"
)

// Priority orders tasks by urgency.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

// String implements fmt.Stringer.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	}
	return "unknown"
}

// Source distinguishes how a task entered the system.
type Source string

const (
	// SourceManaged marks tasks created directly through the API.
	SourceManaged Source = "managed"
	// SourceManual marks tasks imported from an external manual source
	// (e.g. a filesystem scan) and subject to reconciliation.
	SourceManual Source = "manual"
)

// Metadata keys written by task operations.
const (
	MetaResult       = "result"        // Set by Complete
	MetaFailReason   = "fail_reason"   // Set by Fail
	MetaCancelReason = "cancel_reason" // Set by Cancel
	MetaSourcePath   = "source_path"   // Set on import from a manual source
)

// Task is the unit of trackable work with a status lifecycle.
// Status moves only through the named operations below, each of which
// validates against the transition table and leaves the task untouched
// on rejection. UpdatedAt strictly increases on every mutation.
type Task struct {
	ID           string
	ProjectID    string
	Title        string
	Description  string
	Type         string // Open tag, e.g. "analysis", "refactor", "manual-doc"
	Status       Status
	Priority     Priority
	Source       Source
	NaturalKey   string // Stable external key for manual tasks; empty for managed
	ContentHash  string // Hash of the manual source content at last sync
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Dependencies []string // Task ids that must be Completed before Start
	Metadata     map[string]string
	Version      int64 // Incremented by the store on every save (CAS token)
}

// DependencyResolver resolves a task id to its current state. Start uses
// it to enforce the completed-dependency gate without the task package
// depending on the persistence layer.
type DependencyResolver interface {
	Resolve(id string) (*Task, bool)
}

// ResolverFunc adapts a function to the DependencyResolver interface.
type ResolverFunc func(id string) (*Task, bool)

// Resolve implements DependencyResolver.
func (f ResolverFunc) Resolve(id string) (*Task, bool) {
	return f(id)
}

// New creates a managed task in StatusPending.
func New(id, projectID, title string) *Task {
	now := time.Now()
	return &Task{
		ID:        id,
		ProjectID: projectID,
		Title:     title,
		Status:    StatusPending,
		Priority:  PriorityMedium,
		Source:    SourceManaged,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  map[string]string{},
	}
}

// Start moves the task to InProgress. It first enforces the dependency
// gate: every id in Dependencies must resolve to a Completed task,
// otherwise *DependenciesNotSatisfiedError is returned and the task is
// left untouched regardless of its own status.
func (t *Task) Start(deps DependencyResolver) error {
	var unmet []string
	for _, depID := range t.Dependencies {
		dep, ok := deps.Resolve(depID)
		if !ok || dep.Status != StatusCompleted {
			unmet = append(unmet, depID)
		}
	}
	if len(unmet) > 0 {
		return &DependenciesNotSatisfiedError{TaskID: t.ID, Unmet: unmet}
	}
	return t.applyTransition(StatusInProgress)
}

// Schedule moves the task from Pending to Scheduled.
func (t *Task) Schedule() error {
	return t.applyTransition(StatusScheduled)
}

// Pause suspends an in-progress task.
func (t *Task) Pause() error {
	return t.applyTransition(StatusPaused)
}

// Resume returns a paused task to InProgress. The dependency gate is not
// re-checked: dependencies were satisfied when the task first started.
func (t *Task) Resume() error {
	return t.applyTransition(StatusInProgress)
}

// Complete finishes the task successfully and records the result.
func (t *Task) Complete(result string) error {
	if err := t.applyTransition(StatusCompleted); err != nil {
		return err
	}
	t.setMeta(MetaResult, result)
	return nil
}

// Fail finishes the task with an error and records the reason.
func (t *Task) Fail(reason string) error {
	if err := t.applyTransition(StatusFailed); err != nil {
		return err
	}
	t.setMeta(MetaFailReason, reason)
	return nil
}

// Cancel abandons the task and records the reason.
func (t *Task) Cancel(reason string) error {
	if err := t.applyTransition(StatusCancelled); err != nil {
		return err
	}
	t.setMeta(MetaCancelReason, reason)
	return nil
}

// Retry returns a failed task to Pending for another attempt. This is
// the only exit from Failed and is never taken automatically.
func (t *Task) Retry() error {
	return t.applyTransition(StatusPending)
}

// Pure predicates for UI and validation use; none of these mutate.

// CanStart reports whether the status machine would allow Start.
// It does not consult the dependency gate.
func (t *Task) CanStart() bool { return CanTransition(t.Status, StatusInProgress) }

// CanPause reports whether the status machine would allow Pause.
func (t *Task) CanPause() bool { return CanTransition(t.Status, StatusPaused) }

// CanResume reports whether the status machine would allow Resume.
func (t *Task) CanResume() bool {
	return t.Status == StatusPaused && CanTransition(t.Status, StatusInProgress)
}

// CanComplete reports whether the status machine would allow Complete.
func (t *Task) CanComplete() bool { return CanTransition(t.Status, StatusCompleted) }

// CanFail reports whether the status machine would allow Fail.
func (t *Task) CanFail() bool { return CanTransition(t.Status, StatusFailed) }

// CanCancel reports whether the status machine would allow Cancel.
func (t *Task) CanCancel() bool { return CanTransition(t.Status, StatusCancelled) }

// CanRetry reports whether the status machine would allow Retry.
func (t *Task) CanRetry() bool { return CanTransition(t.Status, StatusPending) }

// ForceStatus sets the status without consulting the transition table.
// This is the one sanctioned bypass, reserved for the sync engine's
// rollback of a bad batch operation; every other caller must go through
// the named operations.
func (t *Task) ForceStatus(s Status) {
	t.Status = s
	t.touch()
}

// Touch bumps UpdatedAt, keeping it strictly increasing. Content-field
// mutations outside the named operations (e.g. the sync engine updating
// title/description) must call this.
func (t *Task) Touch() {
	t.touch()
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	cp := *t
	if t.Dependencies != nil {
		cp.Dependencies = append([]string(nil), t.Dependencies...)
	}
	if t.Metadata != nil {
		cp.Metadata = make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// applyTransition validates against the table and mutates on success only.
func (t *Task) applyTransition(to Status) error {
	next, err := Transition(t.Status, to)
	if err != nil {
		return err
	}
	t.Status = next
	t.touch()
	return nil
}

func (t *Task) setMeta(key, value string) {
	if t.Metadata == nil {
		t.Metadata = map[string]string{}
	}
	t.Metadata[key] = value
}

// touch advances UpdatedAt monotonically even when the wall clock has
// not moved between mutations.
func (t *Task) touch() {
	now := time.Now()
	if !now.After(t.UpdatedAt) {
		now = t.UpdatedAt.Add(time.Nanosecond)
	}
	t.UpdatedAt = now
}
