package task

// Status labels the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "pending"     // Created, not yet started
	StatusScheduled  Status = "scheduled"   // Queued for a future start
	StatusInProgress Status = "in_progress" // Actively being worked
	StatusPaused     Status = "paused"      // Temporarily suspended
	StatusCompleted  Status = "completed"   // Finished successfully (terminal)
	StatusCancelled  Status = "cancelled"   // Abandoned by request (terminal)
	StatusFailed     Status = "failed"      // Finished with error; explicit retry only
)

// allowedTransitions defines the permitted lifecycle state changes.
// This table is the single source of truth: task operations and the
// status sync engine both consult it via CanTransition/Transition.
var allowedTransitions = map[Status]map[Status]struct{}{
	StatusPending: {
		StatusInProgress: {},
		StatusScheduled:  {},
		StatusCancelled:  {},
	},
	StatusScheduled: {
		StatusInProgress: {},
		StatusCancelled:  {},
	},
	StatusInProgress: {
		StatusPaused:    {},
		StatusCompleted: {},
		StatusFailed:    {},
		StatusCancelled: {},
	},
	StatusPaused: {
		StatusInProgress: {},
		StatusCancelled:  {},
	},
	StatusCompleted: {},
	StatusCancelled: {},
	StatusFailed: {
		StatusPending: {},
	},
}

// String implements fmt.Stringer.
func (s Status) String() string {
	return string(s)
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

// Terminal reports whether s admits no further transitions.
func (s Status) Terminal() bool {
	allowed, ok := allowedTransitions[s]
	return ok && len(allowed) == 0
}

// CanTransition reports whether the lifecycle allows moving from one
// status to another. Pure and total: every (from, to) pair of statuses
// has a defined answer, and unknown statuses are never allowed.
func CanTransition(from, to Status) bool {
	allowed, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	if !to.Valid() {
		return false
	}
	_, ok = allowed[to]
	return ok
}

// Transition validates a status change against the table. It returns the
// destination status on success and an *InvalidTransitionError otherwise.
// No side effects; callers mutate their own state on success.
func Transition(from, to Status) (Status, error) {
	if !CanTransition(from, to) {
		return from, &InvalidTransitionError{From: from, To: to}
	}
	return to, nil
}
