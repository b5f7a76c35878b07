package orchestrator

import (
	"fmt"
	"time"
)

// TaskBusyError reports a run request for a task that already has a run
// in flight. The request is rejected, never queued silently.
type TaskBusyError struct {
	TaskID string
}

func (e *TaskBusyError) Error() string {
	return fmt.Sprintf("task %q already has a run in progress", e.TaskID)
}

// StepTimeoutError reports a step attempt exceeding its bounded timeout.
type StepTimeoutError struct {
	Key     string
	Timeout time.Duration
}

func (e *StepTimeoutError) Error() string {
	return fmt.Sprintf("step %q timed out after %s", e.Key, e.Timeout)
}

// StepFailedError reports a step that exhausted its retries or hit a
// non-transient error.
type StepFailedError struct {
	Key      string
	Attempts int
	Err      error
}

func (e *StepFailedError) Error() string {
	return fmt.Sprintf("step %q failed after %d attempt(s): %v", e.Key, e.Attempts, e.Err)
}

func (e *StepFailedError) Unwrap() error {
	return e.Err
}
