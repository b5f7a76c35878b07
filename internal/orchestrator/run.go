package orchestrator

import (
	"time"
)

// RunStatus is the state machine of a single workflow run:
// Created -> Running -> {Succeeded, Failed, Cancelled}.
type RunStatus string

const (
	RunCreated   RunStatus = "created"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// String implements fmt.Stringer.
func (s RunStatus) String() string {
	return string(s)
}

// Terminal reports whether the run has settled.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunSucceeded, RunFailed, RunCancelled:
		return true
	}
	return false
}

// StepResult is the audit record of one step within a run: enough detail
// to diagnose a failure without re-querying internal state. It is not a
// replay log.
type StepResult struct {
	Key      string
	Attempts int
	Duration time.Duration
	Success  bool
	Error    string // Error detail when Success is false
}

// WorkflowRun is the ephemeral execution record of one workflow against
// one task. It lives in the orchestrator's run registry until Forget;
// persisting it is the caller's choice.
type WorkflowRun struct {
	RunID       string
	WorkflowKey string
	TaskID      string
	Status      RunStatus
	StartedAt   time.Time
	FinishedAt  time.Time
	StepResults []StepResult
	Error       string // Run-level failure detail (precondition or step failure)
}

// Clone returns a snapshot safe to hand to callers.
func (r *WorkflowRun) Clone() *WorkflowRun {
	if r == nil {
		return nil
	}
	cp := *r
	if r.StepResults != nil {
		cp.StepResults = append([]StepResult(nil), r.StepResults...)
	}
	return &cp
}
