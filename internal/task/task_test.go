package task

import (
	"errors"
	"testing"
	"time"
)

// emptyResolver resolves nothing.
var emptyResolver = ResolverFunc(func(id string) (*Task, bool) { return nil, false })

// mapResolver resolves from a fixed map of tasks.
func mapResolver(tasks map[string]*Task) DependencyResolver {
	return ResolverFunc(func(id string) (*Task, bool) {
		tk, ok := tasks[id]
		return tk, ok
	})
}

// TestTaskLifecycleScenario walks the happy path and verifies the terminal
// state rejects a restart: Pending -> InProgress -> Completed -> start fails.
func TestTaskLifecycleScenario(t *testing.T) {
	tk := New("t1", "p1", "analyze module")

	if err := tk.Start(emptyResolver); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if tk.Status != StatusInProgress {
		t.Fatalf("status = %s, want %s", tk.Status, StatusInProgress)
	}

	if err := tk.Complete("done"); err != nil {
		t.Fatalf("Complete() error: %v", err)
	}
	if tk.Status != StatusCompleted {
		t.Fatalf("status = %s, want %s", tk.Status, StatusCompleted)
	}
	if tk.Metadata[MetaResult] != "done" {
		t.Errorf("result metadata = %q, want %q", tk.Metadata[MetaResult], "done")
	}

	err := tk.Start(emptyResolver)
	var invalid *InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("Start() after completion error = %v, want InvalidTransitionError", err)
	}
	if invalid.From != StatusCompleted || invalid.To != StatusInProgress {
		t.Errorf("InvalidTransitionError = %+v, want Completed -> InProgress", invalid)
	}
	if tk.Status != StatusCompleted {
		t.Errorf("failed transition mutated status to %s", tk.Status)
	}
}

// TestTaskOperations exercises each named operation from a status where it
// is valid and one where it is not.
func TestTaskOperations(t *testing.T) {
	tests := []struct {
		name       string
		from       Status
		op         func(*Task) error
		wantStatus Status
		wantErr    bool
	}{
		{"schedule from pending", StatusPending, (*Task).Schedule, StatusScheduled, false},
		{"schedule from paused", StatusPaused, (*Task).Schedule, StatusPaused, true},
		{"pause from in_progress", StatusInProgress, (*Task).Pause, StatusPaused, false},
		{"pause from pending", StatusPending, (*Task).Pause, StatusPending, true},
		{"resume from paused", StatusPaused, (*Task).Resume, StatusInProgress, false},
		{"resume from failed", StatusFailed, (*Task).Resume, StatusFailed, true},
		{"fail from in_progress", StatusInProgress, func(tk *Task) error { return tk.Fail("boom") }, StatusFailed, false},
		{"fail from scheduled", StatusScheduled, func(tk *Task) error { return tk.Fail("boom") }, StatusScheduled, true},
		{"cancel from scheduled", StatusScheduled, func(tk *Task) error { return tk.Cancel("nope") }, StatusCancelled, false},
		{"cancel from completed", StatusCompleted, func(tk *Task) error { return tk.Cancel("nope") }, StatusCompleted, true},
		{"retry from failed", StatusFailed, (*Task).Retry, StatusPending, false},
		{"retry from cancelled", StatusCancelled, (*Task).Retry, StatusCancelled, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tk := New("t1", "p1", "x")
			tk.Status = tt.from

			err := tt.op(tk)
			if (err != nil) != tt.wantErr {
				t.Fatalf("op error = %v, wantErr %v", err, tt.wantErr)
			}
			if tk.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", tk.Status, tt.wantStatus)
			}
		})
	}
}

// TestStartDependencyGate verifies that Start fails with
// DependenciesNotSatisfiedError while any dependency is not Completed,
// regardless of whether the task itself could transition.
func TestStartDependencyGate(t *testing.T) {
	dep := New("dep", "p1", "prerequisite")
	deps := mapResolver(map[string]*Task{"dep": dep})

	tk := New("t1", "p1", "dependent")
	tk.Dependencies = []string{"dep", "ghost"}

	err := tk.Start(deps)
	var unmet *DependenciesNotSatisfiedError
	if !errors.As(err, &unmet) {
		t.Fatalf("Start() error = %v, want DependenciesNotSatisfiedError", err)
	}
	if len(unmet.Unmet) != 2 {
		t.Fatalf("unmet = %v, want both dependencies reported", unmet.Unmet)
	}
	if tk.Status != StatusPending {
		t.Errorf("status mutated to %s on gate failure", tk.Status)
	}

	// Complete the known dependency; the unknown one still blocks.
	dep.Status = StatusCompleted
	if err := tk.Start(deps); !errors.As(err, &unmet) {
		t.Fatalf("Start() error = %v, want DependenciesNotSatisfiedError for unresolved id", err)
	}

	// With all dependencies completed the gate opens.
	tk.Dependencies = []string{"dep"}
	if err := tk.Start(deps); err != nil {
		t.Fatalf("Start() with satisfied dependencies error: %v", err)
	}
	if tk.Status != StatusInProgress {
		t.Errorf("status = %s, want %s", tk.Status, StatusInProgress)
	}
}

// TestStartGateAppliesBeforeTable verifies the gate fires even from a
// status that could not start anyway.
func TestStartGateAppliesBeforeTable(t *testing.T) {
	tk := New("t1", "p1", "x")
	tk.Status = StatusCompleted
	tk.Dependencies = []string{"ghost"}

	var unmet *DependenciesNotSatisfiedError
	if err := tk.Start(emptyResolver); !errors.As(err, &unmet) {
		t.Fatalf("Start() error = %v, want DependenciesNotSatisfiedError", err)
	}
}

// TestUpdatedAtStrictlyIncreases verifies every mutation advances
// UpdatedAt even when the clock does not visibly move.
func TestUpdatedAtStrictlyIncreases(t *testing.T) {
	tk := New("t1", "p1", "x")

	stamps := []time.Time{tk.UpdatedAt}
	mutate := []func() error{
		func() error { return tk.Start(emptyResolver) },
		tk.Pause,
		tk.Resume,
		func() error { return tk.Complete("ok") },
	}
	for i, m := range mutate {
		if err := m(); err != nil {
			t.Fatalf("mutation %d error: %v", i, err)
		}
		stamps = append(stamps, tk.UpdatedAt)
	}

	for i := 1; i < len(stamps); i++ {
		if !stamps[i].After(stamps[i-1]) {
			t.Errorf("UpdatedAt did not strictly increase at step %d: %v -> %v", i, stamps[i-1], stamps[i])
		}
	}
}

// TestCanPredicates verifies the pure predicates track the table without
// mutating the task.
func TestCanPredicates(t *testing.T) {
	tk := New("t1", "p1", "x")
	tk.Status = StatusInProgress
	before := tk.UpdatedAt

	if !tk.CanPause() || !tk.CanComplete() || !tk.CanFail() || !tk.CanCancel() {
		t.Error("in_progress task should allow pause/complete/fail/cancel")
	}
	if tk.CanStart() || tk.CanResume() || tk.CanRetry() {
		t.Error("in_progress task should not allow start/resume/retry")
	}
	if tk.UpdatedAt != before {
		t.Error("predicates must not mutate the task")
	}
}

// TestForceStatusBypassesTable verifies the sanctioned rollback bypass.
func TestForceStatusBypassesTable(t *testing.T) {
	tk := New("t1", "p1", "x")
	tk.Status = StatusCompleted
	before := tk.UpdatedAt

	tk.ForceStatus(StatusInProgress)
	if tk.Status != StatusInProgress {
		t.Errorf("status = %s, want %s", tk.Status, StatusInProgress)
	}
	if !tk.UpdatedAt.After(before) {
		t.Error("ForceStatus must advance UpdatedAt")
	}
}

// TestClone verifies Clone is deep for slices and maps.
func TestClone(t *testing.T) {
	tk := New("t1", "p1", "x")
	tk.Dependencies = []string{"a"}
	tk.Metadata["k"] = "v"

	cp := tk.Clone()
	cp.Dependencies[0] = "b"
	cp.Metadata["k"] = "w"

	if tk.Dependencies[0] != "a" || tk.Metadata["k"] != "v" {
		t.Error("Clone shares state with the original")
	}
}
