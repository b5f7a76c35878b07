package persistence

import (
	"context"
	"errors"
	"testing"

	"github.com/taskforge/taskforge/internal/task"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewMemoryStore(context.Background())
	if err != nil {
		t.Fatalf("NewMemoryStore() error: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// TestSaveAndGetTask verifies a task round-trips through the store.
func TestSaveAndGetTask(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tk := task.New("t1", "p1", "analyze module")
	tk.Description = "look at the parser"
	tk.Type = "analysis"
	tk.Priority = task.PriorityHigh
	tk.Metadata["origin"] = "test"

	if err := store.SaveTask(ctx, tk); err != nil {
		t.Fatalf("SaveTask() error: %v", err)
	}
	if tk.Version != 1 {
		t.Errorf("Version after insert = %d, want 1", tk.Version)
	}

	got, err := store.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTask() error: %v", err)
	}
	if got.Title != tk.Title || got.Status != task.StatusPending || got.Priority != task.PriorityHigh {
		t.Errorf("GetTask() = %+v", got)
	}
	if got.Metadata["origin"] != "test" {
		t.Errorf("metadata lost: %v", got.Metadata)
	}
	if !got.UpdatedAt.Equal(tk.UpdatedAt) {
		t.Errorf("UpdatedAt did not round-trip: %v != %v", got.UpdatedAt, tk.UpdatedAt)
	}
}

// TestGetTaskNotFound verifies the sentinel error.
func TestGetTaskNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetTask(context.Background(), "ghost")
	if !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("GetTask() error = %v, want ErrTaskNotFound", err)
	}
}

// TestSaveTaskVersionConflict verifies the compare-and-set: a save based
// on a stale version fails and changes nothing.
func TestSaveTaskVersionConflict(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tk := task.New("t1", "p1", "x")
	if err := store.SaveTask(ctx, tk); err != nil {
		t.Fatal(err)
	}

	stale := tk.Clone()

	tk.Title = "fresh write"
	if err := store.SaveTask(ctx, tk); err != nil {
		t.Fatalf("SaveTask() error: %v", err)
	}

	stale.Title = "stale write"
	err := store.SaveTask(ctx, stale)
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("stale SaveTask() error = %v, want ErrVersionConflict", err)
	}

	got, err := store.GetTask(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "fresh write" {
		t.Errorf("title = %q, stale write leaked through", got.Title)
	}
	if got.Version != 2 {
		t.Errorf("version = %d, want 2", got.Version)
	}
}

// TestSaveTaskUpdateMissing verifies updating a deleted task reports not found.
func TestSaveTaskUpdateMissing(t *testing.T) {
	store := newTestStore(t)

	tk := task.New("gone", "p1", "x")
	tk.Version = 3
	if err := store.SaveTask(context.Background(), tk); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("SaveTask() error = %v, want ErrTaskNotFound", err)
	}
}

// TestDependenciesRoundTrip verifies dependency rows are replaced on save.
func TestDependenciesRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tk := task.New("t1", "p1", "x")
	tk.Dependencies = []string{"b", "a"}
	if err := store.SaveTask(ctx, tk); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetTask(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Dependencies) != 2 {
		t.Fatalf("dependencies = %v", got.Dependencies)
	}

	tk = got
	tk.Dependencies = []string{"c"}
	if err := store.SaveTask(ctx, tk); err != nil {
		t.Fatal(err)
	}
	got, err = store.GetTask(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Dependencies) != 1 || got.Dependencies[0] != "c" {
		t.Errorf("dependencies after replace = %v, want [c]", got.Dependencies)
	}
}

// TestGetTaskByNaturalKey verifies manual-task lookups by external key.
func TestGetTaskByNaturalKey(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tk := task.New("t1", "p1", "imported")
	tk.Source = task.SourceManual
	tk.NaturalKey = "docs/plan.md"
	if err := store.SaveTask(ctx, tk); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetTaskByNaturalKey(ctx, "docs/plan.md")
	if err != nil {
		t.Fatalf("GetTaskByNaturalKey() error: %v", err)
	}
	if got.ID != "t1" {
		t.Errorf("id = %s, want t1", got.ID)
	}

	if _, err := store.GetTaskByNaturalKey(ctx, "docs/other.md"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("unknown key error = %v, want ErrTaskNotFound", err)
	}
	if _, err := store.GetTaskByNaturalKey(ctx, ""); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("empty key error = %v, want ErrTaskNotFound", err)
	}
}

// TestQueryTasksFilter verifies filter combinations.
func TestQueryTasksFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mk := func(id, project string, status task.Status, source task.Source) {
		tk := task.New(id, project, id)
		tk.Status = status
		tk.Source = source
		if err := store.SaveTask(ctx, tk); err != nil {
			t.Fatal(err)
		}
	}
	mk("t1", "p1", task.StatusPending, task.SourceManaged)
	mk("t2", "p1", task.StatusInProgress, task.SourceManual)
	mk("t3", "p2", task.StatusPending, task.SourceManual)

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"all", Filter{}, []string{"t1", "t2", "t3"}},
		{"by project", Filter{ProjectID: "p1"}, []string{"t1", "t2"}},
		{"by status", Filter{Status: task.StatusPending}, []string{"t1", "t3"}},
		{"by source", Filter{Source: task.SourceManual}, []string{"t2", "t3"}},
		{"combined", Filter{ProjectID: "p1", Source: task.SourceManual}, []string{"t2"}},
		{"no match", Filter{ProjectID: "p3"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.QueryTasks(ctx, tt.filter)
			if err != nil {
				t.Fatalf("QueryTasks() error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("QueryTasks() returned %d tasks, want %d", len(got), len(tt.want))
			}
			for i, id := range tt.want {
				if got[i].ID != id {
					t.Errorf("result[%d] = %s, want %s", i, got[i].ID, id)
				}
			}
		})
	}
}

// TestDeleteTask verifies deletion and its cascade.
func TestDeleteTask(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tk := task.New("t1", "p1", "x")
	if err := store.SaveTask(ctx, tk); err != nil {
		t.Fatal(err)
	}
	if err := store.DeleteTask(ctx, "t1"); err != nil {
		t.Fatalf("DeleteTask() error: %v", err)
	}
	if _, err := store.GetTask(ctx, "t1"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("GetTask() after delete error = %v, want ErrTaskNotFound", err)
	}
	if err := store.DeleteTask(ctx, "t1"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("second DeleteTask() error = %v, want ErrTaskNotFound", err)
	}
}

// TestStatusHistoryWindow verifies history records status changes newest
// first and trims to the window.
func TestStatusHistoryWindow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tk := task.New("t1", "p1", "x")
	if err := store.SaveTask(ctx, tk); err != nil {
		t.Fatal(err)
	}

	// Walk the task through more transitions than the window holds.
	steps := []func() error{
		func() error { return tk.Start(task.ResolverFunc(func(string) (*task.Task, bool) { return nil, false })) },
		tk.Pause,
		tk.Resume,
		func() error { return tk.Fail("boom") },
		tk.Retry,
		tk.Schedule,
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d error: %v", i, err)
		}
		if err := store.SaveTask(ctx, tk); err != nil {
			t.Fatalf("SaveTask() at step %d error: %v", i, err)
		}
	}

	history, err := store.StatusHistory(ctx, "t1")
	if err != nil {
		t.Fatalf("StatusHistory() error: %v", err)
	}
	if len(history) != DefaultHistoryWindow {
		t.Fatalf("history length = %d, want %d", len(history), DefaultHistoryWindow)
	}
	want := []task.Status{
		task.StatusScheduled, task.StatusPending, task.StatusFailed,
		task.StatusInProgress, task.StatusPaused,
	}
	for i, s := range want {
		if history[i] != s {
			t.Errorf("history[%d] = %s, want %s", i, history[i], s)
		}
	}
}

// TestStatusHistorySkipsNonTransitionSaves verifies content-only saves do
// not pollute the history.
func TestStatusHistorySkipsNonTransitionSaves(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tk := task.New("t1", "p1", "x")
	if err := store.SaveTask(ctx, tk); err != nil {
		t.Fatal(err)
	}
	tk.Title = "renamed"
	tk.Touch()
	if err := store.SaveTask(ctx, tk); err != nil {
		t.Fatal(err)
	}

	history, err := store.StatusHistory(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0] != task.StatusPending {
		t.Errorf("history = %v, want just the initial pending", history)
	}
}
