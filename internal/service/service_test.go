package service

import (
	"context"
	"strings"
	"testing"

	"github.com/taskforge/taskforge/internal/config"
	"github.com/taskforge/taskforge/internal/persistence"
	"github.com/taskforge/taskforge/internal/registry"
	"github.com/taskforge/taskforge/internal/task"
)

func newTestService(t *testing.T) (*Service, *persistence.SQLiteStore) {
	t.Helper()
	store, err := persistence.NewMemoryStore(context.Background())
	if err != nil {
		t.Fatalf("NewMemoryStore() error: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return New(store, nil), store
}

// TestCreateTask verifies a created task persists with the requested
// fields and starts Pending.
func TestCreateTask(t *testing.T) {
	svc, store := newTestService(t)

	created, err := svc.CreateTask(context.Background(), CreateTaskRequest{
		ProjectID:   "p1",
		Title:       "Refactor parser",
		Description: "split lexer from parser",
		Type:        "refactor",
		Priority:    task.PriorityHigh,
	})
	if err != nil {
		t.Fatalf("CreateTask() error: %v", err)
	}
	if created.ID == "" {
		t.Error("created task has no id")
	}

	got, err := store.GetTask(context.Background(), created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != task.StatusPending || got.Source != task.SourceManaged {
		t.Errorf("task = %s/%s, want pending managed", got.Status, got.Source)
	}
	if got.Priority != task.PriorityHigh || got.Type != "refactor" {
		t.Errorf("task fields = %v/%q", got.Priority, got.Type)
	}
}

// TestCreateTaskRequiresTitle verifies the only mandatory field.
func TestCreateTaskRequiresTitle(t *testing.T) {
	svc, _ := newTestService(t)

	if _, err := svc.CreateTask(context.Background(), CreateTaskRequest{ProjectID: "p1"}); err == nil {
		t.Error("CreateTask() accepted an empty title")
	}
}

// TestCreateTaskRejectsDependencyCycle verifies the insertion-time
// reachability check.
func TestCreateTaskRejectsDependencyCycle(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	a, err := svc.CreateTask(ctx, CreateTaskRequest{ProjectID: "p1", Title: "a"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := svc.CreateTask(ctx, CreateTaskRequest{
		ProjectID: "p1", Title: "b", Dependencies: []string{a.ID},
	})
	if err != nil {
		t.Fatal(err)
	}

	// Close the cycle a -> b -> a through an existing task.
	a.Dependencies = []string{b.ID}
	if err := store.SaveTask(ctx, a); err != nil {
		t.Fatal(err)
	}
	_, err = svc.CreateTask(ctx, CreateTaskRequest{
		ProjectID: "p1", Title: "c", Dependencies: []string{b.ID},
	})
	if err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Errorf("CreateTask() error = %v, want cycle rejection", err)
	}

	// A self-dependency is always rejected.
	self, jErr := svc.CreateTask(ctx, CreateTaskRequest{ProjectID: "p2", Title: "self"})
	if jErr != nil {
		t.Fatal(jErr)
	}
	self.Dependencies = []string{self.ID}
	if err := task.ValidateAcyclic([]*task.Task{self}); err == nil {
		t.Error("self-dependency passed validation")
	}
}

// TestCreateTaskRejectsCrossProjectCycle verifies the reachability
// check follows dependencies across project boundaries, matching the
// global resolution the Start gate uses.
func TestCreateTaskRejectsCrossProjectCycle(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	a, err := svc.CreateTask(ctx, CreateTaskRequest{ProjectID: "p1", Title: "a"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := svc.CreateTask(ctx, CreateTaskRequest{
		ProjectID: "p2", Title: "b", Dependencies: []string{a.ID},
	})
	if err != nil {
		t.Fatal(err)
	}

	// Close the cycle a -> b -> a across p1 and p2.
	a.Dependencies = []string{b.ID}
	if err := store.SaveTask(ctx, a); err != nil {
		t.Fatal(err)
	}

	_, err = svc.CreateTask(ctx, CreateTaskRequest{
		ProjectID: "p1", Title: "c", Dependencies: []string{b.ID},
	})
	if err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Errorf("CreateTask() error = %v, want cross-project cycle rejection", err)
	}
}

// TestDeleteTask verifies explicit deletion.
func TestDeleteTask(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateTask(ctx, CreateTaskRequest{ProjectID: "p1", Title: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.DeleteTask(ctx, created.ID); err != nil {
		t.Fatalf("DeleteTask() error: %v", err)
	}
	if _, err := store.GetTask(ctx, created.ID); err == nil {
		t.Error("task still present after delete")
	}
}

// TestRegisterWorkflows verifies config-declared pipelines land in the
// registry and bad references fail at wiring time.
func TestRegisterWorkflows(t *testing.T) {
	reg := registry.New()
	for _, key := range []string{"lint", "test"} {
		if err := reg.Register(registry.Definition{
			Key: key, Category: registry.CategoryStep, Executable: registry.NoopExecutable,
		}, false); err != nil {
			t.Fatal(err)
		}
	}

	err := RegisterWorkflows(reg, map[string]config.WorkflowConfig{
		"review": {Steps: []string{"lint", "test"}},
	})
	if err != nil {
		t.Fatalf("RegisterWorkflows() error: %v", err)
	}
	def, ok := reg.Get(registry.CategoryWorkflow, "review")
	if !ok || len(def.DependsOn) != 2 {
		t.Errorf("workflow definition = %+v, %v", def, ok)
	}

	err = RegisterWorkflows(reg, map[string]config.WorkflowConfig{
		"broken": {Steps: []string{"lint", "missing"}},
	})
	if err == nil || !strings.Contains(err.Error(), "missing") {
		t.Errorf("RegisterWorkflows() error = %v, want unregistered step rejection", err)
	}

	err = RegisterWorkflows(reg, map[string]config.WorkflowConfig{
		"empty": {},
	})
	if err == nil {
		t.Error("RegisterWorkflows() accepted a workflow with no steps")
	}
}
