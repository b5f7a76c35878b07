// Package service is the composition root facade: task creation and
// deletion, plus wiring of configured workflows into the registry. The
// presentation layer talks to this package, the orchestrator, and the
// sync engine; nothing here executes steps itself.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/taskforge/taskforge/internal/config"
	"github.com/taskforge/taskforge/internal/persistence"
	"github.com/taskforge/taskforge/internal/registry"
	"github.com/taskforge/taskforge/internal/task"
)

// Service owns direct task CRUD.
type Service struct {
	store  persistence.Store
	logger *log.Logger
	newID  func() string
}

// New creates a service over the store.
func New(store persistence.Store, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{store: store, logger: logger, newID: uuid.NewString}
}

// CreateTaskRequest describes a managed task to create.
type CreateTaskRequest struct {
	ProjectID    string
	Title        string
	Description  string
	Type         string
	Priority     task.Priority
	Dependencies []string
}

// CreateTask persists a new managed task in Pending. The candidate's
// dependency closure, with the candidate included, must stay acyclic.
func (s *Service) CreateTask(ctx context.Context, req CreateTaskRequest) (*task.Task, error) {
	if req.Title == "" {
		return nil, fmt.Errorf("task title is required")
	}

	t := task.New(s.newID(), req.ProjectID, req.Title)
	t.Description = req.Description
	t.Type = req.Type
	t.Priority = req.Priority
	t.Dependencies = append([]string(nil), req.Dependencies...)

	closure, err := s.dependencyClosure(ctx, req.Dependencies)
	if err != nil {
		return nil, err
	}
	if err := task.ValidateAcyclic(append(closure, t)); err != nil {
		return nil, err
	}

	if err := s.store.SaveTask(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// dependencyClosure loads every task reachable through the dependency
// relation from the given ids. Dependencies resolve globally, not per
// project, so the reachability check must follow them across project
// boundaries. Ids that do not resolve are skipped here; the Start gate
// rejects them at execution time.
func (s *Service) dependencyClosure(ctx context.Context, ids []string) ([]*task.Task, error) {
	seen := make(map[string]struct{})
	var closure []*task.Task

	queue := append([]string(nil), ids...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		dep, err := s.store.GetTask(ctx, id)
		if errors.Is(err, persistence.ErrTaskNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("loading dependency %s: %w", id, err)
		}
		closure = append(closure, dep)
		queue = append(queue, dep.Dependencies...)
	}
	return closure, nil
}

// GetTask returns the persisted task.
func (s *Service) GetTask(ctx context.Context, taskID string) (*task.Task, error) {
	return s.store.GetTask(ctx, taskID)
}

// ListTasks returns tasks matching the filter.
func (s *Service) ListTasks(ctx context.Context, f persistence.Filter) ([]*task.Task, error) {
	return s.store.QueryTasks(ctx, f)
}

// DeleteTask removes the task. Deletion is the only way a task leaves
// the system; no status transition implies it.
func (s *Service) DeleteTask(ctx context.Context, taskID string) error {
	return s.store.DeleteTask(ctx, taskID)
}

// RegisterWorkflows registers the configured workflow pipelines. Every
// referenced step key must already be registered so a typo surfaces at
// startup rather than mid-run.
func RegisterWorkflows(reg *registry.Registry, workflows map[string]config.WorkflowConfig) error {
	for key, wf := range workflows {
		if len(wf.Steps) == 0 {
			return fmt.Errorf("workflow %q declares no steps", key)
		}
		for _, stepKey := range wf.Steps {
			if _, ok := reg.Get(registry.CategoryStep, stepKey); !ok {
				return fmt.Errorf("workflow %q references unregistered step %q", key, stepKey)
			}
		}
		err := reg.Register(registry.Definition{
			Key:        key,
			Category:   registry.CategoryWorkflow,
			DependsOn:  wf.Steps,
			Executable: registry.NoopExecutable,
		}, true)
		if err != nil {
			return fmt.Errorf("registering workflow %q: %w", key, err)
		}
	}
	return nil
}
