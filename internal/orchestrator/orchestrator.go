package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/taskforge/taskforge/internal/events"
	"github.com/taskforge/taskforge/internal/persistence"
	"github.com/taskforge/taskforge/internal/registry"
	"github.com/taskforge/taskforge/internal/task"
)

// Config configures the orchestrator.
type Config struct {
	Workers     int           // Max concurrent runs (default: available cores)
	Retry       RetryConfig   // Per-step retry policy
	StepTimeout time.Duration // Bounded timeout per step attempt (default 2m)
	Logger      *log.Logger   // Defaults to log.Default()
}

// DefaultStepTimeout bounds a step attempt when none is configured.
const DefaultStepTimeout = 2 * time.Minute

// runHandle pairs the mutable run record with its cancellation flag.
// Cancellation is cooperative: the flag is checked between steps, never
// mid-step; a step that ignores it is bounded by its own timeout.
type runHandle struct {
	mu        sync.Mutex
	run       *WorkflowRun
	cancelled bool
}

func (h *runHandle) snapshot() *WorkflowRun {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.run.Clone()
}

func (h *runHandle) update(fn func(*WorkflowRun)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn(h.run)
}

func (h *runHandle) cancel() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cancelled = true
}

func (h *runHandle) isCancelled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancelled
}

// Orchestrator executes workflows against tasks: strictly sequential
// steps within a run, concurrent runs for different tasks bounded by a
// worker pool, at most one concurrent run per task.
type Orchestrator struct {
	cfg      Config
	builder  *registry.Builder
	store    persistence.Store
	bus      *events.Bus
	locks    *taskLockManager
	breakers *breakerRegistry
	slots    *semaphore.Weighted
	logger   *log.Logger

	mu   sync.Mutex
	runs map[string]*runHandle
}

// New creates an orchestrator. The bus is optional; a nil bus disables
// progress events.
func New(cfg Config, builder *registry.Builder, store persistence.Store, bus *events.Bus) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = DefaultStepTimeout
	}
	cfg.Retry = cfg.Retry.withDefaults()
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Orchestrator{
		cfg:      cfg,
		builder:  builder,
		store:    store,
		bus:      bus,
		locks:    newTaskLockManager(),
		breakers: newBreakerRegistry(),
		slots:    semaphore.NewWeighted(int64(cfg.Workers)),
		logger:   logger,
		runs:     make(map[string]*runHandle),
	}
}

// RunRequest names a workflow execution against one task.
type RunRequest struct {
	WorkflowKey string
	TaskID      string
	Values      map[string]string // Initial context bag for the steps
}

// RunOutcome pairs a finished run with its error for batch execution.
type RunOutcome struct {
	Run *WorkflowRun
	Err error
}

// Run executes the named workflow against the task. The call blocks
// until the run reaches a terminal state, returning a snapshot of the
// run record. A task with a run already in flight is rejected with
// *TaskBusyError. Execution failures (precondition or step) finalize
// the run as Failed and are returned alongside the record.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (*WorkflowRun, error) {
	if !o.locks.TryAcquire(req.TaskID) {
		return nil, &TaskBusyError{TaskID: req.TaskID}
	}
	defer o.locks.Release(req.TaskID)

	if err := o.slots.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer o.slots.Release(1)

	handle := &runHandle{run: &WorkflowRun{
		RunID:       uuid.NewString(),
		WorkflowKey: req.WorkflowKey,
		TaskID:      req.TaskID,
		Status:      RunCreated,
		StartedAt:   time.Now(),
	}}
	o.mu.Lock()
	o.runs[handle.run.RunID] = handle
	o.mu.Unlock()

	err := o.execute(ctx, handle, req)

	handle.update(func(r *WorkflowRun) {
		r.FinishedAt = time.Now()
		if err != nil && r.Error == "" {
			r.Error = err.Error()
		}
	})
	snap := handle.snapshot()
	o.publish(events.TopicRun, events.RunFinishedEvent{
		RunID:       snap.RunID,
		WorkflowKey: snap.WorkflowKey,
		ID:          snap.TaskID,
		FinalStatus: string(snap.Status),
		Duration:    snap.FinishedAt.Sub(snap.StartedAt),
		Timestamp:   time.Now(),
	})
	return snap, err
}

// execute drives the run from Created to a terminal state.
func (o *Orchestrator) execute(ctx context.Context, handle *runHandle, req RunRequest) error {
	// Resolve and build the workflow unit before touching the task.
	workflow, err := o.builder.BuildKey(registry.CategoryWorkflow, req.WorkflowKey, registry.BuildContext{
		Name:   "orchestrator",
		Logger: o.logger,
	})
	if err != nil {
		handle.update(func(r *WorkflowRun) { r.Status = RunFailed })
		return fmt.Errorf("building workflow %q: %w", req.WorkflowKey, err)
	}

	// Precondition: the task must start. An invalid transition or unmet
	// dependency aborts the run before any step executes.
	t, err := o.transitionTask(ctx, req.TaskID, func(t *task.Task) error {
		return t.Start(o.resolver(ctx))
	})
	if err != nil {
		handle.update(func(r *WorkflowRun) { r.Status = RunFailed })
		return fmt.Errorf("starting task %q: %w", req.TaskID, err)
	}

	handle.update(func(r *WorkflowRun) { r.Status = RunRunning })
	o.publish(events.TopicRun, events.RunStartedEvent{
		RunID:       handle.run.RunID,
		WorkflowKey: req.WorkflowKey,
		ID:          req.TaskID,
		Timestamp:   time.Now(),
	})

	values := make(map[string]string, len(req.Values))
	for k, v := range req.Values {
		values[k] = v
	}

	stepKeys := workflow.StepKeys()
	for _, stepKey := range stepKeys {
		// Cooperative cancellation, checked between steps only.
		if handle.isCancelled() || ctx.Err() != nil {
			reason := "run cancelled"
			if ctx.Err() != nil {
				reason = ctx.Err().Error()
			}
			handle.update(func(r *WorkflowRun) {
				r.Status = RunCancelled
				r.Error = reason
			})
			o.finalizeTask(ctx, t.ID, func(t *task.Task) error { return t.Cancel(reason) })
			return nil
		}

		step, ok := workflow.Dep(stepKey)
		if !ok {
			// The builder resolves all declared dependencies, so a miss
			// here is a workflow definition bug.
			err := fmt.Errorf("workflow %q has no built step %q", req.WorkflowKey, stepKey)
			handle.update(func(r *WorkflowRun) { r.Status = RunFailed })
			o.finalizeTask(ctx, t.ID, func(t *task.Task) error { return t.Fail(err.Error()) })
			return err
		}

		start := time.Now()
		outputs, attempts, stepErr := executeStep(ctx, step, values, o.breakers.get(stepKey), o.cfg.Retry, o.cfg.StepTimeout)
		duration := time.Since(start)

		result := StepResult{
			Key:      stepKey,
			Attempts: attempts,
			Duration: duration,
			Success:  stepErr == nil,
		}
		if stepErr != nil {
			result.Error = stepErr.Error()
		}
		handle.update(func(r *WorkflowRun) { r.StepResults = append(r.StepResults, result) })
		o.publish(events.TopicRun, events.StepCompletedEvent{
			RunID:     handle.run.RunID,
			StepKey:   stepKey,
			ID:        req.TaskID,
			Success:   stepErr == nil,
			Attempts:  attempts,
			Duration:  duration,
			Timestamp: time.Now(),
		})

		if stepErr != nil {
			failed := &StepFailedError{Key: stepKey, Attempts: attempts, Err: stepErr}
			handle.update(func(r *WorkflowRun) {
				r.Status = RunFailed
				r.Error = failed.Error()
			})
			o.finalizeTask(ctx, t.ID, func(t *task.Task) error { return t.Fail(failed.Error()) })
			return failed
		}

		for k, v := range outputs {
			values[k] = v
		}
	}

	handle.update(func(r *WorkflowRun) { r.Status = RunSucceeded })
	summary := fmt.Sprintf("workflow %s: %d step(s) completed", req.WorkflowKey, len(stepKeys))
	if result, ok := values["result"]; ok {
		summary = result
	}
	o.finalizeTask(ctx, t.ID, func(t *task.Task) error { return t.Complete(summary) })
	return nil
}

// RunMany executes the requests concurrently under the worker-pool
// bound. Outcomes are positional: outcome i belongs to request i.
func (o *Orchestrator) RunMany(ctx context.Context, reqs []RunRequest) []RunOutcome {
	outcomes := make([]RunOutcome, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Workers)
	for i, req := range reqs {
		g.Go(func() error {
			run, err := o.Run(gctx, req)
			outcomes[i] = RunOutcome{Run: run, Err: err}
			return nil // Failures live in the outcome, not the group
		})
	}
	_ = g.Wait()

	return outcomes
}

// Cancel requests cooperative cancellation of a run. The flag takes
// effect between steps; the in-flight step is never interrupted. It
// reports whether the run exists and was still cancellable.
func (o *Orchestrator) Cancel(runID string) bool {
	o.mu.Lock()
	handle, ok := o.runs[runID]
	o.mu.Unlock()
	if !ok {
		return false
	}
	if handle.snapshot().Status.Terminal() {
		return false
	}
	handle.cancel()
	return true
}

// Status returns a snapshot of the run record. Finished runs remain
// available until Forget.
func (o *Orchestrator) Status(runID string) (*WorkflowRun, bool) {
	o.mu.Lock()
	handle, ok := o.runs[runID]
	o.mu.Unlock()
	if !ok {
		return nil, false
	}
	return handle.snapshot(), true
}

// Forget drops a finished run from the registry. Runs still in flight
// are kept.
func (o *Orchestrator) Forget(runID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	handle, ok := o.runs[runID]
	if !ok {
		return false
	}
	handle.mu.Lock()
	terminal := handle.run.Status.Terminal()
	handle.mu.Unlock()
	if !terminal {
		return false
	}
	delete(o.runs, runID)
	return true
}

// resolver adapts the store to the task dependency gate.
func (o *Orchestrator) resolver(ctx context.Context) task.DependencyResolver {
	return task.ResolverFunc(func(id string) (*task.Task, bool) {
		t, err := o.store.GetTask(ctx, id)
		if err != nil {
			return nil, false
		}
		return t, true
	})
}

// transitionTask loads the task, applies op, and saves. A lost
// compare-and-set (concurrent external mutation) is retried once on a
// fresh read, then surfaced.
func (o *Orchestrator) transitionTask(ctx context.Context, taskID string, op func(*task.Task) error) (*task.Task, error) {
	for attempt := 0; ; attempt++ {
		t, err := o.store.GetTask(ctx, taskID)
		if err != nil {
			return nil, err
		}
		from := t.Status
		if err := op(t); err != nil {
			return nil, err
		}
		if err := o.store.SaveTask(ctx, t); err != nil {
			if errors.Is(err, persistence.ErrVersionConflict) && attempt == 0 {
				continue
			}
			return nil, err
		}
		if from != t.Status {
			o.publish(events.TopicTask, events.TaskTransitionedEvent{
				ID: t.ID, From: from, To: t.Status, Timestamp: time.Now(),
			})
		}
		return t, nil
	}
}

// finalizeTask applies a terminal transition and logs rather than fails:
// the run record already carries the outcome, and a task mutated
// externally mid-run must not mask it. The terminal state is persisted
// even when the caller's context is already cancelled.
func (o *Orchestrator) finalizeTask(ctx context.Context, taskID string, op func(*task.Task) error) {
	ctx = context.WithoutCancel(ctx)
	if _, err := o.transitionTask(ctx, taskID, op); err != nil {
		o.logger.Printf("WARNING: failed to finalize task %q: %v", taskID, err)
	}
}

func (o *Orchestrator) publish(topic string, ev events.Event) {
	if o.bus != nil {
		o.bus.Publish(topic, ev)
	}
}
