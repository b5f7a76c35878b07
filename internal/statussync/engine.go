package statussync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/taskforge/taskforge/internal/events"
	"github.com/taskforge/taskforge/internal/persistence"
	"github.com/taskforge/taskforge/internal/source"
	"github.com/taskforge/taskforge/internal/task"
)

// Config configures the sync engine.
type Config struct {
	ProjectID string      // Project imported manual tasks belong to
	TaskType  string      // Type tag for imported tasks (default "manual-doc")
	Logger    *log.Logger // Defaults to log.Default()
}

// Engine reconciles manual task records against the store. It never
// aborts a pass on a single bad item: invalid transitions and store
// errors are aggregated into the report, item by item.
type Engine struct {
	cfg    Config
	store  persistence.Store
	bus    *events.Bus
	logger *log.Logger
	newID  func() string
}

// New creates a sync engine. The bus is optional.
func New(cfg Config, store persistence.Store, bus *events.Bus) *Engine {
	if cfg.TaskType == "" {
		cfg.TaskType = "manual-doc"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		cfg:    cfg,
		store:  store,
		bus:    bus,
		logger: logger,
		newID:  uuid.NewString,
	}
}

// Sync reconciles the observed records with the persisted task set.
// Records are matched by natural key: unmatched records are imported as
// Pending manual tasks, matched records with a differing content hash
// are updated, the rest are counted unchanged. A status change implied
// by a changed record is validated against the lifecycle table first;
// rejected items land in InvalidTransitions with the task untouched.
func (e *Engine) Sync(ctx context.Context, observed []source.ManualTaskRecord) (*SyncReport, error) {
	report := &SyncReport{}

	for _, rec := range observed {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if rec.NaturalKey == "" {
			report.Errors = append(report.Errors, ItemError{Reason: "record has no natural key"})
			continue
		}

		existing, err := e.store.GetTaskByNaturalKey(ctx, rec.NaturalKey)
		switch {
		case errors.Is(err, persistence.ErrTaskNotFound):
			if err := e.importRecord(ctx, rec); err != nil {
				report.Errors = append(report.Errors, ItemError{TaskID: rec.NaturalKey, Reason: err.Error()})
				continue
			}
			report.Imported++
		case err != nil:
			report.Errors = append(report.Errors, ItemError{TaskID: rec.NaturalKey, Reason: err.Error()})
		case existing.ContentHash == rec.ContentHash:
			report.Unchanged++
		default:
			e.applyChanged(ctx, existing.ID, rec, report)
		}
	}

	e.publishSummary(report)
	return report, nil
}

// importRecord persists a new manual task in Pending.
func (e *Engine) importRecord(ctx context.Context, rec source.ManualTaskRecord) error {
	t := task.New(e.newID(), e.cfg.ProjectID, rec.Title)
	t.Source = task.SourceManual
	t.Type = e.cfg.TaskType
	t.NaturalKey = rec.NaturalKey
	t.ContentHash = rec.ContentHash
	t.Description = rec.Content
	t.Metadata[task.MetaSourcePath] = rec.NaturalKey
	return e.store.SaveTask(ctx, t)
}

// applyChanged updates one matched task. The apply is atomic at task
// granularity: validation happens before any mutation, and a lost
// compare-and-set is retried once on a fresh read before being
// reported as an error.
func (e *Engine) applyChanged(ctx context.Context, taskID string, rec source.ManualTaskRecord, report *SyncReport) {
	for attempt := 0; ; attempt++ {
		t, err := e.store.GetTask(ctx, taskID)
		if err != nil {
			report.Errors = append(report.Errors, ItemError{TaskID: taskID, Reason: err.Error()})
			return
		}

		from := t.Status
		implied := rec.ImpliedStatus
		if implied != "" && implied != from && !task.CanTransition(from, implied) {
			report.InvalidTransitions = append(report.InvalidTransitions, InvalidTransition{
				TaskID: t.ID, From: from, To: implied,
			})
			return
		}

		t.Title = rec.Title
		t.Description = rec.Content
		t.ContentHash = rec.ContentHash
		t.Touch()
		if implied != "" && implied != from {
			if err := applyStatus(t, implied, e.resolver(ctx)); err != nil {
				report.Errors = append(report.Errors, ItemError{TaskID: t.ID, Reason: err.Error()})
				return
			}
		}

		if err := e.store.SaveTask(ctx, t); err != nil {
			if errors.Is(err, persistence.ErrVersionConflict) && attempt == 0 {
				continue
			}
			report.Errors = append(report.Errors, ItemError{TaskID: t.ID, Reason: err.Error()})
			return
		}

		if from != t.Status {
			e.publishTransition(t.ID, from, t.Status)
		}
		report.Updated++
		return
	}
}

// BatchTransition attempts a lifecycle-validated transition to target on
// each task independently: one rejected or missing task never blocks
// the others.
func (e *Engine) BatchTransition(ctx context.Context, taskIDs []string, target task.Status) *BatchReport {
	report := &BatchReport{}
	for _, id := range taskIDs {
		if err := e.transitionOne(ctx, id, target); err != nil {
			report.Failed++
			report.Failures = append(report.Failures, ItemError{TaskID: id, Reason: err.Error()})
			continue
		}
		report.Successful++
	}
	return report
}

func (e *Engine) transitionOne(ctx context.Context, taskID string, target task.Status) error {
	for attempt := 0; ; attempt++ {
		t, err := e.store.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		from := t.Status
		if err := applyStatus(t, target, e.resolver(ctx)); err != nil {
			return err
		}
		if err := e.store.SaveTask(ctx, t); err != nil {
			if errors.Is(err, persistence.ErrVersionConflict) && attempt == 0 {
				continue
			}
			return err
		}
		if from != t.Status {
			e.publishTransition(t.ID, from, t.Status)
		}
		return nil
	}
}

// Rollback force-sets each task back to previous, bypassing the
// transition table. The bypass is bounded: previous must appear in the
// task's recorded status history, otherwise the item fails with
// NoSuchHistoricalStatus and is left untouched.
func (e *Engine) Rollback(ctx context.Context, taskIDs []string, previous task.Status) *RollbackReport {
	report := &RollbackReport{}
	for _, id := range taskIDs {
		if err := e.rollbackOne(ctx, id, previous); err != nil {
			report.Failed++
			report.Failures = append(report.Failures, ItemError{TaskID: id, Reason: err.Error()})
			continue
		}
		report.Successful++
	}
	return report
}

func (e *Engine) rollbackOne(ctx context.Context, taskID string, previous task.Status) error {
	if !previous.Valid() {
		return fmt.Errorf("unknown status %q", previous)
	}
	history, err := e.store.StatusHistory(ctx, taskID)
	if err != nil {
		return err
	}
	held := false
	for _, s := range history {
		if s == previous {
			held = true
			break
		}
	}
	if !held {
		return &NoSuchHistoricalStatusError{TaskID: taskID, Status: previous}
	}

	for attempt := 0; ; attempt++ {
		t, err := e.store.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		from := t.Status
		t.ForceStatus(previous)
		if err := e.store.SaveTask(ctx, t); err != nil {
			if errors.Is(err, persistence.ErrVersionConflict) && attempt == 0 {
				continue
			}
			return err
		}
		if from != previous {
			e.publishTransition(t.ID, from, previous)
		}
		return nil
	}
}

// applyStatus routes a validated target status through the task's named
// operation so operation-specific metadata is recorded consistently.
func applyStatus(t *task.Task, target task.Status, deps task.DependencyResolver) error {
	switch target {
	case task.StatusInProgress:
		if t.Status == task.StatusPaused {
			return t.Resume()
		}
		return t.Start(deps)
	case task.StatusScheduled:
		return t.Schedule()
	case task.StatusPaused:
		return t.Pause()
	case task.StatusCompleted:
		return t.Complete("completed via sync")
	case task.StatusFailed:
		return t.Fail("marked failed in source")
	case task.StatusCancelled:
		return t.Cancel("cancelled via sync")
	case task.StatusPending:
		return t.Retry()
	}
	return fmt.Errorf("unknown status %q", target)
}

// resolver adapts the store to the task dependency gate.
func (e *Engine) resolver(ctx context.Context) task.DependencyResolver {
	return task.ResolverFunc(func(id string) (*task.Task, bool) {
		t, err := e.store.GetTask(ctx, id)
		if err != nil {
			return nil, false
		}
		return t, true
	})
}

func (e *Engine) publishTransition(taskID string, from, to task.Status) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(events.TopicTask, events.TaskTransitionedEvent{
		ID: taskID, From: from, To: to, Timestamp: time.Now(),
	})
}

func (e *Engine) publishSummary(report *SyncReport) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(events.TopicSync, events.SyncCompletedEvent{
		Imported:  report.Imported,
		Updated:   report.Updated,
		Unchanged: report.Unchanged,
		Invalid:   len(report.InvalidTransitions),
		Errors:    len(report.Errors),
		Timestamp: time.Now(),
	})
}
