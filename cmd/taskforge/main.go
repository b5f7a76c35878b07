package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/taskforge/taskforge/internal/config"
	"github.com/taskforge/taskforge/internal/events"
	"github.com/taskforge/taskforge/internal/orchestrator"
	"github.com/taskforge/taskforge/internal/persistence"
	"github.com/taskforge/taskforge/internal/registry"
	"github.com/taskforge/taskforge/internal/service"
	"github.com/taskforge/taskforge/internal/source"
	"github.com/taskforge/taskforge/internal/statussync"
	"github.com/taskforge/taskforge/internal/task"
)

const usage = `Usage: taskforge <command> [flags]

Commands:
  sync              Reconcile manual task sources into the store
  run               Execute a workflow against a task
  list              List tasks
  create            Create a managed task
  delete            Delete a task

Run 'taskforge <command> -h' for command flags.
`

// app bundles the wired components each command needs.
type app struct {
	cfg   *config.Config
	store *persistence.SQLiteStore
	reg   *registry.Registry
	orch  *orchestrator.Orchestrator
	sync  *statussync.Engine
	svc   *service.Service
	bus   *events.Bus
}

func main() {
	// Signal-aware context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.LoadDefault()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	a, err := wire(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer a.bus.Close()
	defer a.store.Close()

	var cmdErr error
	switch os.Args[1] {
	case "sync":
		cmdErr = cmdSync(ctx, a, os.Args[2:])
	case "run":
		cmdErr = cmdRun(ctx, a, os.Args[2:])
	case "list":
		cmdErr = cmdList(ctx, a, os.Args[2:])
	case "create":
		cmdErr = cmdCreate(ctx, a, os.Args[2:])
	case "delete":
		cmdErr = cmdDelete(ctx, a, os.Args[2:])
	case "-h", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
	if cmdErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", cmdErr)
		os.Exit(1)
	}
}

// wire builds the component graph from configuration. The registry
// starts with the configured workflows; step definitions are expected
// to be registered by embedding programs (the CLI ships none built in).
func wire(ctx context.Context, cfg *config.Config) (*app, error) {
	store, err := persistence.NewSQLiteStore(ctx, cfg.Store.Path, cfg.Store.HistoryWindow)
	if err != nil {
		return nil, fmt.Errorf("opening store at %s: %w", cfg.Store.Path, err)
	}

	bus := events.NewBus()

	reg := registry.New()
	if err := service.RegisterWorkflows(reg, cfg.Workflows); err != nil {
		store.Close()
		return nil, err
	}

	orch := orchestrator.New(orchestrator.Config{
		Workers:     cfg.Orchestrator.Workers,
		StepTimeout: time.Duration(cfg.Orchestrator.StepTimeoutSeconds) * time.Second,
		Retry: orchestrator.RetryConfig{
			MaxAttempts:     cfg.Orchestrator.Retry.MaxAttempts,
			InitialInterval: time.Duration(cfg.Orchestrator.Retry.InitialIntervalMS) * time.Millisecond,
			MaxInterval:     time.Duration(cfg.Orchestrator.Retry.MaxIntervalMS) * time.Millisecond,
			Multiplier:      cfg.Orchestrator.Retry.Multiplier,
		},
	}, registry.NewBuilder(reg), store, bus)

	syncEngine := statussync.New(statussync.Config{ProjectID: cfg.ProjectID}, store, bus)

	return &app{
		cfg:   cfg,
		store: store,
		reg:   reg,
		orch:  orch,
		sync:  syncEngine,
		svc:   service.New(store, log.Default()),
		bus:   bus,
	}, nil
}

func cmdSync(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	root := fs.String("root", "", "scan a single source root instead of the configured sources")
	fs.Parse(args)

	sources := a.cfg.Sources
	if *root != "" {
		sources = []config.SourceConfig{{Root: *root}}
	}
	if len(sources) == 0 {
		return fmt.Errorf("no manual sources configured")
	}

	var observed []source.ManualTaskRecord
	for _, sc := range sources {
		records, err := source.NewFilesystemSource(sc.Root, sc.Globs, log.Default()).Scan(ctx)
		if err != nil {
			return err
		}
		observed = append(observed, records...)
	}

	report, err := a.sync.Sync(ctx, observed)
	if err != nil {
		return err
	}
	fmt.Printf("Sync: %d imported, %d updated, %d unchanged\n", report.Imported, report.Updated, report.Unchanged)
	for _, inv := range report.InvalidTransitions {
		fmt.Printf("  invalid transition %s: %s -> %s\n", inv.TaskID, inv.From, inv.To)
	}
	for _, e := range report.Errors {
		fmt.Printf("  error %s: %s\n", e.TaskID, e.Reason)
	}
	return nil
}

func cmdRun(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	workflow := fs.String("workflow", "", "workflow key to execute")
	taskID := fs.String("task", "", "task id to execute against")
	fs.Parse(args)
	if *workflow == "" || *taskID == "" {
		return fmt.Errorf("run requires -workflow and -task")
	}

	run, err := a.orch.Run(ctx, orchestrator.RunRequest{WorkflowKey: *workflow, TaskID: *taskID})
	if run != nil {
		fmt.Printf("Run %s: %s (%d step(s), %s)\n",
			run.RunID, run.Status, len(run.StepResults), run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
		for _, sr := range run.StepResults {
			mark := "ok"
			if !sr.Success {
				mark = "failed: " + sr.Error
			}
			fmt.Printf("  %s (%d attempt(s), %s): %s\n", sr.Key, sr.Attempts, sr.Duration.Round(time.Millisecond), mark)
		}
	}
	return err
}

func cmdList(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	status := fs.String("status", "", "filter by status")
	src := fs.String("source", "", "filter by source (managed|manual)")
	fs.Parse(args)

	tasks, err := a.svc.ListTasks(ctx, persistence.Filter{
		ProjectID: a.cfg.ProjectID,
		Status:    task.Status(*status),
		Source:    task.Source(*src),
	})
	if err != nil {
		return err
	}
	for _, t := range tasks {
		fmt.Printf("%s  %-12s  %-8s  %s\n", t.ID, t.Status, t.Priority, t.Title)
	}
	return nil
}

func cmdCreate(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	title := fs.String("title", "", "task title")
	desc := fs.String("desc", "", "task description")
	taskType := fs.String("type", "", "task type tag")
	fs.Parse(args)

	t, err := a.svc.CreateTask(ctx, service.CreateTaskRequest{
		ProjectID:   a.cfg.ProjectID,
		Title:       *title,
		Description: *desc,
		Type:        *taskType,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Created task %s\n", t.ID)
	return nil
}

func cmdDelete(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	taskID := fs.String("task", "", "task id to delete")
	fs.Parse(args)
	if *taskID == "" {
		return fmt.Errorf("delete requires -task")
	}
	return a.svc.DeleteTask(ctx, *taskID)
}
