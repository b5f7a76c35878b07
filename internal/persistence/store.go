package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/taskforge/taskforge/internal/task"
	_ "modernc.org/sqlite"
)

// Sentinel errors surfaced by the store.
var (
	// ErrTaskNotFound is returned when no task matches the lookup.
	ErrTaskNotFound = errors.New("task not found")
	// ErrVersionConflict is returned when a save loses the compare-and-set
	// on the task's version counter (concurrent external mutation).
	ErrVersionConflict = errors.New("task version conflict")
)

// Filter selects tasks in QueryTasks. Zero-valued fields do not constrain.
type Filter struct {
	ProjectID string
	Status    task.Status
	Source    task.Source
	Type      string
}

// Store is the persistence port consumed by the service, orchestrator,
// and sync engine. Implementations must provide read-committed isolation
// per task row; SaveTask is a compare-and-set on the version counter.
type Store interface {
	SaveTask(ctx context.Context, t *task.Task) error
	GetTask(ctx context.Context, taskID string) (*task.Task, error)
	GetTaskByNaturalKey(ctx context.Context, naturalKey string) (*task.Task, error)
	QueryTasks(ctx context.Context, f Filter) ([]*task.Task, error)
	DeleteTask(ctx context.Context, taskID string) error

	// StatusHistory returns the most recent statuses the task has held,
	// newest first, bounded by the store's history window.
	StatusHistory(ctx context.Context, taskID string) ([]task.Status, error)

	Close() error
}

// DefaultHistoryWindow bounds StatusHistory when no depth is configured.
const DefaultHistoryWindow = 5

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db            *sql.DB
	historyWindow int
}

// NewSQLiteStore creates a SQLite-backed store at the given path.
// Creates parent directories if needed. Enables WAL mode and a busy
// timeout. historyWindow bounds StatusHistory; <= 0 uses the default.
func NewSQLiteStore(ctx context.Context, dbPath string, historyWindow int) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", dbPath)
	return open(ctx, connStr, historyWindow)
}

var memStoreSeq atomic.Int64

// NewMemoryStore creates an in-memory SQLite store for testing. Each call
// gets its own named shared-cache database so parallel tests do not see
// each other's rows.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	n := memStoreSeq.Add(1)
	connStr := fmt.Sprintf("file:taskforge-mem-%d?mode=memory&cache=shared", n)
	return open(ctx, connStr, DefaultHistoryWindow)
}

func open(ctx context.Context, connStr string, historyWindow int) (*SQLiteStore, error) {
	if historyWindow <= 0 {
		historyWindow = DefaultHistoryWindow
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable foreign keys via PRAGMA (required for modernc.org/sqlite).
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// Two connections: one for primary queries, one for dependency subqueries.
	db.SetMaxOpenConns(2)

	store := &SQLiteStore{db: db, historyWindow: historyWindow}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
