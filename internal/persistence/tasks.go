package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/taskforge/taskforge/internal/task"
)

// SaveTask inserts a new task (Version == 0) or updates an existing one.
// Updates are a compare-and-set on the version counter: if the stored
// version differs, ErrVersionConflict is returned and nothing changes.
// On success the in-memory Version is advanced to match the store, and
// a status change is appended to the task's bounded status history.
func (s *SQLiteStore) SaveTask(ctx context.Context, t *task.Task) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	metadata, err := marshalMetadata(t.Metadata)
	if err != nil {
		return err
	}

	if t.Version == 0 {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO tasks (id, project_id, title, description, type, status, priority, source,
				natural_key, content_hash, metadata, version, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		`, t.ID, t.ProjectID, t.Title, t.Description, t.Type, string(t.Status), int(t.Priority),
			string(t.Source), t.NaturalKey, t.ContentHash, metadata,
			t.CreatedAt.UnixNano(), t.UpdatedAt.UnixNano())
		if err != nil {
			return fmt.Errorf("failed to insert task: %w", err)
		}
		if err := s.appendHistory(ctx, tx, t.ID, t.Status); err != nil {
			return err
		}
	} else {
		var prevStatus string
		err = tx.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = ?`, t.ID).Scan(&prevStatus)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: %s", ErrTaskNotFound, t.ID)
		}
		if err != nil {
			return fmt.Errorf("failed to read current status: %w", err)
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE tasks
			SET project_id = ?, title = ?, description = ?, type = ?, status = ?, priority = ?,
				source = ?, natural_key = ?, content_hash = ?, metadata = ?,
				version = version + 1, updated_at = ?
			WHERE id = ? AND version = ?
		`, t.ProjectID, t.Title, t.Description, t.Type, string(t.Status), int(t.Priority),
			string(t.Source), t.NaturalKey, t.ContentHash, metadata,
			t.UpdatedAt.UnixNano(), t.ID, t.Version)
		if err != nil {
			return fmt.Errorf("failed to update task: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("%w: %s", ErrVersionConflict, t.ID)
		}

		if task.Status(prevStatus) != t.Status {
			if err := s.appendHistory(ctx, tx, t.ID, t.Status); err != nil {
				return err
			}
		}
	}

	// Replace dependency rows.
	if _, err := tx.ExecContext(ctx, `DELETE FROM task_dependencies WHERE task_id = ?`, t.ID); err != nil {
		return fmt.Errorf("failed to delete old dependencies: %w", err)
	}
	for _, depID := range t.Dependencies {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO task_dependencies (task_id, depends_on_id)
			VALUES (?, ?)
		`, t.ID, depID)
		if err != nil {
			return fmt.Errorf("failed to insert dependency %s -> %s: %w", t.ID, depID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	t.Version++
	return nil
}

// GetTask retrieves a task by id, including its dependencies.
func (s *SQLiteStore) GetTask(ctx context.Context, taskID string) (*task.Task, error) {
	return s.getTaskWhere(ctx, `id = ?`, taskID)
}

// GetTaskByNaturalKey retrieves a manual task by its stable external key.
func (s *SQLiteStore) GetTaskByNaturalKey(ctx context.Context, naturalKey string) (*task.Task, error) {
	if naturalKey == "" {
		return nil, fmt.Errorf("%w: empty natural key", ErrTaskNotFound)
	}
	return s.getTaskWhere(ctx, `natural_key = ?`, naturalKey)
}

func (s *SQLiteStore) getTaskWhere(ctx context.Context, where string, arg any) (*task.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, title, description, type, status, priority, source,
			natural_key, content_hash, metadata, version, created_at, updated_at
		FROM tasks
		WHERE `+where, arg)

	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %v", ErrTaskNotFound, arg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query task: %w", err)
	}

	if err := s.loadDependencies(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// QueryTasks returns tasks matching the filter, ordered by creation time.
func (s *SQLiteStore) QueryTasks(ctx context.Context, f Filter) ([]*task.Task, error) {
	query := `
		SELECT id, project_id, title, description, type, status, priority, source,
			natural_key, content_hash, metadata, version, created_at, updated_at
		FROM tasks WHERE 1=1`
	var args []any
	if f.ProjectID != "" {
		query += ` AND project_id = ?`
		args = append(args, f.ProjectID)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if f.Source != "" {
		query += ` AND source = ?`
		args = append(args, string(f.Source))
	}
	if f.Type != "" {
		query += ` AND type = ?`
		args = append(args, f.Type)
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}

	for _, t := range tasks {
		if err := s.loadDependencies(ctx, t); err != nil {
			return nil, err
		}
	}
	return tasks, nil
}

// DeleteTask removes a task, its dependency rows, and its history.
func (s *SQLiteStore) DeleteTask(ctx context.Context, taskID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, taskID)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(sc scanner) (*task.Task, error) {
	t := &task.Task{}
	var status, source, metadata string
	var priority int
	var createdAt, updatedAt int64

	err := sc.Scan(&t.ID, &t.ProjectID, &t.Title, &t.Description, &t.Type, &status, &priority,
		&source, &t.NaturalKey, &t.ContentHash, &metadata, &t.Version, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	t.Status = task.Status(status)
	t.Priority = task.Priority(priority)
	t.Source = task.Source(source)
	t.CreatedAt = time.Unix(0, createdAt)
	t.UpdatedAt = time.Unix(0, updatedAt)

	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &t.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode task metadata: %w", err)
		}
	}
	if t.Metadata == nil {
		t.Metadata = map[string]string{}
	}
	return t, nil
}

func (s *SQLiteStore) loadDependencies(ctx context.Context, t *task.Task) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT depends_on_id
		FROM task_dependencies
		WHERE task_id = ?
		ORDER BY depends_on_id
	`, t.ID)
	if err != nil {
		return fmt.Errorf("failed to query dependencies: %w", err)
	}
	defer rows.Close()

	t.Dependencies = nil
	for rows.Next() {
		var depID string
		if err := rows.Scan(&depID); err != nil {
			return fmt.Errorf("failed to scan dependency: %w", err)
		}
		t.Dependencies = append(t.Dependencies, depID)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating dependencies: %w", err)
	}
	return nil
}

func marshalMetadata(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to encode task metadata: %w", err)
	}
	return string(data), nil
}
