package persistence

import (
	"context"
)

// initSchema creates all required tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT,
		type TEXT,
		status TEXT NOT NULL,
		priority INTEGER NOT NULL,
		source TEXT NOT NULL,
		natural_key TEXT NOT NULL DEFAULT '',
		content_hash TEXT NOT NULL DEFAULT '',
		metadata TEXT,
		version INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_natural_key
		ON tasks(natural_key) WHERE natural_key != '';

	CREATE INDEX IF NOT EXISTS idx_tasks_project_status
		ON tasks(project_id, status);

	CREATE TABLE IF NOT EXISTS task_dependencies (
		task_id TEXT NOT NULL,
		depends_on_id TEXT NOT NULL,
		PRIMARY KEY (task_id, depends_on_id),
		FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_task_dependencies_task_id ON task_dependencies(task_id);

	CREATE TABLE IF NOT EXISTS status_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id TEXT NOT NULL,
		status TEXT NOT NULL,
		recorded_at INTEGER NOT NULL,
		FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_status_history_task
		ON status_history(task_id, id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
