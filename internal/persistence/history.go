package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/taskforge/taskforge/internal/task"
)

// appendHistory records a held status and trims the task's history to
// the configured window. Statuses that fall out of the window stop being
// valid rollback targets.
func (s *SQLiteStore) appendHistory(ctx context.Context, tx *sql.Tx, taskID string, status task.Status) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO status_history (task_id, status, recorded_at)
		VALUES (?, ?, ?)
	`, taskID, string(status), time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to append status history: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM status_history
		WHERE task_id = ? AND id NOT IN (
			SELECT id FROM status_history
			WHERE task_id = ?
			ORDER BY id DESC
			LIMIT ?
		)
	`, taskID, taskID, s.historyWindow)
	if err != nil {
		return fmt.Errorf("failed to trim status history: %w", err)
	}
	return nil
}

// StatusHistory returns the statuses the task has held, newest first,
// bounded by the history window.
func (s *SQLiteStore) StatusHistory(ctx context.Context, taskID string) ([]task.Status, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status
		FROM status_history
		WHERE task_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, taskID, s.historyWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to query status history: %w", err)
	}
	defer rows.Close()

	var history []task.Status
	for rows.Next() {
		var status string
		if err := rows.Scan(&status); err != nil {
			return nil, fmt.Errorf("failed to scan status history: %w", err)
		}
		history = append(history, task.Status(status))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating status history: %w", err)
	}
	return history, nil
}
