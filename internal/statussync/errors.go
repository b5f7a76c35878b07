package statussync

import (
	"fmt"

	"github.com/taskforge/taskforge/internal/task"
)

// NoSuchHistoricalStatusError rejects a rollback to a status the task
// has not actually held within the recorded history window. It exists
// to keep the sanctioned transition-table bypass bounded to undo.
type NoSuchHistoricalStatusError struct {
	TaskID string
	Status task.Status
}

func (e *NoSuchHistoricalStatusError) Error() string {
	return fmt.Sprintf("task %q has no recorded history of status %q", e.TaskID, e.Status)
}
