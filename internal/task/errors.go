package task

import (
	"fmt"
	"strings"
)

// InvalidTransitionError reports a status change the lifecycle table forbids.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition from %q to %q", e.From, e.To)
}

// DependenciesNotSatisfiedError reports a start attempt while one or more
// dependencies have not reached Completed.
type DependenciesNotSatisfiedError struct {
	TaskID string
	Unmet  []string // Dependency ids that are missing or not completed
}

func (e *DependenciesNotSatisfiedError) Error() string {
	return fmt.Sprintf("task %q has unsatisfied dependencies: %s", e.TaskID, strings.Join(e.Unmet, ", "))
}
