package task

import (
	"fmt"

	"github.com/gammazero/toposort"
)

// ValidateAcyclic verifies that the dependency relation over the given
// tasks contains no cycle. It is called at creation/insertion time with
// the candidate task included in the set. Dependencies on ids absent
// from the set are ignored here (they cannot close a cycle); the Start
// gate rejects them at execution time instead. A self-dependency is
// always a cycle.
func ValidateAcyclic(tasks []*Task) error {
	present := make(map[string]struct{}, len(tasks))
	for _, t := range tasks {
		present[t.ID] = struct{}{}
	}

	var edges []toposort.Edge
	for _, t := range tasks {
		hasEdge := false
		for _, depID := range t.Dependencies {
			if depID == t.ID {
				return fmt.Errorf("task %q depends on itself", t.ID)
			}
			if _, ok := present[depID]; !ok {
				continue
			}
			// Edge (depID, t.ID): depID must complete before t.
			edges = append(edges, toposort.Edge{depID, t.ID})
			hasEdge = true
		}
		if !hasEdge {
			// Ensure isolated tasks participate in the sort.
			edges = append(edges, toposort.Edge{nil, t.ID})
		}
	}

	if _, err := toposort.Toposort(edges); err != nil {
		return fmt.Errorf("dependency graph contains cycle: %w", err)
	}
	return nil
}
