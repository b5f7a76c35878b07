package registry

import (
	"context"
	"log"
)

// Category partitions the registry namespace. A unit key is unique
// within its category only.
type Category string

const (
	CategoryFramework Category = "framework"
	CategoryStep      Category = "step"
	CategoryWorkflow  Category = "workflow"
)

// String implements fmt.Stringer.
func (c Category) String() string {
	return string(c)
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryFramework, CategoryStep, CategoryWorkflow:
		return true
	}
	return false
}

// resolveOrder is the category search order for cross-category
// dependency resolution: steps are the most common dependency target.
var resolveOrder = []Category{CategoryStep, CategoryFramework, CategoryWorkflow}

// ExecContext is what a built unit sees when it runs: a logger, the
// accumulated key-value bag for step-to-step data passing, and the
// unit's resolved dependencies. Cancellation travels on the context
// argument of Execute, not here.
type ExecContext struct {
	Logger *log.Logger
	Values map[string]string
	Deps   map[string]*Runnable
}

// Executable is the function bound to a unit definition. It receives the
// execution context and returns outputs to merge into the shared bag.
// Failures that are safe to retry must be wrapped with Transient.
type Executable func(ctx context.Context, ec *ExecContext) (map[string]string, error)

// NoopExecutable satisfies the executable requirement for composite
// units (workflows) whose steps are run individually by the orchestrator.
func NoopExecutable(ctx context.Context, ec *ExecContext) (map[string]string, error) {
	return nil, nil
}

// Definition describes a registrable unit: a Framework, Step, or
// Workflow. The three are structurally identical; for workflow units
// DependsOn doubles as the ordered list of step keys.
type Definition struct {
	Key          string
	Category     Category
	Version      string
	Capabilities []string
	DependsOn    []string
	Executable   Executable
}

// HasCapability reports whether the definition declares the capability.
func (d Definition) HasCapability(cap string) bool {
	for _, c := range d.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

func (d Definition) clone() Definition {
	cp := d
	if d.Capabilities != nil {
		cp.Capabilities = append([]string(nil), d.Capabilities...)
	}
	if d.DependsOn != nil {
		cp.DependsOn = append([]string(nil), d.DependsOn...)
	}
	return cp
}
