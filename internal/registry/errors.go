package registry

import (
	"errors"
	"fmt"
	"strings"
)

// DuplicateKeyError reports a registration clash without the overwrite flag.
type DuplicateKeyError struct {
	Category Category
	Key      string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("unit %s/%s is already registered", e.Category, e.Key)
}

// InvalidDefinitionError reports a definition missing required fields.
type InvalidDefinitionError struct {
	Key     string
	Missing []string
}

func (e *InvalidDefinitionError) Error() string {
	return fmt.Sprintf("invalid unit definition %q: missing %s", e.Key, strings.Join(e.Missing, ", "))
}

// UnresolvedDependencyError reports a build-time dependency lookup miss.
type UnresolvedDependencyError struct {
	Key     string // Unit being built
	Missing string // Dependency key that did not resolve
}

func (e *UnresolvedDependencyError) Error() string {
	return fmt.Sprintf("unit %q depends on unregistered unit %q", e.Key, e.Missing)
}

// TransientError marks a unit execution failure as safe to retry. Step
// executables opt in by wrapping; anything unwrapped is treated as
// permanent by the orchestrator.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err so the orchestrator will retry it. Wrapping nil
// returns nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err is flagged as retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
