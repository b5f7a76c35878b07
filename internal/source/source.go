// Package source defines the manual-task source port: an external,
// non-authoritative system (typically files on disk) whose tasks are
// reconciled into the store by the sync engine.
package source

import (
	"context"
	"encoding/hex"

	"github.com/zeebo/blake3"

	"github.com/taskforge/taskforge/internal/task"
)

// ManualTaskRecord is one task as observed in the external source.
// NaturalKey is the stable identity used to match against persisted
// tasks (for filesystem sources, the path relative to the root).
// ImpliedStatus is empty when the record carries no status marker.
type ManualTaskRecord struct {
	NaturalKey    string
	Title         string
	Content       string
	ContentHash   string
	ImpliedStatus task.Status
}

// ManualSource scans an external system for task records.
type ManualSource interface {
	Scan(ctx context.Context) ([]ManualTaskRecord, error)
}

// HashContent returns the hex digest used for change detection.
func HashContent(content string) string {
	sum := blake3.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
