package source

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/taskforge/taskforge/internal/task"
)

// DefaultGlob matches task documents under the source root.
const DefaultGlob = "**/*.md"

// markerScanWindow bounds how far into a document the status marker is
// searched.
const markerScanWindow = 20

// FilesystemSource discovers manual tasks from documents on disk. The
// natural key of each record is the document path relative to the root,
// so moving a file creates a new task rather than updating the old one.
type FilesystemSource struct {
	root   string
	globs  []string
	logger *log.Logger
}

// NewFilesystemSource creates a source rooted at dir. An empty glob list
// falls back to DefaultGlob.
func NewFilesystemSource(dir string, globs []string, logger *log.Logger) *FilesystemSource {
	if len(globs) == 0 {
		globs = []string{DefaultGlob}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &FilesystemSource{root: dir, globs: globs, logger: logger}
}

// Scan walks the root and returns one record per matched document,
// ordered by natural key. Unreadable files are logged and skipped so a
// single bad file never hides the rest of the source.
func (s *FilesystemSource) Scan(ctx context.Context) ([]ManualTaskRecord, error) {
	fsys := os.DirFS(s.root)

	seen := make(map[string]struct{})
	var paths []string
	for _, pattern := range s.globs {
		err := doublestar.GlobWalk(fsys, pattern, func(path string, d fs.DirEntry) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			if _, ok := seen[path]; !ok {
				seen[path] = struct{}{}
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning %s with %q: %w", s.root, pattern, err)
		}
	}
	sort.Strings(paths)

	records := make([]ManualTaskRecord, 0, len(paths))
	for _, path := range paths {
		data, err := fs.ReadFile(fsys, path)
		if err != nil {
			s.logger.Printf("WARNING: skipping unreadable task document %s: %v", path, err)
			continue
		}
		content := string(data)
		records = append(records, ManualTaskRecord{
			NaturalKey:    path,
			Title:         titleOf(content, path),
			Content:       content,
			ContentHash:   HashContent(content),
			ImpliedStatus: impliedStatusOf(content),
		})
	}
	return records, nil
}

// titleOf takes the first markdown heading, falling back to the path.
func titleOf(content, path string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if after, ok := strings.CutPrefix(line, "#"); ok {
			title := strings.TrimSpace(strings.TrimLeft(after, "#"))
			if title != "" {
				return title
			}
		}
	}
	return path
}

// impliedStatusOf reads an optional "status: <value>" marker from the
// head of the document. Documents without a marker, or with a value the
// lifecycle does not know, imply no status change.
func impliedStatusOf(content string) task.Status {
	lines := strings.Split(content, "\n")
	if len(lines) > markerScanWindow {
		lines = lines[:markerScanWindow]
	}
	for _, line := range lines {
		value, ok := strings.CutPrefix(strings.ToLower(strings.TrimSpace(line)), "status:")
		if !ok {
			continue
		}
		return parseStatusMarker(strings.TrimSpace(value))
	}
	return ""
}

func parseStatusMarker(value string) task.Status {
	switch value {
	case "pending", "todo":
		return task.StatusPending
	case "scheduled":
		return task.StatusScheduled
	case "in_progress", "in-progress", "started":
		return task.StatusInProgress
	case "paused", "on-hold":
		return task.StatusPaused
	case "completed", "done":
		return task.StatusCompleted
	case "cancelled":
		return task.StatusCancelled
	case "failed":
		return task.StatusFailed
	}
	return ""
}
