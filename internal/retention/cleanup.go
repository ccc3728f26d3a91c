package retention

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"sequentier/internal/logging"
)

// CleanResult contains the outcome of one tree cleanup.
type CleanResult struct {
	RemovedFiles []string
	RemovedDirs  []string
	Errors       []CleanupError
}

// CleanupError pairs a path with its cleanup error.
type CleanupError struct {
	Path  string
	Error error
}

func (r *CleanResult) merge(other CleanResult) {
	r.RemovedFiles = append(r.RemovedFiles, other.RemovedFiles...)
	r.RemovedDirs = append(r.RemovedDirs, other.RemovedDirs...)
	r.Errors = append(r.Errors, other.Errors...)
}

// CleanTree removes files below root last modified before cutoff, then
// removes every empty directory bottom-up whatever its age. root itself and
// any path for which skip reports true (with its subtree) are never removed.
// Per-entry failures are collected and skipped.
func CleanTree(ctx context.Context, root string, cutoff time.Time, skip func(string) bool, logger *slog.Logger) CleanResult {
	result := CleanResult{}
	if logger == nil {
		logger = logging.NewNop()
	}

	root = strings.TrimSpace(root)
	if root == "" {
		return result
	}
	root = filepath.Clean(root)
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		if err != nil && !os.IsNotExist(err) {
			result.Errors = append(result.Errors, CleanupError{Path: root, Error: err})
		}
		return result
	}

	var dirs []string

	walkErr := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: path, Error: err})
			if entry != nil && entry.IsDir() && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if skip != nil && path != root && skip(path) {
			if entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if entry.IsDir() {
			if path != root {
				dirs = append(dirs, path)
			}
			return nil
		}

		info, err := entry.Info()
		if err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: path, Error: err})
			return nil
		}

		if !info.ModTime().Before(cutoff) {
			return nil
		}
		if err := os.Remove(path); err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: path, Error: err})
			logger.Warn("failed to delete expired file",
				logging.String("path", path),
				logging.Error(err),
				logging.String(logging.FieldEventType, "retention_delete_failed"),
				logging.String(logging.FieldErrorHint, "check file permissions under the sweep root"),
				logging.String(logging.FieldImpact, "disk space not reclaimed"),
			)
			return nil
		}
		result.RemovedFiles = append(result.RemovedFiles, path)
		logger.Debug("deleted expired file",
			logging.String("path", path),
			logging.Duration("age", time.Since(info.ModTime())),
		)
		return nil
	})
	if walkErr != nil {
		result.Errors = append(result.Errors, CleanupError{Path: root, Error: walkErr})
		return result
	}

	// WalkDir visits parents before children, so reverse order is bottom-up.
	for _, dir := range slices.Backward(dirs) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: dir, Error: err})
			continue
		}
		if len(entries) > 0 {
			continue
		}
		if err := os.Remove(dir); err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: dir, Error: err})
			continue
		}
		result.RemovedDirs = append(result.RemovedDirs, dir)
		logger.Debug("removed empty directory", logging.String("path", dir))
	}

	return result
}

// Within reports whether path is dir or lies below it.
func Within(path, dir string) bool {
	if dir == "" {
		return false
	}
	dir = filepath.Clean(dir)
	return path == dir || strings.HasPrefix(path, dir+string(filepath.Separator))
}
