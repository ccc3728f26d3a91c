package logging

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// RunLogDir is the directory under a user's queue directory holding per-run logs.
const RunLogDir = "Logs"

// RunLog is an append-only JSON log file shared by every processing pass of
// one run. Worker output lines and job-scoped records are written to it in
// addition to the daemon log.
type RunLog struct {
	path    string
	file    *os.File
	handler slog.Handler
	once    sync.Once
}

// RunLogPath returns the log file for runID under queueDir.
func RunLogPath(queueDir, runID string) string {
	name := strings.NewReplacer("/", "_", `\`, "_").Replace(strings.TrimSpace(runID))
	if name == "" {
		name = "unnamed"
	}
	return filepath.Join(queueDir, RunLogDir, name+".log")
}

// OpenRunLog opens (creating as needed) the run log for runID under queueDir.
func OpenRunLog(queueDir, runID string) (*RunLog, error) {
	path := RunLogPath(queueDir, runID)
	file, err := openLogFile(path)
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}
	return &RunLog{
		path:    path,
		file:    file,
		handler: newJSONHandler(file, slog.LevelDebug, false),
	}, nil
}

// Path returns the run log location.
func (r *RunLog) Path() string {
	return r.path
}

// Attach returns a logger writing to both base and the run log.
func (r *RunLog) Attach(base *slog.Logger) *slog.Logger {
	if r == nil {
		return base
	}
	return TeeLogger(base, r.handler)
}

// Close flushes and closes the underlying file.
func (r *RunLog) Close() error {
	if r == nil {
		return nil
	}
	var err error
	r.once.Do(func() {
		err = r.file.Close()
	})
	return err
}
