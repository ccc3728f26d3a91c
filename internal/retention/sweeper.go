package retention

import (
	"context"
	"log/slog"
	"maps"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"sequentier/internal/config"
	"sequentier/internal/logging"
)

const defaultSweepInterval = 15 * time.Minute

// Sweeper periodically removes expired files below the configured roots.
type Sweeper struct {
	cell   *config.Cell
	logger *slog.Logger
	now    func() time.Time
	active func() []string
}

// Option customizes a Sweeper.
type Option func(*Sweeper)

// WithClock overrides the time source used to compute the cutoff.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// WithActiveDirectories protects the directories reported by active, and
// everything below them, for the duration of each pass. The daemon passes the
// output directories of batches still being processed.
func WithActiveDirectories(active func() []string) Option {
	return func(s *Sweeper) {
		s.active = active
	}
}

// NewSweeper builds a sweeper reading its settings from cell on every pass.
func NewSweeper(cell *config.Cell, logger *slog.Logger, opts ...Option) *Sweeper {
	s := &Sweeper{
		cell:   cell,
		logger: logging.NewComponentLogger(logger, "retention"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps immediately and then every Engine.SweepIntervalMinutes until
// ctx is cancelled. A failing sweep never stops the loop.
func (s *Sweeper) Run(ctx context.Context) error {
	for {
		s.Sweep(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.interval()):
		}
	}
}

// Sweep performs one pass against the current configuration. It is a no-op
// when FileRetentionHours is zero.
func (s *Sweeper) Sweep(ctx context.Context) CleanResult {
	result := CleanResult{}
	cfg := s.cell.Get()
	if cfg == nil || cfg.FileRetentionHours <= 0 {
		return result
	}

	cutoff := s.now().Add(-time.Duration(cfg.FileRetentionHours) * time.Hour)
	roots := Roots(cfg)
	s.logger.Info("retention sweep started",
		logging.String(logging.FieldEventType, "retention_sweep_start"),
		logging.Time("cutoff", cutoff),
		logging.Int("retention_hours", cfg.FileRetentionHours),
		logging.Int("roots", len(roots)),
	)

	skip := s.skipFunc(cfg)
	for _, root := range roots {
		if ctx.Err() != nil {
			break
		}
		result.merge(CleanTree(ctx, root, cutoff, skip, s.logger))
	}

	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "retention_sweep_complete"),
		logging.Int("files_removed", len(result.RemovedFiles)),
		logging.Int("dirs_removed", len(result.RemovedDirs)),
		logging.Int("errors", len(result.Errors)),
	}
	if len(result.Errors) > 0 {
		attrs = append(attrs,
			logging.String("first_error_path", result.Errors[0].Path),
			logging.Error(result.Errors[0].Error),
		)
		logging.WarnWithContext(s.logger, "retention sweep finished with errors", "retention_sweep_complete",
			append(attrs,
				logging.String(logging.FieldErrorHint, "check permissions under the watch and output roots"),
				logging.String(logging.FieldImpact, "some expired files were kept"),
			)...,
		)
		return result
	}
	s.logger.Info("retention sweep finished", logging.Args(attrs...)...)
	return result
}

// Roots returns the distinct sweep roots for cfg: the watch directory and
// every mapping's output directory, each cut before its {USER} token.
// Templates whose token is the first path element are skipped, and a root
// nested inside another root is dropped.
func Roots(cfg *config.Config) []string {
	candidates := []string{cfg.WatchDirectory}
	for _, name := range slices.Sorted(maps.Keys(cfg.Mapping)) {
		candidates = append(candidates, cfg.Mapping[name].OutputDirectory)
	}

	var roots []string
	for _, template := range candidates {
		root, ok := config.SweepRoot(strings.TrimSpace(template))
		if !ok {
			continue
		}
		root = filepath.Clean(root)
		nested := false
		kept := roots[:0]
		for _, existing := range roots {
			switch {
			case Within(root, existing):
				nested = true
				kept = append(kept, existing)
			case Within(existing, root):
				// existing is covered by the broader root
			default:
				kept = append(kept, existing)
			}
		}
		roots = kept
		if !nested {
			roots = append(roots, root)
		}
	}
	return roots
}

// protectedPaths reports whether a path belongs to queue records, run logs,
// daemon logs, or the state database, none of which retention may delete.
func protectedPaths(cfg *config.Config) func(string) bool {
	queueTemplate := cfg.QueueDirectory
	logDir := cfg.Logging.Directory
	history := cfg.HistoryPath()
	lock := cfg.LockPath()
	return func(path string) bool {
		if Within(path, logDir) || path == lock || strings.HasPrefix(path, history) {
			return true
		}
		if !strings.Contains(queueTemplate, config.UserToken) {
			return Within(path, queueTemplate)
		}
		user, ok := config.UserFromPath(queueTemplate, path)
		if !ok {
			return false
		}
		userCfg, err := cfg.ForUser(user)
		if err != nil {
			return false
		}
		// Parents of a queue directory must stay walkable; only the directory
		// itself and its contents are protected.
		return Within(path, userCfg.QueueDirectory)
	}
}

func (s *Sweeper) skipFunc(cfg *config.Config) func(string) bool {
	protected := protectedPaths(cfg)
	var active []string
	if s.active != nil {
		active = s.active()
	}
	return func(path string) bool {
		if protected(path) {
			return true
		}
		for _, dir := range active {
			if Within(path, dir) {
				return true
			}
		}
		return false
	}
}

func (s *Sweeper) interval() time.Duration {
	cfg := s.cell.Get()
	if cfg == nil || cfg.Engine.SweepIntervalMinutes <= 0 {
		return defaultSweepInterval
	}
	return time.Duration(cfg.Engine.SweepIntervalMinutes) * time.Minute
}
