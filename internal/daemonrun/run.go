package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"sequentier/internal/config"
	"sequentier/internal/daemon"
	"sequentier/internal/deps"
	"sequentier/internal/history"
	"sequentier/internal/logging"
	"sequentier/internal/notifications"
	"sequentier/internal/queue"
	"sequentier/internal/retention"
	"sequentier/internal/worker"
	"sequentier/internal/workflow"
)

const workerWaitDelay = 5 * time.Second

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the sequentier engine in the foreground and blocks until
// SIGINT/SIGTERM or cmdCtx cancellation. SIGHUP reloads the configuration.
func Run(cmdCtx context.Context, configPath string, opts Options) error {
	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Logging.Directory, fmt.Sprintf("sequentier-%s.log", runID))
	level := opts.LogLevel
	if strings.TrimSpace(level) == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
		Development:      opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if err := ensureCurrentLogPointer(cfg.Logging.Directory, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update sequentier.log link: %v\n", err)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Logging.Directory, Pattern: "sequentier-*.log", Exclude: []string{logPath}},
	)

	if !exists {
		logging.WarnWithContext(logger, "config file not found; running with defaults", "config_missing",
			logging.String("path", resolved),
			logging.String(logging.FieldErrorHint, "run `sequentier config init` to create one"),
			logging.String(logging.FieldImpact, "no mappings are configured, so every batch fails"),
		)
	}
	cell, err := config.NewCell(resolved, logger)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logMappingSnapshot(logger, cell.Get(), resolved)

	archive, err := history.Open(cfg.HistoryPath())
	if err != nil {
		logger.Error("open history store", logging.Error(err))
		return err
	}
	defer archive.Close()

	notifier := notifications.NewService(cfg, logger)
	store := queue.NewStore(cell, logger)
	processor := workflow.NewProcessor(store, worker.NewCommandRunner(workerWaitDelay), notifier, logger,
		workflow.WithHistory(archive))
	manager := workflow.NewManager(cell, store, processor, logger)
	sweeper := retention.NewSweeper(cell, logger, retention.WithActiveDirectories(store.ActiveOutputDirectories))

	d, err := daemon.New(cell, store, manager, sweeper, logger, daemon.WithNotifier(notifier))
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the state directory, queue directories, and API bind address"),
		)
		return err
	}
	defer d.Stop()

	hangup := make(chan os.Signal, 1)
	signal.Notify(hangup, syscall.SIGHUP)
	defer signal.Stop(hangup)

	for {
		select {
		case <-signalCtx.Done():
			logger.Info("sequentier daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
			return nil
		case <-d.Done():
			if err := d.Err(); err != nil {
				return fmt.Errorf("daemon services: %w", err)
			}
			return nil
		case <-hangup:
			logger.Info("SIGHUP received; reloading configuration", logging.String(logging.FieldEventType, "config_reload_requested"))
			_ = cell.Reload()
		}
	}
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "sequentier.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

// logMappingSnapshot records which worker executables resolve at startup.
// Templated paths are only checked once a user is known.
func logMappingSnapshot(logger *slog.Logger, cfg *config.Config, path string) {
	if logger == nil || cfg == nil {
		return
	}
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "mapping_snapshot"),
		logging.String("config_path", path),
		logging.Int("mappings", len(cfg.Mapping)),
		logging.Int("max_concurrent_jobs", cfg.Engine.MaxConcurrentJobs),
		logging.Int("timeout_seconds", cfg.TimeoutSeconds),
		logging.Int("default_retry_count", cfg.DefaultRetryCount),
		logging.Int("file_retention_hours", cfg.FileRetentionHours),
		logging.Bool("webhook_enabled", strings.TrimSpace(cfg.Notifications.WebhookURL) != ""),
	}
	for _, status := range deps.CheckBinaries(deps.MappingRequirements(cfg)) {
		attrs = append(attrs, logging.Bool(status.Name+"_available", status.Available))
		if !status.Available {
			logging.WarnWithContext(logger, "worker executable unavailable", "worker_unavailable",
				logging.String(logging.FieldTargetApp, status.Name),
				logging.String("detail", status.Detail),
				logging.String(logging.FieldImpact, "jobs for this app will fail until the executable is installed"),
			)
		}
	}
	logger.Info("configuration snapshot", logging.Args(attrs...)...)
}
