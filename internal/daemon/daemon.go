package daemon

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"sequentier/internal/api"
	"sequentier/internal/config"
	"sequentier/internal/logging"
	"sequentier/internal/notifications"
	"sequentier/internal/queue"
	"sequentier/internal/retention"
	"sequentier/internal/workflow"
)

const defaultReloadDebounce = 250 * time.Millisecond

// ErrAlreadyRunning reports that another daemon holds the state lock.
var ErrAlreadyRunning = errors.New("another sequentier daemon instance is already running")

// Daemon coordinates the background services and enforces single-instance execution.
type Daemon struct {
	cell     *config.Cell
	store    *queue.Store
	manager  *workflow.Manager
	sweeper  *retention.Sweeper
	notifier notifications.Service
	logger   *slog.Logger

	lockPath string
	lock     *flock.Flock
	api      *apiServer

	running atomic.Bool

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	err       error
	startedAt time.Time
	restored  queue.RestoreStats

	unsubscribe     func()
	configChangedAt time.Time
	configChanged   []string
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	StartedAt    time.Time
	ConfigPath   string
	LockFilePath string
	HistoryPath  string
	APIAddress   string
	Restored     queue.RestoreStats
	Workflow     workflow.StatusSummary

	// ConfigChangedAt and ConfigChanged describe the last reload that
	// changed a setting while the daemon was running.
	ConfigChangedAt time.Time
	ConfigChanged   []string
}

// Option customizes a Daemon.
type Option func(*Daemon)

// WithNotifier runs svc's sender for the daemon's lifetime. The same service
// should be handed to the processor so it receives the job updates.
func WithNotifier(svc notifications.Service) Option {
	return func(d *Daemon) {
		if svc != nil {
			d.notifier = svc
		}
	}
}

// New constructs a daemon with initialized dependencies.
func New(cell *config.Cell, store *queue.Store, manager *workflow.Manager, sweeper *retention.Sweeper, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cell == nil || store == nil || manager == nil || sweeper == nil {
		return nil, errors.New("daemon requires config, store, scheduler, and sweeper")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	cfg := cell.Get()
	d := &Daemon{
		cell:     cell,
		store:    store,
		manager:  manager,
		sweeper:  sweeper,
		notifier: notifications.NewService(nil, logger),
		logger:   logging.NewComponentLogger(logger, "daemon"),
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the daemon lock, restores persisted queues, and launches
// the scheduler, sweeper, config watcher, notifier, and control API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	cfg := d.cell.Get()
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("prepare directories: %w", err)
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}

	stats, err := d.store.Restore(cfg.Engine.RecoverStaleOnStart)
	if err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("restore queues: %w", err)
	}
	d.logger.Info("queues restored",
		logging.String(logging.FieldEventType, "queues_restored"),
		logging.Int("users", stats.Users),
		logging.Int("jobs", stats.Jobs),
		logging.Int("reverted_jobs", stats.RevertedJobs),
	)

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.api.start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return err
	}

	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error { return d.manager.Run(groupCtx) })
	group.Go(func() error { return d.sweeper.Run(groupCtx) })
	group.Go(func() error { return d.notifier.Run(groupCtx) })
	group.Go(func() error {
		d.watchConfig(groupCtx)
		return nil
	})

	done := make(chan struct{})
	d.mu.Lock()
	d.unsubscribe = d.cell.Subscribe(d.onConfigChange)
	d.cancel = cancel
	d.done = done
	d.err = nil
	d.startedAt = time.Now()
	d.restored = stats
	d.mu.Unlock()

	go func() {
		err := group.Wait()
		d.mu.Lock()
		d.err = err
		d.mu.Unlock()
		close(done)
	}()

	d.running.Store(true)
	d.logger.Info("sequentier daemon started",
		logging.String(logging.FieldEventType, "daemon_start"),
		logging.String("lock", d.lockPath),
		logging.String("api", d.api.address()),
	)
	return nil
}

// Done is closed once every background service has returned.
func (d *Daemon) Done() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.done
}

// Err returns the first service failure after Done is closed.
func (d *Daemon) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// Stop cancels background processing, waits for it, flushes queue records,
// and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.CompareAndSwap(true, false) {
		return
	}

	d.mu.Lock()
	cancel, done, unsubscribe := d.cancel, d.done, d.unsubscribe
	d.cancel = nil
	d.unsubscribe = nil
	d.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	d.api.stop()
	if err := d.store.FlushAll(); err != nil {
		logging.WarnWithContext(d.logger, "final queue flush failed", "queue_flush_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "the latest job states may be missing from the record files"),
		)
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.logger.Info("sequentier daemon stopped", logging.String(logging.FieldEventType, "daemon_stop"))
}

// Enqueue appends a file to the batch named by req. An empty RunID gets a
// freshly generated identifier. When the append succeeded but the record
// write failed, the job is returned together with the error.
func (d *Daemon) Enqueue(req api.EnqueueRequest) (queue.Job, error) {
	runID := strings.TrimSpace(req.RunID)
	if runID == "" {
		id := uuid.New()
		runID = hex.EncodeToString(id[:])
	}
	job, err := d.store.Enqueue(req.Path, req.TargetApp, req.User, runID)
	if err != nil && job.ID == "" {
		return job, err
	}
	d.logger.Info("file enqueued",
		logging.String(logging.FieldEventType, "file_enqueued"),
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldUser, job.User),
		logging.String(logging.FieldRunID, job.RunID),
		logging.String(logging.FieldFilePath, req.Path),
	)
	return job, err
}

// Reload re-reads the configuration file.
func (d *Daemon) Reload() error {
	return d.cell.Reload()
}

// APIAddress returns the control API listen address, or "" when disabled.
func (d *Daemon) APIAddress() string {
	return d.api.address()
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	cfg := d.cell.Get()
	d.mu.Lock()
	startedAt, restored := d.startedAt, d.restored
	changedAt, changed := d.configChangedAt, slices.Clone(d.configChanged)
	d.mu.Unlock()
	return Status{
		Running:         d.running.Load(),
		PID:             os.Getpid(),
		StartedAt:       startedAt,
		ConfigPath:      d.cell.Path(),
		LockFilePath:    d.lockPath,
		HistoryPath:     cfg.HistoryPath(),
		APIAddress:      d.api.address(),
		Restored:        restored,
		Workflow:        d.manager.Status(),
		ConfigChangedAt: changedAt,
		ConfigChanged:   changed,
	}
}

func (d *Daemon) watchConfig(ctx context.Context) {
	debounce := defaultReloadDebounce
	if millis := d.cell.Get().Engine.ReloadDebounceMillis; millis > 0 {
		debounce = time.Duration(millis) * time.Millisecond
	}
	if err := d.cell.Watch(ctx, debounce); err != nil {
		logging.WarnWithContext(d.logger, "config watcher unavailable", "config_watch_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "send SIGHUP or POST /api/config/reload after editing the file"),
			logging.String(logging.FieldImpact, "configuration edits are not picked up automatically"),
		)
		<-ctx.Done()
	}
}
