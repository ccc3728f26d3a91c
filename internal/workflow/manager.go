package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"sequentier/internal/config"
	"sequentier/internal/logging"
	"sequentier/internal/queue"
)

const defaultPollInterval = time.Second

// Manager is the scheduler: it claims Pending jobs from the store and admits
// them to the processor through a bounded gate.
type Manager struct {
	cell      *config.Cell
	store     *queue.Store
	processor *Processor
	logger    *slog.Logger

	gate     *semaphore.Weighted
	capacity int64

	backlogMu sync.Mutex
	backlog   []queue.Job
	wake      chan struct{}

	mu        sync.RWMutex
	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	active    int
	processed int
	lastErr   error
	lastJob   *queue.Job
}

// NewManager constructs a scheduler. Gate capacity is fixed at construction
// from Engine.MaxConcurrentJobs; the poll interval is re-read every tick.
func NewManager(cell *config.Cell, store *queue.Store, processor *Processor, logger *slog.Logger) *Manager {
	capacity := int64(cell.Get().Engine.MaxConcurrentJobs)
	if capacity < 1 {
		capacity = 1
	}
	return &Manager{
		cell:      cell,
		store:     store,
		processor: processor,
		logger:    logging.NewComponentLogger(logger, "scheduler"),
		gate:      semaphore.NewWeighted(capacity),
		capacity:  capacity,
		wake:      make(chan struct{}, 1),
	}
}

// Start begins background processing.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("scheduler already running")
	}
	if m.processor == nil {
		m.mu.Unlock()
		return errors.New("scheduler has no processor")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(2)
	m.mu.Unlock()

	m.logger.Info("scheduler started",
		logging.String(logging.FieldEventType, "scheduler_start"),
		logging.Int64("capacity", m.capacity),
	)
	go m.pollLoop(runCtx)
	go m.dispatchLoop(runCtx)
	return nil
}

// Stop terminates background processing and waits for in-flight jobs to
// observe the cancellation.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
	m.logger.Info("scheduler stopped", logging.String(logging.FieldEventType, "scheduler_stop"))
}

// Run starts the scheduler and blocks until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	if err := m.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	m.Stop()
	return nil
}

// Tick runs one scheduling pass: at most one claim per known user, in
// first-seen user order. It returns the number of jobs claimed.
func (m *Manager) Tick() int {
	claimed := 0
	for _, user := range m.store.Users() {
		job, ok := m.store.TryDequeuePending(user)
		if !ok {
			continue
		}
		claimed++
		m.logger.Debug("job claimed",
			logging.String(logging.FieldEventType, "job_claimed"),
			logging.String(logging.FieldJobID, job.ID),
			logging.String(logging.FieldUser, job.User),
			logging.String(logging.FieldRunID, job.RunID),
		)
		m.backlogMu.Lock()
		m.backlog = append(m.backlog, job)
		m.backlogMu.Unlock()
		select {
		case m.wake <- struct{}{}:
		default:
		}
	}
	return claimed
}

func (m *Manager) pollLoop(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		m.Tick()
		select {
		case <-ctx.Done():
			return
		case <-time.After(m.pollInterval()):
		}
	}
}

// dispatchLoop admits claimed jobs in claim order. Acquire blocks while the
// gate is full, so admission order equals backlog order.
func (m *Manager) dispatchLoop(ctx context.Context) {
	defer m.wg.Done()
	for {
		job, ok := m.popBacklog()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-m.wake:
				continue
			}
		}

		if err := m.gate.Acquire(ctx, 1); err != nil {
			// Shutdown before admission; the job stays Processing for restart recovery.
			return
		}
		m.setActive(1)
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			defer m.gate.Release(1)
			defer m.setActive(-1)
			m.runJob(ctx, job)
		}()
	}
}

func (m *Manager) runJob(ctx context.Context, job queue.Job) {
	defer func() {
		if r := recover(); r != nil {
			err := Wrap(nil, "process job", job.ID, errors.New("panic during processing"))
			m.setLastError(err)
			logging.ErrorWithContext(m.logger, "job processing panicked", "job_panic",
				logging.String(logging.FieldJobID, job.ID),
				logging.String(logging.FieldUser, job.User),
				logging.Any("panic", r),
				logging.String(logging.FieldErrorHint, "report this with the run log attached"),
			)
		}
	}()
	result := m.processor.Process(ctx, job)
	m.setLastJob(result)
}

func (m *Manager) popBacklog() (queue.Job, bool) {
	m.backlogMu.Lock()
	defer m.backlogMu.Unlock()
	if len(m.backlog) == 0 {
		return queue.Job{}, false
	}
	job := m.backlog[0]
	m.backlog[0] = queue.Job{}
	m.backlog = m.backlog[1:]
	return job, true
}

func (m *Manager) pollInterval() time.Duration {
	cfg := m.cell.Get()
	if cfg == nil || cfg.Engine.PollIntervalMillis <= 0 {
		return defaultPollInterval
	}
	return time.Duration(cfg.Engine.PollIntervalMillis) * time.Millisecond
}
