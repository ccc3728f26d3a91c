package queue

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"sequentier/internal/config"
	"sequentier/internal/logging"
)

// Store owns every user's job list. Each user has its own lock, which also
// serializes writes to that user's record files.
type Store struct {
	cell   *config.Cell
	logger *slog.Logger
	now    func() time.Time

	mu    sync.RWMutex
	users map[string]*userQueue
	order []string
}

type userQueue struct {
	mu     sync.Mutex
	user   string
	jobs   []*Job
	loaded bool
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the time source used for timestamps and day files.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore creates an empty store reading templates from cell.
func NewStore(cell *config.Cell, logger *slog.Logger, opts ...Option) *Store {
	s := &Store{
		cell:   cell,
		logger: logging.NewComponentLogger(logger, "queue"),
		now:    time.Now,
		users:  make(map[string]*userQueue),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetOrCreateConfig materializes the current template for user. Every
// user-scoped path must be derived from the returned config.
func (s *Store) GetOrCreateConfig(user string) (*config.Config, error) {
	return s.cell.Get().ForUser(user)
}

// Users returns the known users in first-seen order.
func (s *Store) Users() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.order)
}

// EnumerateUserQueues returns a copy of every user's job list. Each user's
// lock is held only while that user's jobs are copied.
func (s *Store) EnumerateUserQueues() []UserQueue {
	s.mu.RLock()
	queues := make([]*userQueue, 0, len(s.order))
	for _, user := range s.order {
		queues = append(queues, s.users[user])
	}
	s.mu.RUnlock()

	out := make([]UserQueue, 0, len(queues))
	for _, uq := range queues {
		uq.mu.Lock()
		out = append(out, UserQueue{User: uq.user, Jobs: snapshot(uq.jobs)})
		uq.mu.Unlock()
	}
	return out
}

// ActiveOutputDirectories returns the batch directories of jobs that are
// still Processing.
func (s *Store) ActiveOutputDirectories() []string {
	var dirs []string
	for _, uq := range s.EnumerateUserQueues() {
		for _, job := range uq.Jobs {
			if job.Status == StatusProcessing && job.OutputDirectory != "" {
				dirs = append(dirs, job.OutputDirectory)
			}
		}
	}
	return dirs
}

// Jobs returns a copy of one user's jobs, loading the user's current-day
// record on first access.
func (s *Store) Jobs(user string) ([]Job, error) {
	uq, err := s.lockedQueue(user)
	if err != nil {
		return nil, err
	}
	defer uq.mu.Unlock()
	return snapshot(uq.jobs), nil
}

// Get returns a copy of one job.
func (s *Store) Get(user, id string) (Job, error) {
	uq, err := s.lockedQueue(user)
	if err != nil {
		return Job{}, err
	}
	defer uq.mu.Unlock()
	job := uq.find(id)
	if job == nil {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return job.Clone(), nil
}

// Enqueue appends inputPath as a Pending file to the job identified by
// (user, runID, targetApp), creating the job on first use or once the
// previous job for the triple has finished, and persists the user's records. A persistence failure is returned alongside the updated
// job; the append itself is kept.
func (s *Store) Enqueue(inputPath, targetApp, user, runID string) (Job, error) {
	inputPath = strings.TrimSpace(inputPath)
	targetApp = strings.TrimSpace(targetApp)
	runID = strings.TrimSpace(runID)
	switch {
	case inputPath == "":
		return Job{}, fmt.Errorf("%w: input path is required", ErrInvalidRequest)
	case targetApp == "":
		return Job{}, fmt.Errorf("%w: target app is required", ErrInvalidRequest)
	case runID == "":
		return Job{}, fmt.Errorf("%w: run id is required", ErrInvalidRequest)
	}

	uq, err := s.lockedQueue(user)
	if err != nil {
		return Job{}, err
	}
	defer uq.mu.Unlock()

	// A finished job never moves back; later files for the same triple start
	// a new job so the earlier batch keeps its status and output directory.
	var job, previous *Job
	for _, candidate := range uq.jobs {
		if !candidate.Matches(runID, targetApp) {
			continue
		}
		if candidate.Status.IsTerminal() {
			previous = candidate
			continue
		}
		job = candidate
		break
	}
	now := s.now()
	if job == nil {
		job = &Job{
			ID:        uuid.NewString(),
			TargetApp: targetApp,
			User:      uq.user,
			RunID:     runID,
			Status:    StatusPending,
			Files:     []JobFile{},
			CreatedAt: now,
		}
		uq.jobs = append(uq.jobs, job)
		attrs := []logging.Attr{
			logging.String(logging.FieldEventType, "job_created"),
			logging.String(logging.FieldJobID, job.ID),
			logging.String(logging.FieldUser, uq.user),
			logging.String(logging.FieldRunID, runID),
			logging.String(logging.FieldTargetApp, targetApp),
		}
		if previous != nil {
			attrs = append(attrs, logging.String("previous_job_id", previous.ID))
		}
		s.logger.Info("job created", logging.Args(attrs...)...)
	}
	job.Files = append(job.Files, JobFile{Path: inputPath, Status: StatusPending})

	err = s.persistLocked(uq)
	return job.Clone(), err
}

// TryDequeuePending claims the earliest-created Pending job for user, moving
// it to Processing with StartedAt stamped. Concurrent callers never receive
// the same job.
func (s *Store) TryDequeuePending(user string) (Job, bool) {
	uq, err := s.lockedQueue(user)
	if err != nil {
		return Job{}, false
	}
	defer uq.mu.Unlock()

	for _, job := range uq.jobs {
		if job.Status != StatusPending {
			continue
		}
		job.Status = StatusProcessing
		job.StartedAt = TimePtr(s.now())
		_ = s.persistLocked(uq)
		return job.Clone(), true
	}
	return Job{}, false
}

// UpdateJob applies fn to the stored job under the user's lock, persists the
// user's records, and returns a copy of the result. A persistence failure is
// returned alongside the updated copy.
func (s *Store) UpdateJob(user, id string, fn func(*Job)) (Job, error) {
	uq, err := s.lockedQueue(user)
	if err != nil {
		return Job{}, err
	}
	defer uq.mu.Unlock()

	job := uq.find(id)
	if job == nil {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	fn(job)
	err = s.persistLocked(uq)
	return job.Clone(), err
}

// Flush rewrites every record file holding user's in-memory jobs.
func (s *Store) Flush(user string) error {
	normalized, err := config.NormalizeUser(user)
	if err != nil {
		return err
	}
	s.mu.RLock()
	uq, ok := s.users[normalized]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	uq.mu.Lock()
	defer uq.mu.Unlock()
	if !uq.loaded {
		return nil
	}
	return s.persistLocked(uq)
}

// FlushAll rewrites the records of every known user.
func (s *Store) FlushAll() error {
	var errs []error
	for _, user := range s.Users() {
		if err := s.Flush(user); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// lockedQueue returns user's queue with its lock held, loading the current
// day's record on first access.
func (s *Store) lockedQueue(user string) (*userQueue, error) {
	normalized, err := config.NormalizeUser(user)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	uq, ok := s.users[normalized]
	s.mu.RUnlock()
	if !ok {
		s.mu.Lock()
		if uq, ok = s.users[normalized]; !ok {
			uq = &userQueue{user: normalized}
			s.users[normalized] = uq
			s.order = append(s.order, normalized)
		}
		s.mu.Unlock()
	}

	uq.mu.Lock()
	if !uq.loaded {
		if err := s.loadLocked(uq); err != nil {
			uq.mu.Unlock()
			return nil, err
		}
	}
	return uq, nil
}

func (s *Store) loadLocked(uq *userQueue) error {
	cfg, err := s.GetOrCreateConfig(uq.user)
	if err != nil {
		return err
	}
	now := s.now()
	path := RecordPath(cfg.QueueDirectory, now)
	jobs, err := ReadRecord(path)
	if err != nil {
		var pathErr *os.PathError
		if errors.As(err, &pathErr) {
			return fmt.Errorf("load queue for %s: %w", uq.user, err)
		}
		// Unparseable record: keep it for inspection and start fresh.
		aside := fmt.Sprintf("%s.corrupt-%d", path, now.Unix())
		renameErr := os.Rename(path, aside)
		logging.WarnWithContext(s.logger, "queue record unreadable; starting with an empty list", "queue_record_corrupt",
			logging.String(logging.FieldUser, uq.user),
			logging.String("path", path),
			logging.String("moved_to", aside),
			logging.Error(errors.Join(err, renameErr)),
			logging.String(logging.FieldErrorHint, "inspect the moved file and re-enqueue lost jobs"),
			logging.String(logging.FieldImpact, "jobs in the unreadable record are not scheduled"),
		)
		jobs = nil
	}

	day, _ := RecordDay(path)
	uq.jobs = make([]*Job, 0, len(jobs))
	for i := range jobs {
		job := jobs[i].Clone()
		if job.ID == "" {
			job.ID = uuid.NewString()
		}
		if job.User == "" {
			job.User = uq.user
		}
		if !job.Status.Valid() {
			job.Status = StatusPending
		}
		if job.CreatedAt.IsZero() {
			job.CreatedAt = day
		}
		uq.jobs = append(uq.jobs, &job)
	}
	uq.loaded = true
	return nil
}

// persistLocked rewrites each day file that holds one of the user's jobs and
// seeds the current day's file. uq.mu must be held.
func (s *Store) persistLocked(uq *userQueue) error {
	cfg, err := s.GetOrCreateConfig(uq.user)
	if err != nil {
		return err
	}

	byDay := make(map[string][]Job)
	var days []string
	for _, job := range uq.jobs {
		name := RecordFileName(job.CreatedAt)
		if _, ok := byDay[name]; !ok {
			days = append(days, name)
		}
		byDay[name] = append(byDay[name], job.Clone())
	}

	var errs []error
	for _, name := range days {
		path := filepath.Join(cfg.QueueDirectory, name)
		if err := writeRecord(path, byDay[name]); err != nil {
			errs = append(errs, err)
		}
	}
	if today := RecordFileName(s.now()); byDay[today] == nil {
		if err := seedRecord(RecordPath(cfg.QueueDirectory, s.now())); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		logging.WarnWithContext(s.logger, "queue record write failed", "queue_persist_failed",
			logging.String(logging.FieldUser, uq.user),
			logging.String("queue_directory", cfg.QueueDirectory),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check QueueDirectory permissions and free space"),
			logging.String(logging.FieldImpact, "status viewers may show stale job state"),
		)
		return err
	}
	return nil
}

func (uq *userQueue) find(id string) *Job {
	for _, job := range uq.jobs {
		if job.ID == id {
			return job
		}
	}
	return nil
}

func snapshot(jobs []*Job) []Job {
	out := make([]Job, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, job.Clone())
	}
	return out
}
