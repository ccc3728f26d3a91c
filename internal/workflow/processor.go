package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"sequentier/internal/config"
	"sequentier/internal/logging"
	"sequentier/internal/notifications"
	"sequentier/internal/queue"
	"sequentier/internal/worker"
)

const (
	batchDayLayout  = "02.01.2006"
	batchTimeLayout = "15.04.05"
)

// HistoryRecorder archives jobs that reached a terminal status.
type HistoryRecorder interface {
	Record(ctx context.Context, job queue.Job) error
}

// Processor runs one admitted job to a terminal status.
type Processor struct {
	store    *queue.Store
	runner   worker.Runner
	notifier notifications.Notifier
	history  HistoryRecorder
	logger   *slog.Logger
	now      func() time.Time
}

// ProcessorOption customizes a Processor.
type ProcessorOption func(*Processor)

// WithHistory archives every finished job in h.
func WithHistory(h HistoryRecorder) ProcessorOption {
	return func(p *Processor) {
		p.history = h
	}
}

// WithProcessorClock overrides the time source used for stamps and batch
// directory names.
func WithProcessorClock(now func() time.Time) ProcessorOption {
	return func(p *Processor) {
		if now != nil {
			p.now = now
		}
	}
}

// NewProcessor wires a processor. A nil notifier disables notifications.
func NewProcessor(store *queue.Store, runner worker.Runner, notifier notifications.Notifier, logger *slog.Logger, opts ...ProcessorOption) *Processor {
	if runner == nil {
		runner = worker.NewCommandRunner(0)
	}
	p := &Processor{
		store:    store,
		runner:   runner,
		notifier: notifier,
		logger:   logging.NewComponentLogger(logger, "processor"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process runs every Pending file of job and returns the job as last stored.
// It returns early, leaving in-flight state for restart recovery, only when
// ctx is cancelled.
func (p *Processor) Process(ctx context.Context, job queue.Job) queue.Job {
	ctx = logging.WithJob(ctx, job.ID, job.User, job.RunID, job.TargetApp)
	ctx = logging.WithCorrelationID(ctx, uuid.NewString())
	started := p.now()

	cfg, err := p.store.GetOrCreateConfig(job.User)
	if err != nil {
		err = Wrap(ErrConfigLoad, "resolve user config", job.User, err)
		logging.ErrorWithContext(logging.WithContext(ctx, p.logger), "job failed before start", "job_config_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the user identifier and the configuration template"),
		)
		return p.finish(ctx, p.logger, job, queue.StatusFailed, started)
	}

	logger := p.logger
	runLog, err := logging.OpenRunLog(cfg.QueueDirectory, job.RunID)
	if err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, p.logger), "run log unavailable", "run_log_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "worker output is only written to the daemon log"),
		)
	} else {
		defer runLog.Close()
		logger = runLog.Attach(p.logger)
	}
	jobLogger := logging.WithContext(ctx, logger)

	jobLogger.Info("batch started",
		logging.String(logging.FieldEventType, "batch_start"),
		logging.Int("file_count", len(job.Files)),
	)
	p.notify(ctx, job)

	mapping, ok := cfg.Mapping[job.TargetApp]
	if !ok {
		err := Wrap(ErrUnknownTargetApp, "resolve mapping", job.TargetApp, nil)
		logging.ErrorWithContext(jobLogger, "no worker mapping for target app; failing batch", "mapping_missing",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "add a Mapping entry for the target app and re-enqueue"),
		)
		return p.finish(ctx, logger, job, queue.StatusFailed, started)
	}

	outputDir := filepath.Join(mapping.OutputDirectory, started.Format(batchDayLayout), started.Format(batchTimeLayout))
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		err = Wrap(ErrOutputDirectory, "create batch directory", outputDir, err)
		logging.ErrorWithContext(jobLogger, "batch output directory could not be created", "output_dir_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check OutputDirectory permissions and free space"),
		)
		return p.finish(ctx, logger, job, queue.StatusFailed, started)
	}
	job, _ = p.store.UpdateJob(job.User, job.ID, func(j *queue.Job) {
		j.OutputDirectory = outputDir
	})
	jobLogger.Debug("batch output directory ready", logging.String("output_directory", outputDir))

	for {
		current, err := p.store.Get(job.User, job.ID)
		if err != nil {
			logging.ErrorWithContext(jobLogger, "job disappeared from the queue", "job_lookup_failed", logging.Error(err))
			return job
		}
		job = current
		index := job.PendingFileIndex()
		if index < 0 {
			finished, ok := p.finishDrained(ctx, logger, job, started)
			if ok {
				return finished
			}
			job = finished
			continue
		}
		if err := p.processFile(ctx, logger, job, index, mapping, outputDir); err != nil {
			if ctx.Err() == nil {
				logging.ErrorWithContext(jobLogger, "batch aborted", "batch_aborted",
					logging.Error(Wrap(ErrConfigLoad, "resolve user config", job.User, err)),
				)
				return p.finish(ctx, logger, job, queue.StatusFailed, started)
			}
			jobLogger.Info("batch interrupted by shutdown",
				logging.String(logging.FieldEventType, "batch_interrupted"),
				logging.String(logging.FieldFilePath, job.Files[index].Path),
			)
			if latest, err := p.store.Get(job.User, job.ID); err == nil {
				job = latest
			}
			return job
		}
	}
}

// processFile runs the attempts for one file. It returns an error when ctx
// was cancelled, leaving the file at Processing (or untouched when cancelled
// during the pacing delay), or when the user's config can no longer be
// materialized.
func (p *Processor) processFile(ctx context.Context, logger *slog.Logger, job queue.Job, index int, mapping config.Mapping, outputDir string) error {
	path := job.Files[index].Path
	cfg, err := p.store.GetOrCreateConfig(job.User)
	if err != nil {
		return err
	}
	attempts := 1 + max(cfg.DefaultRetryCount, 0)

	for attempt := 0; attempt < attempts; attempt++ {
		// Fresh per attempt so reloads apply from the next attempt on.
		if attempt > 0 {
			if cfg, err = p.store.GetOrCreateConfig(job.User); err != nil {
				return err
			}
		}
		attemptCtx := logging.WithAttempt(ctx, path, attempt)
		attemptLogger := logging.WithContext(attemptCtx, logger)

		if delay := time.Duration(cfg.Engine.PacingDelayMillis) * time.Millisecond; delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		startedAt := p.now()
		job, _ = p.store.UpdateJob(job.User, job.ID, func(j *queue.Job) {
			file := &j.Files[index]
			file.Status = queue.StatusProcessing
			file.StartedAt = queue.TimePtr(startedAt)
			file.FinishedAt = nil
			file.Retries = attempt
			j.RetryCount = totalRetries(j.Files)
		})
		p.notify(ctx, job)

		timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
		attemptLogger.Info("processing file",
			logging.String(logging.FieldEventType, "attempt_start"),
			logging.Int("max_attempts", attempts),
			logging.Duration("timeout", timeout),
			logging.String("executable", mapping.ExecutablePath),
			logging.String("output_directory", outputDir),
		)

		runErr := p.runAttempt(ctx, attemptLogger, mapping.ExecutablePath, path, outputDir, timeout)
		if runErr != nil && ctx.Err() != nil {
			return ctx.Err()
		}

		status := queue.StatusCompleted
		if runErr != nil {
			status = queue.StatusFailed
		}
		finishedAt := p.now()
		job, _ = p.store.UpdateJob(job.User, job.ID, func(j *queue.Job) {
			file := &j.Files[index]
			file.Status = status
			file.FinishedAt = queue.TimePtr(finishedAt)
		})
		p.notify(ctx, job)

		if runErr == nil {
			attemptLogger.Info("file succeeded",
				logging.String(logging.FieldEventType, "attempt_succeeded"),
				logging.Duration("elapsed", finishedAt.Sub(startedAt)),
			)
			return nil
		}

		remaining := attempts - attempt - 1
		logging.WarnWithContext(attemptLogger, "file attempt failed", "attempt_failed",
			logging.Error(runErr),
			logging.Int("remaining_attempts", remaining),
			logging.Bool("transient", IsTransient(runErr)),
			logging.Duration("elapsed", finishedAt.Sub(startedAt)),
			logging.String(logging.FieldErrorHint, attemptHint(runErr)),
			logging.String(logging.FieldImpact, attemptImpact(remaining)),
		)
	}
	return nil
}

func (p *Processor) runAttempt(ctx context.Context, logger *slog.Logger, executable, input, outputDir string, timeout time.Duration) error {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := p.runner.Run(attemptCtx, worker.Invocation{
		Executable: executable,
		Input:      input,
		OutputDir:  outputDir,
		OnLine: func(stream worker.Stream, line string) {
			if stream == worker.Stderr {
				logger.Error(line, logging.String(logging.FieldStream, string(stream)))
				return
			}
			logger.Info(line, logging.String(logging.FieldStream, string(stream)))
		},
	})
	logger.Debug("worker exited",
		logging.Int("exit_code", result.ExitCode),
		logging.Duration("duration", result.Duration),
	)
	return err
}

// finish stamps status on the job regardless of its files.
func (p *Processor) finish(ctx context.Context, logger *slog.Logger, job queue.Job, status queue.Status, started time.Time) queue.Job {
	finishedAt := p.now()
	updated, err := p.store.UpdateJob(job.User, job.ID, func(j *queue.Job) {
		j.Status = status
		j.FinishedAt = queue.TimePtr(finishedAt)
		j.RetryCount = totalRetries(j.Files)
	})
	if err != nil && errors.Is(err, queue.ErrJobNotFound) {
		return job
	}
	return p.report(ctx, logger, updated, started, finishedAt)
}

// finishDrained stamps the job's final status only if no Pending file is
// left under the store lock. A file appended after the last lookup keeps the
// job Processing and reports false so the caller runs it.
func (p *Processor) finishDrained(ctx context.Context, logger *slog.Logger, job queue.Job, started time.Time) (queue.Job, bool) {
	finishedAt := p.now()
	drained := true
	updated, err := p.store.UpdateJob(job.User, job.ID, func(j *queue.Job) {
		if j.PendingFileIndex() >= 0 {
			drained = false
			return
		}
		j.Status = j.FinalStatus()
		j.FinishedAt = queue.TimePtr(finishedAt)
		j.RetryCount = totalRetries(j.Files)
	})
	if err != nil && errors.Is(err, queue.ErrJobNotFound) {
		return job, true
	}
	if !drained {
		logging.WithContext(ctx, logger).Debug("file appended while finishing; continuing batch",
			logging.String(logging.FieldEventType, "batch_extended"),
		)
		return updated, false
	}
	return p.report(ctx, logger, updated, started, finishedAt), true
}

func (p *Processor) report(ctx context.Context, logger *slog.Logger, updated queue.Job, started, finishedAt time.Time) queue.Job {
	p.notify(ctx, updated)

	counts := updated.Counts()
	jobLogger := logging.WithContext(ctx, logger)
	jobLogger.Info("batch finished",
		logging.String(logging.FieldEventType, "batch_complete"),
		logging.String("status", string(updated.Status)),
		logging.Int("completed_files", counts[queue.StatusCompleted]),
		logging.Int("failed_files", counts[queue.StatusFailed]),
		logging.Duration("elapsed", finishedAt.Sub(started)),
	)

	if p.history != nil {
		if err := p.history.Record(ctx, updated); err != nil {
			logging.WarnWithContext(jobLogger, "job history record failed", "history_record_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "the job is missing from `sequentier history`"),
			)
		}
	}
	return updated
}

func (p *Processor) notify(ctx context.Context, job queue.Job) {
	if p.notifier == nil {
		return
	}
	p.notifier.Notify(ctx, job)
}

func totalRetries(files []queue.JobFile) int {
	total := 0
	for _, file := range files {
		total += file.Retries
	}
	return total
}

func attemptHint(err error) string {
	switch {
	case errors.Is(err, ErrWorkerTimeout):
		return "raise TimeoutSeconds or check the worker for hangs"
	case errors.Is(err, ErrWorkerSpawn):
		return "check the mapping's ExecutablePath exists and is executable"
	case errors.Is(err, ErrWorkerExit):
		return "see the worker's stderr lines in the run log"
	default:
		return fmt.Sprintf("unexpected worker failure: %v", err)
	}
}

func attemptImpact(remaining int) string {
	if remaining > 0 {
		return "file will be retried"
	}
	return "file marked Failed"
}
