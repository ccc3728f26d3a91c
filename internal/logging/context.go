package logging

import (
	"context"
	"log/slog"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldJobID identifies a queued job.
	FieldJobID = "job_id"
	// FieldUser identifies the user owning a job.
	FieldUser = "user"
	// FieldRunID is the batch correlation key shared by a job's files.
	FieldRunID = "run_id"
	// FieldTargetApp names the worker mapping a job is bound to.
	FieldTargetApp = "target_app"
	// FieldFilePath is the input file being processed.
	FieldFilePath = "file_path"
	// FieldAttempt is the zero-based attempt index for a file.
	FieldAttempt = "attempt"
	// FieldEventType classifies a log line for filtering.
	FieldEventType = "event_type"
	// FieldErrorHint tells an operator what to do next.
	FieldErrorHint = "error_hint"
	// FieldImpact states the user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldCorrelationID ties together the log lines of one processing run.
	FieldCorrelationID = "correlation_id"
	// FieldStream marks worker output lines as stdout or stderr.
	FieldStream = "stream"
)

type contextKey int

const (
	jobKey contextKey = iota
	attemptKey
	correlationKey
)

type jobFields struct {
	id        string
	user      string
	runID     string
	targetApp string
}

type attemptFields struct {
	path    string
	attempt int
}

// WithJob tags ctx with the identifiers of the job being processed.
func WithJob(ctx context.Context, id, user, runID, targetApp string) context.Context {
	return context.WithValue(ctx, jobKey, jobFields{id: id, user: user, runID: runID, targetApp: targetApp})
}

// WithAttempt tags ctx with the file and zero-based attempt being run.
func WithAttempt(ctx context.Context, path string, attempt int) context.Context {
	return context.WithValue(ctx, attemptKey, attemptFields{path: path, attempt: attempt})
}

// WithCorrelationID tags ctx with a correlation identifier.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey, id)
}

// CorrelationIDFromContext returns the correlation identifier stored in ctx.
func CorrelationIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(correlationKey).(string)
	return id, ok && id != ""
}

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 7)
	if job, ok := ctx.Value(jobKey).(jobFields); ok {
		fields = append(fields,
			slog.String(FieldJobID, job.id),
			slog.String(FieldUser, job.user),
			slog.String(FieldRunID, job.runID),
			slog.String(FieldTargetApp, job.targetApp),
		)
	}
	if attempt, ok := ctx.Value(attemptKey).(attemptFields); ok {
		fields = append(fields,
			slog.String(FieldFilePath, attempt.path),
			slog.Int(FieldAttempt, attempt.attempt),
		)
	}
	if id, ok := CorrelationIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, id))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
