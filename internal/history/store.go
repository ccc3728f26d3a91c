package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"sequentier/internal/queue"
)

// Store is the SQLite-backed job archive.
type Store struct {
	db   *sql.DB
	path string
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond

	defaultListLimit = 50
)

// Entry is one archived job.
type Entry struct {
	JobID           string
	User            string
	RunID           string
	TargetApp       string
	Status          queue.Status
	Files           int
	FailedFiles     int
	OutputDirectory string
	StartedAt       *time.Time
	FinishedAt      time.Time
	Job             queue.Job
}

// Filter narrows List. A zero Limit means the default page size.
type Filter struct {
	User  string
	Limit int
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

// Open initializes or connects to the archive at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("history path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure history directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record archives job. Recording the same job ID again replaces its earlier
// entry.
func (s *Store) Record(ctx context.Context, job queue.Job) error {
	if s == nil || s.db == nil {
		return errors.New("history store is closed")
	}
	if !job.Status.IsTerminal() {
		return fmt.Errorf("record job %s: status %s is not terminal", job.ID, job.Status)
	}
	ctx = ensureContext(ctx)

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	finished := time.Now()
	if job.FinishedAt != nil {
		finished = *job.FinishedAt
	}
	counts := job.Counts()

	return retryOnBusy(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx,
			`INSERT INTO job_history (
                job_id, user, run_id, target_app, status, file_count, failed_count,
                output_directory, started_at, finished_at, finished_unix_nano, job_json
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
            ON CONFLICT(job_id) DO UPDATE SET
                status = excluded.status,
                file_count = excluded.file_count,
                failed_count = excluded.failed_count,
                output_directory = excluded.output_directory,
                started_at = excluded.started_at,
                finished_at = excluded.finished_at,
                finished_unix_nano = excluded.finished_unix_nano,
                job_json = excluded.job_json`,
			job.ID,
			job.User,
			job.RunID,
			job.TargetApp,
			string(job.Status),
			len(job.Files),
			counts[queue.StatusFailed],
			nullableString(job.OutputDirectory),
			nullableTime(job.StartedAt),
			finished.UTC().Format(time.RFC3339Nano),
			finished.UnixNano(),
			string(payload),
		)
		if execErr != nil {
			return fmt.Errorf("insert history entry: %w", execErr)
		}
		return nil
	})
}

// List returns archived jobs, newest first.
func (s *Store) List(ctx context.Context, filter Filter) ([]Entry, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("history store is closed")
	}
	ctx = ensureContext(ctx)
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `SELECT job_id, user, run_id, target_app, status, file_count, failed_count,
        output_directory, started_at, finished_at, job_json FROM job_history`
	args := []any{}
	if user := strings.TrimSpace(filter.User); user != "" {
		query += " WHERE user = ?"
		args = append(args, user)
	}
	query += " ORDER BY finished_unix_nano DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return entries, nil
}

func scanEntry(scanner interface{ Scan(dest ...any) error }) (Entry, error) {
	var (
		entry      Entry
		status     string
		outputDir  sql.NullString
		startedAt  sql.NullString
		finishedAt string
		payload    string
	)
	if err := scanner.Scan(
		&entry.JobID,
		&entry.User,
		&entry.RunID,
		&entry.TargetApp,
		&status,
		&entry.Files,
		&entry.FailedFiles,
		&outputDir,
		&startedAt,
		&finishedAt,
		&payload,
	); err != nil {
		return Entry{}, fmt.Errorf("scan history entry: %w", err)
	}
	entry.Status = queue.Status(status)
	entry.OutputDirectory = outputDir.String
	if startedAt.Valid {
		if ts, err := time.Parse(time.RFC3339Nano, startedAt.String); err == nil {
			entry.StartedAt = &ts
		}
	}
	ts, err := time.Parse(time.RFC3339Nano, finishedAt)
	if err != nil {
		return Entry{}, fmt.Errorf("parse finished_at %q: %w", finishedAt, err)
	}
	entry.FinishedAt = ts
	if err := json.Unmarshal([]byte(payload), &entry.Job); err != nil {
		return Entry{}, fmt.Errorf("decode job %s: %w", entry.JobID, err)
	}
	return entry, nil
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil || value.IsZero() {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}
