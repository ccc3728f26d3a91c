package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"sequentier/internal/config"
	"sequentier/internal/logging"
	"sequentier/internal/queue"
)

const (
	userAgent  = "Sequentier/0.1.0"
	headerUser = "X-Sequentier-User"
)

// Notifier receives every job status change. Notify must not block and never
// reports failure to the caller.
type Notifier interface {
	Notify(ctx context.Context, job queue.Job)
}

// Service is a Notifier with a background sender. Run returns when ctx ends.
type Service interface {
	Notifier
	Run(ctx context.Context) error
}

// NewService builds a webhook notifier when a URL is configured. When no
// webhook is configured, a noop implementation is returned.
func NewService(cfg *config.Config, logger *slog.Logger) Service {
	if cfg == nil {
		return noopService{}
	}
	endpoint := strings.TrimSpace(cfg.Notifications.WebhookURL)
	if endpoint == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	size := cfg.Notifications.QueueSize
	if size <= 0 {
		size = 256
	}

	return &webhookService{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logging.NewComponentLogger(logger, "notifications"),
		pending:  make(chan queue.Job, size),
	}
}

type webhookService struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
	pending  chan queue.Job
}

func (w *webhookService) Notify(ctx context.Context, job queue.Job) {
	select {
	case w.pending <- job.Clone():
	default:
		logging.WithContext(ctx, w.logger).Debug("notification buffer full; update dropped",
			logging.String(logging.FieldEventType, "notification_dropped"),
			logging.String(logging.FieldJobID, job.ID),
			logging.String("status", string(job.Status)),
		)
	}
}

func (w *webhookService) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case job := <-w.pending:
			if err := w.send(ctx, job); err != nil && ctx.Err() == nil {
				logging.WarnWithContext(w.logger, "job notification failed", "notification_failed",
					logging.String(logging.FieldJobID, job.ID),
					logging.String(logging.FieldUser, job.User),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check Notifications.WebhookURL and the receiving service"),
					logging.String(logging.FieldImpact, "live status views may lag until the next update"),
				)
			}
		}
	}
}

func (w *webhookService) send(ctx context.Context, job queue.Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerUser, job.User)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Notify(context.Context, queue.Job) {}

func (noopService) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

// Recorder keeps every job snapshot it is notified with.
type Recorder struct {
	mu   sync.Mutex
	jobs []queue.Job
}

// Notify records a copy of job.
func (r *Recorder) Notify(_ context.Context, job queue.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job.Clone())
}

// Jobs returns the recorded snapshots in arrival order.
func (r *Recorder) Jobs() []queue.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]queue.Job, len(r.jobs))
	for i, job := range r.jobs {
		out[i] = job.Clone()
	}
	return out
}

// Statuses returns the job status of each recorded snapshot.
func (r *Recorder) Statuses() []queue.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]queue.Status, len(r.jobs))
	for i, job := range r.jobs {
		out[i] = job.Status
	}
	return out
}
