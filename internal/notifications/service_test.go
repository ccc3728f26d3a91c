package notifications_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"sequentier/internal/config"
	"sequentier/internal/notifications"
	"sequentier/internal/queue"
)

func TestNewServiceReturnsNoopWhenWebhookMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.WebhookURL = ""
	svc := notifications.NewService(&cfg, nil)
	svc.Notify(context.Background(), queue.Job{ID: "job-1"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := svc.Run(ctx); err != nil {
		t.Fatalf("expected noop Run to return nil, got %v", err)
	}
}

func TestWebhookServicePostsJobSnapshot(t *testing.T) {
	type delivery struct {
		user      string
		agent     string
		mediaType string
		job       queue.Job
	}
	received := make(chan delivery, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var job queue.Job
		if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
			t.Errorf("decode body: %v", err)
		}
		received <- delivery{
			user:      r.Header.Get("X-Sequentier-User"),
			agent:     r.Header.Get("User-Agent"),
			mediaType: r.Header.Get("Content-Type"),
			job:       job,
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.WebhookURL = server.URL
	svc := notifications.NewService(&cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	svc.Notify(ctx, queue.Job{
		ID:        "job-1",
		User:      "alice",
		RunID:     "run-1",
		TargetApp: "signer",
		Status:    queue.StatusProcessing,
		Files:     []queue.JobFile{{Path: "/in/a.pdf", Status: queue.StatusProcessing}},
	})

	select {
	case got := <-received:
		if got.user != "alice" {
			t.Fatalf("expected user header alice, got %q", got.user)
		}
		if got.agent == "" {
			t.Fatal("expected User-Agent header")
		}
		if got.mediaType != "application/json" {
			t.Fatalf("unexpected content type %q", got.mediaType)
		}
		if got.job.ID != "job-1" || got.job.Status != queue.StatusProcessing || len(got.job.Files) != 1 {
			t.Fatalf("unexpected job payload: %+v", got.job)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("webhook was not called")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestWebhookServiceDropsWhenBufferFull(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.WebhookURL = "http://127.0.0.1:1/unused"
	cfg.Notifications.QueueSize = 1
	svc := notifications.NewService(&cfg, nil)

	finished := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			svc.Notify(context.Background(), queue.Job{ID: "job"})
		}
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("Notify blocked on a full buffer")
	}
}

func TestRecorderKeepsCopies(t *testing.T) {
	rec := &notifications.Recorder{}
	job := queue.Job{ID: "job-1", Status: queue.StatusPending, Files: []queue.JobFile{{Path: "a"}}}
	rec.Notify(context.Background(), job)
	job.Files[0].Path = "mutated"
	job.Status = queue.StatusCompleted
	rec.Notify(context.Background(), job)

	jobs := rec.Jobs()
	if len(jobs) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(jobs))
	}
	if jobs[0].Files[0].Path != "a" {
		t.Fatalf("recorded snapshot was mutated: %+v", jobs[0])
	}
	statuses := rec.Statuses()
	if statuses[0] != queue.StatusPending || statuses[1] != queue.StatusCompleted {
		t.Fatalf("unexpected statuses %v", statuses)
	}
}
