package history_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"sequentier/internal/history"
	"sequentier/internal/queue"
)

func openStore(t *testing.T) *history.Store {
	t.Helper()
	store, err := history.Open(filepath.Join(t.TempDir(), "state", "history.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func finishedJob(id, user string, status queue.Status, finished time.Time) queue.Job {
	started := finished.Add(-time.Minute)
	return queue.Job{
		ID:        id,
		User:      user,
		RunID:     "run-" + id,
		TargetApp: "signer",
		Status:    status,
		StartedAt: &started,
		Files: []queue.JobFile{
			{Path: "/in/a.pdf", Status: queue.StatusCompleted},
			{Path: "/in/b.pdf", Status: queue.StatusFailed, Retries: 1},
		},
		OutputDirectory: "/out/" + user,
		CreatedAt:       started,
		FinishedAt:      &finished,
	}
}

func TestRecordAndListNewestFirst(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i, id := range []string{"job-1", "job-2", "job-3"} {
		if err := store.Record(ctx, finishedJob(id, "alice", queue.StatusCompleted, base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("Record %s failed: %v", id, err)
		}
	}

	entries, err := store.List(ctx, history.Filter{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].JobID != "job-3" || entries[2].JobID != "job-1" {
		t.Fatalf("expected newest first, got %s..%s", entries[0].JobID, entries[2].JobID)
	}
	first := entries[0]
	if first.Files != 2 || first.FailedFiles != 1 {
		t.Fatalf("unexpected counts: files=%d failed=%d", first.Files, first.FailedFiles)
	}
	if first.StartedAt == nil || first.OutputDirectory != "/out/alice" {
		t.Fatalf("unexpected entry: %+v", first)
	}
	if len(first.Job.Files) != 2 || first.Job.Files[1].Retries != 1 {
		t.Fatalf("job payload not round-tripped: %+v", first.Job)
	}
}

func TestListFiltersByUserAndLimit(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	jobs := []queue.Job{
		finishedJob("a1", "alice", queue.StatusCompleted, base),
		finishedJob("b1", "bob", queue.StatusFailed, base.Add(time.Second)),
		finishedJob("a2", "alice", queue.StatusFailed, base.Add(2*time.Second)),
	}
	for _, job := range jobs {
		if err := store.Record(ctx, job); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	entries, err := store.List(ctx, history.Filter{User: "alice"})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 2 || entries[0].JobID != "a2" || entries[1].JobID != "a1" {
		t.Fatalf("unexpected alice entries: %+v", entries)
	}

	limited, err := store.List(ctx, history.Filter{Limit: 1})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(limited) != 1 || limited[0].JobID != "a2" {
		t.Fatalf("unexpected limited entries: %+v", limited)
	}
}

func TestRecordReplacesEntryForSameJob(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := store.Record(ctx, finishedJob("job-1", "alice", queue.StatusFailed, base)); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := store.Record(ctx, finishedJob("job-1", "alice", queue.StatusCompleted, base.Add(time.Hour))); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	entries, err := store.List(ctx, history.Filter{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Status != queue.StatusCompleted {
		t.Fatalf("expected one completed entry, got %+v", entries)
	}
}

func TestRecordRejectsActiveJob(t *testing.T) {
	store := openStore(t)
	job := finishedJob("job-1", "alice", queue.StatusProcessing, time.Now())
	if err := store.Record(context.Background(), job); err == nil {
		t.Fatal("expected error recording a processing job")
	}
}

func TestOpenReusesExistingDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	store, err := history.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := store.Record(context.Background(), finishedJob("job-1", "alice", queue.StatusCompleted, time.Now())); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := history.Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()
	entries, err := reopened.List(context.Background(), history.Filter{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry after reopen, got %d", len(entries))
	}
}
