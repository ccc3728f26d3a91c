package queue_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"sequentier/internal/config"
	"sequentier/internal/queue"
)

func newTestStore(t *testing.T, opts ...queue.Option) (*queue.Store, string) {
	t.Helper()
	base := t.TempDir()
	cfg := config.Default()
	cfg.WatchDirectory = filepath.Join(base, "watch", "{USER}")
	cfg.QueueDirectory = filepath.Join(base, "queues", "{USER}")
	cfg.Mapping = map[string]config.Mapping{
		"signer": {ExecutablePath: "/bin/true", OutputDirectory: filepath.Join(base, "out", "{USER}")},
	}
	cell := config.NewStaticCell(&cfg, nil)
	return queue.NewStore(cell, nil, opts...), base
}

func readDayFile(t *testing.T, path string) []queue.Job {
	t.Helper()
	jobs, err := queue.ReadRecord(path)
	if err != nil {
		t.Fatalf("ReadRecord failed: %v", err)
	}
	return jobs
}

func TestEnqueueSameTripleAppendsInOrder(t *testing.T) {
	store, base := newTestStore(t)

	paths := []string{"/in/a.pdf", "/in/b.pdf", "/in/c.pdf"}
	var last queue.Job
	for _, path := range paths {
		job, err := store.Enqueue(path, "signer", "alice", "r1")
		if err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
		last = job
	}

	jobs, err := store.Jobs("alice")
	if err != nil {
		t.Fatalf("Jobs failed: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected exactly one job, got %d", len(jobs))
	}
	if jobs[0].ID != last.ID {
		t.Fatalf("job identity changed between enqueues")
	}
	for i, file := range jobs[0].Files {
		if file.Path != paths[i] || file.Status != queue.StatusPending {
			t.Fatalf("file %d = %+v, want %s pending", i, file, paths[i])
		}
	}

	record := readDayFile(t, queue.RecordPath(filepath.Join(base, "queues", "alice"), time.Now()))
	if len(record) != 1 || len(record[0].Files) != 3 {
		t.Fatalf("unexpected persisted record %+v", record)
	}
}

func TestEnqueueDistinctTriplesCreateJobs(t *testing.T) {
	store, _ := newTestStore(t)
	mustEnqueue(t, store, "/a", "signer", "alice", "r1")
	mustEnqueue(t, store, "/b", "advanced", "alice", "r1")
	mustEnqueue(t, store, "/c", "signer", "alice", "r2")
	mustEnqueue(t, store, "/d", "signer", "bob", "r1")

	jobs, _ := store.Jobs("alice")
	if len(jobs) != 3 {
		t.Fatalf("expected 3 jobs for alice, got %d", len(jobs))
	}
	queues := store.EnumerateUserQueues()
	if len(queues) != 2 || queues[0].User != "alice" || queues[1].User != "bob" {
		t.Fatalf("unexpected user queues %+v", queues)
	}
}

func TestEnqueueRejectsIncompleteRequests(t *testing.T) {
	store, _ := newTestStore(t)
	if _, err := store.Enqueue("", "signer", "alice", "r1"); !errors.Is(err, queue.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for empty path, got %v", err)
	}
	if _, err := store.Enqueue("/a", "signer", "alice", " "); !errors.Is(err, queue.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for empty run id, got %v", err)
	}
	if _, err := store.Enqueue("/a", "signer", "../etc", "r1"); !errors.Is(err, config.ErrInvalidUser) {
		t.Fatalf("expected ErrInvalidUser, got %v", err)
	}
}

func TestConcurrentEnqueuesLoseNothing(t *testing.T) {
	store, base := newTestStore(t)
	const n = 50

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := store.Enqueue(fmt.Sprintf("/in/%02d", i), "signer", "alice", "r1"); err != nil {
				t.Errorf("Enqueue failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	jobs, _ := store.Jobs("alice")
	if len(jobs) != 1 || len(jobs[0].Files) != n {
		t.Fatalf("expected one job with %d files, got %+v", n, jobs)
	}
	record := readDayFile(t, queue.RecordPath(filepath.Join(base, "queues", "alice"), time.Now()))
	if len(record[0].Files) != n {
		t.Fatalf("persisted record has %d files, want %d", len(record[0].Files), n)
	}
}

func TestTryDequeuePendingReturnsEarliestOnce(t *testing.T) {
	store, _ := newTestStore(t)
	first := mustEnqueue(t, store, "/a", "signer", "alice", "r1")
	second := mustEnqueue(t, store, "/b", "signer", "alice", "r2")

	job, ok := store.TryDequeuePending("alice")
	if !ok || job.ID != first.ID {
		t.Fatalf("expected first job, got %+v ok=%v", job, ok)
	}
	if job.Status != queue.StatusProcessing || job.StartedAt == nil {
		t.Fatalf("expected processing with StartedAt, got %+v", job)
	}

	job, ok = store.TryDequeuePending("alice")
	if !ok || job.ID != second.ID {
		t.Fatalf("expected second job, got %+v ok=%v", job, ok)
	}
	if _, ok := store.TryDequeuePending("alice"); ok {
		t.Fatal("expected no pending jobs left")
	}
}

func TestTryDequeuePendingIsExclusive(t *testing.T) {
	store, _ := newTestStore(t)
	const jobs = 20
	for i := 0; i < jobs; i++ {
		mustEnqueue(t, store, "/in", "signer", "alice", fmt.Sprintf("r%02d", i))
	}

	var (
		mu   sync.Mutex
		seen = map[string]int{}
		wg   sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, ok := store.TryDequeuePending("alice")
				if !ok {
					return
				}
				mu.Lock()
				seen[job.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != jobs {
		t.Fatalf("expected %d distinct jobs dequeued, got %d", jobs, len(seen))
	}
	for id, count := range seen {
		if count != 1 {
			t.Fatalf("job %s dequeued %d times", id, count)
		}
	}
}

func TestReturnedJobsAreCopies(t *testing.T) {
	store, _ := newTestStore(t)
	job := mustEnqueue(t, store, "/a", "signer", "alice", "r1")
	job.Files[0].Status = queue.StatusFailed
	job.Status = queue.StatusFailed

	stored, err := store.Get("alice", job.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if stored.Status != queue.StatusPending || stored.Files[0].Status != queue.StatusPending {
		t.Fatalf("mutating a returned job leaked into the store: %+v", stored)
	}
}

func TestUpdateJobPersists(t *testing.T) {
	store, base := newTestStore(t)
	job := mustEnqueue(t, store, "/a", "signer", "alice", "r1")

	updated, err := store.UpdateJob("alice", job.ID, func(j *queue.Job) {
		j.Files[0].Status = queue.StatusCompleted
		j.Files[0].Retries = 1
		j.OutputDirectory = "/out/alice/x"
	})
	if err != nil {
		t.Fatalf("UpdateJob failed: %v", err)
	}
	if updated.Files[0].Retries != 1 {
		t.Fatalf("unexpected updated job %+v", updated)
	}

	record := readDayFile(t, queue.RecordPath(filepath.Join(base, "queues", "alice"), time.Now()))
	if record[0].Files[0].Status != queue.StatusCompleted || record[0].OutputDirectory != "/out/alice/x" {
		t.Fatalf("update not persisted: %+v", record[0])
	}

	if _, err := store.UpdateJob("alice", "missing", func(*queue.Job) {}); !errors.Is(err, queue.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestRecordUsesStableFieldNames(t *testing.T) {
	store, base := newTestStore(t)
	mustEnqueue(t, store, "/a", "signer", "alice", "r1")

	raw, err := os.ReadFile(queue.RecordPath(filepath.Join(base, "queues", "alice"), time.Now()))
	if err != nil {
		t.Fatalf("read record: %v", err)
	}
	var docs []map[string]any
	if err := json.Unmarshal(raw, &docs); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	for _, key := range []string{"Id", "TargetApp", "User", "Files", "RunId", "Status", "StartedAt"} {
		if _, ok := docs[0][key]; !ok {
			t.Fatalf("record missing %s: %v", key, docs[0])
		}
	}
	if docs[0]["Status"] != "Pending" {
		t.Fatalf("expected string status, got %v", docs[0]["Status"])
	}
}

func TestJobsStayInTheirCreationDayFile(t *testing.T) {
	var mu sync.Mutex
	now := time.Date(2026, 3, 9, 23, 59, 0, 0, time.Local)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	store, base := newTestStore(t, queue.WithClock(clock))
	queueDir := filepath.Join(base, "queues", "alice")

	job := mustEnqueue(t, store, "/a", "signer", "alice", "r1")

	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()

	if _, err := store.UpdateJob("alice", job.ID, func(j *queue.Job) { j.Status = queue.StatusCompleted }); err != nil {
		t.Fatalf("UpdateJob failed: %v", err)
	}

	dayOne := readDayFile(t, filepath.Join(queueDir, "queue-2026-03-09.json"))
	if len(dayOne) != 1 || dayOne[0].Status != queue.StatusCompleted {
		t.Fatalf("expected completed job in creation-day file, got %+v", dayOne)
	}
	dayTwo := readDayFile(t, filepath.Join(queueDir, "queue-2026-03-10.json"))
	if len(dayTwo) != 0 {
		t.Fatalf("expected seeded empty record for the new day, got %+v", dayTwo)
	}
}

func TestEnqueueAfterFinishStartsNewJob(t *testing.T) {
	store, _ := newTestStore(t)
	job := mustEnqueue(t, store, "/a", "signer", "alice", "r1")
	if _, err := store.UpdateJob("alice", job.ID, func(j *queue.Job) {
		j.Status = queue.StatusCompleted
		j.OutputDirectory = "/out/alice/01.03.2026/10.00.00"
		j.Files[0].Status = queue.StatusCompleted
	}); err != nil {
		t.Fatalf("UpdateJob failed: %v", err)
	}

	next := mustEnqueue(t, store, "/b", "signer", "alice", "r1")
	if next.ID == job.ID || next.Status != queue.StatusPending || len(next.Files) != 1 || next.Files[0].Path != "/b" {
		t.Fatalf("expected a fresh pending job holding /b, got %+v", next)
	}

	finished, err := store.Get("alice", job.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if finished.Status != queue.StatusCompleted || len(finished.Files) != 1 {
		t.Fatalf("finished job must be left untouched, got %+v", finished)
	}
	if finished.OutputDirectory != "/out/alice/01.03.2026/10.00.00" {
		t.Fatalf("finished job lost its output directory: %q", finished.OutputDirectory)
	}

	again := mustEnqueue(t, store, "/c", "signer", "alice", "r1")
	if again.ID != next.ID || len(again.Files) != 2 {
		t.Fatalf("expected /c appended to the open job, got %+v", again)
	}
}

func TestCorruptRecordIsMovedAside(t *testing.T) {
	store, base := newTestStore(t)
	queueDir := filepath.Join(base, "queues", "alice")
	if err := os.MkdirAll(queueDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := queue.RecordPath(queueDir, time.Now())
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := store.Enqueue("/a", "signer", "alice", "r1"); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	matches, _ := filepath.Glob(path + ".corrupt-*")
	if len(matches) != 1 {
		t.Fatalf("expected corrupt record preserved, found %v", matches)
	}
	if got := readDayFile(t, path); len(got) != 1 {
		t.Fatalf("expected fresh record with the new job, got %+v", got)
	}
}

func TestFlushAllRewritesRecords(t *testing.T) {
	store, base := newTestStore(t)
	mustEnqueue(t, store, "/a", "signer", "alice", "r1")
	mustEnqueue(t, store, "/b", "signer", "bob", "r1")

	for _, user := range []string{"alice", "bob"} {
		if err := os.Remove(queue.RecordPath(filepath.Join(base, "queues", user), time.Now())); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.FlushAll(); err != nil {
		t.Fatalf("FlushAll failed: %v", err)
	}
	for _, user := range []string{"alice", "bob"} {
		if got := readDayFile(t, queue.RecordPath(filepath.Join(base, "queues", user), time.Now())); len(got) != 1 {
			t.Fatalf("expected %s record rewritten, got %+v", user, got)
		}
	}
}

func TestRestoreRevertsInterruptedJobs(t *testing.T) {
	store, base := newTestStore(t)
	job := mustEnqueue(t, store, "/a", "signer", "alice", "r1")
	mustEnqueue(t, store, "/b", "signer", "alice", "r1")
	if _, ok := store.TryDequeuePending("alice"); !ok {
		t.Fatal("expected dequeue")
	}
	if _, err := store.UpdateJob("alice", job.ID, func(j *queue.Job) {
		j.Files[0].Status = queue.StatusCompleted
		j.Files[1].Status = queue.StatusProcessing
	}); err != nil {
		t.Fatal(err)
	}
	mustEnqueue(t, store, "/c", "signer", "bob", "r9")

	// A fresh store over the same directories simulates a restart.
	cfg := config.Default()
	cfg.QueueDirectory = filepath.Join(base, "queues", "{USER}")
	restarted := queue.NewStore(config.NewStaticCell(&cfg, nil), nil)
	stats, err := restarted.Restore(true)
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if stats.Users != 2 || stats.RevertedJobs != 1 {
		t.Fatalf("unexpected restore stats %+v", stats)
	}

	recovered, err := restarted.Get("alice", job.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if recovered.Status != queue.StatusPending {
		t.Fatalf("expected job back at Pending, got %s", recovered.Status)
	}
	if recovered.Files[0].Status != queue.StatusCompleted || recovered.Files[1].Status != queue.StatusPending {
		t.Fatalf("unexpected file states %+v", recovered.Files)
	}
	if users := restarted.Users(); len(users) != 2 {
		t.Fatalf("expected restored users known to the store, got %v", users)
	}
}

func TestJobFinalStatus(t *testing.T) {
	tests := []struct {
		name  string
		files []queue.Status
		want  queue.Status
	}{
		{"all failed", []queue.Status{queue.StatusFailed, queue.StatusFailed}, queue.StatusFailed},
		{"one success", []queue.Status{queue.StatusFailed, queue.StatusCompleted}, queue.StatusCompleted},
		{"all success", []queue.Status{queue.StatusCompleted}, queue.StatusCompleted},
		{"no files", nil, queue.StatusCompleted},
	}
	for _, tc := range tests {
		job := queue.Job{}
		for _, status := range tc.files {
			job.Files = append(job.Files, queue.JobFile{Status: status})
		}
		if got := job.FinalStatus(); got != tc.want {
			t.Fatalf("%s: FinalStatus = %s, want %s", tc.name, got, tc.want)
		}
	}
}

func mustEnqueue(t *testing.T, store *queue.Store, path, app, user, run string) queue.Job {
	t.Helper()
	job, err := store.Enqueue(path, app, user, run)
	if err != nil {
		t.Fatalf("Enqueue(%s) failed: %v", path, err)
	}
	return job
}

func TestActiveOutputDirectoriesListsProcessingJobs(t *testing.T) {
	store, _ := newTestStore(t)
	mustEnqueue(t, store, "/a", "signer", "alice", "r1")
	mustEnqueue(t, store, "/b", "signer", "bob", "r2")
	mustEnqueue(t, store, "/c", "signer", "bob", "r3")

	running, ok := store.TryDequeuePending("alice")
	if !ok {
		t.Fatal("expected a pending job for alice")
	}
	if _, err := store.UpdateJob("alice", running.ID, func(j *queue.Job) {
		j.OutputDirectory = "/out/alice/batch"
	}); err != nil {
		t.Fatalf("UpdateJob failed: %v", err)
	}
	done, _ := store.TryDequeuePending("bob")
	if _, err := store.UpdateJob("bob", done.ID, func(j *queue.Job) {
		j.Status = queue.StatusCompleted
		j.OutputDirectory = "/out/bob/batch"
	}); err != nil {
		t.Fatalf("UpdateJob failed: %v", err)
	}

	dirs := store.ActiveOutputDirectories()
	if len(dirs) != 1 || dirs[0] != "/out/alice/batch" {
		t.Fatalf("expected only the processing batch directory, got %v", dirs)
	}
}
