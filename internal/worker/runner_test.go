package worker_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"sequentier/internal/worker"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worker.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

type lineRecorder struct {
	mu    sync.Mutex
	lines map[worker.Stream][]string
}

func (r *lineRecorder) record(stream worker.Stream, line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lines == nil {
		r.lines = make(map[worker.Stream][]string)
	}
	r.lines[stream] = append(r.lines[stream], line)
}

func TestRunPassesArgumentsAndStreamsOutput(t *testing.T) {
	script := writeScript(t, `echo "in=$1"
echo "out=$2"
echo "warning" >&2
exit 0`)
	rec := &lineRecorder{}

	result, err := worker.NewCommandRunner(0).Run(context.Background(), worker.Invocation{
		Executable: script,
		Input:      "/data/in file.pdf",
		OutputDir:  "/data/out",
		OnLine:     rec.record,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.ExitCode != 0 {
		t.Fatalf("expected exit 0, got %d", result.ExitCode)
	}
	if got := strings.Join(rec.lines[worker.Stdout], "|"); got != "in=/data/in file.pdf|out=/data/out" {
		t.Fatalf("unexpected stdout lines %q", got)
	}
	if got := rec.lines[worker.Stderr]; len(got) != 1 || got[0] != "warning" {
		t.Fatalf("unexpected stderr lines %q", got)
	}
}

func TestRunReportsNonZeroExit(t *testing.T) {
	script := writeScript(t, "exit 3")
	result, err := worker.NewCommandRunner(0).Run(context.Background(), worker.Invocation{Executable: script})
	if !errors.Is(err, worker.ErrWorkerExit) {
		t.Fatalf("expected ErrWorkerExit, got %v", err)
	}
	if result.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %d", result.ExitCode)
	}
}

func TestRunKillsProcessGroupAtDeadline(t *testing.T) {
	// The background sleep inherits stdout; only a group kill closes the pipe.
	script := writeScript(t, `sleep 30 &
echo started
wait`)
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := worker.NewCommandRunner(time.Second).Run(ctx, worker.Invocation{Executable: script})
	if !errors.Is(err, worker.ErrWorkerTimeout) {
		t.Fatalf("expected ErrWorkerTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("worker was not terminated promptly: %s", elapsed)
	}
}

func TestRunReturnsCancellation(t *testing.T) {
	script := writeScript(t, "sleep 30")
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()
	_, err := worker.NewCommandRunner(time.Second).Run(ctx, worker.Invocation{Executable: script})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRunReportsSpawnFailure(t *testing.T) {
	_, err := worker.NewCommandRunner(0).Run(context.Background(), worker.Invocation{
		Executable: filepath.Join(t.TempDir(), "missing"),
	})
	if !errors.Is(err, worker.ErrWorkerSpawn) {
		t.Fatalf("expected ErrWorkerSpawn, got %v", err)
	}
}
