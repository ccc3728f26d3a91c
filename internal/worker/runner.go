package worker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"
)

var (
	// ErrWorkerSpawn reports a worker that could not be started or whose
	// output could not be read.
	ErrWorkerSpawn = errors.New("worker start or I/O failed")
	// ErrWorkerTimeout reports a worker killed at its attempt deadline.
	ErrWorkerTimeout = errors.New("worker timed out")
	// ErrWorkerExit reports a worker that exited with a non-zero code.
	ErrWorkerExit = errors.New("worker exited with non-zero code")
)

// Stream identifies which output a line came from.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// Invocation describes one worker run.
type Invocation struct {
	Executable string
	Input      string
	OutputDir  string
	// OnLine receives every output line as it is produced. It is called from
	// two goroutines, one per stream.
	OnLine func(Stream, string)
}

// Result describes a finished worker run. ExitCode is -1 when the worker
// never started or was killed.
type Result struct {
	ExitCode int
	Duration time.Duration
}

// Runner executes workers.
type Runner interface {
	Run(ctx context.Context, inv Invocation) (Result, error)
}

const (
	defaultWaitDelay = 5 * time.Second
	maxLineBytes     = 1 << 20
)

// CommandRunner runs workers as child processes.
type CommandRunner struct {
	waitDelay time.Duration
}

// NewCommandRunner returns a runner that waits up to waitDelay for output
// pipes to drain after a worker is killed. Zero selects the default.
func NewCommandRunner(waitDelay time.Duration) *CommandRunner {
	if waitDelay <= 0 {
		waitDelay = defaultWaitDelay
	}
	return &CommandRunner{waitDelay: waitDelay}
}

// Run starts the worker and blocks until it exits, ctx is done, or output
// can no longer be read. Errors wrap ErrWorkerSpawn, ErrWorkerTimeout,
// ErrWorkerExit, or the context's cancellation error.
func (r *CommandRunner) Run(ctx context.Context, inv Invocation) (Result, error) {
	result := Result{ExitCode: -1}
	if inv.Executable == "" {
		return result, fmt.Errorf("%w: executable not set", ErrWorkerSpawn)
	}

	cmd := exec.CommandContext(ctx, inv.Executable, inv.Input, inv.OutputDir) //nolint:gosec
	configureProcessGroup(cmd)
	cmd.WaitDelay = r.waitDelay

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return result, fmt.Errorf("%w: stdout pipe: %w", ErrWorkerSpawn, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return result, fmt.Errorf("%w: stderr pipe: %w", ErrWorkerSpawn, err)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return result, fmt.Errorf("%w: start %s: %w", ErrWorkerSpawn, inv.Executable, err)
	}

	var (
		wg      sync.WaitGroup
		scanErr error
		once    sync.Once
	)
	scan := func(stream Stream, reader io.Reader) {
		defer wg.Done()
		scanner := bufio.NewScanner(reader)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		for scanner.Scan() {
			if inv.OnLine != nil {
				inv.OnLine(stream, scanner.Text())
			}
		}
		if err := scanner.Err(); err != nil {
			once.Do(func() {
				scanErr = fmt.Errorf("read %s: %w", stream, err)
			})
			// Keep draining so the worker never blocks on a full pipe.
			_, _ = io.Copy(io.Discard, reader)
		}
	}

	wg.Add(2)
	go scan(Stdout, stdout)
	go scan(Stderr, stderr)
	scanDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(scanDone)
	}()

	select {
	case <-scanDone:
	case <-ctx.Done():
		// The process group is killed on cancellation; a descendant that
		// escaped the group may still hold the pipes open.
		select {
		case <-scanDone:
		case <-time.After(r.waitDelay):
			_ = stdout.Close()
			_ = stderr.Close()
			<-scanDone
		}
	}

	waitErr := cmd.Wait()
	result.Duration = time.Since(start)
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return result, fmt.Errorf("%w after %s", ErrWorkerTimeout, result.Duration.Round(time.Millisecond))
		}
		return result, ctxErr
	}

	var exitErr *exec.ExitError
	switch {
	case errors.As(waitErr, &exitErr):
		return result, fmt.Errorf("%w: exit code %d", ErrWorkerExit, result.ExitCode)
	case waitErr != nil:
		return result, fmt.Errorf("%w: wait: %w", ErrWorkerSpawn, waitErr)
	case scanErr != nil:
		return result, fmt.Errorf("%w: %w", ErrWorkerSpawn, scanErr)
	}
	return result, nil
}
