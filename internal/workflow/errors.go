package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"sequentier/internal/queue"
	"sequentier/internal/worker"
)

var (
	ErrConfigLoad       = errors.New("configuration load failed")
	ErrUnknownTargetApp = errors.New("unknown target app")
	ErrOutputDirectory  = errors.New("output directory unavailable")

	ErrWorkerTimeout = worker.ErrWorkerTimeout
	ErrWorkerExit    = worker.ErrWorkerExit
	ErrWorkerSpawn   = worker.ErrWorkerSpawn
	ErrPersistence   = queue.ErrPersistence
)

// Wrap builds an error message that includes operation context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, operation, message string, err error) error {
	detail := buildDetail(operation, message)
	if marker == nil {
		return fmt.Errorf("%s: %w", detail, err)
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsTransient reports whether another attempt of the same operation could
// plausibly succeed.
func IsTransient(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrWorkerTimeout),
		errors.Is(err, ErrWorkerSpawn),
		errors.Is(err, ErrPersistence),
		errors.Is(err, context.DeadlineExceeded):
		return true
	default:
		return false
	}
}

func buildDetail(operation, message string) string {
	parts := make([]string, 0, 2)
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "workflow failure"
	}
	return strings.Join(parts, ": ")
}
