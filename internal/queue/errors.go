package queue

import "errors"

var (
	// ErrJobNotFound reports an UpdateJob or lookup for an unknown job.
	ErrJobNotFound = errors.New("job not found")
	// ErrInvalidRequest reports an enqueue missing a path, target, or run id.
	ErrInvalidRequest = errors.New("invalid enqueue request")
)

// ErrPersistence reports a failed write of a user's record file. The
// in-memory change it accompanies has still been applied.
var ErrPersistence = errors.New("queue record write failed")
