package api

import (
	"sequentier/internal/queue"
)

// JobReader abstracts queue store interactions needed for API queries.
type JobReader interface {
	Jobs(user string) ([]queue.Job, error)
}

// QueueService exposes read-only queue operations returning API DTOs.
type QueueService struct {
	store JobReader
}

// NewQueueService constructs a QueueService around the provided reader.
func NewQueueService(store JobReader) *QueueService {
	if store == nil {
		return nil
	}
	return &QueueService{store: store}
}

// List returns the user's jobs in creation order.
func (s *QueueService) List(user string) ([]Job, error) {
	if s == nil || s.store == nil {
		return []Job{}, nil
	}
	jobs, err := s.store.Jobs(user)
	if err != nil {
		return nil, err
	}
	return FromJobs(jobs), nil
}
