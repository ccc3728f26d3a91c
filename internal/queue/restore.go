package queue

import (
	"fmt"
	"os"
	"path/filepath"

	"sequentier/internal/config"
	"sequentier/internal/logging"
)

// RestoreStats summarizes a Restore pass.
type RestoreStats struct {
	Users        int
	Jobs         int
	RevertedJobs int
}

// Restore discovers users from the directories at the {USER} position of the
// QueueDirectory template and loads each one's current-day record. When
// recoverStale is set, jobs and files left at Processing by an abrupt stop
// are moved back to Pending so the scheduler picks them up again.
func (s *Store) Restore(recoverStale bool) (RestoreStats, error) {
	var stats RestoreStats
	template := s.cell.Get().QueueDirectory
	root, ok := config.SweepRoot(template)
	if !ok || root == template {
		s.logger.Debug("queue directory is not per-user; nothing to restore",
			logging.String("queue_directory", template),
		)
		return stats, nil
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return stats, nil
		}
		return stats, fmt.Errorf("scan queue root %s: %w", root, err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		user, ok := config.UserFromPath(template, filepath.Join(root, entry.Name()))
		if !ok {
			continue
		}
		uq, err := s.lockedQueue(user)
		if err != nil {
			logging.WarnWithContext(s.logger, "queue restore skipped user", "queue_restore_failed",
				logging.String(logging.FieldUser, user),
				logging.Error(err),
				logging.String(logging.FieldImpact, "the user's pending jobs are not scheduled until they enqueue again"),
			)
			continue
		}
		stats.Users++
		stats.Jobs += len(uq.jobs)
		reverted := 0
		if recoverStale {
			reverted = revertProcessing(uq.jobs)
		}
		if reverted > 0 {
			_ = s.persistLocked(uq)
			s.logger.Info("recovered interrupted jobs",
				logging.String(logging.FieldEventType, "queue_recovered"),
				logging.String(logging.FieldUser, user),
				logging.Int("jobs", reverted),
			)
		}
		stats.RevertedJobs += reverted
		uq.mu.Unlock()
	}
	return stats, nil
}

func revertProcessing(jobs []*Job) int {
	reverted := 0
	for _, job := range jobs {
		if job.Status != StatusProcessing {
			continue
		}
		job.Status = StatusPending
		for i := range job.Files {
			if job.Files[i].Status == StatusProcessing {
				job.Files[i].Status = StatusPending
			}
		}
		reverted++
	}
	return reverted
}
