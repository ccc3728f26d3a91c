package workflow

import "sequentier/internal/queue"

// StatusSummary represents lightweight scheduler diagnostics.
type StatusSummary struct {
	Running   bool
	Capacity  int64
	Active    int
	Waiting   int
	Processed int
	LastError string
	LastJob   *queue.Job
	Users     map[string]map[queue.Status]int
}

// Status returns the latest scheduler information and per-user job counts.
func (m *Manager) Status() StatusSummary {
	m.mu.RLock()
	summary := StatusSummary{
		Running:   m.running,
		Capacity:  m.capacity,
		Active:    m.active,
		Processed: m.processed,
	}
	if m.lastErr != nil {
		summary.LastError = m.lastErr.Error()
	}
	if m.lastJob != nil {
		job := m.lastJob.Clone()
		summary.LastJob = &job
	}
	m.mu.RUnlock()

	m.backlogMu.Lock()
	summary.Waiting = len(m.backlog)
	m.backlogMu.Unlock()

	summary.Users = make(map[string]map[queue.Status]int)
	for _, uq := range m.store.EnumerateUserQueues() {
		counts := make(map[queue.Status]int, 4)
		for _, job := range uq.Jobs {
			counts[job.Status]++
		}
		summary.Users[uq.User] = counts
	}
	return summary
}

func (m *Manager) setActive(delta int) {
	m.mu.Lock()
	m.active += delta
	m.mu.Unlock()
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) setLastJob(job queue.Job) {
	m.mu.Lock()
	clone := job.Clone()
	m.lastJob = &clone
	m.processed++
	m.mu.Unlock()
}
