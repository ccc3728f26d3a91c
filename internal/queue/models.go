package queue

import (
	"slices"
	"time"
)

// Status is shared by jobs and their files.
type Status string

const (
	StatusPending    Status = "Pending"
	StatusProcessing Status = "Processing"
	StatusCompleted  Status = "Completed"
	StatusFailed     Status = "Failed"
)

// IsTerminal reports whether no further processing will happen.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// JobFile is the per-file status record inside a Job. Retries is the
// zero-based index of the last attempt made.
type JobFile struct {
	Path       string     `json:"Path"`
	Status     Status     `json:"Status"`
	StartedAt  *time.Time `json:"StartedAt"`
	FinishedAt *time.Time `json:"FinishedAt"`
	Retries    int        `json:"Retries"`
}

// Job is one batch of files submitted under a RunID for a TargetApp by a
// User. (User, RunID, TargetApp) identifies a Job.
type Job struct {
	ID              string     `json:"Id"`
	TargetApp       string     `json:"TargetApp"`
	User            string     `json:"User"`
	Files           []JobFile  `json:"Files"`
	RunID           string     `json:"RunId"`
	Status          Status     `json:"Status"`
	StartedAt       *time.Time `json:"StartedAt"`
	RetryCount      int        `json:"RetryCount"`
	OutputDirectory string     `json:"OutputDirectory,omitempty"`
	CreatedAt       time.Time  `json:"CreatedAt"`
	FinishedAt      *time.Time `json:"FinishedAt,omitempty"`
}

// Clone returns a deep copy.
func (j Job) Clone() Job {
	clone := j
	clone.Files = slices.Clone(j.Files)
	if clone.Files == nil {
		clone.Files = []JobFile{}
	}
	clone.StartedAt = cloneTime(j.StartedAt)
	clone.FinishedAt = cloneTime(j.FinishedAt)
	for i := range clone.Files {
		clone.Files[i].StartedAt = cloneTime(clone.Files[i].StartedAt)
		clone.Files[i].FinishedAt = cloneTime(clone.Files[i].FinishedAt)
	}
	return clone
}

// Matches reports whether the job is the one identified by runID and targetApp.
func (j Job) Matches(runID, targetApp string) bool {
	return j.RunID == runID && j.TargetApp == targetApp
}

// PendingFileIndex returns the first file still waiting to be attempted, or -1.
func (j Job) PendingFileIndex() int {
	for i, file := range j.Files {
		if file.Status == StatusPending {
			return i
		}
	}
	return -1
}

// FinalStatus is Failed only when every file failed; any success completes
// the job. A job without files completes.
func (j Job) FinalStatus() Status {
	if len(j.Files) == 0 {
		return StatusCompleted
	}
	for _, file := range j.Files {
		if file.Status != StatusFailed {
			return StatusCompleted
		}
	}
	return StatusFailed
}

// Counts tallies files by status.
func (j Job) Counts() map[Status]int {
	counts := make(map[Status]int, 4)
	for _, file := range j.Files {
		counts[file.Status]++
	}
	return counts
}

// UserQueue is a snapshot of one user's jobs in creation order.
type UserQueue struct {
	User string
	Jobs []Job
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// TimePtr returns a pointer to t.
func TimePtr(t time.Time) *time.Time {
	return &t
}
