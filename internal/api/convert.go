package api

import (
	"time"

	"sequentier/internal/queue"
	"sequentier/internal/workflow"
)

// FromJob converts a queue job to its API representation.
func FromJob(job queue.Job) Job {
	dto := Job{
		ID:              job.ID,
		User:            job.User,
		RunID:           job.RunID,
		TargetApp:       job.TargetApp,
		Status:          string(job.Status),
		RetryCount:      job.RetryCount,
		OutputDirectory: job.OutputDirectory,
		CreatedAt:       FormatTime(job.CreatedAt),
		StartedAt:       formatTimePtr(job.StartedAt),
		FinishedAt:      formatTimePtr(job.FinishedAt),
		Counts:          MergeStatusCounts(job.Counts()),
		Files:           make([]JobFile, 0, len(job.Files)),
	}
	for _, file := range job.Files {
		dto.Files = append(dto.Files, JobFile{
			Path:       file.Path,
			Status:     string(file.Status),
			StartedAt:  formatTimePtr(file.StartedAt),
			FinishedAt: formatTimePtr(file.FinishedAt),
			Retries:    file.Retries,
		})
	}
	return dto
}

// FromJobs converts a slice of queue jobs into API DTOs.
func FromJobs(jobs []queue.Job) []Job {
	out := make([]Job, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, FromJob(job))
	}
	return out
}

// FromStatusSummary converts a workflow status summary to API payload.
func FromStatusSummary(summary workflow.StatusSummary) WorkflowStatus {
	wf := WorkflowStatus{
		Running:   summary.Running,
		Capacity:  summary.Capacity,
		Active:    summary.Active,
		Waiting:   summary.Waiting,
		Processed: summary.Processed,
		LastError: summary.LastError,
		Users:     make(map[string]map[string]int, len(summary.Users)),
	}
	for user, counts := range summary.Users {
		wf.Users[user] = MergeStatusCounts(counts)
	}
	if summary.LastJob != nil {
		last := FromJob(*summary.LastJob)
		wf.LastJob = &last
	}
	return wf
}

// MergeStatusCounts produces a string-keyed representation of status counts.
func MergeStatusCounts(counts map[queue.Status]int) map[string]int {
	out := make(map[string]int, len(counts))
	for status, count := range counts {
		out[string(status)] = count
	}
	return out
}

// FormatTime renders t for API payloads; the zero time renders empty.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return FormatTime(*t)
}
