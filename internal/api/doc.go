// Package api defines wire-format types and converters for the control API
// served by the daemon, plus the HTTP client the CLI uses to reach it.
//
// # Key Types
//
// Job/JobFile: transport representation of a queue job with per-file state
// and status counts.
//
// WorkflowStatus: scheduler running state, gate capacity, admission backlog,
// and per-user status counts.
//
// HealthResponse: aggregated daemon runtime information.
//
// EnqueueRequest/EnqueueResponse: submission of one file into a batch.
//
// # Converters
//
// FromJob: queue.Job -> Job with string statuses and RFC3339 timestamps.
//
// FromStatusSummary: workflow.StatusSummary -> WorkflowStatus.
//
// # Design Notes
//
// DTOs use camelCase JSON tags for script and dashboard consumers. The
// on-disk record format is independent of these types; viewers reading the
// record files directly use queue.ReadRecord instead. Timestamps use RFC3339
// with milliseconds in UTC.
package api
