// Package queue owns the per-user job lists and their JSON record files.
//
// Each user's jobs live in memory behind a per-user lock and are written as
// whole documents to <QueueDirectory>/queue-<yyyy-MM-dd>.json, one file per
// calendar day a job was created on. External status viewers read these
// files directly, so field names are a stable, additive-only wire format.
//
// Callers never receive references into the store: Enqueue,
// TryDequeuePending, UpdateJob, and EnumerateUserQueues all return copies,
// and every in-place change goes through UpdateJob so it is persisted under
// the owning user's lock.
//
// GetOrCreateConfig is the single place per-user path templating happens.
package queue
