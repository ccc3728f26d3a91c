// Package workflow schedules queued jobs and runs their files through the
// mapped worker executables.
//
// The Manager polls the queue store, claims at most one Pending job per user
// per tick, and hands claimed jobs to a dispatcher that admits them through a
// bounded gate in the order they were claimed. With the default capacity of
// one, a single job is processed end to end at a time.
//
// The Processor owns everything that happens to an admitted job: mapping
// resolution, the per-batch output directory, per-file attempts with
// deadlines and retries, status persistence after every transition, and
// notifications. Faults inside a job are converted into Job and JobFile
// status; they never reach the Manager.
package workflow
