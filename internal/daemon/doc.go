// Package daemon coordinates the long-running sequentier process.
//
// It wires the configuration cell, queue store, scheduler, retention
// sweeper, and notifier into a single lifecycle with flock-based locking to
// prevent multiple instances sharing one state directory. Start restores the
// per-user queues from their record files before the scheduler claims
// anything, and Stop flushes every record on the way out.
//
// The optional control API (chi) accepts enqueue requests, reports health and
// per-user queues, and triggers configuration reloads. A bearer token guards
// everything except the health endpoint when API.Token is set.
//
// Keep orchestration logic here: job execution lives in workflow and file
// expiry in retention, while the daemon focuses on startup, shutdown, and
// high level coordination.
package daemon
