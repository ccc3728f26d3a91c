// Package logging assembles structured slog loggers and formatting helpers used
// across sequentier.
//
// It owns the console and JSON handlers, level and output plumbing, the
// per-run log files written next to each user's queue records, and
// context-aware helpers that tag log lines with job, user, run, and attempt
// identifiers. A no-op logger is provided for tests and wiring code that
// cannot fail.
package logging
