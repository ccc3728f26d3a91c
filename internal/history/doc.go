// Package history archives jobs that reached a terminal status in a SQLite
// database under the state directory.
//
// The per-day JSON records stay the source of truth for live queues; the
// archive answers "what ran recently" across days and users without scanning
// record files. Writes retry briefly on SQLITE_BUSY so a CLI reader never
// breaks the daemon's writer.
package history
