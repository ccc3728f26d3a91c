// Package retention deletes aged files from the watch and output trees.
//
// The Sweeper runs on its own interval, independent of the scheduler. Each
// sweep reads the current configuration, derives one root per path template
// (the directory before the {USER} token, so every user is covered), removes
// files older than FileRetentionHours, and prunes directories left empty.
// Queue records and the state directory are never touched, even when they
// live below a sweep root.
package retention
