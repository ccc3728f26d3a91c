// Package main hosts the sequentier CLI entrypoint and command graph.
//
// The Cobra-based command tree runs the engine in the foreground, submits
// files to a running daemon over its control API, renders per-user queue
// record files and the job history archive as tables, tails per-batch run
// logs, and scaffolds configuration. It centralizes configuration resolution
// and .env loading so subcommands can focus on user experience instead of
// wiring.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
