// Package worker runs external worker executables.
//
// A worker is invoked as `<executable> <input> <outputDir>`, observed only
// through its exit code, wall-clock duration, and the lines it writes to
// stdout and stderr. CommandRunner starts each worker in its own process
// group so a deadline or shutdown terminates the worker and anything it
// spawned.
package worker
