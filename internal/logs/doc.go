// Package logs reads run log files for the CLI.
//
// Last returns the trailing lines of a file with bounded memory, ReadFrom
// resumes at a byte offset, and Follow polls for appended lines until the
// context ends. Only newline-terminated lines are returned, so a worker line
// still being written is picked up whole on the next read.
package logs
