// Package config loads, normalizes, and validates the sequentier template
// configuration and publishes it through a hot-reloadable Cell.
//
// The template carries the per-user fields (WatchDirectory, QueueDirectory,
// TimeoutSeconds, DefaultRetryCount, FileRetentionHours, Mapping) whose path
// values may embed the {USER} token, plus engine, logging, API, and
// notification sections. ForUser materializes an independent per-user copy
// with the token substituted.
//
// Files ending in .json are decoded as JSON; everything else is TOML.
package config
