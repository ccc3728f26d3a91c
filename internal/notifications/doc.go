// Package notifications pushes job status changes to the layer that drives
// live progress views.
//
// The default implementation POSTs each job snapshot to the webhook
// configured in config.toml and degrades to a no-op when none is set. Sends
// happen on a background goroutine behind a bounded buffer, so callers in the
// processing path never wait on the network.
//
// Tests can substitute Recorder, which keeps every snapshot it receives.
package notifications
