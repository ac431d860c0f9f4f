// Package health tracks per-device link health and summarises it for the
// process.
//
// Driver runners call Monitor.Observe whenever their link state changes.
// The HTTP gateway serves Monitor.Summary: healthy when every device is up,
// unhealthy when every device is down, degraded otherwise.
package health
