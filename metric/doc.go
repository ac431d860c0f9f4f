// Package metric owns the Prometheus registry for the process.
//
// NewMetricsRegistry registers the core device metrics (driver state, cycle
// failures, frame decode/reject counts, read timeouts, bus drops, bridge
// forwards) and the Go runtime collectors on a private registry. Components
// that need their own collectors go through the Register* helpers, which
// reject duplicate names instead of panicking.
//
// Components accept a nil *MetricsRegistry and skip recording in that case.
package metric
