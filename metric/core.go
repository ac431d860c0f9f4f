package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "semdevices"

// Driver state values exported by DriverState.
const (
	StateDown     = 0
	StateUp       = 1
	StateDegraded = 2
	StateFailed   = 3
	StateStopped  = 4
)

// Metrics contains the process-wide device, bus and bridge metrics.
// Labels use the device name, never the raw address, to keep cardinality
// bounded by configuration.
type Metrics struct {
	// Driver metrics
	DriverState       *prometheus.GaugeVec
	DriverFailures    *prometheus.CounterVec
	CycleDuration     *prometheus.HistogramVec
	FramesDecoded     *prometheus.CounterVec
	FramesRejected    *prometheus.CounterVec
	ReadTimeouts      *prometheus.CounterVec
	ReadingsPublished *prometheus.CounterVec
	Commands          *prometheus.CounterVec

	// Bus metrics
	BusPublished   *prometheus.CounterVec
	BusDropped     *prometheus.CounterVec
	BusSubscribers *prometheus.GaugeVec

	// Bridge metrics
	BridgeForwarded *prometheus.CounterVec
	BridgeErrors    *prometheus.CounterVec

	// NATS metrics
	NATSConnected      prometheus.Gauge
	NATSRTT            prometheus.Gauge
	NATSReconnects     prometheus.Counter
	NATSCircuitBreaker prometheus.Gauge
}

// NewMetrics creates a new Metrics instance. Nothing is registered yet.
func NewMetrics() *Metrics {
	return &Metrics{
		DriverState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "driver",
				Name:      "state",
				Help:      "Driver link state (0=down, 1=up, 2=degraded, 3=failed, 4=stopped)",
			},
			[]string{"device", "driver"},
		),
		DriverFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "driver",
				Name:      "cycle_failures_total",
				Help:      "Failed driver cycles by error class",
			},
			[]string{"device", "class"},
		),
		CycleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "driver",
				Name:      "cycle_duration_seconds",
				Help:      "Driver cycle duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"device"},
		),
		FramesDecoded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "codec",
				Name:      "frames_decoded_total",
				Help:      "Frames that passed checksum validation",
			},
			[]string{"device"},
		),
		FramesRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "codec",
				Name:      "frames_rejected_total",
				Help:      "Frames discarded by reason (checksum, malformed, overrun, short)",
			},
			[]string{"device", "reason"},
		),
		ReadTimeouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transport",
				Name:      "read_timeouts_total",
				Help:      "Reads that returned no data before the timeout",
			},
			[]string{"device"},
		),
		ReadingsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "driver",
				Name:      "readings_published_total",
				Help:      "Readings published to the bus",
			},
			[]string{"device", "interface"},
		),
		Commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "driver",
				Name:      "commands_total",
				Help:      "Commands handled by result (ok, error, rejected)",
			},
			[]string{"device", "result"},
		),
		BusPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "bus",
				Name:      "published_total",
				Help:      "Messages published to the bus by kind",
			},
			[]string{"kind"},
		),
		BusDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "bus",
				Name:      "dropped_total",
				Help:      "Messages dropped from full subscriber queues",
			},
			[]string{"interface"},
		),
		BusSubscribers: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "bus",
				Name:      "subscribers",
				Help:      "Active subscriptions by interface",
			},
			[]string{"interface"},
		),
		BridgeForwarded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "bridge",
				Name:      "forwarded_total",
				Help:      "Bus messages forwarded to external sinks",
			},
			[]string{"sink"},
		),
		BridgeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "bridge",
				Name:      "errors_total",
				Help:      "Failed forwards by sink",
			},
			[]string{"sink"},
		),
		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),
		NATSRTT: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "rtt_milliseconds",
				Help:      "NATS round-trip time in milliseconds",
			},
		),
		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),
		NATSCircuitBreaker: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "circuit_breaker",
				Help:      "NATS circuit breaker status (0=closed, 1=open, 2=half-open)",
			},
		),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.DriverState, m.DriverFailures, m.CycleDuration,
		m.FramesDecoded, m.FramesRejected, m.ReadTimeouts,
		m.ReadingsPublished, m.Commands,
		m.BusPublished, m.BusDropped, m.BusSubscribers,
		m.BridgeForwarded, m.BridgeErrors,
		m.NATSConnected, m.NATSRTT, m.NATSReconnects, m.NATSCircuitBreaker,
	}
}

// RecordDriverState updates the driver state gauge
func (m *Metrics) RecordDriverState(device, driver string, state int) {
	m.DriverState.WithLabelValues(device, driver).Set(float64(state))
}

// RecordCycleFailure counts a failed cycle under its error class
func (m *Metrics) RecordCycleFailure(device, class string) {
	m.DriverFailures.WithLabelValues(device, class).Inc()
}

// RecordCycleDuration observes one driver cycle
func (m *Metrics) RecordCycleDuration(device string, d time.Duration) {
	m.CycleDuration.WithLabelValues(device).Observe(d.Seconds())
}

// RecordFrameDecoded counts a valid frame
func (m *Metrics) RecordFrameDecoded(device string) {
	m.FramesDecoded.WithLabelValues(device).Inc()
}

// RecordFrameRejected counts a discarded frame
func (m *Metrics) RecordFrameRejected(device, reason string) {
	m.FramesRejected.WithLabelValues(device, reason).Inc()
}

// RecordReadTimeout counts an empty read
func (m *Metrics) RecordReadTimeout(device string) {
	m.ReadTimeouts.WithLabelValues(device).Inc()
}

// RecordReadingPublished counts a reading handed to the bus
func (m *Metrics) RecordReadingPublished(device, iface string) {
	m.ReadingsPublished.WithLabelValues(device, iface).Inc()
}

// RecordCommand counts a handled command
func (m *Metrics) RecordCommand(device, result string) {
	m.Commands.WithLabelValues(device, result).Inc()
}

// RecordNATSStatus updates NATS connection status
func (m *Metrics) RecordNATSStatus(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	m.NATSConnected.Set(value)
}

// RecordNATSRTT updates NATS round-trip time
func (m *Metrics) RecordNATSRTT(rtt time.Duration) {
	m.NATSRTT.Set(float64(rtt.Milliseconds()))
}

// RecordNATSReconnect increments reconnection counter
func (m *Metrics) RecordNATSReconnect() {
	m.NATSReconnects.Inc()
}

// RecordCircuitBreakerState updates circuit breaker status
func (m *Metrics) RecordCircuitBreakerState(state int) {
	m.NATSCircuitBreaker.Set(float64(state))
}
