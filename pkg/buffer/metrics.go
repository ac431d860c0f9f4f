package buffer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/semdevices/metric"
)

type bufferMetrics struct {
	registry *metric.MetricsRegistry
	prefix   string

	writes      prometheus.Counter
	reads       prometheus.Counter
	drops       prometheus.Counter
	size        prometheus.Gauge
	utilization prometheus.Gauge
}

func newBufferMetrics(registry *metric.MetricsRegistry, prefix string) (*bufferMetrics, error) {
	labels := prometheus.Labels{"buffer": prefix}
	m := &bufferMetrics{
		registry: registry,
		prefix:   prefix,
		writes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "semdevices", Subsystem: "buffer", Name: "writes_total",
			ConstLabels: labels, Help: "Items written to the buffer",
		}),
		reads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "semdevices", Subsystem: "buffer", Name: "reads_total",
			ConstLabels: labels, Help: "Items read from the buffer",
		}),
		drops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "semdevices", Subsystem: "buffer", Name: "drops_total",
			ConstLabels: labels, Help: "Items dropped by the overflow policy",
		}),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "semdevices", Subsystem: "buffer", Name: "size",
			ConstLabels: labels, Help: "Items currently queued",
		}),
		utilization: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "semdevices", Subsystem: "buffer", Name: "utilization",
			ConstLabels: labels, Help: "Queued items over capacity (0.0 to 1.0)",
		}),
	}

	for name, c := range map[string]prometheus.Counter{
		"buffer_writes": m.writes, "buffer_reads": m.reads, "buffer_drops": m.drops,
	} {
		if err := registry.RegisterCounter(prefix, name, c); err != nil {
			return nil, err
		}
	}
	if err := registry.RegisterGauge(prefix, "buffer_size", m.size); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(prefix, "buffer_utilization", m.utilization); err != nil {
		return nil, err
	}
	return m, nil
}

var bufferMetricNames = []string{
	"buffer_writes", "buffer_reads", "buffer_drops", "buffer_size", "buffer_utilization",
}

// unregister releases the collectors so the prefix can be reused.
func (m *bufferMetrics) unregister() {
	for _, name := range bufferMetricNames {
		m.registry.Unregister(m.prefix, name)
	}
}

func (m *bufferMetrics) recordWrite(size, capacity int) {
	m.writes.Inc()
	m.updateSize(size, capacity)
}

func (m *bufferMetrics) recordRead(size, capacity int) {
	m.reads.Inc()
	m.updateSize(size, capacity)
}

func (m *bufferMetrics) recordDrop() {
	m.drops.Inc()
}

func (m *bufferMetrics) updateSize(size, capacity int) {
	m.size.Set(float64(size))
	m.utilization.Set(float64(size) / float64(capacity))
}
