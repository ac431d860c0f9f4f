package health

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/c360/semdevices/types"
)

// Monitor holds the latest health of every bound device. Safe for
// concurrent use.
type Monitor struct {
	mu      sync.RWMutex
	devices map[string]Status
}

// NewMonitor creates an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{devices: make(map[string]Status)}
}

// Observe records the link status a device just published. started is
// when its link first came up, or zero.
func (m *Monitor) Observe(name string, ds types.DeviceStatus, started time.Time) {
	s := FromDeviceStatus(name, ds, started)

	m.mu.Lock()
	m.devices[name] = s
	m.mu.Unlock()
}

// Get returns the health of one device.
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.devices[name]
	return s, ok
}

// List returns every device's health ordered by name.
func (m *Monitor) List() []Status {
	m.mu.RLock()
	out := make([]Status, 0, len(m.devices))
	for _, s := range m.devices {
		out = append(out, s)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Component < out[j].Component })
	return out
}

// Remove forgets a device once it is unbound.
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	delete(m.devices, name)
	m.mu.Unlock()
}

// Count returns the number of devices being tracked.
func (m *Monitor) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.devices)
}

// Summary reports process health over every tracked device.
func (m *Monitor) Summary(system string) Status {
	return Summarize(system, m.List())
}

// Summarize folds device statuses into one process status. The process is
// unhealthy only when every device is unhealthy; one lost device leaves
// the rest in service, so it only degrades the summary.
func Summarize(system string, devices []Status) Status {
	c := &Counts{Total: len(devices)}
	for _, d := range devices {
		switch d.Status {
		case LevelHealthy:
			c.Healthy++
		case LevelDegraded:
			c.Degraded++
		default:
			c.Unhealthy++
		}
	}

	s := Status{
		Component: system,
		Timestamp: time.Now(),
		Counts:    c,
		Devices:   devices,
	}
	switch {
	case c.Total == 0:
		s.Status, s.Message = LevelHealthy, "no devices bound"
	case c.Unhealthy == c.Total:
		s.Status, s.Message = LevelUnhealthy, "all devices down"
	case c.Healthy == c.Total:
		s.Status, s.Message = LevelHealthy, fmt.Sprintf("%d devices up", c.Total)
	default:
		s.Status = LevelDegraded
		s.Message = fmt.Sprintf("%d of %d devices up, %d degraded, %d down",
			c.Healthy, c.Total, c.Degraded, c.Unhealthy)
	}
	s.Healthy = s.Status == LevelHealthy
	return s
}
