package health

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semdevices/types"
)

func TestLevelOf(t *testing.T) {
	tests := []struct {
		state types.LinkState
		want  string
	}{
		{types.LinkUp, LevelHealthy},
		{types.LinkDegraded, LevelDegraded},
		{types.LinkDown, LevelUnhealthy},
		{types.LinkFailed, LevelUnhealthy},
		{types.LinkStopped, LevelUnhealthy},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LevelOf(tt.state), string(tt.state))
	}
}

func device(name string, state types.LinkState) Status {
	return FromDeviceStatus(name, types.DeviceStatus{State: state}, time.Time{})
}

func TestSummarize(t *testing.T) {
	empty := Summarize("sys", nil)
	assert.True(t, empty.IsHealthy())
	assert.Equal(t, "no devices bound", empty.Message)

	up := device("gps0", types.LinkUp)
	degraded := device("ptz0", types.LinkDegraded)
	failed := device("rfid0", types.LinkFailed)

	all := Summarize("sys", []Status{up, up})
	assert.True(t, all.IsHealthy())
	assert.True(t, all.Healthy)
	assert.Equal(t, "2 devices up", all.Message)

	mixed := Summarize("sys", []Status{up, degraded, failed})
	assert.True(t, mixed.IsDegraded())
	assert.Equal(t, &Counts{Total: 3, Healthy: 1, Degraded: 1, Unhealthy: 1}, mixed.Counts)
	assert.Equal(t, "1 of 3 devices up, 1 degraded, 1 down", mixed.Message)
	assert.Len(t, mixed.Devices, 3)

	down := Summarize("sys", []Status{failed, device("motor0", types.LinkStopped)})
	assert.True(t, down.IsUnhealthy())
	assert.False(t, down.Healthy)
}

func TestFromDeviceStatus(t *testing.T) {
	started := time.Now().Add(-time.Minute)

	up := FromDeviceStatus("ptz0", types.DeviceStatus{State: types.LinkUp}, started)
	assert.True(t, up.IsHealthy())
	assert.Equal(t, "up", up.Link)
	assert.Equal(t, "link up", up.Message)
	require.NotNil(t, up.Metrics)
	assert.GreaterOrEqual(t, up.Metrics.Uptime, time.Minute)

	deg := FromDeviceStatus("ptz0", types.DeviceStatus{
		State:    types.LinkDegraded,
		Reason:   "read timeout on /dev/ttyUSB0",
		Failures: 3,
	}, started)
	assert.True(t, deg.IsDegraded())
	assert.Equal(t, "read timeout on [PATH]", deg.Message)
	assert.Equal(t, 3, deg.Metrics.Failures)

	failed := FromDeviceStatus("ptz0", types.DeviceStatus{State: types.LinkFailed, Reason: "fatal device error"}, time.Time{})
	assert.True(t, failed.IsUnhealthy())
	assert.Equal(t, "failed: fatal device error", failed.Message)
	assert.Zero(t, failed.Metrics.Uptime)

	stopped := FromDeviceStatus("ptz0", types.DeviceStatus{State: types.LinkStopped}, started)
	assert.True(t, stopped.IsUnhealthy())
}

func TestSanitizeErrorMessage(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", ""},
		{"open /dev/ttyS0: permission denied", "open [PATH]: permission denied"},
		{"dial nats://10.0.0.5:4222 refused", "dial [URL] refused"},
		{"multicast join 239.255.0.1 failed", "multicast join [IP] failed"},
		{"auth password=hunter2 rejected", "auth [REDACTED] rejected"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, sanitizeErrorMessage(tt.input), tt.input)
	}
}

func TestMonitor(t *testing.T) {
	m := NewMonitor()
	m.Observe("ptz0", types.DeviceStatus{State: types.LinkDegraded, Reason: "slow"}, time.Time{})
	m.Observe("gps0", types.DeviceStatus{State: types.LinkUp}, time.Now())

	got, ok := m.Get("gps0")
	require.True(t, ok)
	assert.Equal(t, "gps0", got.Component)
	assert.True(t, got.IsHealthy())
	assert.False(t, got.Timestamp.IsZero())
	assert.Equal(t, 2, m.Count())

	list := m.List()
	require.Len(t, list, 2)
	assert.Equal(t, "gps0", list[0].Component)
	assert.Equal(t, "ptz0", list[1].Component)
	assert.True(t, m.Summary("semdevices").IsDegraded())

	m.Remove("ptz0")
	assert.True(t, m.Summary("semdevices").IsHealthy())
	_, ok = m.Get("ptz0")
	assert.False(t, ok)
}

func TestMonitor_ConcurrentAccess(t *testing.T) {
	m := NewMonitor()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("dev%d", i)
			for j := 0; j < 100; j++ {
				m.Observe(name, types.DeviceStatus{State: types.LinkUp}, time.Time{})
				_ = m.Summary("sys")
				_, _ = m.Get(name)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 10, m.Count())
}
