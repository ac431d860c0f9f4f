package metric

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semdevices/errors"
)

func gatheredNames(t *testing.T, r *MetricsRegistry) map[string]bool {
	t.Helper()
	families, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	return names
}

func TestNewMetricsRegistry_CoreMetrics(t *testing.T) {
	registry := NewMetricsRegistry()
	require.NotNil(t, registry.CoreMetrics())

	m := registry.CoreMetrics()
	m.RecordDriverState("gps0", "gps", StateUp)
	m.RecordFrameRejected("gps0", "checksum")
	m.RecordReadTimeout("gps0")

	names := gatheredNames(t, registry)
	assert.True(t, names["semdevices_driver_state"])
	assert.True(t, names["semdevices_codec_frames_rejected_total"])
	assert.True(t, names["semdevices_transport_read_timeouts_total"])
	assert.True(t, names["go_goroutines"])

	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesRejected.WithLabelValues("gps0", "checksum")))
	assert.Equal(t, float64(StateUp), testutil.ToFloat64(m.DriverState.WithLabelValues("gps0", "gps")))
}

func TestMetricsRegistry_RegisterAndUnregister(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "laser_scans_total", Help: "scans"})
	require.NoError(t, registry.RegisterCounter("laser0", "scans", counter))
	counter.Inc()
	assert.True(t, gatheredNames(t, registry)["laser_scans_total"])

	assert.True(t, registry.Unregister("laser0", "scans"))
	assert.False(t, registry.Unregister("laser0", "scans"))
	assert.False(t, gatheredNames(t, registry)["laser_scans_total"])
}

func TestMetricsRegistry_DuplicateRegistration(t *testing.T) {
	registry := NewMetricsRegistry()

	g1 := prometheus.NewGauge(prometheus.GaugeOpts{Name: "ptz_pan", Help: "pan"})
	g2 := prometheus.NewGauge(prometheus.GaugeOpts{Name: "ptz_pan", Help: "pan"})

	require.NoError(t, registry.RegisterGauge("ptz0", "pan", g1))

	err := registry.RegisterGauge("ptz0", "pan", g2)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	// same prometheus name under a different key conflicts in prometheus itself
	err = registry.RegisterGauge("ptz1", "pan", g2)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestMetricsRegistry_VecTypes(t *testing.T) {
	registry := NewMetricsRegistry()

	cv := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "cv_total", Help: "cv"}, []string{"a"})
	gv := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "gv", Help: "gv"}, []string{"a"})
	hv := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "hv", Help: "hv"}, []string{"a"})
	h := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "h", Help: "h"})

	require.NoError(t, registry.RegisterCounterVec("svc", "cv", cv))
	require.NoError(t, registry.RegisterGaugeVec("svc", "gv", gv))
	require.NoError(t, registry.RegisterHistogramVec("svc", "hv", hv))
	require.NoError(t, registry.RegisterHistogram("svc", "h", h))
}

func TestMetricsRegistry_ConcurrentRegistration(t *testing.T) {
	registry := NewMetricsRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := prometheus.NewCounter(prometheus.CounterOpts{
				Name: fmt.Sprintf("concurrent_%d_total", i),
				Help: "concurrent",
			})
			assert.NoError(t, registry.RegisterCounter("svc", fmt.Sprintf("c%d", i), c))
		}(i)
	}
	wg.Wait()
}

func TestServer_Handler(t *testing.T) {
	registry := NewMetricsRegistry()
	registry.CoreMetrics().RecordCommand("motor0", "ok")

	srv := NewServer(0, "", registry)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(body), `semdevices_driver_commands_total{device="motor0",result="ok"} 1`)
	assert.Equal(t, "http://localhost:9090/metrics", srv.Address())
}

func TestServer_StartStop(t *testing.T) {
	srv := NewServer(19391, "/metrics", NewMetricsRegistry())
	require.NoError(t, srv.Start())
	assert.Error(t, srv.Start())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))
	require.NoError(t, srv.Stop(ctx))
}
