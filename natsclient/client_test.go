package natsclient

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semdevices/errors"
	"github.com/c360/semdevices/metric"
)

func TestNewClient(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	assert.Equal(t, "nats://localhost:4222", client.URL())
	assert.Equal(t, StatusDisconnected, client.Status())
	assert.False(t, client.IsHealthy())
	assert.Equal(t, time.Second, client.Backoff())
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "connected", StatusConnected.String())
	assert.Equal(t, "circuit_open", StatusCircuitOpen.String())
	assert.Equal(t, "unknown", ConnectionStatus(42).String())
}

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	client, err := NewClient("nats://invalid:4222", WithCircuitBreakerThreshold(3))
	require.NoError(t, err)

	client.recordFailure()
	client.recordFailure()
	assert.NotEqual(t, StatusCircuitOpen, client.Status())

	client.recordFailure()
	assert.Equal(t, StatusCircuitOpen, client.Status())
	assert.Equal(t, int32(3), client.Failures())
	assert.Equal(t, 2*time.Second, client.Backoff())

	err = client.Connect(context.Background())
	assert.True(t, stderrors.Is(err, ErrCircuitOpen))
	assert.True(t, errors.IsTransient(err))
}

func TestCircuitBreaker_BackoffCapped(t *testing.T) {
	client, err := NewClient("nats://invalid:4222",
		WithCircuitBreakerThreshold(1), WithMaxBackoff(3*time.Second))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		client.recordFailure()
	}
	assert.Equal(t, 3*time.Second, client.Backoff())

	client.resetCircuit()
	assert.Equal(t, int32(0), client.Failures())
	assert.Equal(t, time.Second, client.Backoff())
	assert.Equal(t, StatusDisconnected, client.Status())
}

func TestNotConnected(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)
	ctx := context.Background()

	assert.ErrorIs(t, client.Publish(ctx, "devices.x.data", []byte("{}")), ErrNotConnected)
	assert.ErrorIs(t, client.Subscribe(ctx, "devices.x.command", func(context.Context, []byte) {}), ErrNotConnected)
	_, err = client.rtt()
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = client.OpenKVStore(ctx, "device_last", 0)
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = client.JetStream()
	assert.Error(t, err)

	assert.Equal(t, StatusDisconnected, client.Status())

	assert.NoError(t, client.Close(ctx))
	assert.NoError(t, client.Close(ctx), "close is idempotent")
}

func TestConnect_Unreachable(t *testing.T) {
	client, err := NewClient("nats://127.0.0.1:1",
		WithTimeout(100*time.Millisecond), WithMaxReconnects(0), WithHealthInterval(0))
	require.NoError(t, err)

	err = client.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.Equal(t, int32(1), client.Failures())
	assert.Equal(t, StatusDisconnected, client.Status())
}

func TestWaitForConnection_Timeout(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err = client.WaitForConnection(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMetrics_CircuitState(t *testing.T) {
	reg := metric.NewMetricsRegistry()
	client, err := NewClient("nats://invalid:4222", WithMetrics(reg), WithCircuitBreakerThreshold(1))
	require.NoError(t, err)

	client.recordFailure()
	core := reg.CoreMetrics()
	assert.Equal(t, 1.0, testutil.ToFloat64(core.NATSCircuitBreaker))
	assert.Equal(t, 0.0, testutil.ToFloat64(core.NATSConnected))

	client.resetCircuit()
	assert.Equal(t, 0.0, testutil.ToFloat64(core.NATSCircuitBreaker))
}

func TestTLSOption(t *testing.T) {
	client, err := NewClient("tls://127.0.0.1:4222", WithTLSConfig(&tls.Config{MinVersion: tls.VersionTLS13}))
	require.NoError(t, err)

	found := false
	var opts nats.Options
	for _, opt := range client.buildConnectionOptions() {
		require.NoError(t, opt(&opts))
		if opts.Secure && opts.TLSConfig != nil {
			found = true
		}
	}
	assert.True(t, found)
}

func TestPingAndDrainOptions(t *testing.T) {
	client, err := NewClient("nats://127.0.0.1:4222",
		WithPingInterval(5*time.Second), WithDrainTimeout(3*time.Second))
	require.NoError(t, err)

	var opts nats.Options
	for _, opt := range client.buildConnectionOptions() {
		require.NoError(t, opt(&opts))
	}
	assert.Equal(t, 5*time.Second, opts.PingInterval)
	assert.Equal(t, 3*time.Second, opts.DrainTimeout)

	defaults, err := NewClient("nats://127.0.0.1:4222", WithPingInterval(0), WithDrainTimeout(0))
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, defaults.pingInterval)
	assert.Equal(t, 30*time.Second, defaults.drainTimeout)
}
