package registry

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semdevices/bus"
	"github.com/c360/semdevices/config"
	"github.com/c360/semdevices/driver"
	"github.com/c360/semdevices/errors"
	"github.com/c360/semdevices/health"
	"github.com/c360/semdevices/pkg/retry"
	"github.com/c360/semdevices/testutil"
	"github.com/c360/semdevices/transport"
	"github.com/c360/semdevices/types"
)

type stubDriver struct {
	FailSetup bool `json:"fail_setup"`

	mu      sync.Mutex
	handled []types.Command
}

func (s *stubDriver) Kind() string { return "stub" }

func (s *stubDriver) Setup(*driver.Env) error {
	if s.FailSetup {
		return stderrors.New("device did not answer")
	}
	return nil
}

func (s *stubDriver) Cycle(ctx context.Context, _ *driver.Env) error {
	return retry.Sleep(ctx, time.Millisecond)
}

func (s *stubDriver) HandleCommand(_ *driver.Env, cmd types.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handled = append(s.handled, cmd)
	return nil
}

func (s *stubDriver) Shutdown(*driver.Env) error { return nil }

func (s *stubDriver) commands() []types.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Command(nil), s.handled...)
}

type fixture struct {
	mgr    *Manager
	bus    *bus.Bus
	health *health.Monitor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		bus:    bus.New(bus.Options{}),
		health: health.NewMonitor(),
	}
	t.Cleanup(f.bus.Close)

	factories := driver.NewFactories()
	require.NoError(t, factories.Register("stub", func(raw json.RawMessage) (driver.Driver, error) {
		d := &stubDriver{}
		if err := driver.DecodeConfig(raw, d); err != nil {
			return nil, err
		}
		return d, nil
	}))

	logger, _ := testutil.NewLogger()
	mgr, err := NewManager(Deps{
		Factories: factories,
		Bus:       f.bus,
		Logger:    logger,
		Health:    f.health,
		Open: func(context.Context, transport.Config) (transport.Transport, error) {
			return &testutil.Silent{}, nil
		},
	})
	require.NoError(t, err)
	f.mgr = mgr
	t.Cleanup(func() { _ = mgr.StopAll(time.Second) })
	return f
}

func device(name, addr string, protocol map[string]any) config.DeviceConfig {
	return config.DeviceConfig{
		Name:      name,
		Driver:    "stub",
		Address:   addr,
		Transport: &transport.Config{Kind: transport.KindTCP, Address: "sim:1"},
		Protocol:  protocol,
	}
}

func TestManager_StartAndResolve(t *testing.T) {
	f := newFixture(t)

	r, err := f.mgr.Start(context.Background(), device("gps0", "10.0.0.1:6665:gps:0", nil))
	require.NoError(t, err)
	assert.Equal(t, "stub", r.Kind())

	byName, err := f.mgr.Table().Lookup("gps0")
	require.NoError(t, err)
	assert.Same(t, r, byName)

	byAddr, err := f.mgr.Table().Resolve(types.MustAddress("10.0.0.1", 6665, types.InterfaceGPS, 0))
	require.NoError(t, err)
	assert.Same(t, r, byAddr)

	_, err = f.mgr.Table().Lookup("missing")
	assert.ErrorIs(t, err, errors.ErrNoDriver)

	status, ok := f.health.Get("gps0")
	require.True(t, ok)
	assert.True(t, status.IsHealthy())
}

func TestManager_AddressBoundOnce(t *testing.T) {
	f := newFixture(t)

	first, err := f.mgr.Start(context.Background(), device("gps0", "10.0.0.1:6665:gps:0", nil))
	require.NoError(t, err)

	_, err = f.mgr.Start(context.Background(), device("gps1", "10.0.0.1:6665:gps:0", nil))
	assert.ErrorIs(t, err, errors.ErrAddressInUse)

	_, err = f.mgr.Start(context.Background(), device("gps0", "10.0.0.1:6665:gps:1", nil))
	assert.ErrorIs(t, err, errors.ErrAddressInUse)

	assert.Equal(t, 1, f.mgr.Table().Len())
	still, err := f.mgr.Table().Lookup("gps0")
	require.NoError(t, err)
	assert.Same(t, first, still)
}

func TestManager_UnknownDriverBindsNothing(t *testing.T) {
	f := newFixture(t)

	dev := device("gps0", "10.0.0.1:6665:gps:0", nil)
	dev.Driver = "sonar"
	_, err := f.mgr.Start(context.Background(), dev)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown driver")
	assert.Equal(t, 0, f.mgr.Table().Len())
}

func TestManager_StartAllIsolatesFailures(t *testing.T) {
	f := newFixture(t)

	err := f.mgr.StartAll(context.Background(), []config.DeviceConfig{
		device("gps0", "10.0.0.1:6665:gps:0", nil),
		device("ptz0", "10.0.0.1:6665:ptz:0", map[string]any{"fail_setup": true}),
		device("rfid0", "10.0.0.1:6665:rfid:0", nil),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "device ptz0")
	assert.True(t, errors.IsFatal(err))

	snaps := f.mgr.Snapshots()
	require.Len(t, snaps, 3)
	assert.Equal(t, []string{"gps0", "ptz0", "rfid0"}, []string{snaps[0].Name, snaps[1].Name, snaps[2].Name})
	assert.Equal(t, types.LinkUp, snaps[0].Status.State)
	assert.Equal(t, types.LinkFailed, snaps[1].Status.State)
	assert.Contains(t, snaps[1].Error, "device did not answer")
	assert.Equal(t, types.LinkUp, snaps[2].Status.State)
}

func TestManager_SubmitCommand(t *testing.T) {
	f := newFixture(t)

	var drv *stubDriver
	factories := driver.NewFactories()
	require.NoError(t, factories.Register("stub", func(json.RawMessage) (driver.Driver, error) {
		drv = &stubDriver{}
		return drv, nil
	}))
	f.mgr.deps.Factories = factories

	addr := types.MustAddress("10.0.0.1", 6665, types.InterfacePower, 0)
	_, err := f.mgr.Start(context.Background(), device("pwr0", addr.String(), nil))
	require.NoError(t, err)

	cmd, err := f.mgr.SubmitCommand(addr, types.PowerCommand{On: true})
	require.NoError(t, err)
	assert.NotEmpty(t, cmd.ID)
	assert.Equal(t, addr, cmd.Target)

	require.Eventually(t, func() bool { return len(drv.commands()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, cmd.ID, drv.commands()[0].ID)

	other := types.MustAddress("10.0.0.1", 6665, types.InterfacePower, 1)
	_, err = f.mgr.SubmitCommand(other, types.PowerCommand{})
	assert.ErrorIs(t, err, errors.ErrNoDriver)

	_, err = f.mgr.SubmitCommand(addr, nil)
	assert.Error(t, err)
}

func TestManager_StopReleasesBinding(t *testing.T) {
	f := newFixture(t)
	addr := types.MustAddress("10.0.0.1", 6665, types.InterfaceGPS, 0)

	r, err := f.mgr.Start(context.Background(), device("gps0", addr.String(), nil))
	require.NoError(t, err)

	require.NoError(t, f.mgr.Stop(addr, time.Second))
	<-r.Done()
	assert.Equal(t, 0, f.mgr.Table().Len())
	_, ok := f.health.Get("gps0")
	assert.False(t, ok)

	assert.ErrorIs(t, f.mgr.Stop(addr, time.Second), errors.ErrNoDriver)

	_, err = f.mgr.Start(context.Background(), device("gps0", addr.String(), nil))
	assert.NoError(t, err, "address can be rebound after stop")
}

func TestManager_StopAll(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mgr.StartAll(context.Background(), []config.DeviceConfig{
		device("a", "10.0.0.1:6665:gps:0", nil),
		device("b", "10.0.0.1:6665:gps:1", nil),
	}))

	runners := f.mgr.Table().List()
	require.Len(t, runners, 2)
	require.NoError(t, f.mgr.StopAll(time.Second))
	for _, r := range runners {
		<-r.Done()
	}
	assert.Equal(t, 0, f.mgr.Table().Len())
}

func TestNewManager_RequiresDeps(t *testing.T) {
	_, err := NewManager(Deps{Bus: bus.New(bus.Options{})})
	assert.Error(t, err)
	_, err = NewManager(Deps{Factories: driver.NewFactories()})
	assert.Error(t, err)
}
