package registry

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/semdevices/bus"
	"github.com/c360/semdevices/config"
	"github.com/c360/semdevices/driver"
	"github.com/c360/semdevices/errors"
	"github.com/c360/semdevices/health"
	"github.com/c360/semdevices/metric"
	"github.com/c360/semdevices/types"
)

// Deps are the services a Manager hands to every runner it creates.
type Deps struct {
	Factories *driver.Factories
	Bus       *bus.Bus
	Logger    *slog.Logger
	Metrics   *metric.MetricsRegistry
	Health    *health.Monitor
	Open      driver.OpenFunc

	// StartConcurrency bounds parallel starts in StartAll. Zero means 4.
	StartConcurrency int
}

// Manager creates, starts and stops the configured devices.
type Manager struct {
	deps   Deps
	table  *Table
	logger *slog.Logger
}

// NewManager validates deps and returns an empty manager.
func NewManager(deps Deps) (*Manager, error) {
	if deps.Factories == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Manager", "NewManager", "nil factories")
	}
	if deps.Bus == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Manager", "NewManager", "nil bus")
	}
	if deps.StartConcurrency <= 0 {
		deps.StartConcurrency = 4
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		deps:   deps,
		table:  NewTable(),
		logger: logger.With("component", "device-manager"),
	}, nil
}

// Table exposes the bindings for lookups.
func (m *Manager) Table() *Table { return m.table }

// Start builds the driver for dev, binds it and starts its loop. A device
// whose Start fails stays bound with failed status until Stop.
func (m *Manager) Start(ctx context.Context, dev config.DeviceConfig) (*driver.Runner, error) {
	if err := dev.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "Manager", "Start", "validate device")
	}
	addr, _ := dev.ParsedAddress()

	raw, err := dev.ProtocolJSON()
	if err != nil {
		return nil, errors.WrapInvalid(err, "Manager", "Start", "encode protocol")
	}
	drv, err := m.deps.Factories.Create(dev.Driver, raw)
	if err != nil {
		return nil, err
	}

	runner, err := driver.NewRunner(driver.Config{
		Name:      dev.Name,
		Address:   addr,
		Transport: dev.Transport,
		Options:   dev.Options,
	}, drv, driver.Deps{
		Bus:     m.deps.Bus,
		Logger:  m.deps.Logger,
		Metrics: m.deps.Metrics,
		Health:  m.deps.Health,
		Open:    m.deps.Open,
	})
	if err != nil {
		return nil, err
	}

	if err := m.table.Bind(runner); err != nil {
		return nil, err
	}
	if err := runner.Start(ctx); err != nil {
		m.logger.Error("Device failed to start", "device", dev.Name, "address", addr.String(), "error", err)
		return runner, err
	}
	return runner, nil
}

// StartAll starts every device concurrently. One device failing does not
// stop the others; all failures are joined into the returned error.
func (m *Manager) StartAll(ctx context.Context, devices []config.DeviceConfig) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(m.deps.StartConcurrency)

	for _, dev := range devices {
		g.Go(func() error {
			if _, err := m.Start(ctx, dev); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("device %s: %w", dev.Name, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	m.logger.Info("Devices started", "configured", len(devices), "failed", len(errs))
	return stderrors.Join(errs...)
}

// SubmitCommand routes a command to the device owning addr and returns the
// stamped command.
func (m *Manager) SubmitCommand(addr types.Address, body types.CommandBody) (types.Command, error) {
	if body == nil {
		return types.Command{}, errors.WrapInvalid(errors.ErrInvalidConfig, "Manager", "SubmitCommand", "nil command body")
	}
	if _, err := m.table.Resolve(addr); err != nil {
		return types.Command{}, err
	}
	cmd := types.NewCommand(addr, body)
	if err := m.deps.Bus.SubmitCommand(addr, cmd); err != nil {
		return types.Command{}, err
	}
	return cmd, nil
}

// Stop stops the device at addr and releases its binding.
func (m *Manager) Stop(addr types.Address, timeout time.Duration) error {
	r, ok := m.table.Unbind(addr)
	if !ok {
		return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrNoDriver, addr), "Manager", "Stop", "unbind")
	}
	err := r.Stop(timeout)
	if m.deps.Health != nil {
		m.deps.Health.Remove(r.Name())
	}
	if err != nil {
		m.logger.Warn("Device did not stop in time", "device", r.Name(), "error", err)
	}
	return err
}

// StopAll stops every bound device in parallel, each with its own timeout.
func (m *Manager) StopAll(timeout time.Duration) error {
	runners := m.table.List()

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, r := range runners {
		addr := r.Address()
		g.Go(func() error {
			if err := m.Stop(addr, timeout); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return stderrors.Join(errs...)
}

// Snapshot is a point-in-time view of one bound device.
type Snapshot struct {
	Name    string             `json:"name"`
	Driver  string             `json:"driver"`
	Address types.Address      `json:"address"`
	Status  types.DeviceStatus `json:"status"`
	Error   string             `json:"error,omitempty"`
}

// Snapshots describes every bound device, ordered by name.
func (m *Manager) Snapshots() []Snapshot {
	runners := m.table.List()
	out := make([]Snapshot, 0, len(runners))
	for _, r := range runners {
		out = append(out, snapshotOf(r))
	}
	return out
}

// Describe returns the snapshot of the device at addr.
func (m *Manager) Describe(addr types.Address) (Snapshot, error) {
	r, err := m.table.Resolve(addr)
	if err != nil {
		return Snapshot{}, err
	}
	return snapshotOf(r), nil
}

func snapshotOf(r *driver.Runner) Snapshot {
	s := Snapshot{
		Name:    r.Name(),
		Driver:  r.Kind(),
		Address: r.Address(),
		Status:  r.Status(),
	}
	if err := r.Err(); err != nil {
		s.Error = err.Error()
	}
	return s
}
