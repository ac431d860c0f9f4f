// Package lasertransform republishes a laser scan after a chain of
// geometric stages. It has no device link: scans come from another device
// on the bus and results go out under this driver's own address.
package lasertransform

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/c360/semdevices/bus"
	"github.com/c360/semdevices/driver"
	"github.com/c360/semdevices/errors"
	"github.com/c360/semdevices/types"
)

// Config is the pipeline configuration.
type Config struct {
	// Source is the upstream laser address, host:robot:laser:index.
	Source string        `json:"source"`
	Stages []StageConfig `json:"stages"`

	// WaitMS bounds each wait for an upstream scan so commands and
	// cancellation are serviced.
	WaitMS int `json:"wait_ms"`
	// UpstreamTimeoutMS without a scan reports the device degraded.
	UpstreamTimeoutMS int `json:"upstream_timeout_ms"`
	QueueLen          int `json:"queue_len"`
}

// DefaultConfig returns the pipeline defaults.
func DefaultConfig() Config {
	return Config{WaitMS: 100, UpstreamTimeoutMS: 2000, QueueLen: 8}
}

// Driver is the transform pipeline.
type Driver struct {
	cfg    Config
	source types.Address
	stages []Stage

	sub      *bus.Subscription
	lastScan time.Time
}

// New is the driver factory.
func New(raw json.RawMessage) (driver.Driver, error) {
	cfg := DefaultConfig()
	if err := driver.DecodeConfig(raw, &cfg); err != nil {
		return nil, err
	}

	source, err := types.ParseAddress(cfg.Source)
	if err != nil {
		return nil, errors.WrapInvalid(err, "lasertransform", "New", "parse source")
	}
	if source.Interface != types.InterfaceLaser {
		return nil, errors.WrapInvalid(fmt.Errorf("source %s is not a laser", source), "lasertransform", "New", "check source")
	}
	if cfg.WaitMS <= 0 || cfg.UpstreamTimeoutMS <= 0 {
		return nil, errors.WrapInvalid(fmt.Errorf("wait_ms and upstream_timeout_ms must be positive"),
			"lasertransform", "New", "check timing")
	}

	stages := make([]Stage, 0, len(cfg.Stages))
	for _, sc := range cfg.Stages {
		st, err := NewStage(sc)
		if err != nil {
			return nil, err
		}
		stages = append(stages, st)
	}
	return &Driver{cfg: cfg, source: source, stages: stages}, nil
}

// Name is the driver name used in configuration.
const Name = "lasertransform"

// Register adds the laser scan transform chain driver to f.
func Register(f *driver.Factories) error {
	return f.Register(Name, New)
}

// Kind implements driver.Describer.
func (d *Driver) Kind() string { return Name }

// Apply runs the stage chain on a copy of scan. Intensities that do not
// pair one-to-one with ranges are dropped.
func (d *Driver) Apply(scan *types.LaserScan) *types.LaserScan {
	out := scan.Clone().(*types.LaserScan)
	if !alignedIntensities(out) {
		out.Intensities = nil
	}
	for _, st := range d.stages {
		st.Apply(out)
	}
	return out
}

// Setup subscribes to the upstream laser.
func (d *Driver) Setup(env *driver.Env) error {
	if d.source == env.Address {
		return errors.WrapFatal(errors.ErrInvalidConfig, "lasertransform", "Setup", "source is own address")
	}
	sub, err := env.Bus.Subscribe(d.source, bus.WithQueueLen(d.cfg.QueueLen))
	if err != nil {
		return errors.Wrap(err, "lasertransform", "Setup", "subscribe "+d.source.String())
	}
	d.sub = sub
	d.lastScan = time.Now()
	return nil
}

// Cycle waits briefly for the next upstream scan and republishes it.
func (d *Driver) Cycle(ctx context.Context, env *driver.Env) error {
	waitCtx, cancel := context.WithTimeout(ctx, time.Duration(d.cfg.WaitMS)*time.Millisecond)
	defer cancel()

	msg, err := d.sub.Next(waitCtx)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return ctx.Err()
	case stderrors.Is(err, context.DeadlineExceeded):
		if time.Since(d.lastScan) > time.Duration(d.cfg.UpstreamTimeoutMS)*time.Millisecond {
			env.Degraded("no scans from " + d.source.String())
		}
		return nil
	default:
		return errors.WrapFatal(err, "lasertransform", "Cycle", "read upstream")
	}

	if msg.Kind != bus.KindData {
		return nil
	}
	scan, ok := msg.Payload.(*types.LaserScan)
	if !ok {
		env.Warn("Ignoring non-laser payload", "type", fmt.Sprintf("%T", msg.Payload))
		return nil
	}

	if len(scan.Intensities) > 0 && !alignedIntensities(scan) {
		env.Warn("Dropping misaligned intensities", "ranges", len(scan.Ranges), "intensities", len(scan.Intensities))
	}

	d.lastScan = time.Now()
	env.Healthy()
	return env.Publish(d.Apply(scan))
}

// HandleCommand rejects every command.
func (d *Driver) HandleCommand(_ *driver.Env, cmd types.Command) error {
	return errors.WrapInvalid(errors.ErrUnsupported, "lasertransform", "HandleCommand", cmd.Body.CommandType())
}

// Shutdown drops the upstream subscription.
func (d *Driver) Shutdown(env *driver.Env) error {
	if d.sub != nil {
		env.Bus.Unsubscribe(d.sub)
		d.sub = nil
	}
	return nil
}
