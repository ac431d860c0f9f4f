// Package ptz drives a pan-tilt head built from two Amtec PowerCube rotary
// modules.
package ptz

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/c360/semdevices/codec"
	"github.com/c360/semdevices/codec/amtec"
	"github.com/c360/semdevices/codec/stxetx"
	"github.com/c360/semdevices/driver"
	"github.com/c360/semdevices/errors"
	"github.com/c360/semdevices/pkg/retry"
	"github.com/c360/semdevices/types"
)

// Config is the protocol configuration. Angles are degrees, speeds degrees
// per second.
type Config struct {
	PanModule  byte `json:"pan_module"`
	TiltModule byte `json:"tilt_module"`

	MinPan   float64 `json:"min_pan"`
	MaxPan   float64 `json:"max_pan"`
	MinTilt  float64 `json:"min_tilt"`
	MaxTilt  float64 `json:"max_tilt"`
	MaxSpeed float64 `json:"max_speed"`

	HomeOnSetup    bool `json:"home_on_setup"`
	PeriodMS       int  `json:"period_ms"`
	ReplyTimeoutMS int  `json:"reply_timeout_ms"`
}

// DefaultConfig returns limits for the stock head.
func DefaultConfig() Config {
	return Config{
		PanModule:      0x0C,
		TiltModule:     0x0D,
		MinPan:         -170,
		MaxPan:         170,
		MinTilt:        -90,
		MaxTilt:        90,
		MaxSpeed:       60,
		PeriodMS:       100,
		ReplyTimeoutMS: 100,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch {
	case c.PanModule == c.TiltModule:
		return errors.WrapInvalid(fmt.Errorf("pan and tilt share module %d", c.PanModule), "ptz", "Validate", "check modules")
	case c.MinPan >= c.MaxPan || c.MinTilt >= c.MaxTilt:
		return errors.WrapInvalid(fmt.Errorf("empty pan or tilt range"), "ptz", "Validate", "check limits")
	case c.MaxSpeed <= 0:
		return errors.WrapInvalid(fmt.Errorf("max_speed %v must be positive", c.MaxSpeed), "ptz", "Validate", "check speed")
	case c.ReplyTimeoutMS <= 0 || c.PeriodMS < 0:
		return errors.WrapInvalid(fmt.Errorf("bad timing %d/%d", c.PeriodMS, c.ReplyTimeoutMS), "ptz", "Validate", "check timing")
	}
	return nil
}

// Driver is the pan-tilt driver.
type Driver struct {
	cfg      Config
	dec      *stxetx.Decoder
	lastPoll time.Time
}

// New is the driver factory.
func New(raw json.RawMessage) (driver.Driver, error) {
	cfg := DefaultConfig()
	if err := driver.DecodeConfig(raw, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Driver{cfg: cfg, dec: amtec.NewDecoder()}, nil
}

// Name is the driver name used in configuration.
const Name = "ptz"

// Register adds the Amtec PowerCube pan-tilt head driver to f.
func Register(f *driver.Factories) error {
	return f.Register(Name, New)
}

// Kind implements driver.Describer.
func (d *Driver) Kind() string { return Name }

// Setup clears module errors and optionally homes both axes.
func (d *Driver) Setup(env *driver.Env) error {
	if env.Transport == nil {
		return errors.WrapFatal(errors.ErrMissingConfig, "ptz", "Setup", "transport required")
	}
	ctx := context.Background()
	for _, m := range d.modules() {
		if err := d.command(ctx, env, amtec.Reset(m)); err != nil {
			return errors.Wrap(err, "ptz", "Setup", fmt.Sprintf("reset module %d", m))
		}
		if d.cfg.HomeOnSetup {
			if err := d.command(ctx, env, amtec.Home(m)); err != nil {
				return errors.Wrap(err, "ptz", "Setup", fmt.Sprintf("home module %d", m))
			}
		}
	}
	return nil
}

func (d *Driver) modules() []byte { return []byte{d.cfg.PanModule, d.cfg.TiltModule} }

// Cycle polls position and velocity of both modules and publishes them.
func (d *Driver) Cycle(ctx context.Context, env *driver.Env) error {
	if wait := time.Duration(d.cfg.PeriodMS)*time.Millisecond - time.Since(d.lastPoll); wait > 0 {
		if err := retry.Sleep(ctx, wait); err != nil {
			return err
		}
	}
	d.lastPoll = time.Now()

	var values [4]float32
	queries := []struct{ module, param byte }{
		{d.cfg.PanModule, amtec.ParamPosition},
		{d.cfg.PanModule, amtec.ParamVelocity},
		{d.cfg.TiltModule, amtec.ParamPosition},
		{d.cfg.TiltModule, amtec.ParamVelocity},
	}
	for i, q := range queries {
		v, err := d.query(ctx, env, q.module, q.param)
		if err != nil {
			return err
		}
		values[i] = v
	}

	r := &types.PTZReading{
		Pan:       ToTenths(values[0]),
		PanSpeed:  ToTenths(values[1]),
		Tilt:      ToTenths(values[2]),
		TiltSpeed: ToTenths(values[3]),
	}
	if err := env.Publish(r); err != nil {
		env.Warn("Publish failed", "error", err)
	}
	return nil
}

func (d *Driver) timeout() time.Duration {
	return time.Duration(d.cfg.ReplyTimeoutMS) * time.Millisecond
}

func (d *Driver) query(ctx context.Context, env *driver.Env, module, param byte) (float32, error) {
	var v float32
	_, err := env.Exchange(ctx, d.dec, amtec.GetParam(module, param).Encode(), d.timeout(), func(f codec.Frame) bool {
		t, err := amtec.Decode(f.Payload)
		if err != nil {
			return false
		}
		v, err = amtec.ParamValue(t, module, param)
		return err == nil
	})
	return v, err
}

// command sends t and waits for the module to echo the command byte.
func (d *Driver) command(ctx context.Context, env *driver.Env, t amtec.Telegram) error {
	_, err := env.Exchange(ctx, d.dec, t.Encode(), d.timeout(), func(f codec.Frame) bool {
		reply, err := amtec.Decode(f.Payload)
		return err == nil && amtec.Acknowledged(reply, t.Module, t.Command)
	})
	return err
}

// HandleCommand accepts PTZCommand and PowerCommand.
func (d *Driver) HandleCommand(env *driver.Env, cmd types.Command) error {
	ctx := context.Background()
	switch c := cmd.Body.(type) {
	case types.PTZCommand:
		return d.move(ctx, env, c)
	case types.PowerCommand:
		for _, m := range d.modules() {
			t := amtec.Reset(m)
			if !c.On {
				t = amtec.Halt(m)
			}
			if err := d.command(ctx, env, t); err != nil {
				return errors.Wrap(err, "ptz", "HandleCommand", fmt.Sprintf("power module %d", m))
			}
		}
		return nil
	default:
		return errors.WrapInvalid(errors.ErrUnsupported, "ptz", "HandleCommand", cmd.Body.CommandType())
	}
}

func (d *Driver) move(ctx context.Context, env *driver.Env, c types.PTZCommand) error {
	var pan, tilt amtec.Telegram
	if c.Mode == types.PTZVelocity {
		pan = amtec.SetVelocity(d.cfg.PanModule, clampRad(c.PanSpeed, -d.cfg.MaxSpeed, d.cfg.MaxSpeed))
		tilt = amtec.SetVelocity(d.cfg.TiltModule, clampRad(c.TiltSpeed, -d.cfg.MaxSpeed, d.cfg.MaxSpeed))
	} else {
		pan = amtec.SetRamp(d.cfg.PanModule, clampRad(c.Pan, d.cfg.MinPan, d.cfg.MaxPan))
		tilt = amtec.SetRamp(d.cfg.TiltModule, clampRad(c.Tilt, d.cfg.MinTilt, d.cfg.MaxTilt))
	}
	for _, t := range []amtec.Telegram{pan, tilt} {
		if err := d.command(ctx, env, t); err != nil {
			return errors.Wrap(err, "ptz", "move", fmt.Sprintf("move module %d", t.Module))
		}
	}
	return nil
}

// Shutdown halts both axes. Failures are logged; the head may already be
// unreachable.
func (d *Driver) Shutdown(env *driver.Env) error {
	for _, m := range d.modules() {
		if err := d.command(context.Background(), env, amtec.Halt(m)); err != nil {
			env.Warn("Halt on shutdown failed", "module", m, "error", err)
		}
	}
	return nil
}

// ToTenths converts radians to tenths of a degree.
func ToTenths(rad float32) int32 {
	return int32(math.Round(float64(rad) * 1800 / math.Pi))
}

// FromTenths converts tenths of a degree to radians.
func FromTenths(tenths int32) float32 {
	return float32(float64(tenths) * math.Pi / 1800)
}

// clampRad limits tenths to [minDeg, maxDeg] and converts to radians.
func clampRad(tenths int32, minDeg, maxDeg float64) float32 {
	deg := math.Max(minDeg, math.Min(maxDeg, float64(tenths)/10))
	return float32(deg * math.Pi / 180)
}
