// Package motor drives ClodBuster-style differential drive bases: it polls
// the wheel encoders, integrates odometry and turns velocity commands into
// left and right PWM duty.
package motor

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/c360/semdevices/codec"
	"github.com/c360/semdevices/codec/clodbuster"
	"github.com/c360/semdevices/driver"
	"github.com/c360/semdevices/errors"
	"github.com/c360/semdevices/pkg/retry"
	"github.com/c360/semdevices/transport"
	"github.com/c360/semdevices/types"
)

// Config is the protocol configuration.
type Config struct {
	// WheelBase is the distance between the wheels in metres.
	WheelBase float64 `json:"wheel_base"`
	// MetersPerTick converts encoder counts to distance.
	MetersPerTick float64 `json:"meters_per_tick"`
	// MaxSpeed is the wheel speed in m/s reached at full duty.
	MaxSpeed float64 `json:"max_speed"`
	// MaxPWM caps the duty sent to the controller.
	MaxPWM int `json:"max_pwm"`
	// StallCycles is how many polls with power applied but no encoder
	// movement flag a stall.
	StallCycles int `json:"stall_cycles"`

	EnableOnSetup  bool `json:"enable_on_setup"`
	PeriodMS       int  `json:"period_ms"`
	ReplyTimeoutMS int  `json:"reply_timeout_ms"`
}

// DefaultConfig returns settings for the stock chassis.
func DefaultConfig() Config {
	return Config{
		WheelBase:      0.28,
		MetersPerTick:  0.0004,
		MaxSpeed:       1.0,
		MaxPWM:         127,
		StallCycles:    10,
		EnableOnSetup:  true,
		PeriodMS:       50,
		ReplyTimeoutMS: 50,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch {
	case c.WheelBase <= 0 || c.MetersPerTick <= 0 || c.MaxSpeed <= 0:
		return errors.WrapInvalid(fmt.Errorf("wheel_base, meters_per_tick and max_speed must be positive"),
			"motor", "Validate", "check geometry")
	case c.MaxPWM <= 0 || c.MaxPWM > math.MaxInt8:
		return errors.WrapInvalid(fmt.Errorf("max_pwm %d not in 1..127", c.MaxPWM), "motor", "Validate", "check pwm")
	case c.ReplyTimeoutMS <= 0 || c.PeriodMS < 0 || c.StallCycles < 0:
		return errors.WrapInvalid(fmt.Errorf("bad timing"), "motor", "Validate", "check timing")
	}
	return nil
}

// Driver is the motor controller driver.
type Driver struct {
	cfg Config
	dec *clodbuster.Decoder

	odom     Odometry
	lastPoll time.Time

	enabled     bool
	left, right int8
	still       int
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
	return &Driver{
		cfg:  cfg,
		dec:  clodbuster.NewDecoder(),
		odom: Odometry{WheelBase: cfg.WheelBase, MetersPerTick: cfg.MetersPerTick},
	}, nil
}

// Name is the driver name used in configuration.
const Name = "motor"

// Register adds the ClodBuster differential drive driver to f.
func Register(f *driver.Factories) error {
	return f.Register(Name, New)
}

// Kind implements driver.Describer.
func (d *Driver) Kind() string { return Name }

// Setup zeroes the motors and applies the configured power state.
func (d *Driver) Setup(env *driver.Env) error {
	if env.Transport == nil {
		return errors.WrapFatal(errors.ErrMissingConfig, "motor", "Setup", "transport required")
	}
	if err := d.setSpeed(env, 0, 0); err != nil {
		return errors.Wrap(err, "motor", "Setup", "zero motors")
	}
	return d.enable(env, d.cfg.EnableOnSetup)
}

// Cycle polls the encoders once per period and publishes odometry.
func (d *Driver) Cycle(ctx context.Context, env *driver.Env) error {
	if wait := time.Duration(d.cfg.PeriodMS)*time.Millisecond - time.Since(d.lastPoll); wait > 0 {
		if err := retry.Sleep(ctx, wait); err != nil {
			return err
		}
	}
	now := time.Now()
	d.lastPoll = now

	var enc clodbuster.Encoders
	_, err := env.Exchange(ctx, d.dec, clodbuster.ReadEncoders(),
		time.Duration(d.cfg.ReplyTimeoutMS)*time.Millisecond,
		func(f codec.Frame) bool {
			var perr error
			enc, perr = clodbuster.ParseEncoders(f.Payload)
			return perr == nil
		})
	if err != nil {
		return err
	}

	primed := d.odom.Primed()
	moved := d.odom.Update(enc, now)
	if primed && !moved && (d.left != 0 || d.right != 0) {
		d.still++
	} else {
		d.still = 0
	}

	r := d.odom.Reading()
	r.Stall = d.cfg.StallCycles > 0 && d.still >= d.cfg.StallCycles
	if err := env.Publish(r); err != nil {
		env.Warn("Publish failed", "error", err)
	}
	return nil
}

// HandleCommand accepts MotorCommand and PowerCommand.
func (d *Driver) HandleCommand(env *driver.Env, cmd types.Command) error {
	switch c := cmd.Body.(type) {
	case types.MotorCommand:
		if !d.enabled {
			return errors.WrapInvalid(fmt.Errorf("motors disabled"), "motor", "HandleCommand", "set speed")
		}
		left, right := d.PWM(c.VelX, c.VelYaw)
		return d.setSpeed(env, left, right)
	case types.PowerCommand:
		if !c.On {
			if err := d.setSpeed(env, 0, 0); err != nil {
				return err
			}
		}
		return d.enable(env, c.On)
	default:
		return errors.WrapInvalid(errors.ErrUnsupported, "motor", "HandleCommand", cmd.Body.CommandType())
	}
}

// PWM converts body velocities to clamped left and right duty.
func (d *Driver) PWM(velX, velYaw float64) (left, right int8) {
	half := velYaw * d.cfg.WheelBase / 2
	return d.duty(velX - half), d.duty(velX + half)
}

func (d *Driver) duty(v float64) int8 {
	limit := float64(d.cfg.MaxPWM)
	pwm := math.Round(v / d.cfg.MaxSpeed * limit)
	return int8(math.Max(-limit, math.Min(limit, pwm)))
}

func (d *Driver) setSpeed(env *driver.Env, left, right int8) error {
	if err := transport.WriteAll(env.Transport, clodbuster.SetSpeed(left, right)); err != nil {
		return errors.Wrap(err, "motor", "setSpeed", "write")
	}
	d.left, d.right = left, right
	return nil
}

func (d *Driver) enable(env *driver.Env, on bool) error {
	if err := transport.WriteAll(env.Transport, clodbuster.Enable(on)); err != nil {
		return errors.Wrap(err, "motor", "enable", "write")
	}
	d.enabled = on
	return nil
}

// Shutdown stops and disables the motors. Write failures are logged only.
func (d *Driver) Shutdown(env *driver.Env) error {
	if err := d.setSpeed(env, 0, 0); err != nil {
		env.Warn("Stop on shutdown failed", "error", err)
	}
	if err := d.enable(env, false); err != nil {
		env.Warn("Disable on shutdown failed", "error", err)
	}
	return nil
}
