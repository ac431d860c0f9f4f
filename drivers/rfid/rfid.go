// Package rfid drives SICK RFI341-style readers. The reader must be unlocked
// with a link code challenge before it answers data requests, and the link
// expires unless it is re-authenticated periodically.
package rfid

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/c360/semdevices/codec"
	"github.com/c360/semdevices/codec/rfi341"
	"github.com/c360/semdevices/codec/stxetx"
	"github.com/c360/semdevices/driver"
	"github.com/c360/semdevices/errors"
	"github.com/c360/semdevices/pkg/retry"
	"github.com/c360/semdevices/types"
)

// State is the link negotiation state.
type State int

// Link states.
const (
	AcquireLinkCode State = iota
	Authenticate
	DataAcquisition
	Idle
	Error
)

func (s State) String() string {
	switch s {
	case AcquireLinkCode:
		return "acquire_link_code"
	case Authenticate:
		return "authenticate"
	case DataAcquisition:
		return "data_acquisition"
	case Idle:
		return "idle"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Config is the protocol configuration. Durations are in milliseconds.
type Config struct {
	ReaderID byte   `json:"reader_id"`
	Key      uint16 `json:"key"`

	// LinkCodeRetries is how many unanswered link code requests are retried
	// before the device is reported degraded.
	LinkCodeRetries int `json:"link_code_retries"`
	// AuthRetries bounds failed authentications before the device fails.
	AuthRetries int `json:"auth_retries"`
	// MaxWrongReplies consecutive replies of the wrong type to a data request
	// send the driver back to authentication.
	MaxWrongReplies int `json:"max_wrong_replies"`

	KeepAliveMS    int `json:"keep_alive_ms"`
	PeriodMS       int `json:"period_ms"`
	ReplyTimeoutMS int `json:"reply_timeout_ms"`
}

// DefaultConfig returns the stock reader settings.
func DefaultConfig() Config {
	return Config{
		ReaderID:        0x01,
		Key:             0x5A17,
		LinkCodeRetries: 3,
		AuthRetries:     3,
		MaxWrongReplies: 5,
		KeepAliveMS:     5000,
		PeriodMS:        100,
		ReplyTimeoutMS:  200,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	for name, v := range map[string]int{
		"link_code_retries": c.LinkCodeRetries,
		"auth_retries":      c.AuthRetries,
		"max_wrong_replies": c.MaxWrongReplies,
		"reply_timeout_ms":  c.ReplyTimeoutMS,
	} {
		if v <= 0 {
			return errors.WrapInvalid(fmt.Errorf("%s must be positive, got %d", name, v), "rfid", "Validate", "check "+name)
		}
	}
	if c.PeriodMS < 0 || c.KeepAliveMS < 0 {
		return errors.WrapInvalid(fmt.Errorf("negative period or keep-alive"), "rfid", "Validate", "check timing")
	}
	return nil
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// Driver is the RFID reader driver.
type Driver struct {
	cfg Config
	dec *stxetx.Decoder
	now func() time.Time

	state        State
	linkCode     uint16
	linkAttempts int
	authAttempts int
	wrongReplies int
	lastAuth     time.Time
	lastPoll     time.Time
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
		cfg: cfg,
		dec: rfi341.NewDecoder(),
		now: time.Now,
	}, nil
}

// Name is the driver name used in configuration.
const Name = "rfid"

// Register adds the SICK RFI341 RFID reader driver to f.
func Register(f *driver.Factories) error {
	return f.Register(Name, New)
}

// Kind implements driver.Describer.
func (d *Driver) Kind() string { return Name }

// State reports the current link state.
func (d *Driver) State() State { return d.state }

// Setup starts negotiation from scratch.
func (d *Driver) Setup(env *driver.Env) error {
	if env.Transport == nil {
		return errors.WrapFatal(errors.ErrMissingConfig, "rfid", "Setup", "transport required")
	}
	d.reset(AcquireLinkCode)
	return nil
}

func (d *Driver) reset(s State) {
	d.state = s
	d.linkAttempts = 0
	d.authAttempts = 0
	d.wrongReplies = 0
	d.dec.Reset()
}

func (d *Driver) transition(env *driver.Env, to State) {
	if to == d.state {
		return
	}
	env.Logger.Debug("RFID state change", "from", d.state.String(), "to", to.String())
	d.state = to
}

// Cycle runs one step of the state machine.
func (d *Driver) Cycle(ctx context.Context, env *driver.Env) error {
	switch d.state {
	case AcquireLinkCode:
		return d.acquireLinkCode(ctx, env)
	case Authenticate:
		return d.authenticate(ctx, env)
	case DataAcquisition:
		return d.acquire(ctx, env)
	case Idle:
		return retry.Sleep(ctx, d.period())
	default:
		return errors.WrapFatal(errors.ErrFatalDevice, "rfid", "Cycle", "reader in error state")
	}
}

func (d *Driver) period() time.Duration {
	if d.cfg.PeriodMS == 0 {
		return time.Millisecond
	}
	return ms(d.cfg.PeriodMS)
}

func (d *Driver) acquireLinkCode(ctx context.Context, env *driver.Env) error {
	reply, err := d.exchange(ctx, env, rfi341.RequestLinkCode(d.cfg.ReaderID))
	if err == nil {
		code, cerr := rfi341.LinkCode(reply)
		if cerr == nil {
			d.linkCode = code
			d.linkAttempts = 0
			d.transition(env, Authenticate)
			return nil
		}
		env.Warn("Unexpected reply to link code request", "command", fmt.Sprintf("0x%02X", reply.Command))
		err = errors.WrapInvalid(errors.ErrProtocolDesync, "rfid", "acquireLinkCode", "read link code")
	}
	if ctx.Err() != nil {
		return err
	}

	d.linkAttempts++
	if d.linkAttempts < d.cfg.LinkCodeRetries {
		return err
	}
	// Out of retries: keep asking at the poll period without failing the
	// device, but make the outage visible.
	d.linkAttempts = 0
	env.Degraded("no link code from reader")
	env.Warn("Link code unavailable", "attempts", d.cfg.LinkCodeRetries, "error", err)
	return retry.Sleep(ctx, d.period())
}

func (d *Driver) authenticate(ctx context.Context, env *driver.Env) error {
	code := rfi341.AuthCode(d.linkCode, d.cfg.Key)
	reply, err := d.exchange(ctx, env, rfi341.Authenticate(d.cfg.ReaderID, code))
	if err != nil && ctx.Err() != nil {
		return err
	}
	if err == nil && reply.Command == rfi341.CmdConnected {
		d.authAttempts = 0
		d.wrongReplies = 0
		d.lastAuth = d.now()
		env.Healthy()
		d.transition(env, DataAcquisition)
		return nil
	}

	d.authAttempts++
	if d.authAttempts > d.cfg.AuthRetries {
		d.transition(env, Error)
		return errors.WrapFatal(fmt.Errorf("%w: authentication failed %d times", errors.ErrFatalDevice, d.authAttempts),
			"rfid", "authenticate", "authenticate reader")
	}
	if err != nil {
		return err
	}

	// Disconnected or anything unexpected: the link code is stale.
	env.Warn("Authentication rejected", "command", fmt.Sprintf("0x%02X", reply.Command), "attempt", d.authAttempts)
	d.transition(env, AcquireLinkCode)
	return nil
}

func (d *Driver) acquire(ctx context.Context, env *driver.Env) error {
	if d.cfg.KeepAliveMS > 0 && d.now().Sub(d.lastAuth) >= ms(d.cfg.KeepAliveMS) {
		return d.keepAlive(ctx, env)
	}

	if wait := d.period() - d.now().Sub(d.lastPoll); wait > 0 {
		if err := retry.Sleep(ctx, wait); err != nil {
			return err
		}
	}
	d.lastPoll = d.now()

	reply, err := d.exchange(ctx, env, rfi341.DataRequest(d.cfg.ReaderID))
	if err != nil {
		return err
	}

	switch reply.Command {
	case rfi341.CmdTagData:
		tags, err := rfi341.Tags(reply)
		if err != nil {
			return d.wrongReply(env, reply)
		}
		d.wrongReplies = 0
		if err := env.Publish(&types.RFIDReading{Tags: tags}); err != nil {
			env.Warn("Publish failed", "error", err)
		}
		return nil
	case rfi341.CmdDisconnected:
		env.Warn("Reader dropped the link")
		d.transition(env, AcquireLinkCode)
		return nil
	default:
		return d.wrongReply(env, reply)
	}
}

func (d *Driver) wrongReply(env *driver.Env, reply rfi341.Message) error {
	d.wrongReplies++
	env.Warn("Unexpected reply to data request",
		"command", fmt.Sprintf("0x%02X", reply.Command), "consecutive", d.wrongReplies)
	if d.wrongReplies >= d.cfg.MaxWrongReplies {
		d.wrongReplies = 0
		d.transition(env, Authenticate)
	}
	return nil
}

// keepAlive re-authenticates while the link is up so the reader does not
// expire it.
func (d *Driver) keepAlive(ctx context.Context, env *driver.Env) error {
	code := rfi341.AuthCode(d.linkCode, d.cfg.Key)
	reply, err := d.exchange(ctx, env, rfi341.Authenticate(d.cfg.ReaderID, code))
	if err == nil && reply.Command == rfi341.CmdConnected {
		d.lastAuth = d.now()
		return nil
	}
	if ctx.Err() != nil {
		return err
	}
	env.Warn("Keep-alive not acknowledged", "error", err)
	d.transition(env, Authenticate)
	return nil
}

// exchange sends req and returns the first valid telegram from this reader.
func (d *Driver) exchange(ctx context.Context, env *driver.Env, req rfi341.Message) (rfi341.Message, error) {
	var reply rfi341.Message
	_, err := env.Exchange(ctx, d.dec, req.Encode(), ms(d.cfg.ReplyTimeoutMS), func(f codec.Frame) bool {
		m, err := rfi341.Decode(f.Payload)
		if err != nil || m.ID != d.cfg.ReaderID {
			return false
		}
		reply = m
		return true
	})
	return reply, err
}

// HandleCommand accepts PowerCommand. Off parks the driver in Idle; on
// restarts negotiation.
func (d *Driver) HandleCommand(env *driver.Env, cmd types.Command) error {
	p, ok := cmd.Body.(types.PowerCommand)
	if !ok {
		return errors.WrapInvalid(errors.ErrUnsupported, "rfid", "HandleCommand", cmd.Body.CommandType())
	}
	switch {
	case !p.On && d.state != Idle:
		d.transition(env, Idle)
		env.Healthy()
	case p.On && d.state == Idle:
		d.reset(Idle)
		d.transition(env, AcquireLinkCode)
	}
	return nil
}

// Shutdown has nothing to release; the runner closes the transport.
func (d *Driver) Shutdown(*driver.Env) error { return nil }
