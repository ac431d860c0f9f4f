// Package gps reads NMEA 0183 receivers and publishes position fixes.
package gps

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/c360/semdevices/codec"
	"github.com/c360/semdevices/codec/nmea"
	"github.com/c360/semdevices/driver"
	"github.com/c360/semdevices/errors"
	"github.com/c360/semdevices/pkg/geo"
	"github.com/c360/semdevices/transport"
	"github.com/c360/semdevices/types"
)

// Config is the protocol configuration.
type Config struct {
	// Gain is the smoothing weight given to a new fix.
	Gain float64 `json:"gain"`
	// Threshold is the outlier rejection distance in degrees.
	Threshold float64 `json:"threshold"`
	// InitSentences are sentence bodies sent once at setup, e.g. "PGRMO,,2".
	InitSentences []string `json:"init_sentences,omitempty"`
	// ReadTimeoutMS bounds each read. No bytes within it fails the cycle.
	ReadTimeoutMS int `json:"read_timeout_ms"`
	// MaxBadFrames consecutive rejected sentences mark the stream desynced.
	MaxBadFrames int `json:"max_bad_frames"`
}

// DefaultConfig returns the standard filter settings.
func DefaultConfig() Config {
	return Config{Gain: 0.8, Threshold: 1.0, ReadTimeoutMS: 2000, MaxBadFrames: 8}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Gain <= 0 || c.Gain > 1 {
		return errors.WrapInvalid(fmt.Errorf("gain %v not in (0,1]", c.Gain), "gps", "Validate", "check gain")
	}
	if c.Threshold <= 0 {
		return errors.WrapInvalid(fmt.Errorf("threshold %v must be positive", c.Threshold), "gps", "Validate", "check threshold")
	}
	if c.ReadTimeoutMS <= 0 {
		return errors.WrapInvalid(fmt.Errorf("read_timeout_ms %d must be positive", c.ReadTimeoutMS), "gps", "Validate", "check timeout")
	}
	if c.MaxBadFrames <= 0 {
		return errors.WrapInvalid(fmt.Errorf("max_bad_frames %d must be positive", c.MaxBadFrames), "gps", "Validate", "check max_bad_frames")
	}
	return nil
}

// Driver is the NMEA GPS driver.
type Driver struct {
	cfg    Config
	dec    *nmea.Decoder
	filter *Filter
	buf    []byte

	// badFrames counts rejected sentences since the last valid one.
	badFrames int

	date  time.Time
	gsa   nmea.GSA
	pgrme nmea.PGRME
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
		cfg:    cfg,
		dec:    nmea.NewDecoder(),
		filter: NewFilter(cfg.Gain, cfg.Threshold),
		buf:    make([]byte, 256),
	}, nil
}

// Name is the driver name used in configuration.
const Name = "gps"

// Register adds the NMEA GPS receiver driver to f.
func Register(f *driver.Factories) error {
	return f.Register(Name, New)
}

// Kind implements driver.Describer.
func (d *Driver) Kind() string { return Name }

// Setup sends the configured init sentences.
func (d *Driver) Setup(env *driver.Env) error {
	if env.Transport == nil {
		return errors.WrapFatal(errors.ErrMissingConfig, "gps", "Setup", "transport required")
	}
	for _, body := range d.cfg.InitSentences {
		if err := transport.WriteAll(env.Transport, nmea.Encode(body)); err != nil {
			return errors.Wrap(err, "gps", "Setup", "send "+body)
		}
	}
	return nil
}

// Cycle reads whatever the receiver sent and publishes accepted fixes.
// Once MaxBadFrames sentences in a row are rejected it resynchronises the
// decoder and fails with ErrProtocolDesync until a valid sentence arrives.
func (d *Driver) Cycle(_ context.Context, env *driver.Env) error {
	n, err := env.Transport.Read(d.buf, time.Duration(d.cfg.ReadTimeoutMS)*time.Millisecond)
	if err != nil {
		return err
	}

	for _, f := range d.dec.Feed(d.buf[:n]) {
		if f.Status != codec.Valid {
			env.Reject(f)
			d.badFrames++
			continue
		}
		env.Decoded()
		if err := d.handleSentence(env, f.Payload); err != nil {
			env.Reject(codec.Frame{Raw: f.Raw, Status: codec.Malformed})
			d.badFrames++
			continue
		}
		d.badFrames = 0
	}

	if d.badFrames >= d.cfg.MaxBadFrames {
		d.dec.Reset()
		return errors.WrapTransient(
			fmt.Errorf("%w: %d consecutive bad sentences", errors.ErrProtocolDesync, d.badFrames),
			"gps", "Cycle", "decode sentences")
	}
	return nil
}

func (d *Driver) handleSentence(env *driver.Env, body []byte) error {
	s, err := nmea.Parse(body)
	if err != nil {
		return err
	}

	switch s.Kind() {
	case "GGA":
		g, err := nmea.ParseGGA(s)
		if err != nil {
			return err
		}
		d.handleFix(env, g)
	case "RMC":
		r, err := nmea.ParseRMC(s)
		if err != nil {
			return err
		}
		if !r.Date.IsZero() {
			d.date = r.Date
		}
	case "GSA":
		g, err := nmea.ParseGSA(s)
		if err != nil {
			return err
		}
		d.gsa = g
	case "PGRME":
		e, err := nmea.ParsePGRME(s)
		if err != nil {
			return err
		}
		d.pgrme = e
	}
	return nil
}

func (d *Driver) handleFix(env *driver.Env, g nmea.GGA) {
	if !g.HasPosition || g.Quality == 0 {
		env.Degraded("no fix")
		return
	}
	env.Healthy()

	if !d.filter.Accept(g.Latitude, g.Longitude) {
		env.Warn("Rejecting outlier fix", "latitude", g.Latitude, "longitude", g.Longitude)
		return
	}

	u := geo.FromLatLon(g.Latitude, g.Longitude)
	r := &types.GPSReading{
		Time:          d.fixTime(g.TimeOfDay),
		Latitude:      nmea.FixedPoint(g.Latitude),
		Longitude:     nmea.FixedPoint(g.Longitude),
		Altitude:      int32(math.Round(g.Altitude * 1000)),
		UTMEasting:    u.EastingCM(),
		UTMNorthing:   u.NorthingCM(),
		UTMZone:       u.Zone,
		Quality:       g.Quality,
		NumSats:       g.NumSats,
		HDOP:          int(math.Round(g.HDOP * 10)),
		VDOP:          int(math.Round(d.gsa.VDOP * 10)),
		ErrHorizontal: d.pgrme.Horizontal,
		ErrVertical:   d.pgrme.Vertical,
	}
	if err := env.Publish(r); err != nil {
		env.Warn("Publish failed", "error", err)
	}
}

// fixTime combines the time of day with the last RMC date, or today's UTC
// date when none has been seen.
func (d *Driver) fixTime(tod time.Duration) time.Time {
	day := d.date
	if day.IsZero() {
		day = time.Now().UTC().Truncate(24 * time.Hour)
	}
	return day.Add(tod)
}

// HandleCommand rejects every command; GPS receivers take none.
func (d *Driver) HandleCommand(_ *driver.Env, cmd types.Command) error {
	return errors.WrapInvalid(errors.ErrUnsupported, "gps", "HandleCommand", cmd.Body.CommandType())
}

// Shutdown has nothing to release.
func (d *Driver) Shutdown(*driver.Env) error { return nil }
