// Package transport provides byte-stream access to devices over serial
// lines, TCP sockets and UDP multicast groups.
//
// Reads are bounded: Read waits at most the given timeout and reports an
// empty wait as errors.ErrTimeout so driver loops can re-check cancellation
// between reads.
package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/c360/semdevices/errors"
)

// Transport is a raw byte stream to one device.
type Transport interface {
	// Read blocks for at most timeout and returns the bytes available.
	// It returns an error wrapping errors.ErrTimeout when none arrived.
	Read(p []byte, timeout time.Duration) (int, error)

	// Write sends p. A short count is reported with the error.
	Write(p []byte) (int, error)

	// Close releases the device. It is safe to call more than once.
	Close() error
}

// Kind selects the transport implementation.
type Kind string

// Transport kinds.
const (
	KindSerial Kind = "serial"
	KindTCP    Kind = "tcp"
	KindUDP    Kind = "udp"
)

// SupportedBaudRates is the serial baud allow-list.
var SupportedBaudRates = []int{1200, 2400, 4800, 9600, 19200, 38400, 57600, 115200}

// Config describes how to reach a device.
type Config struct {
	Kind Kind `json:"kind" yaml:"kind"`

	// Serial
	Path     string `json:"path,omitempty" yaml:"path,omitempty"`
	Baud     int    `json:"baud,omitempty" yaml:"baud,omitempty"`
	DataBits int    `json:"data_bits,omitempty" yaml:"data_bits,omitempty"`
	StopBits int    `json:"stop_bits,omitempty" yaml:"stop_bits,omitempty"`
	Parity   string `json:"parity,omitempty" yaml:"parity,omitempty"`

	// TCP: host:port of the device. UDP: optional unicast peer.
	Address string `json:"address,omitempty" yaml:"address,omitempty"`

	// UDP multicast
	Group     string `json:"group,omitempty" yaml:"group,omitempty"`
	Port      int    `json:"port,omitempty" yaml:"port,omitempty"`
	Interface string `json:"interface,omitempty" yaml:"interface,omitempty"`

	DialTimeout time.Duration `json:"dial_timeout,omitempty" yaml:"dial_timeout,omitempty"`
}

// WithDefaults fills unset fields.
func (c Config) WithDefaults() Config {
	if c.Kind == KindSerial {
		if c.DataBits == 0 {
			c.DataBits = 8
		}
		if c.StopBits == 0 {
			c.StopBits = 1
		}
		if c.Parity == "" {
			c.Parity = "N"
		}
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	return c
}

// BaudSupported reports whether baud is in the allow-list.
func BaudSupported(baud int) bool {
	for _, b := range SupportedBaudRates {
		if b == baud {
			return true
		}
	}
	return false
}

// Validate checks the configuration without touching any device.
func (c Config) Validate() error {
	switch c.Kind {
	case KindSerial:
		if c.Path == "" {
			return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "serial path required")
		}
		if !BaudSupported(c.Baud) {
			return errors.WrapFatal(fmt.Errorf("%w: %d", errors.ErrUnsupportedBaud, c.Baud),
				"Config", "Validate", "check baud")
		}
		switch c.Parity {
		case "", "N", "E", "O":
		default:
			return errors.WrapInvalid(fmt.Errorf("parity %q", c.Parity), "Config", "Validate", "check parity")
		}
	case KindTCP:
		if c.Address == "" {
			return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "tcp address required")
		}
	case KindUDP:
		if c.Port <= 0 || c.Port > 65535 {
			return errors.WrapInvalid(fmt.Errorf("port %d out of range", c.Port), "Config", "Validate", "check udp port")
		}
	default:
		return errors.WrapInvalid(fmt.Errorf("unknown transport kind %q", c.Kind), "Config", "Validate", "check kind")
	}
	return nil
}

// Open validates cfg and opens the transport. Open failures wrap
// errors.ErrTransportUnavailable; a bad baud rate wraps ErrUnsupportedBaud.
func Open(ctx context.Context, cfg Config) (Transport, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Kind {
	case KindSerial:
		return openSerial(cfg)
	case KindTCP:
		return dialTCP(ctx, cfg)
	default:
		return listenUDP(cfg)
	}
}

func unavailable(err error, method, action string) error {
	return errors.WrapFatal(fmt.Errorf("%w: %v", errors.ErrTransportUnavailable, err), "transport", method, action)
}

func timeoutErr(method string) error {
	return errors.WrapTransient(errors.ErrTimeout, "transport", method, "read")
}
