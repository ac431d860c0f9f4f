package gateway

import (
	"crypto/tls"
	"time"

	"github.com/c360/semdevices/errors"
)

// Config holds gateway settings.
type Config struct {
	// Port to listen on when the gateway runs its own server.
	Port int `json:"port"`

	// CORSOrigins enables CORS for the listed origins. "*" allows any.
	CORSOrigins []string `json:"cors_origins,omitempty"`

	// MaxRequestSize limits command bodies in bytes (default: 64KB).
	MaxRequestSize int64 `json:"max_request_size,omitempty"`

	// StreamQueueLen is the per-websocket bus queue (default: 64).
	StreamQueueLen int `json:"stream_queue_len,omitempty"`

	// WriteTimeout bounds each websocket frame write (default: 10s).
	WriteTimeout time.Duration `json:"write_timeout,omitempty"`

	// PingInterval is how often idle streams are pinged (default: 30s).
	PingInterval time.Duration `json:"ping_interval,omitempty"`

	// TLS, when set, makes Start serve HTTPS.
	TLS *tls.Config `json:"-"`
}

// Validate fills defaults and checks ranges.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "port out of range")
	}
	if c.MaxRequestSize < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"max_request_size cannot be negative")
	}
	if c.MaxRequestSize == 0 {
		c.MaxRequestSize = 64 * 1024
	}
	if c.MaxRequestSize > 10*1024*1024 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"max_request_size cannot exceed 10MB")
	}
	if c.StreamQueueLen <= 0 {
		c.StreamQueueLen = 64
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	return nil
}

// DefaultConfig returns default gateway configuration
func DefaultConfig() Config {
	c := Config{Port: 8080}
	_ = c.Validate()
	return c
}
