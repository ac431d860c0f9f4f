package driver

import (
	"time"

	"github.com/c360/semdevices/pkg/retry"
)

// Options tune a runner's failure handling.
type Options struct {
	// MaxConsecutiveFailures is the failure budget. Reaching it escalates
	// to a fatal device failure.
	MaxConsecutiveFailures int `json:"max_consecutive_failures" yaml:"max_consecutive_failures"`

	// Backoff schedules the pause after each failed cycle. Jitter is not
	// applied.
	Backoff retry.Config `json:"backoff" yaml:"backoff"`

	// OpenRetry governs transport open attempts during Start.
	OpenRetry retry.Config `json:"open_retry" yaml:"open_retry"`

	// CommandQueue bounds pending commands.
	CommandQueue int `json:"command_queue" yaml:"command_queue"`

	// WarnBurst and WarnInterval rate-limit warning logs.
	WarnBurst    int           `json:"warn_burst" yaml:"warn_burst"`
	WarnInterval time.Duration `json:"warn_interval" yaml:"warn_interval"`
}

// DefaultOptions returns the standard runner options.
func DefaultOptions() Options {
	return Options{
		MaxConsecutiveFailures: 10,
		Backoff: retry.Config{
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2.0,
		},
		OpenRetry:    retry.Quick(),
		CommandQueue: 32,
		WarnBurst:    5,
		WarnInterval: time.Second,
	}
}

// WithDefaults fills zero fields from DefaultOptions.
func (o Options) WithDefaults() Options {
	d := DefaultOptions()
	if o.MaxConsecutiveFailures <= 0 {
		o.MaxConsecutiveFailures = d.MaxConsecutiveFailures
	}
	if o.Backoff == (retry.Config{}) {
		o.Backoff = d.Backoff
	}
	if o.OpenRetry == (retry.Config{}) {
		o.OpenRetry = d.OpenRetry
	}
	if o.CommandQueue <= 0 {
		o.CommandQueue = d.CommandQueue
	}
	if o.WarnBurst <= 0 {
		o.WarnBurst = d.WarnBurst
	}
	if o.WarnInterval <= 0 {
		o.WarnInterval = d.WarnInterval
	}
	return o
}
