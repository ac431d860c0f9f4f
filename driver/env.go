package driver

import (
	stderrors "errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/semdevices/bus"
	"github.com/c360/semdevices/codec"
	"github.com/c360/semdevices/errors"
	"github.com/c360/semdevices/metric"
	"github.com/c360/semdevices/transport"
	"github.com/c360/semdevices/types"
)

// Env is what a driver sees of the world. It is only used from the runner's
// goroutine, apart from the warning limiter which is internally locked.
type Env struct {
	Name    string
	Address types.Address
	// Transport is nil for drivers fed from the bus.
	Transport transport.Transport
	Bus       *bus.Bus
	Logger    *slog.Logger
	Metrics   *metric.Metrics

	warnMu     sync.Mutex
	limiter    *rate.Limiter
	suppressed int

	degraded string
	scratch  []byte
}

func newEnv(name string, addr types.Address, t transport.Transport, b *bus.Bus,
	logger *slog.Logger, m *metric.Metrics, opts Options) *Env {
	return &Env{
		Name:      name,
		Address:   addr,
		Transport: t,
		Bus:       b,
		Logger:    logger,
		Metrics:   m,
		limiter:   rate.NewLimiter(rate.Every(opts.WarnInterval), opts.WarnBurst),
	}
}

// NewTestEnv builds an Env outside a runner, for driver unit tests.
func NewTestEnv(name string, addr types.Address, t transport.Transport, b *bus.Bus, logger *slog.Logger) *Env {
	if logger == nil {
		logger = slog.Default()
	}
	return newEnv(name, addr, t, b, logger, nil, DefaultOptions())
}

// Warn logs at WARN level, rate limited per device. Suppressed lines are
// counted and reported with the next line that gets through.
func (e *Env) Warn(msg string, args ...any) {
	e.warnMu.Lock()
	if !e.limiter.Allow() {
		e.suppressed++
		e.warnMu.Unlock()
		return
	}
	suppressed := e.suppressed
	e.suppressed = 0
	e.warnMu.Unlock()

	if suppressed > 0 {
		args = append(args, "suppressed", suppressed)
	}
	e.Logger.Warn(msg, args...)
}

// Publish sends a reading to the bus under the device address.
func (e *Env) Publish(r types.Reading) error {
	if err := e.Bus.Publish(e.Address, bus.KindData, r, time.Now()); err != nil {
		return err
	}
	if e.Metrics != nil {
		e.Metrics.RecordReadingPublished(e.Name, string(r.Interface()))
	}
	return nil
}

// Decoded counts a frame that passed validation.
func (e *Env) Decoded() {
	if e.Metrics != nil {
		e.Metrics.RecordFrameDecoded(e.Name)
	}
}

// Reject counts and logs a frame that failed validation.
func (e *Env) Reject(f codec.Frame) {
	if e.Metrics != nil {
		e.Metrics.RecordFrameRejected(e.Name, f.Status.String())
	}
	args := []any{"status", f.Status.String(), "raw", f.Hex()}
	switch f.Status {
	case codec.ChecksumMismatch:
		args = append(args, "expected", f.Expected, "actual", f.Actual)
	case codec.Overrun:
		e.Warn("buffer overrun, discarding", args...)
		return
	}
	e.Warn("Discarding frame", args...)
}

// NoteError counts read timeouts and short reads so that every one is
// visible even when the driver handles it silently.
func (e *Env) NoteError(err error) {
	if e.Metrics == nil || err == nil {
		return
	}
	switch {
	case stderrors.Is(err, errors.ErrTimeout):
		e.Metrics.RecordReadTimeout(e.Name)
	case stderrors.Is(err, errors.ErrShortRead):
		e.Metrics.RecordFrameRejected(e.Name, "short")
	}
}

// Degraded reports a protocol-level problem that does not fail the cycle,
// such as a link that cannot be negotiated yet. It is published as link
// status after the cycle.
func (e *Env) Degraded(reason string) {
	e.degraded = reason
}

// Healthy clears a previous Degraded report.
func (e *Env) Healthy() {
	e.degraded = ""
}
