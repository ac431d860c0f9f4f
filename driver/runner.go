package driver

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/c360/semdevices/bus"
	"github.com/c360/semdevices/errors"
	"github.com/c360/semdevices/health"
	"github.com/c360/semdevices/metric"
	"github.com/c360/semdevices/pkg/buffer"
	"github.com/c360/semdevices/pkg/retry"
	"github.com/c360/semdevices/transport"
	"github.com/c360/semdevices/types"
)

// OpenFunc opens a transport. transport.Open is the default; tests inject
// simulated transports.
type OpenFunc func(ctx context.Context, cfg transport.Config) (transport.Transport, error)

// Config binds a driver instance to its device.
type Config struct {
	Name    string
	Address types.Address
	// Transport is nil for drivers without a device link.
	Transport *transport.Config
	Options   Options
}

// Deps are the shared services a runner uses.
type Deps struct {
	Bus     *bus.Bus
	Logger  *slog.Logger
	Metrics *metric.MetricsRegistry
	Health  *health.Monitor
	Open    OpenFunc
}

// Runner is the concurrency unit for one device.
type Runner struct {
	cfg  Config
	opts Options
	drv  Driver
	kind string
	deps Deps

	logger  *slog.Logger
	metrics *metric.Metrics

	lifecycleMu sync.Mutex
	started     bool
	cancel      context.CancelFunc
	done        chan struct{}

	submitMu sync.Mutex
	queue    buffer.Buffer[types.Command]

	statusMu  sync.RWMutex
	status    types.DeviceStatus
	startedAt time.Time
	err       error

	env       *Env
	closeOnce sync.Once
}

// NewRunner prepares a runner. Nothing is opened until Start.
func NewRunner(cfg Config, drv Driver, deps Deps) (*Runner, error) {
	if drv == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Runner", "NewRunner", "nil driver")
	}
	if deps.Bus == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Runner", "NewRunner", "nil bus")
	}
	if err := cfg.Address.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "Runner", "NewRunner", "validate address")
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Address.String()
	}
	if deps.Open == nil {
		deps.Open = transport.Open
	}

	kind := "unknown"
	if d, ok := drv.(Describer); ok {
		kind = d.Kind()
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("device", cfg.Name, "address", cfg.Address.String(), "driver", kind)

	var m *metric.Metrics
	if deps.Metrics != nil {
		m = deps.Metrics.CoreMetrics()
	}

	return &Runner{
		cfg:     cfg,
		opts:    cfg.Options.WithDefaults(),
		drv:     drv,
		kind:    kind,
		deps:    deps,
		logger:  logger,
		metrics: m,
		done:    make(chan struct{}),
		status:  types.DeviceStatus{State: types.LinkDown, Since: time.Now()},
	}, nil
}

// Name returns the configured device name.
func (r *Runner) Name() string { return r.cfg.Name }

// Address returns the bound device address.
func (r *Runner) Address() types.Address { return r.cfg.Address }

// Kind returns the driver kind.
func (r *Runner) Kind() string { return r.kind }

// Done is closed when the loop has exited and the transport is closed.
func (r *Runner) Done() <-chan struct{} { return r.done }

// Status returns the current link status.
func (r *Runner) Status() types.DeviceStatus {
	r.statusMu.RLock()
	defer r.statusMu.RUnlock()
	return r.status
}

// Err returns the terminal error once the device has failed.
func (r *Runner) Err() error {
	r.statusMu.RLock()
	defer r.statusMu.RUnlock()
	return r.err
}

// Start opens the transport, sets the driver up and launches the loop. Open
// and setup failures are returned here and published once as failed status.
// A runner starts at most once.
func (r *Runner) Start(ctx context.Context) error {
	r.lifecycleMu.Lock()
	defer r.lifecycleMu.Unlock()

	if r.started {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Runner", "Start", "start "+r.cfg.Name)
	}
	r.started = true

	var t transport.Transport
	if r.cfg.Transport != nil {
		var err error
		t, err = r.open(ctx)
		if err != nil {
			r.fail(err)
			close(r.done)
			return err
		}
	}

	r.env = newEnv(r.cfg.Name, r.cfg.Address, t, r.deps.Bus, r.logger, r.metrics, r.opts)

	if err := r.drv.Setup(r.env); err != nil {
		r.closeTransport()
		err = errors.WrapFatal(err, "Runner", "Start", "driver setup")
		r.fail(err)
		close(r.done)
		return err
	}

	queue, err := buffer.NewCircularBuffer[types.Command](r.opts.CommandQueue,
		buffer.WithOverflowPolicy[types.Command](buffer.DropNewest),
		buffer.WithMetrics[types.Command](r.deps.Metrics, "commands_"+r.cfg.Name),
	)
	if err != nil {
		r.abort()
		return errors.WrapTransient(err, "Runner", "Start", "create command queue")
	}

	if err := r.deps.Bus.RegisterCommandSink(r.cfg.Address, r); err != nil {
		_ = queue.Close()
		r.abort()
		return err
	}

	r.submitMu.Lock()
	r.queue = queue
	r.submitMu.Unlock()

	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.statusMu.Lock()
	r.startedAt = time.Now()
	r.statusMu.Unlock()
	r.setStatus(types.LinkUp, "", 0)
	r.logger.Info("Device started")

	go r.run(loopCtx)
	return nil
}

// abort undoes a successful Setup when Start cannot complete.
func (r *Runner) abort() {
	r.shutdownDriver()
	r.closeTransport()
	close(r.done)
}

func (r *Runner) open(ctx context.Context) (transport.Transport, error) {
	cfg := r.cfg.Transport.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	t, err := retry.DoWithResult(ctx, r.opts.OpenRetry, func() (transport.Transport, error) {
		t, err := r.deps.Open(ctx, cfg)
		if err != nil {
			r.logger.Debug("Transport open failed", "error", err)
			if stderrors.Is(err, errors.ErrUnsupportedBaud) || stderrors.Is(err, errors.ErrInvalidConfig) {
				return nil, retry.NonRetryable(err)
			}
		}
		return t, err
	})
	if err != nil {
		return nil, errors.WrapFatal(
			stderrors.Join(errors.ErrTransportUnavailable, err), "Runner", "Start", "open transport")
	}
	return t, nil
}

// Submit queues a command for the next loop iteration. It never blocks.
func (r *Runner) Submit(cmd types.Command) error {
	r.submitMu.Lock()
	defer r.submitMu.Unlock()

	if r.queue == nil {
		return errors.WrapInvalid(errors.ErrNotStarted, "Runner", "Submit", "submit to "+r.cfg.Name)
	}
	select {
	case <-r.done:
		return errors.WrapInvalid(errors.ErrShuttingDown, "Runner", "Submit", "submit to "+r.cfg.Name)
	default:
	}
	if r.queue.IsFull() {
		if r.metrics != nil {
			r.metrics.RecordCommand(r.cfg.Name, "rejected")
		}
		return errors.WrapTransient(errors.ErrQueueFull, "Runner", "Submit", "submit to "+r.cfg.Name)
	}
	return r.queue.Write(cmd)
}

// Stop cancels the loop and waits up to timeout for it to release the
// transport.
func (r *Runner) Stop(timeout time.Duration) error {
	r.lifecycleMu.Lock()
	cancel := r.cancel
	r.lifecycleMu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-r.done:
		return nil
	case <-timer.C:
		return errors.WrapTransient(context.DeadlineExceeded, "Runner", "Stop", "wait for "+r.cfg.Name)
	}
}

func (r *Runner) run(ctx context.Context) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(r.done)
	defer r.teardown()

	failures := 0
	for {
		if ctx.Err() != nil {
			r.setStatus(types.LinkStopped, "", 0)
			return
		}

		r.drainCommands(ctx)

		start := time.Now()
		err := r.drv.Cycle(ctx, r.env)
		if r.metrics != nil {
			r.metrics.RecordCycleDuration(r.cfg.Name, time.Since(start))
		}

		if err == nil {
			failures = 0
			r.afterSuccess()
			continue
		}

		if ctx.Err() != nil {
			r.setStatus(types.LinkStopped, "", 0)
			return
		}

		r.env.NoteError(err)
		class := errors.Classify(err)
		if r.metrics != nil {
			r.metrics.RecordCycleFailure(r.cfg.Name, class.String())
		}

		if class == errors.ErrorFatal {
			r.fail(err)
			return
		}

		failures++
		if failures >= r.opts.MaxConsecutiveFailures {
			r.fail(errors.WrapFatal(
				fmt.Errorf("%w after %d consecutive failures: %w", errors.ErrFatalDevice, failures, err),
				"Runner", "run", "cycle"))
			return
		}

		r.setStatus(types.LinkDegraded, err.Error(), failures)
		r.env.Warn("Cycle failed", "error", err, "failures", failures, "class", class.String())

		if retry.Sleep(ctx, r.opts.Backoff.Delay(failures-1)) != nil {
			r.setStatus(types.LinkStopped, "", 0)
			return
		}
	}
}

func (r *Runner) afterSuccess() {
	cur := r.Status()
	switch {
	case r.env.degraded != "":
		if cur.State != types.LinkDegraded || cur.Reason != r.env.degraded || cur.Failures != 0 {
			r.setStatus(types.LinkDegraded, r.env.degraded, 0)
		}
	case cur.State != types.LinkUp:
		r.setStatus(types.LinkUp, "", 0)
	}
}

func (r *Runner) drainCommands(ctx context.Context) {
	for ctx.Err() == nil {
		cmd, ok := r.queue.Read()
		if !ok {
			return
		}

		result := "ok"
		if err := r.drv.HandleCommand(r.env, cmd); err != nil {
			result = "error"
			if stderrors.Is(err, errors.ErrUnsupported) {
				result = "unsupported"
			}
			r.env.Warn("Command failed", "command", cmd.Body.CommandType(), "id", cmd.ID, "error", err)
		}
		if r.metrics != nil {
			r.metrics.RecordCommand(r.cfg.Name, result)
		}
	}
}

func (r *Runner) teardown() {
	r.deps.Bus.UnregisterCommandSink(r.cfg.Address, r)

	r.submitMu.Lock()
	if n := r.queue.Size(); n > 0 {
		r.logger.Warn("Discarding queued commands", "count", n)
	}
	_ = r.queue.Close()
	r.submitMu.Unlock()

	r.shutdownDriver()
	r.closeTransport()
	r.logger.Info("Device loop exited", "state", string(r.Status().State))
}

func (r *Runner) shutdownDriver() {
	if err := r.drv.Shutdown(r.env); err != nil {
		r.logger.Warn("Driver shutdown failed", "error", err)
	}
}

// closeTransport runs at most once per runner.
func (r *Runner) closeTransport() {
	r.closeOnce.Do(func() {
		if r.env == nil || r.env.Transport == nil {
			return
		}
		if err := r.env.Transport.Close(); err != nil {
			r.logger.Warn("Transport close failed", "error", err)
		}
	})
}

// fail records a terminal error, marks the retained reading stale and
// publishes failed status.
func (r *Runner) fail(err error) {
	r.statusMu.Lock()
	r.err = err
	r.statusMu.Unlock()

	r.deps.Bus.MarkStale(r.cfg.Address)
	r.setStatus(types.LinkFailed, err.Error(), 0)
	r.logger.Error("Device failed", "error", err)
}

func (r *Runner) setStatus(state types.LinkState, reason string, failures int) {
	r.statusMu.Lock()
	if r.status.State != state {
		r.status.Since = time.Now()
	}
	r.status.State = state
	r.status.Reason = reason
	r.status.Failures = failures
	status := r.status
	startedAt := r.startedAt
	r.statusMu.Unlock()

	if err := r.deps.Bus.Publish(r.cfg.Address, bus.KindStatus, &status, time.Now()); err != nil {
		r.logger.Debug("Status publish failed", "error", err)
	}
	if r.metrics != nil {
		r.metrics.RecordDriverState(r.cfg.Name, r.kind, stateValue(state))
	}
	if r.deps.Health != nil {
		r.deps.Health.Observe(r.cfg.Name, status, startedAt)
	}
}

func stateValue(s types.LinkState) int {
	switch s {
	case types.LinkUp:
		return metric.StateUp
	case types.LinkDegraded:
		return metric.StateDegraded
	case types.LinkFailed:
		return metric.StateFailed
	case types.LinkStopped:
		return metric.StateStopped
	default:
		return metric.StateDown
	}
}
