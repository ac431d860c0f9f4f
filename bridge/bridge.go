package bridge

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/semdevices/bus"
	"github.com/c360/semdevices/errors"
	"github.com/c360/semdevices/metric"
	"github.com/c360/semdevices/pkg/worker"
	"github.com/c360/semdevices/types"
)

// DefaultPrefix is the first subject token for device traffic.
const DefaultPrefix = "devices"

// Subscriber is the part of the NATS client command ingress needs.
type Subscriber interface {
	Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) error
}

// CommandSubmitter routes a decoded command to its device.
type CommandSubmitter interface {
	SubmitCommand(addr types.Address, body types.CommandBody) (types.Command, error)
}

// Config selects what the bridge forwards.
type Config struct {
	Addresses []types.Address
	Prefix    string
	Workers   int
	QueueLen  int
}

// Deps are the bridge's collaborators. Ingress and Commands are optional;
// command ingress is enabled only when both are set.
type Deps struct {
	Bus      *bus.Bus
	Logger   *slog.Logger
	Metrics  *metric.MetricsRegistry
	Ingress  Subscriber
	Commands CommandSubmitter
}

// Bridge pumps bus messages to sinks and broker commands to drivers.
type Bridge struct {
	cfg    Config
	deps   Deps
	sinks  []Sink
	logger *slog.Logger

	forwarded *prometheus.CounterVec

	mu      sync.Mutex
	cancel  context.CancelFunc
	pool    *worker.Pool[bus.Message]
	subs    []*bus.Subscription
	pumps   sync.WaitGroup
	started bool
}

// New creates a bridge. At least one sink or command ingress is required.
func New(cfg Config, deps Deps, sinks ...Sink) (*Bridge, error) {
	if deps.Bus == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Bridge", "New", "nil bus")
	}
	ingress := deps.Ingress != nil && deps.Commands != nil
	if len(sinks) == 0 && !ingress {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Bridge", "New", "no sinks or command ingress")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueLen <= 0 {
		cfg.QueueLen = 256
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	b := &Bridge{
		cfg:    cfg,
		deps:   deps,
		sinks:  sinks,
		logger: logger.With("component", "bridge"),
		forwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "semdevices",
			Subsystem: "bridge",
			Name:      "forwarded_total",
			Help:      "Messages handed to bridge sinks by result",
		}, []string{"sink", "result"}),
	}
	if deps.Metrics != nil {
		if err := deps.Metrics.RegisterCounterVec("bridge", "forwarded", b.forwarded); err != nil {
			b.logger.Warn("Bridge metrics not registered", "error", err)
		}
	}
	return b, nil
}

// Start subscribes to every configured address and, when enabled, to the
// command subjects.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Bridge", "Start", "start")
	}

	runCtx, cancel := context.WithCancel(ctx)
	pool := worker.NewPool(b.cfg.Workers, b.cfg.QueueLen, b.forward,
		worker.WithErrorHandler(func(msg bus.Message, err error) {
			b.logger.Warn("Forward failed", "address", msg.Address.String(), "kind", msg.Kind, "error", err)
		}),
		worker.WithMetricsRegistry[bus.Message](b.deps.Metrics, "bridge"))
	if err := pool.Start(runCtx); err != nil {
		cancel()
		return errors.WrapFatal(err, "Bridge", "Start", "start worker pool")
	}

	var subs []*bus.Subscription
	fail := func(err error, action string) error {
		for _, s := range subs {
			b.deps.Bus.Unsubscribe(s)
		}
		cancel()
		_ = pool.Stop(time.Second)
		return errors.Wrap(err, "Bridge", "Start", action)
	}

	if len(b.sinks) > 0 {
		for _, addr := range b.cfg.Addresses {
			sub, err := b.deps.Bus.Subscribe(addr, bus.WithRetained(), bus.WithQueueLen(b.cfg.QueueLen))
			if err != nil {
				return fail(err, "subscribe "+addr.String())
			}
			subs = append(subs, sub)
		}
	}

	if b.deps.Ingress != nil && b.deps.Commands != nil {
		for _, addr := range b.cfg.Addresses {
			subject := CommandSubject(b.cfg.Prefix, addr)
			if err := b.deps.Ingress.Subscribe(runCtx, subject, b.commandHandler(runCtx, addr)); err != nil {
				return fail(err, "subscribe "+subject)
			}
		}
	}

	for _, sub := range subs {
		b.pumps.Add(1)
		go b.pump(runCtx, pool, sub)
	}

	b.cancel = cancel
	b.pool = pool
	b.subs = subs
	b.started = true
	b.logger.Info("Bridge started", "addresses", len(b.cfg.Addresses), "sinks", len(b.sinks),
		"ingress", b.deps.Ingress != nil && b.deps.Commands != nil)
	return nil
}

// Stop unsubscribes, lets queued messages drain for up to timeout, then
// cancels outstanding sends.
func (b *Bridge) Stop(timeout time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.started {
		return nil
	}
	b.started = false

	for _, sub := range b.subs {
		b.deps.Bus.Unsubscribe(sub)
	}
	b.pumps.Wait()

	err := b.pool.Stop(timeout)
	b.cancel()
	b.logger.Info("Bridge stopped", "stats", b.pool.Stats())
	if err != nil {
		return errors.WrapTransient(err, "Bridge", "Stop", "drain")
	}
	return nil
}

// Stats reports the forwarding pool counters. It is zero before Start.
func (b *Bridge) Stats() worker.PoolStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pool == nil {
		return worker.PoolStats{}
	}
	return b.pool.Stats()
}

func (b *Bridge) pump(ctx context.Context, pool *worker.Pool[bus.Message], sub *bus.Subscription) {
	defer b.pumps.Done()
	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			return
		}
		if err := pool.Submit(msg); err != nil {
			b.forwarded.WithLabelValues("all", "dropped").Inc()
			b.logger.Debug("Forward dropped", "address", msg.Address.String(), "error", err)
		}
	}
}

func (b *Bridge) forward(ctx context.Context, msg bus.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return errors.WrapInvalid(err, "Bridge", "forward", "marshal message")
	}

	var errs []error
	for _, sink := range b.sinks {
		if err := sink.Send(ctx, msg, data); err != nil {
			b.forwarded.WithLabelValues(sink.Name(), "error").Inc()
			errs = append(errs, err)
			continue
		}
		b.forwarded.WithLabelValues(sink.Name(), "ok").Inc()
	}
	return stderrors.Join(errs...)
}

func (b *Bridge) commandHandler(ctx context.Context, addr types.Address) func(context.Context, []byte) {
	return func(_ context.Context, data []byte) {
		if ctx.Err() != nil {
			return
		}
		body, err := types.DecodeCommandBody(data)
		if err != nil {
			b.logger.Warn("Rejected remote command", "address", addr.String(), "error", err)
			return
		}
		cmd, err := b.deps.Commands.SubmitCommand(addr, body)
		if err != nil {
			b.logger.Warn("Remote command not delivered", "address", addr.String(),
				"type", body.CommandType(), "error", err)
			return
		}
		b.logger.Debug("Remote command submitted", "address", addr.String(), "id", cmd.ID, "type", body.CommandType())
	}
}
