// Package bus is the in-process publish/subscribe conduit between device
// drivers and their consumers.
//
// Messages are keyed by device address. Each subscriber owns a bounded
// queue; a full queue drops its oldest message and counts the drop, so a
// slow consumer never stalls a producer. Payloads are cloned per subscriber.
//
// The bus also routes commands: exactly one command sink (the owning driver)
// may be registered per address.
package bus

import (
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/c360/semdevices/errors"
	"github.com/c360/semdevices/metric"
	"github.com/c360/semdevices/types"
)

// DefaultQueueLen is the per-subscriber queue capacity.
const DefaultQueueLen = 64

// ErrUnsubscribed is returned by Next once a subscription is closed and
// drained.
var ErrUnsubscribed = stderrors.New("subscription closed")

// Kind distinguishes readings from link status updates.
type Kind string

// Message kinds.
const (
	KindData   Kind = "data"
	KindStatus Kind = "status"
)

// Message is one delivery. Payload is owned by the receiver.
type Message struct {
	Address   types.Address
	Kind      Kind
	Payload   types.Payload
	Timestamp time.Time
	// Seq increases by one per publish on an address.
	Seq uint64
	// Stale is set on retained data after the producer failed.
	Stale bool
}

// MarshalJSON renders the message in the form forwarded to external
// brokers and websocket clients.
func (m Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Address   types.Address `json:"address"`
		Kind      Kind          `json:"kind"`
		Timestamp time.Time     `json:"timestamp"`
		Seq       uint64        `json:"seq"`
		Stale     bool          `json:"stale,omitempty"`
		Payload   types.Payload `json:"payload"`
	}{m.Address, m.Kind, m.Timestamp, m.Seq, m.Stale, m.Payload})
}

func (m Message) clone() Message {
	if m.Payload != nil {
		m.Payload = m.Payload.Clone()
	}
	return m
}

// CommandSink accepts commands for one address.
type CommandSink interface {
	Submit(cmd types.Command) error
}

// Options configures a Bus.
type Options struct {
	QueueLen int
	Metrics  *metric.Metrics
	Logger   *slog.Logger
}

type topic struct {
	subs       map[string]*Subscription
	seq        uint64
	last       *Message
	lastStatus *Message
	stale      bool
}

// Bus is safe for concurrent use.
type Bus struct {
	mu     sync.RWMutex
	topics map[types.Address]*topic
	sinks  map[types.Address]CommandSink
	closed bool

	queueLen int
	metrics  *metric.Metrics
	logger   *slog.Logger
}

// New creates a bus.
func New(opts Options) *Bus {
	if opts.QueueLen <= 0 {
		opts.QueueLen = DefaultQueueLen
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		topics:   make(map[types.Address]*topic),
		sinks:    make(map[types.Address]CommandSink),
		queueLen: opts.QueueLen,
		metrics:  opts.Metrics,
		logger:   logger.With("component", "bus"),
	}
}

func (b *Bus) topicLocked(addr types.Address) *topic {
	t, ok := b.topics[addr]
	if !ok {
		t = &topic{subs: make(map[string]*Subscription)}
		b.topics[addr] = t
	}
	return t
}

// Publish delivers payload to every current subscriber of addr. It never
// blocks on subscribers.
func (b *Bus) Publish(addr types.Address, kind Kind, payload types.Payload, ts time.Time) error {
	if payload == nil {
		return errors.WrapInvalid(stderrors.New("nil payload"), "Bus", "Publish", "validate payload")
	}
	if kind != KindData && kind != KindStatus {
		return errors.WrapInvalid(stderrors.New("unknown message kind "+string(kind)), "Bus", "Publish", "validate kind")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errors.WrapInvalid(errors.ErrShuttingDown, "Bus", "Publish", "publish")
	}

	t := b.topicLocked(addr)
	t.seq++
	msg := Message{Address: addr, Kind: kind, Payload: payload.Clone(), Timestamp: ts, Seq: t.seq}

	if kind == KindData {
		t.last = &msg
		t.stale = false
	} else {
		t.lastStatus = &msg
	}

	for _, sub := range t.subs {
		_ = sub.queue.Write(msg.clone())
	}

	if b.metrics != nil {
		b.metrics.BusPublished.WithLabelValues(string(kind)).Inc()
	}
	return nil
}

// Last returns a copy of the most recent data message for addr.
func (b *Bus) Last(addr types.Address) (Message, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	t, ok := b.topics[addr]
	if !ok || t.last == nil {
		return Message{}, false
	}
	m := t.last.clone()
	m.Stale = t.stale
	return m, true
}

// LastStatus returns a copy of the most recent status message for addr.
func (b *Bus) LastStatus(addr types.Address) (Message, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	t, ok := b.topics[addr]
	if !ok || t.lastStatus == nil {
		return Message{}, false
	}
	return t.lastStatus.clone(), true
}

// MarkStale flags the retained reading of addr as stale until the next data
// publish.
func (b *Bus) MarkStale(addr types.Address) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.topics[addr]; ok {
		t.stale = true
	}
}

// Addresses lists every address that has been published or subscribed to,
// in string order.
func (b *Bus) Addresses() []types.Address {
	b.mu.RLock()
	out := make([]types.Address, 0, len(b.topics))
	for addr := range b.topics {
		out = append(out, addr)
	}
	b.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// RegisterCommandSink makes sink the owner of commands for addr.
func (b *Bus) RegisterCommandSink(addr types.Address, sink CommandSink) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.sinks[addr]; exists {
		return errors.WrapInvalid(errors.ErrAddressInUse, "Bus", "RegisterCommandSink", "register "+addr.String())
	}
	b.sinks[addr] = sink
	return nil
}

// UnregisterCommandSink releases addr if sink still owns it.
func (b *Bus) UnregisterCommandSink(addr types.Address, sink CommandSink) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cur, ok := b.sinks[addr]; ok && cur == sink {
		delete(b.sinks, addr)
	}
}

// SubmitCommand routes cmd to the driver owning addr.
func (b *Bus) SubmitCommand(addr types.Address, cmd types.Command) error {
	b.mu.RLock()
	sink, ok := b.sinks[addr]
	b.mu.RUnlock()

	if !ok {
		return errors.WrapInvalid(errors.ErrNoDriver, "Bus", "SubmitCommand", "route to "+addr.String())
	}
	cmd.Target = addr
	return sink.Submit(cmd)
}

// Close ends every subscription. Subsequent publishes fail.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	var subs []*Subscription
	for _, t := range b.topics {
		for _, s := range t.subs {
			subs = append(subs, s)
		}
		t.subs = make(map[string]*Subscription)
	}
	b.mu.Unlock()

	for _, s := range subs {
		_ = s.queue.Close()
		if b.metrics != nil {
			b.metrics.BusSubscribers.WithLabelValues(string(s.addr.Interface)).Dec()
		}
	}
}
