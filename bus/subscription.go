package bus

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/c360/semdevices/errors"
	"github.com/c360/semdevices/pkg/buffer"
	"github.com/c360/semdevices/types"
)

// SubscribeOption configures a subscription.
type SubscribeOption func(*subscribeOptions)

type subscribeOptions struct {
	retained bool
	queueLen int
}

// WithRetained delivers the last status and last reading (if any) before
// live messages.
func WithRetained() SubscribeOption {
	return func(o *subscribeOptions) { o.retained = true }
}

// WithQueueLen overrides the bus default queue capacity.
func WithQueueLen(n int) SubscribeOption {
	return func(o *subscribeOptions) {
		if n > 0 {
			o.queueLen = n
		}
	}
}

// Subscription receives messages for one address.
type Subscription struct {
	id      string
	addr    types.Address
	queue   buffer.Buffer[Message]
	dropped atomic.Uint64
}

// ID is unique per subscription.
func (s *Subscription) ID() string { return s.id }

// Address is the subscribed device address.
func (s *Subscription) Address() types.Address { return s.addr }

// Dropped counts messages discarded because the queue was full.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Pending is the number of queued messages.
func (s *Subscription) Pending() int { return s.queue.Size() }

// TryNext returns the next queued message without waiting.
func (s *Subscription) TryNext() (Message, bool) {
	return s.queue.Read()
}

// Next waits for a message. It returns ErrUnsubscribed once the
// subscription is closed and its queue drained.
func (s *Subscription) Next(ctx context.Context) (Message, error) {
	for {
		if m, ok := s.queue.Read(); ok {
			return m, nil
		}
		select {
		case <-s.queue.Notify():
		case <-s.queue.Done():
			if m, ok := s.queue.Read(); ok {
				return m, nil
			}
			return Message{}, ErrUnsubscribed
		case <-ctx.Done():
			return Message{}, ctx.Err()
		}
	}
}

// Subscribe registers interest in addr. Every message published after
// Subscribe returns is delivered until Unsubscribe, subject to the queue
// bound.
func (b *Bus) Subscribe(addr types.Address, opts ...SubscribeOption) (*Subscription, error) {
	o := subscribeOptions{queueLen: b.queueLen}
	for _, opt := range opts {
		opt(&o)
	}

	sub := &Subscription{id: uuid.NewString(), addr: addr}
	iface := string(addr.Interface)

	queue, err := buffer.NewCircularBuffer[Message](o.queueLen,
		buffer.WithOverflowPolicy[Message](buffer.DropOldest),
		buffer.WithDropCallback[Message](func(Message) {
			sub.dropped.Add(1)
			if b.metrics != nil {
				b.metrics.BusDropped.WithLabelValues(iface).Inc()
			}
		}),
	)
	if err != nil {
		return nil, errors.WrapTransient(err, "Bus", "Subscribe", "create queue")
	}
	sub.queue = queue

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, errors.WrapInvalid(errors.ErrShuttingDown, "Bus", "Subscribe", "subscribe")
	}
	t := b.topicLocked(addr)
	if o.retained {
		if t.lastStatus != nil {
			_ = queue.Write(t.lastStatus.clone())
		}
		if t.last != nil {
			m := t.last.clone()
			m.Stale = t.stale
			_ = queue.Write(m)
		}
	}
	t.subs[sub.id] = sub
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.BusSubscribers.WithLabelValues(iface).Inc()
	}
	b.logger.Debug("Subscribed", "address", addr.String(), "subscription", sub.id)
	return sub, nil
}

// Unsubscribe stops delivery to sub. Messages already queued remain
// readable. It is safe to call more than once.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	t, ok := b.topics[sub.addr]
	found := ok && t.subs[sub.id] == sub
	if found {
		delete(t.subs, sub.id)
	}
	b.mu.Unlock()

	_ = sub.queue.Close()
	if found {
		if b.metrics != nil {
			b.metrics.BusSubscribers.WithLabelValues(string(sub.addr.Interface)).Dec()
		}
		b.logger.Debug("Unsubscribed", "address", sub.addr.String(), "subscription", sub.id)
	}
}
