package bridge

import (
	"context"

	"github.com/c360/semdevices/bus"
	"github.com/c360/semdevices/errors"
)

// Publisher is the part of the NATS client the sink needs.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// KeyValue stores the last reading per device.
type KeyValue interface {
	Put(ctx context.Context, key string, value []byte) error
}

// NATSSink publishes messages on NATS subjects and optionally records the
// last reading in a KV bucket.
type NATSSink struct {
	conn   Publisher
	kv     KeyValue
	prefix string
}

// NewNATSSink creates a sink publishing under prefix. kv may be nil.
func NewNATSSink(conn Publisher, kv KeyValue, prefix string) *NATSSink {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &NATSSink{conn: conn, kv: kv, prefix: prefix}
}

// Name implements Sink.
func (s *NATSSink) Name() string { return "nats" }

// Send implements Sink.
func (s *NATSSink) Send(ctx context.Context, msg bus.Message, data []byte) error {
	subject := Subject(s.prefix, msg)
	if err := s.conn.Publish(ctx, subject, data); err != nil {
		return errors.WrapTransient(err, "NATSSink", "Send", "publish "+subject)
	}
	if s.kv == nil || msg.Kind != bus.KindData {
		return nil
	}
	if err := s.kv.Put(ctx, msg.Address.Subject(), data); err != nil {
		return errors.WrapTransient(err, "NATSSink", "Send", "store last reading")
	}
	return nil
}
