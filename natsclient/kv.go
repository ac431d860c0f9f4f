package natsclient

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// KVStore wraps a bucket with a per-operation timeout.
type KVStore struct {
	bucket  jetstream.KeyValue
	timeout time.Duration
}

// NewKVStore wraps bucket. A zero timeout defaults to five seconds.
func NewKVStore(bucket jetstream.KeyValue, timeout time.Duration) *KVStore {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &KVStore{bucket: bucket, timeout: timeout}
}

// Put creates or updates a key without revision check (last writer wins)
func (kv *KVStore) Put(ctx context.Context, key string, value []byte) error {
	ctx, cancel := context.WithTimeout(ctx, kv.timeout)
	defer cancel()

	if _, err := kv.bucket.Put(ctx, key, value); err != nil {
		return fmt.Errorf("kv put %s: %w", key, err)
	}
	return nil
}

// OpenKVStore creates or opens the named bucket keeping one revision per key.
func (m *Client) OpenKVStore(ctx context.Context, bucket string, ttl time.Duration) (*KVStore, error) {
	kv, err := m.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "last reading per device",
		History:     1,
		TTL:         ttl,
	})
	if err != nil {
		return nil, err
	}
	return NewKVStore(kv, m.timeout), nil
}
