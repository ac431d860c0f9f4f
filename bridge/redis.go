package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/c360/semdevices/bus"
	"github.com/c360/semdevices/errors"
)

// RedisClient is the subset of *redis.Client the sink uses.
type RedisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RedisOptions configures NewRedisClient.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// NewRedisClient connects to Redis and verifies the connection with PING.
func NewRedisClient(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	if opts.PoolSize <= 0 {
		opts.PoolSize = 10
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
		PoolSize: opts.PoolSize,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.WrapTransient(err, "RedisSink", "NewRedisClient", "ping "+opts.Addr)
	}
	return client, nil
}

// RedisSink publishes messages on Redis pub/sub channels and keeps the last
// reading of each device under a plain key.
type RedisSink struct {
	client RedisClient
	prefix string
	ttl    time.Duration
}

// NewRedisSink creates a sink. A zero ttl keeps last readings forever.
func NewRedisSink(client RedisClient, prefix string, ttl time.Duration) *RedisSink {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &RedisSink{client: client, prefix: prefix, ttl: ttl}
}

// Name implements Sink.
func (s *RedisSink) Name() string { return "redis" }

// LastKey is where the last reading of the device at subject is stored.
func (s *RedisSink) LastKey(subject string) string {
	return fmt.Sprintf("%s:last:%s", s.prefix, subject)
}

// Send implements Sink.
func (s *RedisSink) Send(ctx context.Context, msg bus.Message, data []byte) error {
	channel := Subject(s.prefix, msg)
	if err := s.client.Publish(ctx, channel, data).Err(); err != nil {
		return errors.WrapTransient(err, "RedisSink", "Send", "publish "+channel)
	}
	if msg.Kind != bus.KindData {
		return nil
	}
	if err := s.client.Set(ctx, s.LastKey(msg.Address.Subject()), data, s.ttl).Err(); err != nil {
		return errors.WrapTransient(err, "RedisSink", "Send", "store last reading")
	}
	return nil
}
