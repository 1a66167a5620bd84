package events

import (
	"context"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/rodrigorsdev/r2.blockchain.crud/internal/domain"
)

// DefaultRedisChannel is used when no channel is configured.
const DefaultRedisChannel = "registry:events"

// RedisSink publishes events on a Redis pub/sub channel.
type RedisSink struct {
	client  *redis.Client
	channel string
	timeout time.Duration
}

// NewRedisSink connects to Redis and verifies the connection.
func NewRedisSink(addr, password string, db int, channel string) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return newRedisSink(client, channel), nil
}

func newRedisSink(client *redis.Client, channel string) *RedisSink {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisSink{client: client, channel: channel, timeout: time.Second}
}

// Publish implements Sink.
func (s *RedisSink) Publish(ctx context.Context, event domain.Event) error {
	data, err := Marshal(event)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.client.Publish(ctx, s.channel, data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", s.channel, err)
	}
	return nil
}

// Channel reports the pub/sub channel events are published on.
func (s *RedisSink) Channel() string {
	return s.channel
}

// Close releases the Redis connection pool.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
