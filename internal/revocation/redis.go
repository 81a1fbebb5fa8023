package revocation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// flagClient is the subset of the redis client the signal uses.
type flagClient interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// RedisSignal stores revocation flags with a TTL so workers in other
// processes observe a revoke without reading the database.
type RedisSignal struct {
	client flagClient
	prefix string
	ttl    time.Duration
	close  func() error
}

// DefaultFlagTTL outlives any in-flight bundle. The store stays the durable
// record of a revocation.
const DefaultFlagTTL = 24 * time.Hour

// NewRedisSignal wraps an existing client.
func NewRedisSignal(client flagClient, prefix string, ttl time.Duration) *RedisSignal {
	return &RedisSignal{client: client, prefix: prefix, ttl: ttl}
}

// Dial connects to redisURL (redis:// URL or host:port) and verifies the
// connection with PING.
func Dial(ctx context.Context, redisURL, prefix string, ttl time.Duration) (*RedisSignal, error) {
	var opts *redis.Options
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		parsed, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: redisURL}
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	signal := NewRedisSignal(client, prefix, ttl)
	signal.close = client.Close
	return signal, nil
}

func (s *RedisSignal) key(bundleID string) string {
	return s.prefix + bundleID
}

// Publish sets the revocation flag.
func (s *RedisSignal) Publish(ctx context.Context, bundleID string) error {
	if err := s.client.Set(ctx, s.key(bundleID), "1", s.ttl).Err(); err != nil {
		return fmt.Errorf("publish revocation: %w", err)
	}
	return nil
}

// Cancelled implements Checker.
func (s *RedisSignal) Cancelled(ctx context.Context, bundleID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(bundleID)).Result()
	if err != nil {
		return false, fmt.Errorf("check revocation: %w", err)
	}
	return n > 0, nil
}

// Ping checks connectivity.
func (s *RedisSignal) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the client when Dial created it.
func (s *RedisSignal) Close() error {
	if s == nil || s.close == nil {
		return nil
	}
	return s.close()
}
