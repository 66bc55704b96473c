// Package redis provides a Redis-backed kv.Store. Agent states are stored as
// plain string values under a configurable key prefix.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agentexhq/agentex/runtime/kv"
)

const (
	defaultPrefix  = "agentex:state:"
	defaultTimeout = 5 * time.Second
	clientName     = "state-redis"
)

type (
	// Options configures the Redis store.
	Options struct {
		// Client is the Redis client. Required.
		Client *redis.Client
		// Prefix is prepended to every key. Defaults to "agentex:state:".
		Prefix string
		// TTL expires values after the given duration. Zero means no expiry.
		TTL time.Duration
		// Timeout bounds each Redis operation. Defaults to 5 seconds.
		Timeout time.Duration
	}

	// Store is a Redis-backed kv.Store. It also implements
	// goa.design/clue/health.Pinger for readiness checks.
	Store struct {
		client  *redis.Client
		prefix  string
		ttl     time.Duration
		timeout time.Duration
	}
)

// New returns a Store backed by the provided Redis client.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("redis client is required")
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Store{
		client:  opts.Client,
		prefix:  prefix,
		ttl:     opts.TTL,
		timeout: timeout,
	}, nil
}

// Name implements health.Pinger.
func (s *Store) Name() string { return clientName }

// Ping implements health.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.client.Ping(ctx).Err()
}

// Get implements kv.Store.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	value, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, kv.ErrNotFound
		}
		return nil, fmt.Errorf("redis get %q: %w", key, err)
	}
	return value, nil
}

// Set implements kv.Store.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.client.Set(ctx, s.prefix+key, value, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// Delete implements kv.Store.
func (s *Store) Delete(ctx context.Context, key string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del %q: %w", key, err)
	}
	return nil
}

// BatchGet implements kv.Store using a single MGET.
func (s *Store) BatchGet(ctx context.Context, keys []string) ([][]byte, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	prefixed := make([]string, len(keys))
	for i, key := range keys {
		prefixed[i] = s.prefix + key
	}
	values, err := s.client.MGet(ctx, prefixed...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}
	out := make([][]byte, len(keys))
	for i, value := range values {
		if str, ok := value.(string); ok {
			out[i] = []byte(str)
		}
	}
	return out, nil
}

// BatchSet implements kv.Store using a pipeline so per-key TTLs apply.
func (s *Store) BatchSet(ctx context.Context, values map[string][]byte) error {
	if len(values) == 0 {
		return nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	pipe := s.client.Pipeline()
	for key, value := range values {
		pipe.Set(ctx, s.prefix+key, value, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis batch set: %w", err)
	}
	return nil
}

// BatchDelete implements kv.Store using a single DEL.
func (s *Store) BatchDelete(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	prefixed := make([]string, len(keys))
	for i, key := range keys {
		prefixed[i] = s.prefix + key
	}
	if err := s.client.Del(ctx, prefixed...).Err(); err != nil {
		return fmt.Errorf("redis batch del: %w", err)
	}
	return nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, s.timeout)
}
