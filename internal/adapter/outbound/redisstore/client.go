// Package redisstore provides Redis-backed implementations of the outbound
// ports: the policy cache, the per-agent rate limiter, the pending approval
// store, and the operational stats counters.
//
// Redis is optional. The gateway boots without it and falls back to the
// in-memory adapters; every implementation here degrades rather than fails
// when the server becomes unreachable.
package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// connectTimeout bounds the initial connection probe.
const connectTimeout = 5 * time.Second

// ClientOption overrides a connection option parsed from the URL.
type ClientOption func(*redis.Options)

// WithDialTimeout bounds connection establishment.
func WithDialTimeout(d time.Duration) ClientOption {
	return func(o *redis.Options) { o.DialTimeout = d }
}

// WithReadTimeout bounds individual read operations.
func WithReadTimeout(d time.Duration) ClientOption {
	return func(o *redis.Options) { o.ReadTimeout = d }
}

// WithWriteTimeout bounds individual write operations.
func WithWriteTimeout(d time.Duration) ClientOption {
	return func(o *redis.Options) { o.WriteTimeout = d }
}

// NewClient connects to Redis at the given URL (redis://host:port/db) and
// verifies the connection with a ping. Credentials and database number ride
// in the URL; timeouts come from options.
func NewClient(ctx context.Context, url string, opts ...ClientOption) (*redis.Client, error) {
	parsed, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	for _, opt := range opts {
		opt(parsed)
	}

	client := redis.NewClient(parsed)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

// IsConnected reports whether the client can reach the server right now.
func IsConnected(ctx context.Context, client *redis.Client) bool {
	if client == nil {
		return false
	}
	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	return client.Ping(pingCtx).Err() == nil
}
