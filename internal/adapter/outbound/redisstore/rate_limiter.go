package redisstore

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/agent-warden/warden/internal/domain/ratelimit"
)

// RateLimiter implements ratelimit.Limiter with a fixed-window counter in
// Redis, shared across gateway replicas. The window key is created by the
// first INCR and given its expiry in a follow-up EXPIRE, so a window whose
// EXPIRE was lost (crash between the two commands) is healed on the next
// request instead of counting forever.
//
// When Redis is unreachable the limiter fails open: the request is allowed,
// uncounted, and marked FailedOpen. Availability wins over strict counting.
type RateLimiter struct {
	client *redis.Client
	config ratelimit.Config
}

// NewRateLimiter creates a Redis-backed rate limiter.
func NewRateLimiter(client *redis.Client, config ratelimit.Config) *RateLimiter {
	if config.Requests <= 0 {
		config.Requests = ratelimit.DefaultConfig().Requests
	}
	if config.Window <= 0 {
		config.Window = ratelimit.DefaultConfig().Window
	}
	return &RateLimiter{client: client, config: config}
}

// Allow counts a request for the agent within the current fixed window.
func (r *RateLimiter) Allow(ctx context.Context, agentID string) (ratelimit.Result, error) {
	key := ratelimit.Key(agentID)

	pipe := r.client.TxPipeline()
	incrCmd := pipe.Incr(ctx, key)
	ttlCmd := pipe.TTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("Rate limit check failed, allowing request", "agent_id", agentID, "error", err)
		return r.failOpen(), nil
	}

	current := int(incrCmd.Val())
	ttl := ttlCmd.Val()

	// A fresh window has no expiry yet; give it one.
	if ttl < 0 {
		if err := r.client.Expire(ctx, key, r.config.Window).Err(); err != nil {
			slog.Warn("Failed to set rate limit window expiry", "agent_id", agentID, "error", err)
		}
		ttl = r.config.Window
	}

	remaining := r.config.Requests - current
	if remaining < 0 {
		remaining = 0
	}
	return ratelimit.Result{
		Allowed:    current <= r.config.Requests,
		Current:    current,
		Limit:      r.config.Requests,
		Remaining:  remaining,
		ResetAfter: ttl,
	}, nil
}

// Status reports the agent's current window without counting a request.
func (r *RateLimiter) Status(ctx context.Context, agentID string) (ratelimit.Result, error) {
	key := ratelimit.Key(agentID)

	pipe := r.client.TxPipeline()
	getCmd := pipe.Get(ctx, key)
	ttlCmd := pipe.TTL(ctx, key)
	// Exec surfaces redis.Nil when the window key does not exist yet;
	// that is a fresh window, not a failure.
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		slog.Warn("Rate limit status check failed", "agent_id", agentID, "error", err)
		return r.failOpen(), nil
	}

	current := 0
	if raw, err := getCmd.Result(); err == nil {
		if n, err := strconv.Atoi(raw); err == nil {
			current = n
		}
	}

	ttl := ttlCmd.Val()
	if ttl < 0 {
		ttl = 0
	}

	remaining := r.config.Requests - current
	if remaining < 0 {
		remaining = 0
	}
	return ratelimit.Result{
		Allowed:    true,
		Current:    current,
		Limit:      r.config.Requests,
		Remaining:  remaining,
		ResetAfter: ttl,
	}, nil
}

// failOpen builds the full-quota result returned when Redis is unreachable.
func (r *RateLimiter) failOpen() ratelimit.Result {
	return ratelimit.Result{
		Allowed:    true,
		Limit:      r.config.Requests,
		Remaining:  r.config.Requests,
		ResetAfter: r.config.Window,
		FailedOpen: true,
	}
}

// Compile-time interface verification.
var _ ratelimit.Limiter = (*RateLimiter)(nil)
