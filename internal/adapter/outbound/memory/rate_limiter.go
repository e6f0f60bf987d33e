// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/agent-warden/warden/internal/domain/ratelimit"
)

// window tracks one agent's fixed rate limit window.
type window struct {
	count   int
	resetAt time.Time
}

// RateLimiter implements ratelimit.Limiter with fixed windows in memory.
// Thread-safe for concurrent access. Used when Redis is unavailable.
// Includes background cleanup to prevent unbounded memory growth.
type RateLimiter struct {
	windows         map[string]*window // agentID -> window
	config          ratelimit.Config
	mu              sync.Mutex
	stopChan        chan struct{}
	wg              sync.WaitGroup
	once            sync.Once
	cleanupInterval time.Duration
}

// NewRateLimiter creates a new in-memory rate limiter with default cleanup
// settings (cleanup every 5 minutes).
func NewRateLimiter(config ratelimit.Config) *RateLimiter {
	return NewRateLimiterWithCleanup(config, 5*time.Minute)
}

// NewRateLimiterWithCleanup creates a new in-memory rate limiter with a
// custom cleanup interval.
func NewRateLimiterWithCleanup(config ratelimit.Config, cleanupInterval time.Duration) *RateLimiter {
	if config.Requests <= 0 {
		config.Requests = ratelimit.DefaultConfig().Requests
	}
	if config.Window <= 0 {
		config.Window = ratelimit.DefaultConfig().Window
	}
	return &RateLimiter{
		windows:         make(map[string]*window),
		config:          config,
		stopChan:        make(chan struct{}),
		cleanupInterval: cleanupInterval,
	}
}

// Allow counts a request for the agent within the current fixed window.
// The first request in a window starts the clock; requests beyond the
// configured limit are rejected until the window expires.
func (r *RateLimiter) Allow(ctx context.Context, agentID string) (ratelimit.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()

	w, ok := r.windows[agentID]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(r.config.Window)}
		r.windows[agentID] = w
	}

	w.count++

	return r.result(w, now), nil
}

// Status reports the agent's current window without counting a request.
func (r *RateLimiter) Status(ctx context.Context, agentID string) (ratelimit.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()

	w, ok := r.windows[agentID]
	if !ok || !now.Before(w.resetAt) {
		return ratelimit.Result{
			Allowed:   true,
			Limit:     r.config.Requests,
			Remaining: r.config.Requests,
		}, nil
	}

	res := r.result(w, now)
	// A status probe itself is always allowed.
	res.Allowed = true
	return res, nil
}

// result builds a Result from a live window. Caller must hold the lock.
func (r *RateLimiter) result(w *window, now time.Time) ratelimit.Result {
	remaining := r.config.Requests - w.count
	if remaining < 0 {
		remaining = 0
	}
	return ratelimit.Result{
		Allowed:    w.count <= r.config.Requests,
		Current:    w.count,
		Limit:      r.config.Requests,
		Remaining:  remaining,
		ResetAfter: w.resetAt.Sub(now),
	}
}

// StartCleanup starts the background cleanup goroutine.
// The goroutine periodically removes expired windows.
// It stops when ctx is cancelled or Stop() is called.
func (r *RateLimiter) StartCleanup(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopChan:
				return
			case <-ticker.C:
				r.cleanup()
			}
		}
	}()
}

// cleanup removes expired windows. This method acquires the lock and should
// only be called by the background cleanup goroutine.
func (r *RateLimiter) cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cleaned := 0

	for agentID, w := range r.windows {
		if !now.Before(w.resetAt) {
			delete(r.windows, agentID)
			cleaned++
		}
	}

	if cleaned > 0 {
		slog.Debug("rate limiter cleanup completed",
			"cleaned_windows", cleaned,
			"remaining_windows", len(r.windows))
	}
}

// Stop gracefully stops the cleanup goroutine and waits for it to exit.
// Safe to call multiple times.
func (r *RateLimiter) Stop() {
	r.once.Do(func() {
		close(r.stopChan)
	})
	r.wg.Wait()
}

// Size returns the current number of tracked windows.
// Useful for testing and monitoring memory usage.
func (r *RateLimiter) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.windows)
}

// Compile-time interface verification.
var _ ratelimit.Limiter = (*RateLimiter)(nil)
