// Package ratelimit provides per-agent rate limiting domain types.
package ratelimit

import (
	"fmt"
	"time"
)

// Config defines the rate limiting parameters applied to each agent.
type Config struct {
	// Requests is the number of allowed requests per window.
	Requests int

	// Window is the fixed time window for the limit.
	Window time.Duration
}

// DefaultConfig returns the default per-agent limit.
func DefaultConfig() Config {
	return Config{Requests: 1000, Window: 60 * time.Second}
}

// Result contains the outcome of a rate limit check.
type Result struct {
	// Allowed indicates whether the request may proceed.
	Allowed bool

	// Current is the number of requests counted in the current window,
	// including this one.
	Current int

	// Limit is the configured maximum per window.
	Limit int

	// Remaining is the number of requests left in the current window.
	Remaining int

	// ResetAfter is the duration until the current window expires.
	ResetAfter time.Duration

	// FailedOpen is set when the backend was unreachable and the request
	// was allowed without being counted.
	FailedOpen bool
}

// keyPrefix is the base prefix for all rate limit keys.
const keyPrefix = "warden:ratelimit"

// Key returns the structured rate limit key for an agent.
// Format: "warden:ratelimit:{agent_id}"
func Key(agentID string) string {
	return fmt.Sprintf("%s:%s", keyPrefix, agentID)
}
