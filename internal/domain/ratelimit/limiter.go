package ratelimit

import "context"

// Limiter is the interface for per-agent rate limiting.
//
// Implementations use a fixed-window counter: the first request in a window
// starts the clock, and the window resets when it expires. Fixed windows are
// deliberately simple; the occasional boundary burst is acceptable for a
// governance gateway where the limit protects the evaluator, not a billing
// meter.
//
// The interface is storage-agnostic, allowing implementations backed by
// Redis or in-memory stores.
type Limiter interface {
	// Allow counts a request for the agent and reports whether it is within
	// the limit. When the backing store is unreachable the request is allowed
	// and Result.FailedOpen is set; availability wins over strict counting.
	Allow(ctx context.Context, agentID string) (Result, error)

	// Status reports the agent's current window without counting a request.
	Status(ctx context.Context, agentID string) (Result, error)
}
