package approval

import (
	"context"
	"errors"
)

// Store tracks pending approval requests until they are decided or expire.
// Implementations: Redis (prod), in-memory (dev/test).
type Store interface {
	// Put stores a pending request until its ExpiresAt deadline.
	Put(ctx context.Context, req *Request) error

	// Get returns a pending request by approval ID.
	// Returns ErrNotFound if it does not exist or has expired.
	Get(ctx context.Context, approvalID string) (*Request, error)

	// Take atomically removes and returns a pending request. Exactly one
	// caller wins when decisions race; the rest get ErrNotFound.
	Take(ctx context.Context, approvalID string) (*Request, error)
}

// Notifier delivers a pending approval request to an external approval
// system, typically over a webhook. Delivery is best-effort: the request
// stays decidable through the API even when notification fails.
type Notifier interface {
	Notify(ctx context.Context, req *Request) error
}

// ErrNotFound is returned when an approval request does not exist or has
// expired.
var ErrNotFound = errors.New("approval request not found")
