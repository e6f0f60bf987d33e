package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agent-warden/warden/internal/domain/approval"
)

const approvalKeyPrefix = "warden:approval:"

// ApprovalStore implements approval.Store on Redis. Each pending request is a
// single key whose expiry matches the request's ExpiresAt deadline, so expiry
// is enforced by Redis itself and works across gateway replicas.
type ApprovalStore struct {
	client *redis.Client
}

// NewApprovalStore creates a Redis-backed approval store.
func NewApprovalStore(client *redis.Client) *ApprovalStore {
	return &ApprovalStore{client: client}
}

func approvalKey(approvalID string) string {
	return approvalKeyPrefix + approvalID
}

// Put stores a pending request with a TTL derived from its ExpiresAt.
// Requests without a deadline get the default approval TTL; Redis keys must
// always expire.
func (s *ApprovalStore) Put(ctx context.Context, req *approval.Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal approval request %q: %w", req.ApprovalID, err)
	}

	ttl := approval.DefaultTTL
	if !req.ExpiresAt.IsZero() {
		if d := time.Until(req.ExpiresAt); d > 0 {
			ttl = d
		}
	}

	if err := s.client.Set(ctx, approvalKey(req.ApprovalID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store approval request %q: %w", req.ApprovalID, err)
	}
	return nil
}

// Get returns a pending request by approval ID.
func (s *ApprovalStore) Get(ctx context.Context, approvalID string) (*approval.Request, error) {
	data, err := s.client.Get(ctx, approvalKey(approvalID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, approval.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get approval request %q: %w", approvalID, err)
	}
	return parseApproval(approvalID, data)
}

// Take atomically removes and returns a pending request via GETDEL, so
// racing decisions have exactly one winner even across replicas.
func (s *ApprovalStore) Take(ctx context.Context, approvalID string) (*approval.Request, error) {
	data, err := s.client.GetDel(ctx, approvalKey(approvalID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, approval.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to take approval request %q: %w", approvalID, err)
	}
	return parseApproval(approvalID, data)
}

func parseApproval(approvalID string, data []byte) (*approval.Request, error) {
	var req approval.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to parse approval request %q: %w", approvalID, err)
	}
	return &req, nil
}

// Compile-time interface verification.
var _ approval.Store = (*ApprovalStore)(nil)
