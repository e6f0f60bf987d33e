package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/agent-warden/warden/internal/domain/approval"
)

// ApprovalStore implements approval.Store with an in-memory map.
// Thread-safe for concurrent access. Used when Redis is unavailable.
// Includes background cleanup so expired approvals do not accumulate.
type ApprovalStore struct {
	pending         map[string]*approval.Request // ApprovalID -> Request
	mu              sync.Mutex
	stopChan        chan struct{}
	wg              sync.WaitGroup
	once            sync.Once
	cleanupInterval time.Duration
}

// NewApprovalStore creates a new in-memory approval store with default
// cleanup settings (cleanup every minute).
func NewApprovalStore() *ApprovalStore {
	return NewApprovalStoreWithCleanup(1 * time.Minute)
}

// NewApprovalStoreWithCleanup creates a new in-memory approval store with a
// custom cleanup interval.
func NewApprovalStoreWithCleanup(cleanupInterval time.Duration) *ApprovalStore {
	return &ApprovalStore{
		pending:         make(map[string]*approval.Request),
		stopChan:        make(chan struct{}),
		cleanupInterval: cleanupInterval,
	}
}

// Put stores a pending request until its ExpiresAt deadline.
func (s *ApprovalStore) Put(ctx context.Context, req *approval.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to prevent external mutation
	s.pending[req.ApprovalID] = copyApproval(req)
	return nil
}

// Get returns a pending request by approval ID.
// Returns approval.ErrNotFound if it does not exist or has expired.
func (s *ApprovalStore) Get(ctx context.Context, approvalID string) (*approval.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.pending[approvalID]
	if !ok {
		return nil, approval.ErrNotFound
	}
	if expired(req) {
		delete(s.pending, approvalID)
		return nil, approval.ErrNotFound
	}

	return copyApproval(req), nil
}

// Take atomically removes and returns a pending request. Exactly one caller
// wins when decisions race; the rest get approval.ErrNotFound.
func (s *ApprovalStore) Take(ctx context.Context, approvalID string) (*approval.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.pending[approvalID]
	if !ok {
		return nil, approval.ErrNotFound
	}
	delete(s.pending, approvalID)
	if expired(req) {
		return nil, approval.ErrNotFound
	}

	return req, nil
}

// expired reports whether the request's deadline has passed.
// A zero ExpiresAt means the request never expires.
func expired(req *approval.Request) bool {
	return !req.ExpiresAt.IsZero() && time.Now().UTC().After(req.ExpiresAt)
}

// copyApproval creates a deep copy of an approval request.
func copyApproval(req *approval.Request) *approval.Request {
	reqCopy := *req
	if req.MatchedRules != nil {
		reqCopy.MatchedRules = make([]string, len(req.MatchedRules))
		copy(reqCopy.MatchedRules, req.MatchedRules)
	}
	if req.SanitizedParameters != nil {
		reqCopy.SanitizedParameters = make(map[string]any, len(req.SanitizedParameters))
		for k, v := range req.SanitizedParameters {
			reqCopy.SanitizedParameters[k] = v
		}
	}
	if req.Context != nil {
		reqCopy.Context = make(map[string]any, len(req.Context))
		for k, v := range req.Context {
			reqCopy.Context[k] = v
		}
	}
	return &reqCopy
}

// StartCleanup starts the background cleanup goroutine.
// It stops when ctx is cancelled or Stop() is called.
func (s *ApprovalStore) StartCleanup(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.cleanup()
			}
		}
	}()
}

// cleanup removes expired approval requests.
func (s *ApprovalStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleaned := 0
	for id, req := range s.pending {
		if expired(req) {
			delete(s.pending, id)
			cleaned++
		}
	}

	if cleaned > 0 {
		slog.Debug("approval store cleanup completed",
			"cleaned_approvals", cleaned,
			"remaining_approvals", len(s.pending))
	}
}

// Stop gracefully stops the cleanup goroutine and waits for it to exit.
// Safe to call multiple times.
func (s *ApprovalStore) Stop() {
	s.once.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
}

// Size returns the current number of pending approvals.
func (s *ApprovalStore) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Compile-time interface verification.
var _ approval.Store = (*ApprovalStore)(nil)
