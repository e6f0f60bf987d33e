package memory

import (
	"context"
	"sync"

	"github.com/agent-warden/warden/internal/domain/auth"
)

// AuthStore implements auth.Store with an in-memory map.
// Thread-safe for concurrent access. Seeded from config at startup.
type AuthStore struct {
	creds map[string]*auth.Credential // keyHash -> Credential
	mu    sync.RWMutex
}

// NewAuthStore creates a new in-memory credential store.
func NewAuthStore() *AuthStore {
	return &AuthStore{
		creds: make(map[string]*auth.Credential),
	}
}

// GetByHash retrieves a credential by its SHA-256 key hash.
// Returns auth.ErrCredentialNotFound if no credential matches.
func (s *AuthStore) GetByHash(ctx context.Context, keyHash string) (*auth.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cred, ok := s.creds[keyHash]
	if !ok {
		return nil, auth.ErrCredentialNotFound
	}

	// Return a copy to prevent mutation
	return copyCredential(cred), nil
}

// List returns all stored credentials for iteration-based verification.
func (s *AuthStore) List(ctx context.Context) ([]*auth.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*auth.Credential, 0, len(s.creds))
	for _, cred := range s.creds {
		result = append(result, copyCredential(cred))
	}
	return result, nil
}

// Add stores a credential (for seeding and testing).
func (s *AuthStore) Add(cred *auth.Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to prevent external mutation
	s.creds[cred.KeyHash] = copyCredential(cred)
}

// Remove deletes a credential by its stored key hash.
func (s *AuthStore) Remove(keyHash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creds, keyHash)
}

// copyCredential creates a deep copy of a credential.
func copyCredential(cred *auth.Credential) *auth.Credential {
	credCopy := *cred
	if cred.Agent.Permissions != nil {
		credCopy.Agent.Permissions = make([]string, len(cred.Agent.Permissions))
		copy(credCopy.Agent.Permissions, cred.Agent.Permissions)
	}
	if cred.ExpiresAt != nil {
		expiry := *cred.ExpiresAt
		credCopy.ExpiresAt = &expiry
	}
	return &credCopy
}

// Compile-time interface verification.
var _ auth.Store = (*AuthStore)(nil)
