package auth

import (
	"context"
	"errors"
)

// ErrCredentialNotFound is returned when no credential matches a key hash.
var ErrCredentialNotFound = errors.New("credential not found")

// Store provides credential lookup for authentication.
// This interface is defined in the domain to avoid circular imports.
// Implementations: in-memory seeded from config (current), database (future).
type Store interface {
	// GetByHash retrieves a credential by its SHA-256 key hash.
	// Returns ErrCredentialNotFound if no credential matches.
	GetByHash(ctx context.Context, keyHash string) (*Credential, error)

	// List returns all stored credentials for iteration-based verification.
	List(ctx context.Context) ([]*Credential, error)
}
