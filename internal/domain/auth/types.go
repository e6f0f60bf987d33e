// Package auth contains the domain types and logic for agent authentication.
package auth

import (
	"time"
)

const (
	// KeyPrefix is the required prefix for all agent API keys.
	KeyPrefix = "agent_sk_"

	// MinKeyLength is the minimum length of a raw API key, prefix included.
	MinKeyLength = 32
)

// PermissionAll is the wildcard permission granting every action type.
const PermissionAll = "*"

// Agent represents an authenticated AI agent.
type Agent struct {
	// ID is the unique identifier for this agent.
	ID string
	// Name is the display name for this agent.
	Name string
	// Permissions are the action types this agent may submit.
	// A single "*" entry grants all action types.
	Permissions []string
}

// AllowsAction returns true if the agent may submit the given action type.
// An empty permission list denies everything.
func (a *Agent) AllowsAction(actionType string) bool {
	for _, p := range a.Permissions {
		if p == PermissionAll || p == actionType {
			return true
		}
	}
	return false
}

// Credential binds a hashed API key to an agent.
type Credential struct {
	// KeyHash is the hashed key value (SHA-256 hex or Argon2id PHC format).
	KeyHash string
	// Agent is the identity this key authenticates as.
	Agent Agent
	// CreatedAt is when the key was created (UTC).
	CreatedAt time.Time
	// ExpiresAt is when the key expires (nil = never expires).
	ExpiresAt *time.Time
	// Revoked indicates if the key has been revoked.
	Revoked bool
}

// IsExpired returns true if the credential has expired.
// A credential with nil ExpiresAt never expires.
func (c *Credential) IsExpired() bool {
	if c.ExpiresAt == nil {
		return false
	}
	return time.Now().UTC().After(*c.ExpiresAt)
}
