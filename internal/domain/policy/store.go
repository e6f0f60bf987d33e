package policy

import (
	"context"
	"errors"
)

var (
	// ErrRuleNotFound is returned when a rule id has no entry in the store.
	ErrRuleNotFound = errors.New("policy rule not found")
	// ErrUnknownActionType is returned when parsing an action type outside
	// the closed set.
	ErrUnknownActionType = errors.New("unknown action type")
)

// Store is the policy cache: the keyed, priority-ordered source of rules the
// engine evaluates. Implementations back it with Redis (shared, TTL-bounded
// staleness) or process memory (dev mode and the built-in default set).
type Store interface {
	// Store upserts a rule. Cache-backed implementations apply the
	// configured TTL and add the rule id to the index.
	Store(ctx context.Context, rule *Rule) error
	// Get returns the rule with the given id, or ErrRuleNotFound.
	Get(ctx context.Context, ruleID string) (*Rule, error)
	// ListActive returns enabled rules in unspecified order; the engine
	// sorts by priority. An empty cache yields an empty slice, not an
	// error; callers fall back to their default set.
	ListActive(ctx context.Context) ([]Rule, error)
	// Delete removes a rule and its index membership, returning
	// ErrRuleNotFound when the id is unknown.
	Delete(ctx context.Context, ruleID string) error
	// Refresh replaces the full rule set and returns how many rules were
	// stored. Partial failures leave the cache stale, never invalid.
	Refresh(ctx context.Context, rules []Rule) (int, error)
}
