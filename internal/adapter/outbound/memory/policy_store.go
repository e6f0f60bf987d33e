package memory

import (
	"context"
	"sync"

	"github.com/agent-warden/warden/internal/domain/policy"
)

// PolicyStore implements policy.Store with an in-memory map.
// Thread-safe for concurrent access. Used in development and as the
// fallback when Redis is unavailable.
type PolicyStore struct {
	rules map[string]*policy.Rule // RuleID -> Rule
	mu    sync.RWMutex
}

// NewPolicyStore creates a new in-memory policy store.
func NewPolicyStore() *PolicyStore {
	return &PolicyStore{
		rules: make(map[string]*policy.Rule),
	}
}

// Store creates or updates a rule.
func (s *PolicyStore) Store(ctx context.Context, r *policy.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to prevent external mutation
	s.rules[r.RuleID] = copyRule(r)
	return nil
}

// Get returns a rule by ID.
// Returns policy.ErrRuleNotFound if the rule doesn't exist.
func (s *PolicyStore) Get(ctx context.Context, ruleID string) (*policy.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rules[ruleID]
	if !ok {
		return nil, policy.ErrRuleNotFound
	}

	// Return a copy to prevent mutation
	return copyRule(r), nil
}

// ListActive returns all enabled rules.
func (s *PolicyStore) ListActive(ctx context.Context) ([]policy.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []policy.Rule
	for _, r := range s.rules {
		if r.Enabled {
			result = append(result, *copyRule(r))
		}
	}
	return result, nil
}

// Delete removes a rule by ID.
// Returns policy.ErrRuleNotFound if the rule doesn't exist.
func (s *PolicyStore) Delete(ctx context.Context, ruleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rules[ruleID]; !ok {
		return policy.ErrRuleNotFound
	}
	delete(s.rules, ruleID)
	return nil
}

// Refresh replaces the entire rule set and returns the new count.
func (s *PolicyStore) Refresh(ctx context.Context, rules []policy.Rule) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rules = make(map[string]*policy.Rule, len(rules))
	for i := range rules {
		s.rules[rules[i].RuleID] = copyRule(&rules[i])
	}
	return len(s.rules), nil
}

// Count returns the number of stored rules, enabled or not.
// Useful for seeding decisions at startup.
func (s *PolicyStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rules)
}

// copyRule creates a deep copy of a rule.
func copyRule(r *policy.Rule) *policy.Rule {
	ruleCopy := &policy.Rule{
		RuleID:            r.RuleID,
		Name:              r.Name,
		Description:       r.Description,
		RiskScoreModifier: r.RiskScoreModifier,
		Enabled:           r.Enabled,
		Priority:          r.Priority,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
	if r.ActionTypes != nil {
		ruleCopy.ActionTypes = make([]policy.ActionType, len(r.ActionTypes))
		copy(ruleCopy.ActionTypes, r.ActionTypes)
	}
	if r.Conditions != nil {
		ruleCopy.Conditions = make(map[string]any, len(r.Conditions))
		for k, v := range r.Conditions {
			ruleCopy.Conditions[k] = v
		}
	}
	return ruleCopy
}

// Compile-time interface verification.
var _ policy.Store = (*PolicyStore)(nil)
