package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agent-warden/warden/internal/domain/policy"
)

const (
	policyKeyPrefix = "warden:policy:"
	policyIndexKey  = "warden:policy:index"

	// DefaultCacheTTL bounds how stale a cached rule can get. Rules expire
	// out of the cache and are re-seeded by Refresh or the next Store.
	DefaultCacheTTL = 5 * time.Minute
)

// PolicyStore implements policy.Store on Redis. Each rule lives under its own
// TTL-bounded key and a set index tracks the known rule ids, so listing is a
// single SMEMBERS plus one MGET instead of a SCAN.
type PolicyStore struct {
	client *redis.Client
	ttl    time.Duration
}

// PolicyStoreOption configures a PolicyStore.
type PolicyStoreOption func(*PolicyStore)

// WithCacheTTL overrides the per-rule expiry.
func WithCacheTTL(d time.Duration) PolicyStoreOption {
	return func(s *PolicyStore) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// NewPolicyStore creates a Redis-backed policy store.
func NewPolicyStore(client *redis.Client, opts ...PolicyStoreOption) *PolicyStore {
	s := &PolicyStore{
		client: client,
		ttl:    DefaultCacheTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func policyKey(ruleID string) string {
	return policyKeyPrefix + ruleID
}

// Store upserts a rule with the configured TTL and registers it in the index.
func (s *PolicyStore) Store(ctx context.Context, r *policy.Rule) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal rule %q: %w", r.RuleID, err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, policyKey(r.RuleID), data, s.ttl)
	pipe.SAdd(ctx, policyIndexKey, r.RuleID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store rule %q: %w", r.RuleID, err)
	}
	return nil
}

// Get returns a rule by id, or policy.ErrRuleNotFound when the key is absent
// or has expired.
func (s *PolicyStore) Get(ctx context.Context, ruleID string) (*policy.Rule, error) {
	data, err := s.client.Get(ctx, policyKey(ruleID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, policy.ErrRuleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule %q: %w", ruleID, err)
	}

	var r policy.Rule
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse rule %q: %w", ruleID, err)
	}
	return &r, nil
}

// ListActive fetches every indexed rule in one MGET and returns the enabled
// ones. Index entries whose rule key has expired are pruned as a side effect.
func (s *PolicyStore) ListActive(ctx context.Context) ([]policy.Rule, error) {
	ids, err := s.client.SMembers(ctx, policyIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list rule ids: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = policyKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch rules: %w", err)
	}

	var rules []policy.Rule
	var stale []any
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Rule key expired but the index entry survived.
			stale = append(stale, ids[i])
			continue
		}
		var r policy.Rule
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			slog.Warn("Skipping unparseable cached rule", "rule_id", ids[i], "error", err)
			continue
		}
		if r.Enabled {
			rules = append(rules, r)
		}
	}

	if len(stale) > 0 {
		if err := s.client.SRem(ctx, policyIndexKey, stale...).Err(); err != nil {
			slog.Debug("Failed to prune stale index entries", "count", len(stale), "error", err)
		}
	}
	return rules, nil
}

// Delete removes a rule and its index entry.
func (s *PolicyStore) Delete(ctx context.Context, ruleID string) error {
	pipe := s.client.TxPipeline()
	delCmd := pipe.Del(ctx, policyKey(ruleID))
	pipe.SRem(ctx, policyIndexKey, ruleID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete rule %q: %w", ruleID, err)
	}
	if delCmd.Val() == 0 {
		return policy.ErrRuleNotFound
	}
	return nil
}

// Refresh drops the cached rule set and stores the given rules, returning how
// many were stored. A rule that fails to store is logged and skipped; the
// cache is left valid either way.
func (s *PolicyStore) Refresh(ctx context.Context, rules []policy.Rule) (int, error) {
	existing, err := s.client.SMembers(ctx, policyIndexKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list rule ids: %w", err)
	}

	pipe := s.client.TxPipeline()
	for _, id := range existing {
		pipe.Del(ctx, policyKey(id))
	}
	pipe.Del(ctx, policyIndexKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to clear policy cache: %w", err)
	}

	stored := 0
	for i := range rules {
		if err := s.Store(ctx, &rules[i]); err != nil {
			slog.Warn("Failed to store rule during refresh", "rule_id", rules[i].RuleID, "error", err)
			continue
		}
		stored++
	}
	return stored, nil
}

// Compile-time interface verification.
var _ policy.Store = (*PolicyStore)(nil)
