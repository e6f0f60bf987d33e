// Package service contains the application services that drive the
// governance pipeline: policy evaluation, circuit breaking with human
// approval, asynchronous audit recording, and decision bookkeeping.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/agent-warden/warden/internal/domain/gateway"
	"github.com/agent-warden/warden/internal/domain/pii"
	"github.com/agent-warden/warden/internal/domain/policy"
)

// Default decision thresholds. A clamped risk score at or above the block
// threshold denies the request outright; at or above the approval threshold
// it is held for a human decision.
const (
	DefaultBlockThreshold    = 1.0
	DefaultApprovalThreshold = 0.8
)

// compiledRule pairs a rule with its conditions lowered into typed checks.
type compiledRule struct {
	rule  policy.Rule
	conds *policy.CompiledConditions
}

// ruleSnapshot is an immutable compiled rule set stored in atomic.Value.
// The fingerprint identifies the exact active set it was compiled from, so
// an unchanged set never recompiles.
type ruleSnapshot struct {
	fingerprint uint64
	rules       []compiledRule
}

// PolicyEngine evaluates agent requests against the active policy set.
// Rules come from the policy cache with the built-in defaults as fallback;
// parameters and context are PII-sanitized before any rule sees them.
// Evaluate never returns an error: every internal failure degrades to a
// deny/critical result so the caller always gets a well-typed verdict.
type PolicyEngine struct {
	store    policy.Store
	scanner  pii.Scanner
	modes    *gateway.ModeController
	compiler policy.ExprCompiler
	logger   *slog.Logger

	blockThreshold    float64
	approvalThreshold float64
	defaults          []policy.Rule

	mu       sync.Mutex   // serializes snapshot swaps
	snapshot atomic.Value // stores *ruleSnapshot
}

// EngineOption configures PolicyEngine.
type EngineOption func(*PolicyEngine)

// WithThresholds overrides the block and approval decision thresholds.
func WithThresholds(block, approvalThreshold float64) EngineOption {
	return func(e *PolicyEngine) {
		e.blockThreshold = block
		e.approvalThreshold = approvalThreshold
	}
}

// WithExprCompiler enables the expression condition key, compiled through
// the given compiler at rule load time.
func WithExprCompiler(c policy.ExprCompiler) EngineOption {
	return func(e *PolicyEngine) {
		e.compiler = c
	}
}

// WithDefaultRules replaces the built-in fallback rule set.
func WithDefaultRules(rules []policy.Rule) EngineOption {
	return func(e *PolicyEngine) {
		e.defaults = rules
	}
}

// NewPolicyEngine creates an engine reading rules from store and the gateway
// mode from modes. A nil logger falls back to slog.Default().
func NewPolicyEngine(store policy.Store, scanner pii.Scanner, modes *gateway.ModeController, logger *slog.Logger, opts ...EngineOption) *PolicyEngine {
	if logger == nil {
		logger = slog.Default()
	}

	e := &PolicyEngine{
		store:             store,
		scanner:           scanner,
		modes:             modes,
		logger:            logger,
		blockThreshold:    DefaultBlockThreshold,
		approvalThreshold: DefaultApprovalThreshold,
		defaults:          policy.DefaultRules(),
	}

	for _, opt := range opts {
		opt(e)
	}

	// Defaults are evaluated in priority order and never mutated afterwards.
	sort.SliceStable(e.defaults, func(i, j int) bool {
		return e.defaults[i].Priority < e.defaults[j].Priority
	})

	return e
}

// Evaluate runs a request through sanitization, rule matching and risk
// scoring, and derives the decision from the clamped score and the current
// gateway mode. The returned result always carries the evaluation wall time.
func (e *PolicyEngine) Evaluate(ctx context.Context, req *policy.AgentRequest) (result *policy.EvaluationResult) {
	start := time.Now()

	result = &policy.EvaluationResult{
		RequestID:     req.RequestID,
		Decision:      policy.DecisionAllow,
		RiskLevel:     policy.RiskLow,
		MatchedRules:  []string{},
		DenialReasons: []string{},
		PIIFields:     []string{},
	}

	defer func() {
		result.EvaluationTimeMS = time.Since(start).Seconds() * 1000
		result.Timestamp = time.Now().UTC()
	}()

	// A policy set loaded from the cache is external input; if anything in
	// the pipeline panics the request must still get a verdict, and the only
	// safe one is a block. Partial matches from before the panic are dropped.
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("policy evaluation panicked",
				"request_id", req.RequestID, "panic", r)
			result.Decision = policy.DecisionDeny
			result.RiskScore = 1.0
			result.RiskLevel = policy.RiskCritical
			result.MatchedRules = []string{}
			result.DenialReasons = []string{fmt.Sprintf("Evaluation error: %v", r)}
		}
	}()

	sanitizedParams, paramPII := e.sanitizeTree(req.Parameters)
	sanitizedContext, contextPII := e.sanitizeTree(req.Context)

	result.PIIFields = unionSorted(paramPII, contextPII)
	result.PIIDetected = len(result.PIIFields) > 0
	result.SanitizedRequest = map[string]any{
		"agent_id":        req.AgentID,
		"action_type":     string(req.ActionType),
		"target_resource": req.TargetResource,
		"parameters":      sanitizedParams,
		"context":         sanitizedContext,
	}

	if result.PIIDetected {
		e.logger.Info("PII detected in request",
			"request_id", req.RequestID, "entity_types", result.PIIFields)
	}

	snap := e.compiledRules(ctx)

	var sum float64
	for _, cr := range snap.rules {
		if !cr.rule.Enabled {
			continue
		}
		if !cr.rule.AppliesTo(req.ActionType) {
			continue
		}

		violated, reason := cr.conds.Evaluate(req, sanitizedParams, cr.rule.Name)
		if !violated {
			continue
		}

		result.MatchedRules = append(result.MatchedRules, cr.rule.RuleID)
		result.DenialReasons = append(result.DenialReasons, reason)
		sum += cr.rule.RiskScoreModifier
	}

	result.RiskScore = policy.ClampScore(sum)
	result.RiskLevel = policy.RiskLevelForScore(result.RiskScore)
	result.Decision = e.decide(result.RiskScore)

	return result
}

// ActiveRules returns the rules the engine would evaluate right now, in
// priority order, and whether they came from the built-in defaults because
// the cache was empty or unreachable.
func (e *PolicyEngine) ActiveRules(ctx context.Context) ([]policy.Rule, bool) {
	rules, err := e.store.ListActive(ctx)
	if err != nil {
		e.logger.Warn("policy cache unavailable, using default rules", "error", err)
		return e.defaultRulesCopy(), true
	}
	if len(rules) == 0 {
		return e.defaultRulesCopy(), true
	}

	// Tie-break on rule ID so equal priorities order deterministically
	// regardless of store iteration order.
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority < rules[j].Priority
		}
		return rules[i].RuleID < rules[j].RuleID
	})
	return rules, false
}

// decide maps a clamped risk score to a decision. The block threshold is
// mode-aware: in shadow mode a would-be deny is recorded as shadow_logged.
func (e *PolicyEngine) decide(score float64) policy.DecisionType {
	if score >= e.blockThreshold {
		if e.modes.Mode() == gateway.ModeShadow {
			return policy.DecisionShadowLogged
		}
		return policy.DecisionDeny
	}
	if score >= e.approvalThreshold {
		return policy.DecisionPendingApproval
	}
	return policy.DecisionAllow
}

// sanitizeTree masks string leaves and normalizes a nil tree to an empty
// map so sanitized requests always serialize as objects.
func (e *PolicyEngine) sanitizeTree(tree map[string]any) (map[string]any, []string) {
	if tree == nil {
		return map[string]any{}, nil
	}
	scanned, types := e.scanner.ScanTree(tree)
	out, ok := scanned.(map[string]any)
	if !ok {
		return map[string]any{}, types
	}
	return out, types
}

// compiledRules returns the compiled snapshot for the current active set,
// recompiling only when the set's fingerprint changed.
func (e *PolicyEngine) compiledRules(ctx context.Context) *ruleSnapshot {
	rules, _ := e.ActiveRules(ctx)
	fp := fingerprintRules(rules)

	if snap, ok := e.snapshot.Load().(*ruleSnapshot); ok && snap.fingerprint == fp {
		return snap
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Another evaluation may have compiled the same set while we waited.
	if snap, ok := e.snapshot.Load().(*ruleSnapshot); ok && snap.fingerprint == fp {
		return snap
	}

	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		compiled = append(compiled, compiledRule{
			rule:  r,
			conds: policy.CompileConditions(r.Conditions, e.compiler),
		})
	}

	snap := &ruleSnapshot{fingerprint: fp, rules: compiled}
	e.snapshot.Store(snap)

	e.logger.Debug("compiled policy snapshot",
		"rules", len(compiled), "fingerprint", fp)

	return snap
}

// defaultRulesCopy returns a fresh copy of the fallback set so callers can
// never mutate the engine's own slice.
func (e *PolicyEngine) defaultRulesCopy() []policy.Rule {
	out := make([]policy.Rule, len(e.defaults))
	copy(out, e.defaults)
	return out
}

// fingerprintRules hashes everything about a rule set that affects
// evaluation. Conditions hash via JSON, which sorts map keys.
func fingerprintRules(rules []policy.Rule) uint64 {
	h := xxhash.New()
	for _, r := range rules {
		_, _ = h.WriteString(r.RuleID)
		_, _ = h.Write([]byte{0})
		_, _ = h.WriteString(r.Name)
		_, _ = h.Write([]byte{0})
		for _, at := range r.ActionTypes {
			_, _ = h.WriteString(string(at))
			_, _ = h.Write([]byte{1})
		}
		_, _ = h.WriteString(strconv.FormatFloat(r.RiskScoreModifier, 'g', -1, 64))
		_, _ = h.WriteString(strconv.Itoa(r.Priority))
		_, _ = h.WriteString(strconv.FormatBool(r.Enabled))
		_, _ = h.WriteString(r.UpdatedAt.UTC().Format(time.RFC3339Nano))
		if data, err := json.Marshal(r.Conditions); err == nil {
			_, _ = h.Write(data)
		}
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}

// unionSorted merges two sorted distinct entity type lists into one.
func unionSorted(a, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		return []string{}
	}
	seen := make(map[string]struct{}, len(a)+len(b))
	for _, s := range a {
		seen[s] = struct{}{}
	}
	for _, s := range b {
		seen[s] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// SeedDefaultRules stores the built-in rule set in the cache when it holds
// no active rules, so a fresh deployment evaluates the same policies the
// degraded path would. Idempotent; returns how many rules were stored.
func SeedDefaultRules(ctx context.Context, store policy.Store, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}

	existing, err := store.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("check existing rules: %w", err)
	}
	if len(existing) > 0 {
		logger.Debug("policy cache already populated, skipping seed",
			"rules", len(existing))
		return 0, nil
	}

	rules := policy.DefaultRules()
	stored := 0
	for i := range rules {
		if err := store.Store(ctx, &rules[i]); err != nil {
			return stored, fmt.Errorf("seed rule %s: %w", rules[i].RuleID, err)
		}
		stored++
	}

	logger.Info("seeded default policy rules", "rules", stored)
	return stored, nil
}
