// Package policy contains the domain model for agent request governance:
// action types, policy rules, risk scoring, and evaluation results.
package policy

import (
	"fmt"
	"time"
)

// ActionType classifies what an agent is trying to do.
// The set is closed; unknown values are rejected at the boundary.
type ActionType string

const (
	// ActionDatabaseQuery is a read-only database operation.
	ActionDatabaseQuery ActionType = "database_query"
	// ActionDatabaseWrite is a mutating database operation.
	ActionDatabaseWrite ActionType = "database_write"
	// ActionAPICall is an outbound call to a third-party API.
	ActionAPICall ActionType = "api_call"
	// ActionFileAccess is a filesystem read or write.
	ActionFileAccess ActionType = "file_access"
	// ActionPayment is an outgoing payment.
	ActionPayment ActionType = "payment"
	// ActionRefund is a refund of a prior payment.
	ActionRefund ActionType = "refund"
	// ActionUserDataAccess is access to end-user personal data.
	ActionUserDataAccess ActionType = "user_data_access"
	// ActionAdminAction is a privileged administrative operation.
	ActionAdminAction ActionType = "admin_action"
)

// actionTypes is the closed set used for parsing and validation.
var actionTypes = map[ActionType]bool{
	ActionDatabaseQuery:  true,
	ActionDatabaseWrite:  true,
	ActionAPICall:        true,
	ActionFileAccess:     true,
	ActionPayment:        true,
	ActionRefund:         true,
	ActionUserDataAccess: true,
	ActionAdminAction:    true,
}

// ParseActionType validates s against the closed action type set.
func ParseActionType(s string) (ActionType, error) {
	at := ActionType(s)
	if !actionTypes[at] {
		return "", fmt.Errorf("%w: %q", ErrUnknownActionType, s)
	}
	return at, nil
}

// Valid reports whether the action type is a member of the closed set.
func (a ActionType) Valid() bool {
	return actionTypes[a]
}

// RiskLevel buckets a risk score for human consumption.
// Ordering: low < medium < high < critical.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// riskLevelRank orders risk levels for comparisons in tests and metrics.
var riskLevelRank = map[RiskLevel]int{
	RiskLow:      0,
	RiskMedium:   1,
	RiskHigh:     2,
	RiskCritical: 3,
}

// Rank returns the ordinal position of the level (low=0 .. critical=3).
// Unknown levels rank below low.
func (r RiskLevel) Rank() int {
	if rank, ok := riskLevelRank[r]; ok {
		return rank
	}
	return -1
}

// RiskLevelForScore maps a risk score to its level.
// Thresholds: critical >= 0.8, high >= 0.5, medium >= 0.2, else low.
func RiskLevelForScore(score float64) RiskLevel {
	switch {
	case score >= 0.8:
		return RiskCritical
	case score >= 0.5:
		return RiskHigh
	case score >= 0.2:
		return RiskMedium
	default:
		return RiskLow
	}
}

// DecisionType is the outcome of a policy evaluation.
type DecisionType string

const (
	// DecisionAllow admits the action.
	DecisionAllow DecisionType = "allow"
	// DecisionDeny blocks the action.
	DecisionDeny DecisionType = "deny"
	// DecisionPendingApproval suspends the action until a human decides.
	DecisionPendingApproval DecisionType = "pending_approval"
	// DecisionShadowLogged records a would-be block without blocking (shadow mode).
	DecisionShadowLogged DecisionType = "shadow_logged"
)

// AgentRequest is a single action an agent wants authorized.
// Instances are immutable after construction; evaluation works on copies.
type AgentRequest struct {
	// RequestID is a unique identifier for this request (UUID string).
	RequestID string `json:"request_id"`
	// AgentID identifies the calling agent (1-128 chars).
	AgentID string `json:"agent_id"`
	// ActionType classifies the requested action.
	ActionType ActionType `json:"action_type"`
	// TargetResource names what the action touches (1-512 chars),
	// e.g. a table name, URL, or file path.
	TargetResource string `json:"target_resource"`
	// Parameters are free-form action arguments (string keys, arbitrary values).
	Parameters map[string]any `json:"parameters"`
	// Context carries caller-supplied metadata such as a justification.
	Context map[string]any `json:"context"`
	// Timestamp is when the request was received (UTC).
	Timestamp time.Time `json:"timestamp"`
}

// Rule is a single governance policy rule.
type Rule struct {
	// RuleID is the unique identifier for this rule.
	RuleID string `json:"rule_id"`
	// Name is a human-readable name, referenced in denial reasons.
	Name string `json:"name"`
	// Description provides additional context about the rule.
	Description string `json:"description,omitempty"`
	// ActionTypes are the action types this rule applies to (non-empty).
	ActionTypes []ActionType `json:"action_types"`
	// Conditions is the raw condition mapping; recognized keys are compiled
	// into typed evaluators at load time, unknown keys are ignored.
	Conditions map[string]any `json:"conditions"`
	// RiskScoreModifier is added to the running risk sum on violation.
	// Range [-1.0, 1.0].
	RiskScoreModifier float64 `json:"risk_score_modifier"`
	// Enabled indicates whether the rule participates in evaluation.
	Enabled bool `json:"enabled"`
	// Priority orders evaluation (0-1000, lower evaluates first).
	Priority int `json:"priority"`
	// CreatedAt is when the rule was created (UTC).
	CreatedAt time.Time `json:"created_at,omitempty"`
	// UpdatedAt is when the rule was last modified (UTC).
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// AppliesTo reports whether the rule covers the given action type.
func (r *Rule) AppliesTo(at ActionType) bool {
	for _, t := range r.ActionTypes {
		if t == at {
			return true
		}
	}
	return false
}

// EvaluationResult is the engine's verdict on a single request.
type EvaluationResult struct {
	// RequestID echoes the evaluated request's id.
	RequestID string `json:"request_id"`
	// Decision is the derived outcome.
	Decision DecisionType `json:"decision"`
	// RiskScore is the clamped sum of matched rule modifiers, in [0, 1].
	RiskScore float64 `json:"risk_score"`
	// RiskLevel is derived from RiskScore via RiskLevelForScore.
	RiskLevel RiskLevel `json:"risk_level"`
	// MatchedRules lists violating rule ids in evaluation order.
	MatchedRules []string `json:"matched_rules"`
	// DenialReasons holds one human-readable reason per violation,
	// parallel to MatchedRules.
	DenialReasons []string `json:"denial_reasons"`
	// SanitizedRequest is a PII-masked copy of the request payload:
	// agent_id, action_type, target_resource, parameters, context.
	SanitizedRequest map[string]any `json:"sanitized_request,omitempty"`
	// PIIDetected is true when the scanner recognized at least one entity.
	PIIDetected bool `json:"pii_detected"`
	// PIIFields lists the distinct detected entity types.
	PIIFields []string `json:"pii_fields"`
	// EvaluationTimeMS is the evaluation wall time in milliseconds.
	EvaluationTimeMS float64 `json:"evaluation_time_ms"`
	// Timestamp is when the evaluation completed (UTC).
	Timestamp time.Time `json:"timestamp"`
}

// ClampScore forces a raw modifier sum into the valid risk score range [0, 1].
func ClampScore(sum float64) float64 {
	if sum < 0 {
		return 0
	}
	if sum > 1 {
		return 1
	}
	return sum
}
