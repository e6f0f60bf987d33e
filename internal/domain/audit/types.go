// Package audit contains domain types for the gateway audit trail.
//
// Every evaluated action produces exactly one Record, whatever the decision.
// Records are denormalized: each one carries the full evaluation outcome so a
// single row answers "what happened to this request" without joins. Parameters
// are stored in sanitized form only; raw PII never reaches the trail.
package audit

import (
	"time"

	"github.com/agent-warden/warden/internal/domain/policy"
)

// Record represents a single evaluated agent action.
type Record struct {
	// LogID uniquely identifies this record.
	LogID string `json:"log_id"`
	// RequestID correlates the record with the agent's request.
	RequestID string `json:"request_id"`
	// AgentID of the caller.
	AgentID string `json:"agent_id"`
	// ActionType the agent attempted.
	ActionType policy.ActionType `json:"action_type"`
	// TargetResource the action was aimed at.
	TargetResource string `json:"target_resource"`
	// Decision is the final decision after the gateway mode was applied.
	Decision policy.DecisionType `json:"decision"`
	// RiskScore is the clamped cumulative score.
	RiskScore float64 `json:"risk_score"`
	// RiskLevel derived from the score.
	RiskLevel policy.RiskLevel `json:"risk_level"`
	// MatchedRules lists the IDs of every rule that matched.
	MatchedRules []string `json:"matched_rules"`
	// PIIDetected reports whether any parameter value was masked.
	PIIDetected bool `json:"pii_detected"`
	// PIIFields lists the entity types that were masked.
	PIIFields []string `json:"pii_fields"`
	// GatewayMode active when the decision was made.
	GatewayMode string `json:"gateway_mode"`
	// SanitizedRequest is the request with parameters masked.
	SanitizedRequest map[string]any `json:"sanitized_request"`
	// ResponseStatus returned to the agent (success, pending, denied).
	ResponseStatus string `json:"response_status"`
	// ProcessingTimeMS is the end-to-end gateway processing time.
	ProcessingTimeMS float64 `json:"processing_time_ms"`
	// ClientIP of the caller, when known.
	ClientIP string `json:"client_ip,omitempty"`
	// UserAgent of the caller, when known.
	UserAgent string `json:"user_agent,omitempty"`
	// Timestamp when the record was created.
	Timestamp time.Time `json:"timestamp"`
}
