// Package warden provides a Go SDK for the Warden governance gateway.
//
// Warden is a zero-trust policy layer for AI agent actions. This SDK lets Go
// programs submit an action for evaluation before executing it: the gateway
// scores the action against its policy set and answers allow, deny, or
// pending human approval. The SDK uses only the Go standard library
// (net/http) with zero external dependencies.
//
// Quick start:
//
//	// Set WARDEN_SERVER_ADDR and WARDEN_API_KEY env vars, then:
//	client := warden.NewClient(warden.WithAgentID("agent-7"))
//
//	resp, err := client.Evaluate(ctx, warden.EvaluateRequest{
//	    ActionType:     "payment",
//	    TargetResource: "stripe_api",
//	    Parameters:     map[string]any{"amount": 420.0},
//	})
//	if err != nil {
//	    var denied *warden.PolicyDeniedError
//	    if errors.As(err, &denied) {
//	        fmt.Printf("Denied (%s risk): %s\n", denied.RiskLevel, denied.Message)
//	    }
//	}
package warden

// Status represents the gateway's answer for an evaluated action.
type Status string

const (
	// StatusSuccess indicates the action may proceed (allowed, or logged in
	// shadow mode).
	StatusSuccess Status = "success"

	// StatusPending indicates the action is held for human approval.
	StatusPending Status = "pending"

	// StatusDenied indicates the action was blocked by policy.
	StatusDenied Status = "denied"
)

// Decision is the raw policy decision before and after gateway-mode coercion.
type Decision string

const (
	// DecisionAllow indicates the action passed policy evaluation.
	DecisionAllow Decision = "allow"

	// DecisionDeny indicates the action was denied by policy.
	DecisionDeny Decision = "deny"

	// DecisionPendingApproval indicates the action needs human approval.
	DecisionPendingApproval Decision = "pending_approval"

	// DecisionShadowLogged indicates the gateway runs in shadow mode: the
	// action proceeds, and the decision it would have received is logged.
	DecisionShadowLogged Decision = "shadow_logged"
)

// EvaluateRequest represents an agent action submitted for evaluation.
// Fields map to the gateway evaluate schema on the server side.
type EvaluateRequest struct {
	// RequestID optionally correlates the evaluation with a caller-side id.
	// When empty the server generates one.
	RequestID string `json:"request_id,omitempty"`

	// AgentID identifies the agent performing the action.
	AgentID string `json:"agent_id"`

	// ActionType is the category of the action (e.g., "payment",
	// "database_write", "api_call", "file_access").
	ActionType string `json:"action_type"`

	// TargetResource is the system or resource the action is aimed at
	// (e.g., "stripe_api", "users_table").
	TargetResource string `json:"target_resource"`

	// Parameters contains action-specific arguments as key-value pairs.
	// Values are PII-scrubbed server-side before they reach the audit trail.
	Parameters map[string]any `json:"parameters,omitempty"`

	// Context contains free-form metadata about the action.
	Context map[string]any `json:"context,omitempty"`
}

// EvaluateResponse represents the gateway's verdict for an evaluated action.
type EvaluateResponse struct {
	// RequestID is the unique identifier for this evaluation.
	RequestID string `json:"request_id"`

	// Status is the outcome: "success", "pending", or "denied".
	Status Status `json:"status"`

	// Decision is the underlying policy decision after the gateway mode was
	// applied: "allow", "deny", "pending_approval", or "shadow_logged".
	Decision Decision `json:"decision"`

	// Message is a human-readable explanation of the outcome.
	Message string `json:"message"`

	// RiskLevel is the evaluated risk band: "low", "medium", "high", or
	// "critical".
	RiskLevel string `json:"risk_level"`

	// ApprovalRequired reports whether the action is held for a human.
	ApprovalRequired bool `json:"approval_required"`

	// ApprovalID identifies the pending approval record, when one exists.
	ApprovalID *string `json:"approval_id,omitempty"`

	// Forwarded reports whether the action may proceed to the downstream
	// system.
	Forwarded bool `json:"forwarded"`

	// Timestamp is the server-side evaluation time, RFC 3339.
	Timestamp string `json:"timestamp"`
}

// ApprovalStatus represents a pending approval record returned by the
// approval polling endpoint. Once a reviewer decides (or the record expires)
// the endpoint answers 404 and the record is no longer observable.
type ApprovalStatus struct {
	// ApprovalID identifies the approval record.
	ApprovalID string `json:"approval_id"`

	// RequestID is the evaluation that raised the approval.
	RequestID string `json:"request_id"`

	// AgentID of the agent whose action is held.
	AgentID string `json:"agent_id"`

	// ActionType of the held action.
	ActionType string `json:"action_type"`

	// TargetResource of the held action.
	TargetResource string `json:"target_resource"`

	// RiskScore is the evaluated cumulative risk score.
	RiskScore float64 `json:"risk_score"`

	// RiskLevel derived from the score.
	RiskLevel string `json:"risk_level"`

	// MatchedRules lists the policy rules that matched.
	MatchedRules []string `json:"matched_rules"`

	// RequestedAt is when the approval was raised, RFC 3339.
	RequestedAt string `json:"requested_at"`

	// ExpiresAt is when the record lapses unanswered, RFC 3339.
	ExpiresAt string `json:"expires_at"`
}
