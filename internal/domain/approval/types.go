// Package approval defines the human-in-the-loop approval workflow: requests
// held for a reviewer, the decisions reviewers return, and the store and
// notifier ports the workflow depends on.
package approval

import (
	"time"

	"github.com/agent-warden/warden/internal/domain/policy"
)

// DefaultTTL is how long an approval request stays decidable. Requests not
// decided within this window expire and can no longer be approved.
const DefaultTTL = 24 * time.Hour

// Status of an approval request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
	StatusExpired  Status = "expired"
)

// Request is a pending approval held for a human reviewer. It carries the
// sanitized view of the original action: parameters have already been masked,
// so the record is safe to forward to external approval systems.
type Request struct {
	ApprovalID          string           `json:"approval_id"`
	RequestID           string           `json:"request_id"`
	AgentID             string           `json:"agent_id"`
	ActionType          string           `json:"action_type"`
	TargetResource      string           `json:"target_resource"`
	RiskScore           float64          `json:"risk_score"`
	RiskLevel           policy.RiskLevel `json:"risk_level"`
	MatchedRules        []string         `json:"matched_rules"`
	SanitizedParameters map[string]any   `json:"sanitized_parameters"`
	Context             map[string]any   `json:"context"`
	RequestedAt         time.Time        `json:"requested_at"`
	ExpiresAt           time.Time        `json:"expires_at"`
}

// Decision is the outcome a reviewer returned for a pending request.
type Decision struct {
	ApprovalID string    `json:"approval_id"`
	Status     Status    `json:"status"`
	ApproverID string    `json:"approver_id,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	ApprovedAt time.Time `json:"approved_at"`
}
