package gateway

import (
	"time"

	"github.com/agent-warden/warden/internal/domain/policy"
)

// Response status values reported to the calling agent.
const (
	// StatusSuccess means the action may proceed (allowed, or shadow-logged).
	StatusSuccess = "success"

	// StatusPending means the action is held for human approval.
	StatusPending = "pending"

	// StatusDenied means the action was blocked.
	StatusDenied = "denied"
)

// Response is the envelope returned to an agent after its action has been
// evaluated and the gateway mode applied. Forwarded tells the caller whether
// the action may proceed to the downstream system; the gateway itself never
// proxies the action.
type Response struct {
	RequestID        string              `json:"request_id"`
	Status           string              `json:"status"`
	Decision         policy.DecisionType `json:"decision"`
	Message          string              `json:"message"`
	RiskLevel        policy.RiskLevel    `json:"risk_level"`
	ApprovalRequired bool                `json:"approval_required"`
	ApprovalID       *string             `json:"approval_id,omitempty"`
	Forwarded        bool                `json:"forwarded"`
	Timestamp        time.Time           `json:"timestamp"`
}
