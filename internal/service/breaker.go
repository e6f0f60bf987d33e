package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agent-warden/warden/internal/domain/approval"
	"github.com/agent-warden/warden/internal/domain/gateway"
	"github.com/agent-warden/warden/internal/domain/policy"
)

// CircuitBreaker turns a policy verdict into the gateway's outward response:
// forward, hold for human approval, or refuse. It is the one place where the
// shadow/enforce mode decides whether a verdict actually bites.
type CircuitBreaker struct {
	modes       *gateway.ModeController
	store       approval.Store
	notifier    approval.Notifier
	logger      *slog.Logger
	approvalTTL time.Duration
}

// BreakerOption configures CircuitBreaker.
type BreakerOption func(*CircuitBreaker)

// WithNotifier delivers newly created approval requests to reviewers, e.g.
// over a webhook. Delivery is best effort; the request stays decidable
// through the API either way.
func WithNotifier(n approval.Notifier) BreakerOption {
	return func(b *CircuitBreaker) {
		b.notifier = n
	}
}

// WithApprovalTTL overrides how long approval requests stay decidable.
func WithApprovalTTL(ttl time.Duration) BreakerOption {
	return func(b *CircuitBreaker) {
		if ttl > 0 {
			b.approvalTTL = ttl
		}
	}
}

// NewCircuitBreaker creates a breaker. A nil store disables the approval
// flow: held requests are reported without an approval ID. A nil logger
// falls back to slog.Default().
func NewCircuitBreaker(modes *gateway.ModeController, store approval.Store, logger *slog.Logger, opts ...BreakerOption) *CircuitBreaker {
	if logger == nil {
		logger = slog.Default()
	}

	b := &CircuitBreaker{
		modes:       modes,
		store:       store,
		logger:      logger,
		approvalTTL: approval.DefaultTTL,
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Process applies the current gateway mode to an evaluation result and
// builds the response the agent gets back. The mode is read once so a
// concurrent mode flip cannot split one request across both behaviors.
func (b *CircuitBreaker) Process(ctx context.Context, req *policy.AgentRequest, eval *policy.EvaluationResult) *gateway.Response {
	mode := b.modes.Mode()

	resp := &gateway.Response{
		RequestID: req.RequestID,
		Decision:  eval.Decision,
		RiskLevel: eval.RiskLevel,
		Timestamp: time.Now().UTC(),
	}

	switch eval.Decision {
	case policy.DecisionAllow:
		resp.Status = gateway.StatusSuccess
		resp.Message = "Request approved"
		resp.Forwarded = true

	case policy.DecisionShadowLogged:
		resp.Status = gateway.StatusSuccess
		resp.Message = "Request approved (shadow mode - would be blocked in enforce mode)"
		resp.Forwarded = true
		b.warnShadow(req, eval, "request would be blocked in enforce mode")

	case policy.DecisionPendingApproval:
		if mode == gateway.ModeShadow {
			resp.Decision = policy.DecisionShadowLogged
			resp.Status = gateway.StatusSuccess
			resp.Message = "Request approved (shadow mode - would require approval in enforce mode)"
			resp.Forwarded = true
			b.warnShadow(req, eval, "request would require approval in enforce mode")
			break
		}

		resp.Status = gateway.StatusPending
		resp.ApprovalRequired = true
		resp.Forwarded = false
		if apReq := b.requestApproval(ctx, req, eval); apReq != nil {
			id := apReq.ApprovalID
			resp.ApprovalID = &id
			resp.Message = "Request requires human approval. Approval ID: " + id
		} else {
			resp.Message = "Request requires human approval"
		}

	case policy.DecisionDeny:
		if mode == gateway.ModeShadow {
			resp.Decision = policy.DecisionShadowLogged
			resp.Status = gateway.StatusSuccess
			resp.Message = "Request approved (shadow mode - would be denied in enforce mode). Reasons: " +
				strings.Join(eval.DenialReasons, "; ")
			resp.Forwarded = true
			b.warnShadow(req, eval, "request would be denied in enforce mode")
			break
		}

		resp.Status = gateway.StatusDenied
		resp.Message = "Request denied: " + strings.Join(eval.DenialReasons, "; ")
		resp.Forwarded = false

	default:
		// An unrecognized decision fails closed.
		resp.Status = gateway.StatusDenied
		resp.Message = "Request denied: unrecognized decision " + string(eval.Decision)
		resp.Forwarded = false
		b.logger.Error("unrecognized policy decision",
			"request_id", req.RequestID, "decision", eval.Decision)
	}

	return resp
}

// ProcessDecision applies a reviewer's verdict to a pending approval. The
// request is consumed atomically, so concurrent reviewers cannot both win;
// the losers get approval.ErrNotFound.
func (b *CircuitBreaker) ProcessDecision(ctx context.Context, approvalID string, approved bool, approverID, reason string) (*approval.Decision, error) {
	if b.store == nil {
		return nil, approval.ErrNotFound
	}

	req, err := b.store.Take(ctx, approvalID)
	if err != nil {
		return nil, err
	}

	status := approval.StatusApproved
	if !approved {
		status = approval.StatusDenied
	}

	dec := &approval.Decision{
		ApprovalID: approvalID,
		Status:     status,
		ApproverID: approverID,
		Reason:     reason,
		ApprovedAt: time.Now().UTC(),
	}

	b.logger.Info("approval decision processed",
		"approval_id", approvalID,
		"request_id", req.RequestID,
		"agent_id", req.AgentID,
		"status", status,
		"approver_id", approverID)

	return dec, nil
}

// ApprovalStatus returns a pending approval without consuming it.
func (b *CircuitBreaker) ApprovalStatus(ctx context.Context, approvalID string) (*approval.Request, error) {
	if b.store == nil {
		return nil, approval.ErrNotFound
	}
	return b.store.Get(ctx, approvalID)
}

// Mode returns the gateway mode the breaker currently applies.
func (b *CircuitBreaker) Mode() gateway.Mode {
	return b.modes.Mode()
}

// SetMode switches the gateway mode and returns the previous one.
func (b *CircuitBreaker) SetMode(m gateway.Mode) (gateway.Mode, error) {
	old, err := b.modes.Set(m)
	if err != nil {
		return old, err
	}
	if old != m {
		b.logger.Info("gateway mode changed", "old_mode", old, "new_mode", m)
	}
	return old, nil
}

// requestApproval persists a new approval request and notifies reviewers.
// Only the sanitized views of parameters and context go into the record, so
// nothing PII-bearing leaves the gateway through the approval channel.
// Storage and notification failures are logged but do not fail the request.
func (b *CircuitBreaker) requestApproval(ctx context.Context, req *policy.AgentRequest, eval *policy.EvaluationResult) *approval.Request {
	if b.store == nil {
		b.logger.Warn("approval store not configured, request held without approval record",
			"request_id", req.RequestID)
		return nil
	}

	params, _ := eval.SanitizedRequest["parameters"].(map[string]any)
	reqContext, _ := eval.SanitizedRequest["context"].(map[string]any)

	now := time.Now().UTC()
	apReq := &approval.Request{
		ApprovalID:          uuid.NewString(),
		RequestID:           req.RequestID,
		AgentID:             req.AgentID,
		ActionType:          string(req.ActionType),
		TargetResource:      req.TargetResource,
		RiskScore:           eval.RiskScore,
		RiskLevel:           eval.RiskLevel,
		MatchedRules:        append([]string(nil), eval.MatchedRules...),
		SanitizedParameters: params,
		Context:             reqContext,
		RequestedAt:         now,
		ExpiresAt:           now.Add(b.approvalTTL),
	}

	if err := b.store.Put(ctx, apReq); err != nil {
		b.logger.Error("persist approval request",
			"approval_id", apReq.ApprovalID, "request_id", req.RequestID, "error", err)
	}

	if b.notifier != nil {
		if err := b.notifier.Notify(ctx, apReq); err != nil {
			b.logger.Warn("approval notification failed",
				"approval_id", apReq.ApprovalID, "error", err)
		}
	}

	b.logger.Info("approval requested",
		"approval_id", apReq.ApprovalID,
		"request_id", req.RequestID,
		"agent_id", req.AgentID,
		"risk_score", eval.RiskScore,
		"expires_at", apReq.ExpiresAt)

	return apReq
}

func (b *CircuitBreaker) warnShadow(req *policy.AgentRequest, eval *policy.EvaluationResult, what string) {
	b.logger.Warn("shadow mode: "+what,
		"request_id", req.RequestID,
		"agent_id", req.AgentID,
		"action_type", req.ActionType,
		"risk_score", eval.RiskScore,
		"matched_rules", eval.MatchedRules)
}
