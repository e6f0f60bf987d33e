package http

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/agent-warden/warden/internal/domain/gateway"
	"github.com/agent-warden/warden/internal/domain/policy"
	"github.com/agent-warden/warden/internal/domain/ratelimit"
	"github.com/agent-warden/warden/internal/service"
)

// tracer resolves against the global provider installed at boot; a no-op
// tracer when tracing is disabled.
var tracer = otel.Tracer("warden/gateway")

// evaluateRequest is the JSON body of POST /api/v1/gateway/evaluate.
type evaluateRequest struct {
	RequestID      string         `json:"request_id" validate:"omitempty,uuid4"`
	AgentID        string         `json:"agent_id" validate:"required,min=1,max=128"`
	ActionType     string         `json:"action_type" validate:"required"`
	TargetResource string         `json:"target_resource" validate:"required,min=1,max=512"`
	Parameters     map[string]any `json:"parameters"`
	Context        map[string]any `json:"context"`
	Timestamp      time.Time      `json:"timestamp"`
}

// handleEvaluate handles POST /api/v1/gateway/evaluate
//
// The full decision pipeline for one agent action: validate, authenticate
// identity against the API key in secure mode, rate limit, evaluate against
// policy, apply the gateway mode, record the decision, respond.
func (h *Handler) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil || h.breaker == nil {
		h.respondError(w, http.StatusServiceUnavailable, "evaluation pipeline not configured")
		return
	}

	var req evaluateRequest
	if err := h.readJSON(w, r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	actionType, err := policy.ParseActionType(req.ActionType)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	// In secure mode the API key decides identity: the body's agent_id must
	// belong to the authenticated agent, and the agent must hold permission
	// for the requested action type.
	if agent, ok := AgentFromContext(r.Context()); ok {
		if req.AgentID != agent.ID {
			h.respondError(w, http.StatusForbidden, "agent_id does not match API key")
			return
		}
		if !agent.AllowsAction(string(actionType)) {
			h.respondError(w, http.StatusForbidden, "action not permitted for this agent")
			return
		}
	}

	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	if h.limiter != nil {
		res, err := h.limiter.Allow(r.Context(), req.AgentID)
		if err != nil {
			// Availability wins over strict counting.
			LoggerFromContext(r.Context()).Warn("rate limit check failed", "error", err)
		} else {
			if res.FailedOpen && h.metrics != nil {
				h.metrics.RateLimitStoreFailures.Inc()
			}
			if !res.Allowed {
				if h.metrics != nil {
					h.metrics.RateLimitedRequests.Inc()
				}
				rateLimited(w, res)
				return
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		}
	}

	agentReq := &policy.AgentRequest{
		RequestID:      req.RequestID,
		AgentID:        req.AgentID,
		ActionType:     actionType,
		TargetResource: req.TargetResource,
		Parameters:     req.Parameters,
		Context:        req.Context,
		Timestamp:      req.Timestamp,
	}
	if agentReq.Timestamp.IsZero() {
		agentReq.Timestamp = time.Now().UTC()
	}

	ctx, span := tracer.Start(r.Context(), "gateway.evaluate")
	span.SetAttributes(
		attribute.String("agent.id", agentReq.AgentID),
		attribute.String("action.type", string(agentReq.ActionType)),
	)

	start := time.Now()
	evalCtx, evalSpan := tracer.Start(ctx, "policy.evaluate")
	eval := h.engine.Evaluate(evalCtx, agentReq)
	evalSpan.SetAttributes(
		attribute.Float64("risk.score", eval.RiskScore),
		attribute.String("risk.level", string(eval.RiskLevel)),
	)
	evalSpan.End()
	h.recordEvaluation(eval)

	procCtx, procSpan := tracer.Start(ctx, "breaker.process")
	resp := h.breaker.Process(procCtx, agentReq, eval)
	procSpan.SetAttributes(attribute.String("decision.status", string(resp.Status)))
	procSpan.End()
	h.recordDecision(agentReq, eval, resp)

	span.SetAttributes(
		attribute.Float64("risk.score", eval.RiskScore),
		attribute.String("decision.status", string(resp.Status)),
	)
	span.End()

	if h.recorder != nil {
		h.recorder.Record(r.Context(), agentReq, eval, resp, service.DecisionContext{
			ClientIP:     clientIP(r),
			UserAgent:    r.UserAgent(),
			Mode:         h.breaker.Mode(),
			ProcessingMS: float64(time.Since(start).Microseconds()) / 1000.0,
		})
	}

	h.respondJSON(w, evaluateStatus(resp), resp)
}

// recordEvaluation records the policy evaluation metrics.
func (h *Handler) recordEvaluation(eval *policy.EvaluationResult) {
	if h.metrics == nil {
		return
	}
	h.metrics.PolicyEvaluationTime.Observe(eval.EvaluationTimeMS / 1000.0)
	h.metrics.RiskScore.Observe(eval.RiskScore)
	for _, ruleID := range eval.MatchedRules {
		h.metrics.PolicyMatches.WithLabelValues(ruleID).Inc()
	}
	if eval.PIIDetected {
		h.metrics.RequestsWithPII.Inc()
		for _, entity := range eval.PIIFields {
			h.metrics.PIIDetections.WithLabelValues(entity).Inc()
		}
	}
}

// recordDecision records the decision outcome metrics.
func (h *Handler) recordDecision(req *policy.AgentRequest, eval *policy.EvaluationResult, resp *gateway.Response) {
	if h.metrics == nil {
		return
	}
	h.metrics.RequestsTotal.WithLabelValues(string(req.ActionType), string(resp.Decision)).Inc()
	switch resp.Decision {
	case policy.DecisionDeny:
		var reason string
		if len(eval.DenialReasons) > 0 {
			reason = eval.DenialReasons[0]
		}
		h.metrics.BlockedRequests.WithLabelValues(blockedReasonLabel(reason)).Inc()
	case policy.DecisionShadowLogged:
		h.metrics.ShadowLogged.Inc()
	case policy.DecisionPendingApproval:
		h.metrics.PendingApprovals.Inc()
	}
}

// evaluateStatus maps a gateway response to its HTTP status code.
func evaluateStatus(resp *gateway.Response) int {
	switch resp.Status {
	case gateway.StatusPending:
		return http.StatusAccepted
	case gateway.StatusDenied:
		return http.StatusForbidden
	default:
		return http.StatusOK
	}
}

// rateLimited writes the 429 response with retry headers.
func rateLimited(w http.ResponseWriter, res ratelimit.Result) {
	retryAfter := int(math.Ceil(res.ResetAfter.Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	w.Header().Set("X-RateLimit-Remaining", "0")
	writeJSON(w, http.StatusTooManyRequests, map[string]any{
		"error":       "rate_limit_exceeded",
		"message":     "Too many requests",
		"retry_after": retryAfter,
	})
}
