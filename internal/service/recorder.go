package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/agent-warden/warden/internal/domain/audit"
	"github.com/agent-warden/warden/internal/domain/gateway"
	"github.com/agent-warden/warden/internal/domain/policy"
	"github.com/agent-warden/warden/internal/domain/stats"
)

// DecisionContext carries the transport-level details of a decided request
// that the evaluation pipeline itself does not know.
type DecisionContext struct {
	ClientIP     string
	UserAgent    string
	Mode         gateway.Mode
	ProcessingMS float64
}

// DecisionRecorder turns each decided request into exactly one audit record
// and a set of counter updates. Everything here is best effort: bookkeeping
// failures are logged and never surface to the request path.
type DecisionRecorder struct {
	audits *AuditService
	stats  stats.Store
	logger *slog.Logger
}

// NewDecisionRecorder creates a recorder writing to the async audit service
// and the stats store. A nil logger falls back to slog.Default().
func NewDecisionRecorder(audits *AuditService, statsStore stats.Store, logger *slog.Logger) *DecisionRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &DecisionRecorder{
		audits: audits,
		stats:  statsStore,
		logger: logger,
	}
}

// Record books one decided request: an audit record keyed by the final
// decision (after the gateway mode was applied) plus the decision counters
// and a latency sample.
func (r *DecisionRecorder) Record(ctx context.Context, req *policy.AgentRequest, eval *policy.EvaluationResult, resp *gateway.Response, dc DecisionContext) {
	rec := audit.Record{
		LogID:            uuid.NewString(),
		RequestID:        req.RequestID,
		AgentID:          req.AgentID,
		ActionType:       req.ActionType,
		TargetResource:   req.TargetResource,
		Decision:         resp.Decision,
		RiskScore:        eval.RiskScore,
		RiskLevel:        eval.RiskLevel,
		MatchedRules:     eval.MatchedRules,
		PIIDetected:      eval.PIIDetected,
		PIIFields:        eval.PIIFields,
		GatewayMode:      string(dc.Mode),
		SanitizedRequest: eval.SanitizedRequest,
		ResponseStatus:   resp.Status,
		ProcessingTimeMS: dc.ProcessingMS,
		ClientIP:         dc.ClientIP,
		UserAgent:        dc.UserAgent,
		Timestamp:        time.Now().UTC(),
	}
	r.audits.Record(rec)

	r.bump(ctx, stats.MetricTotalRequests)
	switch resp.Decision {
	case policy.DecisionAllow:
		r.bump(ctx, stats.MetricApprovedRequests)
	case policy.DecisionDeny:
		r.bump(ctx, stats.MetricBlockedRequests)
	case policy.DecisionPendingApproval:
		r.bump(ctx, stats.MetricPendingApprovals)
	case policy.DecisionShadowLogged:
		r.bump(ctx, stats.MetricShadowLogged)
	}
	if eval.PIIDetected {
		r.bump(ctx, stats.MetricPIIDetections)
	}

	if err := r.stats.RecordLatency(ctx, dc.ProcessingMS); err != nil {
		r.logger.Debug("latency sample failed", "error", err)
	}
}

func (r *DecisionRecorder) bump(ctx context.Context, name string) {
	if err := r.stats.Increment(ctx, name, 1); err != nil {
		r.logger.Debug("stats increment failed", "counter", name, "error", err)
	}
}
