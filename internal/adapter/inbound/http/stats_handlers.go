package http

import (
	"net/http"
	"time"

	"github.com/agent-warden/warden/internal/domain/stats"
)

// handleMetricsSummary handles GET /api/v1/metrics/summary
//
// The summary is assembled from the stats store rather than the Prometheus
// registry so it works without a Prometheus server.
func (h *Handler) handleMetricsSummary(w http.ResponseWriter, r *http.Request) {
	if h.stats == nil {
		h.respondError(w, http.StatusServiceUnavailable, "stats store not configured")
		return
	}

	ctx := r.Context()
	summary := stats.Summary{
		UptimeSeconds: time.Since(h.started).Seconds(),
	}

	counters := []struct {
		name string
		dst  *int64
	}{
		{stats.MetricTotalRequests, &summary.TotalRequests},
		{stats.MetricBlockedRequests, &summary.BlockedRequests},
		{stats.MetricApprovedRequests, &summary.ApprovedRequests},
		{stats.MetricPendingApprovals, &summary.PendingApprovals},
		{stats.MetricShadowLogged, &summary.ShadowLogged},
		{stats.MetricPIIDetections, &summary.PIIDetections},
	}
	for _, c := range counters {
		v, err := h.stats.Get(ctx, c.name)
		if err != nil {
			LoggerFromContext(ctx).Error("failed to read stats counter", "counter", c.name, "error", err)
			h.respondError(w, http.StatusInternalServerError, "failed to read stats")
			return
		}
		*c.dst = v
	}

	pct, err := h.stats.LatencyPercentiles(ctx)
	if err != nil {
		LoggerFromContext(ctx).Error("failed to compute latency percentiles", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to read stats")
		return
	}
	summary.AvgLatencyMS = pct.Avg
	summary.P95LatencyMS = pct.P95
	summary.P99LatencyMS = pct.P99

	if h.engine != nil {
		rules, _ := h.engine.ActiveRules(ctx)
		summary.ActivePolicies = len(rules)
	}

	h.respondJSON(w, http.StatusOK, summary)
}

// handleRateLimitInfo handles GET /api/v1/agents/{agent_id}/rate-limit
func (h *Handler) handleRateLimitInfo(w http.ResponseWriter, r *http.Request) {
	if h.limiter == nil {
		h.respondError(w, http.StatusServiceUnavailable, "rate limiter not configured")
		return
	}

	agentID := h.pathParam(r, "agent_id")

	// In secure mode an agent may only inspect its own window.
	if agent, ok := AgentFromContext(r.Context()); ok && agent.ID != agentID {
		h.respondError(w, http.StatusForbidden, "agent_id does not match API key")
		return
	}

	res, err := h.limiter.Status(r.Context(), agentID)
	if err != nil {
		LoggerFromContext(r.Context()).Error("failed to read rate limit status", "agent_id", agentID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to read rate limit status")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]any{
		"agent_id":         agentID,
		"current_requests": res.Current,
		"limit":            res.Limit,
		"remaining":        res.Remaining,
		"reset_in_seconds": int(res.ResetAfter.Seconds()),
		"window_seconds":   int(h.limits.Window.Seconds()),
	})
}
