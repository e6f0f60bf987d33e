package http

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/agent-warden/warden/internal/domain/audit"
)

// handleAuditLogs handles GET /api/v1/audit/logs
//
// Filters: agent_id, action_type, decision, risk_level, limit, offset.
// Out-of-range limit and offset values are clamped, not rejected.
func (h *Handler) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	if h.audits == nil {
		h.respondError(w, http.StatusServiceUnavailable, "audit queries not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		AgentID:    q.Get("agent_id"),
		ActionType: q.Get("action_type"),
		Decision:   q.Get("decision"),
		RiskLevel:  q.Get("risk_level"),
	}

	var err error
	if filter.Limit, err = intParam(q, "limit"); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if filter.Offset, err = intParam(q, "offset"); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter = filter.Normalize()

	logs, err := h.audits.Query(r.Context(), filter)
	if err != nil {
		LoggerFromContext(r.Context()).Error("failed to query audit logs", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to query audit logs")
		return
	}
	if logs == nil {
		logs = []audit.Record{}
	}

	h.respondJSON(w, http.StatusOK, map[string]any{
		"logs":   logs,
		"count":  len(logs),
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// handleAuditStats handles GET /api/v1/audit/stats
func (h *Handler) handleAuditStats(w http.ResponseWriter, r *http.Request) {
	if h.audits == nil {
		h.respondError(w, http.StatusServiceUnavailable, "audit queries not configured")
		return
	}

	stats, err := h.audits.Stats(r.Context())
	if err != nil {
		LoggerFromContext(r.Context()).Error("failed to compute audit stats", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to compute audit stats")
		return
	}

	h.respondJSON(w, http.StatusOK, stats)
}

// intParam parses an optional integer query parameter.
func intParam(q url.Values, name string) (int, error) {
	s := q.Get(name)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return n, nil
}
