package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/agent-warden/warden/internal/domain/policy"
)

// policyRequest is the JSON body for creating or replacing a policy rule.
type policyRequest struct {
	RuleID            string         `json:"rule_id" validate:"required,min=1,max=128"`
	Name              string         `json:"name" validate:"required,min=1,max=256"`
	Description       string         `json:"description"`
	ActionTypes       []string       `json:"action_types" validate:"required,min=1"`
	Conditions        map[string]any `json:"conditions"`
	RiskScoreModifier float64        `json:"risk_score_modifier" validate:"gte=-1,lte=1"`
	Enabled           *bool          `json:"enabled"`
	Priority          int            `json:"priority" validate:"gte=0,lte=1000"`
}

// toDomainRule converts the request body to a domain rule.
// Enabled defaults to true when omitted.
func (p *policyRequest) toDomainRule() (policy.Rule, error) {
	actionTypes := make([]policy.ActionType, 0, len(p.ActionTypes))
	for _, s := range p.ActionTypes {
		at, err := policy.ParseActionType(s)
		if err != nil {
			return policy.Rule{}, err
		}
		actionTypes = append(actionTypes, at)
	}

	enabled := true
	if p.Enabled != nil {
		enabled = *p.Enabled
	}

	now := time.Now().UTC()
	return policy.Rule{
		RuleID:            p.RuleID,
		Name:              p.Name,
		Description:       p.Description,
		ActionTypes:       actionTypes,
		Conditions:        p.Conditions,
		RiskScoreModifier: p.RiskScoreModifier,
		Enabled:           enabled,
		Priority:          p.Priority,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// refreshRequest is the JSON body for atomically replacing the rule set.
type refreshRequest struct {
	Rules []policyRequest `json:"rules" validate:"dive"`
}

// handleListPolicies handles GET /api/v1/policies
func (h *Handler) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		h.respondError(w, http.StatusServiceUnavailable, "policy engine not configured")
		return
	}

	rules, fromDefaults := h.engine.ActiveRules(r.Context())
	if h.metrics != nil {
		h.metrics.ActivePolicies.Set(float64(len(rules)))
	}

	h.respondJSON(w, http.StatusOK, map[string]any{
		"policies":      rules,
		"count":         len(rules),
		"from_defaults": fromDefaults,
	})
}

// handleCreatePolicy handles POST /api/v1/policies
func (h *Handler) handleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	if h.policies == nil {
		h.respondError(w, http.StatusServiceUnavailable, "policy store not configured")
		return
	}

	var req policyRequest
	if err := h.readJSON(w, r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	rule, err := req.toDomainRule()
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	err = h.policies.Store(r.Context(), &rule)
	h.recordCacheOp("store", err)
	if err != nil {
		LoggerFromContext(r.Context()).Error("failed to store policy", "rule_id", rule.RuleID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to store policy")
		return
	}

	LoggerFromContext(r.Context()).Info("policy created", "rule_id", rule.RuleID)
	h.respondJSON(w, http.StatusCreated, map[string]string{
		"status":  "created",
		"rule_id": rule.RuleID,
	})
}

// handleGetPolicy handles GET /api/v1/policies/{rule_id}
func (h *Handler) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	if h.policies == nil {
		h.respondError(w, http.StatusServiceUnavailable, "policy store not configured")
		return
	}

	ruleID := h.pathParam(r, "rule_id")
	rule, err := h.policies.Get(r.Context(), ruleID)
	h.recordCacheOp("get", ignoreNotFound(err))
	if err != nil {
		if errors.Is(err, policy.ErrRuleNotFound) {
			h.respondError(w, http.StatusNotFound, "policy not found")
			return
		}
		LoggerFromContext(r.Context()).Error("failed to load policy", "rule_id", ruleID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to load policy")
		return
	}

	h.respondJSON(w, http.StatusOK, rule)
}

// handleDeletePolicy handles DELETE /api/v1/policies/{rule_id}
func (h *Handler) handleDeletePolicy(w http.ResponseWriter, r *http.Request) {
	if h.policies == nil {
		h.respondError(w, http.StatusServiceUnavailable, "policy store not configured")
		return
	}

	ruleID := h.pathParam(r, "rule_id")
	err := h.policies.Delete(r.Context(), ruleID)
	h.recordCacheOp("delete", ignoreNotFound(err))
	if err != nil {
		if errors.Is(err, policy.ErrRuleNotFound) {
			h.respondError(w, http.StatusNotFound, "policy not found")
			return
		}
		LoggerFromContext(r.Context()).Error("failed to delete policy", "rule_id", ruleID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to delete policy")
		return
	}

	LoggerFromContext(r.Context()).Info("policy deleted", "rule_id", ruleID)
	h.respondJSON(w, http.StatusOK, map[string]string{
		"status":  "deleted",
		"rule_id": ruleID,
	})
}

// handleRefreshPolicies handles POST /api/v1/policies/refresh
//
// Replaces the entire active rule set atomically. An empty list clears the
// store, after which evaluation falls back to the built-in default rules.
func (h *Handler) handleRefreshPolicies(w http.ResponseWriter, r *http.Request) {
	if h.policies == nil {
		h.respondError(w, http.StatusServiceUnavailable, "policy store not configured")
		return
	}

	var req refreshRequest
	if err := h.readJSON(w, r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	rules := make([]policy.Rule, 0, len(req.Rules))
	for i := range req.Rules {
		rule, err := req.Rules[i].toDomainRule()
		if err != nil {
			h.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		rules = append(rules, rule)
	}

	count, err := h.policies.Refresh(r.Context(), rules)
	h.recordCacheOp("refresh", err)
	if err != nil {
		LoggerFromContext(r.Context()).Error("failed to refresh policies", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to refresh policies")
		return
	}

	if h.metrics != nil {
		h.metrics.ActivePolicies.Set(float64(count))
	}

	LoggerFromContext(r.Context()).Info("policies refreshed", "count", count)
	h.respondJSON(w, http.StatusOK, map[string]any{
		"status": "refreshed",
		"count":  count,
	})
}

// recordCacheOp records one policy store operation outcome.
func (h *Handler) recordCacheOp(operation string, err error) {
	if h.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	h.metrics.CacheOperations.WithLabelValues(operation, outcome).Inc()
}

// ignoreNotFound filters the not-found sentinel out of store errors: a miss
// is a healthy store operation, not a failure.
func ignoreNotFound(err error) error {
	if errors.Is(err, policy.ErrRuleNotFound) {
		return nil
	}
	return err
}
