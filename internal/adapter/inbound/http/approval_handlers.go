package http

import (
	"errors"
	"net/http"

	"github.com/agent-warden/warden/internal/domain/approval"
)

// approvalDecisionRequest is the JSON body for deciding a pending approval.
// Approved is a pointer so an explicit false is distinguishable from a
// missing field.
type approvalDecisionRequest struct {
	Approved   *bool  `json:"approved" validate:"required"`
	ApproverID string `json:"approver_id" validate:"omitempty,max=128"`
	Reason     string `json:"reason" validate:"max=1024"`
}

// handleGetApproval handles GET /api/v1/approvals/{approval_id}
func (h *Handler) handleGetApproval(w http.ResponseWriter, r *http.Request) {
	if h.breaker == nil {
		h.respondError(w, http.StatusServiceUnavailable, "approval processing not configured")
		return
	}

	approvalID := h.pathParam(r, "approval_id")
	req, err := h.breaker.ApprovalStatus(r.Context(), approvalID)
	if err != nil {
		if errors.Is(err, approval.ErrNotFound) {
			h.respondError(w, http.StatusNotFound, "approval not found or expired")
			return
		}
		LoggerFromContext(r.Context()).Error("failed to load approval", "approval_id", approvalID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to load approval")
		return
	}

	h.respondJSON(w, http.StatusOK, req)
}

// handleApprovalDecision handles POST /api/v1/approvals/{approval_id}/decision
func (h *Handler) handleApprovalDecision(w http.ResponseWriter, r *http.Request) {
	if h.breaker == nil {
		h.respondError(w, http.StatusServiceUnavailable, "approval processing not configured")
		return
	}

	var req approvalDecisionRequest
	if err := h.readJSON(w, r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	approvalID := h.pathParam(r, "approval_id")
	decision, err := h.breaker.ProcessDecision(r.Context(), approvalID, *req.Approved, req.ApproverID, req.Reason)
	if err != nil {
		if errors.Is(err, approval.ErrNotFound) {
			h.respondError(w, http.StatusNotFound, "approval not found or expired")
			return
		}
		LoggerFromContext(r.Context()).Error("failed to process approval decision", "approval_id", approvalID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to process approval decision")
		return
	}

	if h.metrics != nil {
		h.metrics.PendingApprovals.Dec()
	}

	h.respondJSON(w, http.StatusOK, decision)
}
