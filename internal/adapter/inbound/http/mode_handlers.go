package http

import (
	"net/http"

	"github.com/agent-warden/warden/internal/domain/gateway"
)

// modeRequest is the JSON body for switching the gateway mode.
type modeRequest struct {
	Mode string `json:"mode" validate:"required"`
}

// handleGetMode handles GET /api/v1/gateway/mode
func (h *Handler) handleGetMode(w http.ResponseWriter, r *http.Request) {
	if h.breaker == nil {
		h.respondError(w, http.StatusServiceUnavailable, "gateway mode not configured")
		return
	}

	mode := h.breaker.Mode()
	h.respondJSON(w, http.StatusOK, map[string]string{
		"mode":        string(mode),
		"description": mode.Description(),
	})
}

// handleSetMode handles PUT /api/v1/gateway/mode
func (h *Handler) handleSetMode(w http.ResponseWriter, r *http.Request) {
	if h.breaker == nil {
		h.respondError(w, http.StatusServiceUnavailable, "gateway mode not configured")
		return
	}

	var req modeRequest
	if err := h.readJSON(w, r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	mode, err := gateway.ParseMode(req.Mode)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	old, err := h.breaker.SetMode(mode)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if h.metrics != nil {
		h.metrics.SetGatewayMode(mode)
	}

	LoggerFromContext(r.Context()).Info("gateway mode changed",
		"old_mode", string(old),
		"new_mode", string(mode),
	)

	h.respondJSON(w, http.StatusOK, map[string]string{
		"status":   "updated",
		"old_mode": string(old),
		"new_mode": string(mode),
	})
}
