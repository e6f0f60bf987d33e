package http

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/agent-warden/warden/internal/domain/gateway"
	"github.com/agent-warden/warden/internal/service"
)

// HealthResponse is the JSON response from the /health endpoint.
type HealthResponse struct {
	Status         string            `json:"status"` // "healthy" or "degraded"
	Version        string            `json:"version"`
	GatewayMode    string            `json:"gateway_mode"`
	RedisConnected bool              `json:"redis_connected"`
	AuditConnected bool              `json:"audit_connected"`
	UptimeSeconds  float64           `json:"uptime_seconds"`
	Checks         map[string]string `json:"checks,omitempty"`
}

// HealthChecker verifies component health. Pass nil for components that
// aren't configured; they are reported but never count against health.
type HealthChecker struct {
	modes     *gateway.ModeController
	redisPing func(ctx context.Context) bool
	auditPing func(ctx context.Context) error
	audits    *service.AuditService
	metrics   *Metrics
	version   string
	started   time.Time
}

// NewHealthChecker creates a HealthChecker with optional components.
// redisPing is nil when the gateway runs without Redis; auditPing is nil
// when the audit store has no connectivity probe (memory, file).
func NewHealthChecker(
	modes *gateway.ModeController,
	redisPing func(ctx context.Context) bool,
	auditPing func(ctx context.Context) error,
	audits *service.AuditService,
	metrics *Metrics,
	version string,
) *HealthChecker {
	return &HealthChecker{
		modes:     modes,
		redisPing: redisPing,
		auditPing: auditPing,
		audits:    audits,
		metrics:   metrics,
		version:   version,
		started:   time.Now().UTC(),
	}
}

// Register mounts the health probes on the mux.
func (h *HealthChecker) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /health/ready", h.handleReady)
	mux.HandleFunc("GET /health/live", h.handleLive)
}

// Check performs health checks on all components and refreshes the
// connectivity and mode gauges.
func (h *HealthChecker) Check(ctx context.Context) HealthResponse {
	checks := make(map[string]string)
	degraded := false

	redisConnected := false
	if h.redisPing != nil {
		redisConnected = h.redisPing(ctx)
		if redisConnected {
			checks["redis"] = "ok"
		} else {
			checks["redis"] = "unreachable"
			degraded = true
		}
	} else {
		checks["redis"] = "not configured"
	}

	auditConnected := true
	if h.auditPing != nil {
		if err := h.auditPing(ctx); err != nil {
			auditConnected = false
			checks["audit_store"] = "unreachable: " + err.Error()
			degraded = true
		} else {
			checks["audit_store"] = "ok"
		}
	}

	// Audit worker channel depth: sustained backpressure means records are
	// about to be dropped.
	if h.audits != nil {
		depth := h.audits.ChannelDepth()
		capacity := h.audits.ChannelCapacity()
		percentFull := 0
		if capacity > 0 {
			percentFull = depth * 100 / capacity
		}

		if percentFull > 90 {
			checks["audit_worker"] = fmt.Sprintf("degraded: %d/%d (%d%%)", depth, capacity, percentFull)
			degraded = true
		} else {
			checks["audit_worker"] = fmt.Sprintf("ok: %d/%d (%d%%)", depth, capacity, percentFull)
		}

		if drops := h.audits.DroppedRecords(); drops > 0 {
			checks["audit_drops"] = fmt.Sprintf("%d dropped", drops)
		}
	}

	checks["goroutines"] = fmt.Sprintf("%d", runtime.NumGoroutine())

	mode := ""
	if h.modes != nil {
		mode = string(h.modes.Mode())
	}

	if h.metrics != nil {
		if redisConnected {
			h.metrics.RedisConnected.Set(1)
		} else {
			h.metrics.RedisConnected.Set(0)
		}
		if h.modes != nil {
			h.metrics.SetGatewayMode(h.modes.Mode())
		}
	}

	status := "healthy"
	if degraded {
		status = "degraded"
	}

	return HealthResponse{
		Status:         status,
		Version:        h.version,
		GatewayMode:    mode,
		RedisConnected: redisConnected,
		AuditConnected: auditConnected,
		UptimeSeconds:  time.Since(h.started).Seconds(),
		Checks:         checks,
	}
}

// depsReady reports whether every configured dependency is reachable.
// Worker backpressure does not affect readiness; the gateway still serves.
func (h *HealthChecker) depsReady(ctx context.Context) bool {
	if h.redisPing != nil && !h.redisPing(ctx) {
		return false
	}
	if h.auditPing != nil && h.auditPing(ctx) != nil {
		return false
	}
	return true
}

// handleHealth handles GET /health
//
// Always 200: the status field distinguishes healthy from degraded so load
// balancers keep routing while operators see the problem.
func (h *HealthChecker) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Check(r.Context()))
}

// handleReady handles GET /health/ready
func (h *HealthChecker) handleReady(w http.ResponseWriter, r *http.Request) {
	if !h.depsReady(r.Context()) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "service not ready - dependencies unavailable",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive handles GET /health/live
func (h *HealthChecker) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}
