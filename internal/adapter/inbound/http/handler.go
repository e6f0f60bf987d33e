package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/agent-warden/warden/internal/domain/audit"
	"github.com/agent-warden/warden/internal/domain/policy"
	"github.com/agent-warden/warden/internal/domain/ratelimit"
	"github.com/agent-warden/warden/internal/domain/stats"
	"github.com/agent-warden/warden/internal/service"
)

// ServiceName is reported by the root endpoint.
const ServiceName = "Warden AI Governance Gateway"

// maxRequestBodySize is the maximum allowed request body size (1 MB).
const maxRequestBodySize = 1 << 20

// Handler provides the JSON API endpoints of the gateway.
type Handler struct {
	engine   *service.PolicyEngine
	breaker  *service.CircuitBreaker
	recorder *service.DecisionRecorder
	policies policy.Store
	limiter  ratelimit.Limiter
	limits   ratelimit.Config
	audits   audit.QueryStore
	stats    stats.Store
	metrics  *Metrics
	validate *validator.Validate
	logger   *slog.Logger
	version  string
	started  time.Time
}

// Option configures a Handler dependency.
type Option func(*Handler)

// WithEngine sets the policy evaluation engine.
func WithEngine(e *service.PolicyEngine) Option {
	return func(h *Handler) { h.engine = e }
}

// WithBreaker sets the circuit breaker that turns evaluations into decisions.
func WithBreaker(b *service.CircuitBreaker) Option {
	return func(h *Handler) { h.breaker = b }
}

// WithRecorder sets the decision recorder for audit and stats bookkeeping.
func WithRecorder(r *service.DecisionRecorder) Option {
	return func(h *Handler) { h.recorder = r }
}

// WithPolicyStore sets the policy persistence store.
func WithPolicyStore(s policy.Store) Option {
	return func(h *Handler) { h.policies = s }
}

// WithRateLimiter sets the per-agent rate limiter.
func WithRateLimiter(l ratelimit.Limiter) Option {
	return func(h *Handler) { h.limiter = l }
}

// WithRateLimitConfig sets the limit parameters reported by the rate-limit
// info endpoint.
func WithRateLimitConfig(cfg ratelimit.Config) Option {
	return func(h *Handler) { h.limits = cfg }
}

// WithAuditReader sets the audit record reader for queries.
func WithAuditReader(q audit.QueryStore) Option {
	return func(h *Handler) { h.audits = q }
}

// WithStatsStore sets the operational stats store.
func WithStatsStore(s stats.Store) Option {
	return func(h *Handler) { h.stats = s }
}

// WithHandlerMetrics sets the Prometheus metrics recorded by handlers.
func WithHandlerMetrics(m *Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithHandlerLogger sets the logger.
func WithHandlerLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// WithVersion sets the version string reported by the root endpoint.
func WithVersion(v string) Option {
	return func(h *Handler) { h.version = v }
}

// WithStartTime sets the server start time for uptime calculation.
func WithStartTime(t time.Time) Option {
	return func(h *Handler) { h.started = t }
}

// NewHandler creates a new Handler with the given options.
func NewHandler(opts ...Option) *Handler {
	h := &Handler{
		validate: newValidator(),
		limits:   ratelimit.DefaultConfig(),
		logger:   slog.Default(),
		version:  "dev",
		started:  time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// newValidator builds a validator that reports JSON field names in messages.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationMessage renders the first validation failure as a client-facing
// message.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request body"
	}
	e := verrs[0]
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", e.Field())
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", e.Field(), e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", e.Field(), e.Param())
	case "uuid4":
		return fmt.Sprintf("%s must be a valid UUID", e.Field())
	default:
		return fmt.Sprintf("%s failed validation (%s)", e.Field(), e.Tag())
	}
}

// Routes registers all API routes on a new mux and returns it. The caller
// composes it with the health probes and /metrics before wrapping the whole
// mux in middleware.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", h.handleRoot)

	// Evaluation data path.
	mux.HandleFunc("POST /api/v1/gateway/evaluate", h.handleEvaluate)

	// Gateway mode.
	mux.HandleFunc("GET /api/v1/gateway/mode", h.handleGetMode)
	mux.HandleFunc("PUT /api/v1/gateway/mode", h.handleSetMode)

	// Policy CRUD.
	mux.HandleFunc("GET /api/v1/policies", h.handleListPolicies)
	mux.HandleFunc("POST /api/v1/policies", h.handleCreatePolicy)
	mux.HandleFunc("GET /api/v1/policies/{rule_id}", h.handleGetPolicy)
	mux.HandleFunc("DELETE /api/v1/policies/{rule_id}", h.handleDeletePolicy)
	mux.HandleFunc("POST /api/v1/policies/refresh", h.handleRefreshPolicies)

	// HITL approvals.
	mux.HandleFunc("GET /api/v1/approvals/{approval_id}", h.handleGetApproval)
	mux.HandleFunc("POST /api/v1/approvals/{approval_id}/decision", h.handleApprovalDecision)

	// Audit queries.
	mux.HandleFunc("GET /api/v1/audit/logs", h.handleAuditLogs)
	mux.HandleFunc("GET /api/v1/audit/stats", h.handleAuditStats)

	// Operational stats.
	mux.HandleFunc("GET /api/v1/metrics/summary", h.handleMetricsSummary)
	mux.HandleFunc("GET /api/v1/agents/{agent_id}/rate-limit", h.handleRateLimitInfo)

	return mux
}

// handleRoot handles GET /
func (h *Handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"service": ServiceName,
		"version": h.version,
		"status":  "operational",
	}
	if h.breaker != nil {
		body["mode"] = string(h.breaker.Mode())
	}
	h.respondJSON(w, http.StatusOK, body)
}

// --- JSON helper methods ---

// respondJSON writes a JSON response with the given status code and data.
func (h *Handler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode JSON response", "error", err)
	}
}

// respondError writes a JSON error response with the given status code and message.
func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}

// readJSON decodes the request body into the given value.
// The body is capped at maxRequestBodySize.
func (h *Handler) readJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	return json.NewDecoder(r.Body).Decode(v)
}

// pathParam extracts a named path parameter from the request URL.
// Uses Go 1.22+ PathValue.
func (h *Handler) pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// writeJSON is the package-level variant of respondJSON for code that runs
// outside a Handler (middleware, health probes).
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// unauthorized writes the 401 response shape shared with AuthMiddleware.
func unauthorized(w http.ResponseWriter, message, detail string) {
	body := map[string]string{
		"error":   "unauthorized",
		"message": message,
	}
	if detail != "" {
		body["detail"] = detail
	}
	writeJSON(w, http.StatusUnauthorized, body)
}
