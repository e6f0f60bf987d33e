package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/agent-warden/warden/internal/domain/gateway"
)

// Gateway mode gauge encoding: 0 = ENFORCE, 1 = SHADOW.
const (
	gaugeModeEnforce = 0
	gaugeModeShadow  = 1
)

// blockedReasonMaxLen caps the reason label on blocked_requests_total so a
// free-form denial reason cannot explode label cardinality.
const blockedReasonMaxLen = 50

// Metrics holds all Prometheus metrics for the gateway.
// Pass to components that need to record metrics.
type Metrics struct {
	RequestsTotal          *prometheus.CounterVec
	RequestDuration        *prometheus.HistogramVec
	BlockedRequests        *prometheus.CounterVec
	ShadowLogged           prometheus.Counter
	PendingApprovals       prometheus.Gauge
	RiskScore              prometheus.Histogram
	PIIDetections          *prometheus.CounterVec
	RequestsWithPII        prometheus.Counter
	PolicyMatches          *prometheus.CounterVec
	PolicyEvaluationTime   prometheus.Histogram
	ActivePolicies         prometheus.Gauge
	GatewayMode            prometheus.Gauge
	RateLimitedRequests    prometheus.Counter
	RateLimitStoreFailures prometheus.Counter
	CacheOperations        *prometheus.CounterVec
	WebhookDeliveries      *prometheus.CounterVec
	RedisConnected         prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "warden",
				Name:      "requests_total",
				Help:      "Total number of agent requests processed",
			},
			[]string{"action_type", "decision"},
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "warden",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.075, 0.1, 0.25, 0.5, 0.75, 1.0, 2.5, 5.0},
			},
			[]string{"method", "status"}, // status=ok/error
		),
		BlockedRequests: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "warden",
				Name:      "blocked_requests_total",
				Help:      "Total requests blocked by policy",
			},
			[]string{"reason"},
		),
		ShadowLogged: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "warden",
				Name:      "shadow_logged_total",
				Help:      "Total requests that would have been blocked in enforce mode",
			},
		),
		PendingApprovals: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "warden",
				Name:      "pending_approvals",
				Help:      "Number of requests currently awaiting human approval",
			},
		),
		RiskScore: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "warden",
				Name:      "risk_score",
				Help:      "Distribution of evaluated risk scores",
				Buckets:   []float64{0.0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
			},
		),
		PIIDetections: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "warden",
				Name:      "pii_detections_total",
				Help:      "Total PII entities detected, by entity type",
			},
			[]string{"entity_type"},
		),
		RequestsWithPII: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "warden",
				Name:      "requests_with_pii_total",
				Help:      "Total requests containing at least one PII entity",
			},
		),
		PolicyMatches: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "warden",
				Name:      "policy_matches_total",
				Help:      "Total policy rule matches",
			},
			[]string{"rule_id"},
		),
		PolicyEvaluationTime: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "warden",
				Name:      "policy_evaluation_seconds",
				Help:      "Policy evaluation time in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
			},
		),
		ActivePolicies: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "warden",
				Name:      "active_policies",
				Help:      "Number of active policy rules",
			},
		),
		GatewayMode: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "warden",
				Name:      "gateway_mode",
				Help:      "Current gateway mode (0=enforce, 1=shadow)",
			},
		),
		RateLimitedRequests: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "warden",
				Name:      "rate_limited_requests_total",
				Help:      "Total requests rejected by the per-agent rate limit",
			},
		),
		RateLimitStoreFailures: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "warden",
				Name:      "rate_limit_store_failures_total",
				Help:      "Total rate limit checks that failed open because the store was unreachable",
			},
		),
		CacheOperations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "warden",
				Name:      "cache_operations_total",
				Help:      "Total policy cache operations",
			},
			[]string{"operation", "outcome"}, // outcome=ok/error
		),
		WebhookDeliveries: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "warden",
				Name:      "webhook_deliveries_total",
				Help:      "Total approval webhook delivery attempts",
			},
			[]string{"outcome"}, // outcome=ok/error
		),
		RedisConnected: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "warden",
				Name:      "redis_connected",
				Help:      "Whether the Redis backend is reachable (1=yes, 0=no)",
			},
		),
	}
}

// RegisterAuditDrops exposes the audit service's drop counter as
// warden_audit_dropped_total. The counter lives in the audit service; a
// CounterFunc reads it on scrape instead of double-counting drops here.
func RegisterAuditDrops(reg prometheus.Registerer, drops func() int64) {
	reg.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "audit_dropped_total",
			Help:      "Total audit records dropped due to backpressure",
		},
		func() float64 { return float64(drops()) },
	))
}

// SetGatewayMode updates the mode gauge. Shadow maps to 1, enforce to 0.
func (m *Metrics) SetGatewayMode(mode gateway.Mode) {
	if mode == gateway.ModeShadow {
		m.GatewayMode.Set(gaugeModeShadow)
		return
	}
	m.GatewayMode.Set(gaugeModeEnforce)
}

// WebhookObserver returns the delivery callback wired into the approval
// webhook notifier at boot. Outcome is "ok" or "error".
func (m *Metrics) WebhookObserver() func(outcome string) {
	return func(outcome string) {
		m.WebhookDeliveries.WithLabelValues(outcome).Inc()
	}
}

// blockedReasonLabel truncates a denial reason for use as a label value.
func blockedReasonLabel(reason string) string {
	if reason == "" {
		return "policy"
	}
	if len(reason) > blockedReasonMaxLen {
		return reason[:blockedReasonMaxLen]
	}
	return reason
}
