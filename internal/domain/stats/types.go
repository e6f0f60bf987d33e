// Package stats defines the gateway's operational counters: cheap,
// cross-replica decision totals and request latency percentiles served by the
// metrics summary endpoint. Prometheus remains the scrape surface; these
// counters exist so the summary works without a Prometheus server.
package stats

import "context"

// Counter names. Backends key storage by these.
const (
	MetricTotalRequests    = "total_requests"
	MetricBlockedRequests  = "blocked_requests"
	MetricApprovedRequests = "approved_requests"
	MetricPendingApprovals = "pending_approvals"
	MetricShadowLogged     = "shadow_logged"
	MetricPIIDetections    = "pii_detections"
)

// LatencySampleCap bounds the retained latency samples; older samples are
// dropped first.
const LatencySampleCap = 10000

// Percentiles summarizes the retained latency samples in milliseconds.
type Percentiles struct {
	P50 float64
	P95 float64
	P99 float64
	Avg float64
}

// Summary is the aggregated operational view returned by the metrics summary
// endpoint.
type Summary struct {
	TotalRequests    int64   `json:"total_requests"`
	BlockedRequests  int64   `json:"blocked_requests"`
	ApprovedRequests int64   `json:"approved_requests"`
	PendingApprovals int64   `json:"pending_approvals"`
	ShadowLogged     int64   `json:"shadow_logged"`
	AvgLatencyMS     float64 `json:"avg_latency_ms"`
	P95LatencyMS     float64 `json:"p95_latency_ms"`
	P99LatencyMS     float64 `json:"p99_latency_ms"`
	PIIDetections    int64   `json:"pii_detections"`
	ActivePolicies   int     `json:"active_policies"`
	UptimeSeconds    float64 `json:"uptime_seconds"`
}

// Store persists counters and latency samples. Writes are best-effort: a
// failed increment is logged by the implementation and never fails a request.
type Store interface {
	// Increment adds delta to the named counter.
	Increment(ctx context.Context, name string, delta int64) error

	// Get returns the named counter, or zero when it has never been
	// incremented.
	Get(ctx context.Context, name string) (int64, error)

	// RecordLatency appends one request latency sample in milliseconds.
	RecordLatency(ctx context.Context, ms float64) error

	// LatencyPercentiles computes percentiles over the retained samples.
	// No samples yields all zeros.
	LatencyPercentiles(ctx context.Context) (Percentiles, error)
}
