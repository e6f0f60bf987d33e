package audit

import (
	"context"
	"strings"
)

// Store persists audit records.
// Interface owned by domain per hexagonal architecture.
// Implementation handles batching and async writes.
type Store interface {
	// Append stores audit records. Must be non-blocking from caller perspective.
	Append(ctx context.Context, records ...Record) error

	// Flush forces pending records to storage. Called during shutdown.
	Flush(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// Filter specifies query parameters for audit log queries.
// All string fields are optional; empty means no filtering on that field.
type Filter struct {
	// AgentID filters by agent.
	AgentID string
	// ActionType filters by action type.
	ActionType string
	// Decision filters by final decision.
	Decision string
	// RiskLevel filters by risk level.
	RiskLevel string
	// Limit is the maximum number of records to return (default 100, max 1000).
	Limit int
	// Offset skips that many records for pagination.
	Offset int
}

// Normalize clamps Limit to [1, 1000] (default 100) and Offset to >= 0.
func (f Filter) Normalize() Filter {
	if f.Limit <= 0 {
		f.Limit = 100
	}
	if f.Limit > 1000 {
		f.Limit = 1000
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Matches reports whether a record passes the filter. Agent ids match
// exactly; the enumerated fields match case-insensitively.
func (f Filter) Matches(r *Record) bool {
	if f.AgentID != "" && r.AgentID != f.AgentID {
		return false
	}
	if f.ActionType != "" && !strings.EqualFold(string(r.ActionType), f.ActionType) {
		return false
	}
	if f.Decision != "" && !strings.EqualFold(string(r.Decision), f.Decision) {
		return false
	}
	if f.RiskLevel != "" && !strings.EqualFold(string(r.RiskLevel), f.RiskLevel) {
		return false
	}
	return true
}

// DecisionStats contains per-decision aggregates.
type DecisionStats struct {
	// Count is the number of records with this decision.
	Count int64 `json:"count"`
	// AvgLatencyMS is the mean processing time for this decision.
	AvgLatencyMS float64 `json:"avg_latency_ms"`
	// AvgRiskScore is the mean risk score for this decision.
	AvgRiskScore float64 `json:"avg_risk_score"`
}

// Stats contains aggregated audit statistics.
type Stats struct {
	// TotalRequests is the total number of audit records.
	TotalRequests int64 `json:"total_requests"`
	// ByDecision maps decision values to their aggregates.
	ByDecision map[string]DecisionStats `json:"by_decision"`
	// AvgLatencyMS is the overall mean processing time, weighted by count.
	AvgLatencyMS float64 `json:"avg_latency_ms"`
	// AvgRiskScore is the overall mean risk score, weighted by count.
	AvgRiskScore float64 `json:"avg_risk_score"`
}

// ComputeStats aggregates records into per-decision counts and averages plus
// count-weighted overall averages. Used by the backends that aggregate in
// memory; the SQL backend pushes the same aggregation into the database.
func ComputeStats(records []Record) *Stats {
	stats := &Stats{ByDecision: make(map[string]DecisionStats)}

	type sums struct {
		count   int64
		latency float64
		risk    float64
	}
	byDecision := make(map[string]*sums)

	var totalLatency, totalRisk float64
	for i := range records {
		r := &records[i]
		d := string(r.Decision)
		agg, ok := byDecision[d]
		if !ok {
			agg = &sums{}
			byDecision[d] = agg
		}
		agg.count++
		agg.latency += r.ProcessingTimeMS
		agg.risk += r.RiskScore

		stats.TotalRequests++
		totalLatency += r.ProcessingTimeMS
		totalRisk += r.RiskScore
	}

	for d, agg := range byDecision {
		stats.ByDecision[d] = DecisionStats{
			Count:        agg.count,
			AvgLatencyMS: agg.latency / float64(agg.count),
			AvgRiskScore: agg.risk / float64(agg.count),
		}
	}
	if stats.TotalRequests > 0 {
		stats.AvgLatencyMS = totalLatency / float64(stats.TotalRequests)
		stats.AvgRiskScore = totalRisk / float64(stats.TotalRequests)
	}
	return stats
}

// QueryStore provides read access to audit records for admin queries.
// This interface is separate from Store which handles writes.
type QueryStore interface {
	// Query retrieves audit records matching the filter, newest first.
	Query(ctx context.Context, filter Filter) ([]Record, error)

	// Stats returns aggregated statistics over all records.
	Stats(ctx context.Context) (*Stats, error)
}
