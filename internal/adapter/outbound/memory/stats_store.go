package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/agent-warden/warden/internal/domain/stats"
)

// StatsStore implements stats.Store in process memory. Counters and latency
// samples reset on restart and are local to one replica; the Redis store is
// the production backend.
type StatsStore struct {
	counters  map[string]int64
	latencies []float64
	mu        sync.Mutex
}

// NewStatsStore creates a new in-memory stats store.
func NewStatsStore() *StatsStore {
	return &StatsStore{
		counters: make(map[string]int64),
	}
}

// Increment adds delta to the named counter.
func (s *StatsStore) Increment(ctx context.Context, name string, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[name] += delta
	return nil
}

// Get returns the named counter, or zero when absent.
func (s *StatsStore) Get(ctx context.Context, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[name], nil
}

// RecordLatency appends a latency sample, dropping the oldest once the cap is
// reached.
func (s *StatsStore) RecordLatency(ctx context.Context, ms float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.latencies) >= stats.LatencySampleCap {
		copy(s.latencies, s.latencies[1:])
		s.latencies = s.latencies[:len(s.latencies)-1]
	}
	s.latencies = append(s.latencies, ms)
	return nil
}

// LatencyPercentiles computes p50/p95/p99 and the mean over the retained
// samples.
func (s *StatsStore) LatencyPercentiles(ctx context.Context) (stats.Percentiles, error) {
	s.mu.Lock()
	values := make([]float64, len(s.latencies))
	copy(values, s.latencies)
	s.mu.Unlock()

	if len(values) == 0 {
		return stats.Percentiles{}, nil
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	sort.Float64s(values)

	return stats.Percentiles{
		P50: nearestRank(values, 0.50),
		P95: nearestRank(values, 0.95),
		P99: nearestRank(values, 0.99),
		Avg: sum / float64(len(values)),
	}, nil
}

// nearestRank returns the nearest-rank sample. values must be sorted and
// non-empty.
func nearestRank(values []float64, q float64) float64 {
	idx := int(float64(len(values)) * q)
	if idx >= len(values) {
		idx = len(values) - 1
	}
	return values[idx]
}

// Compile-time interface verification.
var _ stats.Store = (*StatsStore)(nil)
