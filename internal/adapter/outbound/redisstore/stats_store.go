package redisstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/agent-warden/warden/internal/domain/stats"
)

const (
	metricKeyPrefix  = "warden:metrics:"
	latencySampleKey = "warden:metrics:latencies"
)

// StatsStore implements stats.Store on Redis, so decision counters and
// latency percentiles aggregate across gateway replicas. Latency samples live
// in a capped list: LPUSH newest, LTRIM oldest out.
type StatsStore struct {
	client *redis.Client
}

// NewStatsStore creates a Redis-backed stats store.
func NewStatsStore(client *redis.Client) *StatsStore {
	return &StatsStore{client: client}
}

func metricKey(name string) string {
	return metricKeyPrefix + name
}

// Increment adds delta to the named counter.
func (s *StatsStore) Increment(ctx context.Context, name string, delta int64) error {
	if err := s.client.IncrBy(ctx, metricKey(name), delta).Err(); err != nil {
		return fmt.Errorf("failed to increment metric %q: %w", name, err)
	}
	return nil
}

// Get returns the named counter, or zero when absent.
func (s *StatsStore) Get(ctx context.Context, name string) (int64, error) {
	val, err := s.client.Get(ctx, metricKey(name)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get metric %q: %w", name, err)
	}
	return val, nil
}

// RecordLatency appends a latency sample and trims the list to the cap.
func (s *StatsStore) RecordLatency(ctx context.Context, ms float64) error {
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, latencySampleKey, ms)
	pipe.LTrim(ctx, latencySampleKey, 0, stats.LatencySampleCap-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record latency: %w", err)
	}
	return nil
}

// LatencyPercentiles computes p50/p95/p99 and the mean over the retained
// samples.
func (s *StatsStore) LatencyPercentiles(ctx context.Context) (stats.Percentiles, error) {
	raw, err := s.client.LRange(ctx, latencySampleKey, 0, -1).Result()
	if err != nil {
		return stats.Percentiles{}, fmt.Errorf("failed to read latency samples: %w", err)
	}
	if len(raw) == 0 {
		return stats.Percentiles{}, nil
	}

	values := make([]float64, 0, len(raw))
	var sum float64
	for _, r := range raw {
		v, err := strconv.ParseFloat(r, 64)
		if err != nil {
			continue
		}
		values = append(values, v)
		sum += v
	}
	if len(values) == 0 {
		return stats.Percentiles{}, nil
	}
	sort.Float64s(values)

	return stats.Percentiles{
		P50: percentile(values, 0.50),
		P95: percentile(values, 0.95),
		P99: percentile(values, 0.99),
		Avg: sum / float64(len(values)),
	}, nil
}

// percentile returns the nearest-rank sample. values must be sorted and
// non-empty.
func percentile(values []float64, q float64) float64 {
	idx := int(float64(len(values)) * q)
	if idx >= len(values) {
		idx = len(values) - 1
	}
	return values[idx]
}

// Compile-time interface verification.
var _ stats.Store = (*StatsStore)(nil)
