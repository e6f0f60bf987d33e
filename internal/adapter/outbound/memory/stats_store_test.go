package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/agent-warden/warden/internal/domain/stats"
)

func TestStatsStore_IncrementAndGet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStatsStore()

	got, err := store.Get(ctx, stats.MetricTotalRequests)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got != 0 {
		t.Errorf("Get() of untouched counter = %d, want 0", got)
	}

	if err := store.Increment(ctx, stats.MetricTotalRequests, 1); err != nil {
		t.Fatalf("Increment() error: %v", err)
	}
	if err := store.Increment(ctx, stats.MetricTotalRequests, 4); err != nil {
		t.Fatalf("Increment() error: %v", err)
	}

	got, err = store.Get(ctx, stats.MetricTotalRequests)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got != 5 {
		t.Errorf("Get() = %d, want 5", got)
	}
}

func TestStatsStore_LatencyPercentiles(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStatsStore()

	for i := 100; i >= 1; i-- {
		if err := store.RecordLatency(ctx, float64(i)); err != nil {
			t.Fatalf("RecordLatency() error: %v", err)
		}
	}

	p, err := store.LatencyPercentiles(ctx)
	if err != nil {
		t.Fatalf("LatencyPercentiles() error: %v", err)
	}
	if p.P50 != 51 {
		t.Errorf("P50 = %v, want 51", p.P50)
	}
	if p.P95 != 96 {
		t.Errorf("P95 = %v, want 96", p.P95)
	}
	if p.P99 != 100 {
		t.Errorf("P99 = %v, want 100", p.P99)
	}
	if p.Avg != 50.5 {
		t.Errorf("Avg = %v, want 50.5", p.Avg)
	}
}

func TestStatsStore_LatencyPercentilesEmpty(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStatsStore()

	p, err := store.LatencyPercentiles(ctx)
	if err != nil {
		t.Fatalf("LatencyPercentiles() error: %v", err)
	}
	if p != (stats.Percentiles{}) {
		t.Errorf("LatencyPercentiles() with no samples = %+v, want zeros", p)
	}
}

func TestStatsStore_LatencyRingDropsOldest(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStatsStore()

	// One outlier, then enough samples to push it out of the ring.
	if err := store.RecordLatency(ctx, 0.0); err != nil {
		t.Fatalf("RecordLatency() error: %v", err)
	}
	for i := 0; i < stats.LatencySampleCap; i++ {
		if err := store.RecordLatency(ctx, 100.0); err != nil {
			t.Fatalf("RecordLatency() error: %v", err)
		}
	}

	p, err := store.LatencyPercentiles(ctx)
	if err != nil {
		t.Fatalf("LatencyPercentiles() error: %v", err)
	}
	if p.P50 != 100 || p.Avg != 100 {
		t.Errorf("P50 = %v, Avg = %v after ring wrap, want 100 and 100", p.P50, p.Avg)
	}
}

func TestStatsStore_ConcurrentIncrement(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStatsStore()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_ = store.Increment(ctx, stats.MetricTotalRequests, 1)
			}
		}()
	}
	wg.Wait()

	got, err := store.Get(ctx, stats.MetricTotalRequests)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got != 1000 {
		t.Errorf("Get() = %d after concurrent increments, want 1000", got)
	}
}
