package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/agent-warden/warden/internal/domain/audit"
)

// slowAuditStore simulates a slow backend for backpressure tests.
type slowAuditStore struct {
	delay time.Duration
}

func (m *slowAuditStore) Append(ctx context.Context, records ...audit.Record) error {
	time.Sleep(m.delay)
	return nil
}

func (m *slowAuditStore) Flush(ctx context.Context) error { return nil }
func (m *slowAuditStore) Close() error                    { return nil }

// trackingAuditStore counts every record it receives.
type trackingAuditStore struct {
	mu      sync.Mutex
	records []audit.Record
}

func (m *trackingAuditStore) Append(ctx context.Context, records ...audit.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, records...)
	return nil
}

func (m *trackingAuditStore) Flush(ctx context.Context) error { return nil }
func (m *trackingAuditStore) Close() error                    { return nil }

func (m *trackingAuditStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func auditRecord(i int) audit.Record {
	return audit.Record{
		LogID:     fmt.Sprintf("log-%d", i),
		RequestID: fmt.Sprintf("req-%d", i),
		AgentID:   "agent_audit",
		Timestamp: time.Now().UTC(),
	}
}

// waitFor polls until cond returns true or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestAuditService_OverflowWithTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	// Slow store so the channel stays full while records pour in.
	slowStore := &slowAuditStore{delay: 50 * time.Millisecond}

	svc := NewAuditService(slowStore, discardLogger(),
		WithChannelSize(2),
		WithSendTimeout(10*time.Millisecond),
		WithBatchSize(1),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)

	for i := 0; i < 10; i++ {
		svc.Record(auditRecord(i))
	}

	time.Sleep(150 * time.Millisecond)

	if drops := svc.DroppedRecords(); drops == 0 {
		t.Error("expected some records to be dropped under backpressure")
	}
	if capacity := svc.ChannelCapacity(); capacity != 2 {
		t.Errorf("ChannelCapacity = %d, want 2", capacity)
	}

	svc.Stop()
}

func TestAuditService_DroppedRecordsCounter(t *testing.T) {
	defer goleak.VerifyNone(t)

	slowStore := &slowAuditStore{delay: 500 * time.Millisecond}

	svc := NewAuditService(slowStore, discardLogger(),
		WithChannelSize(1),
		WithSendTimeout(0), // drop immediately
		WithBatchSize(1),
	)

	if drops := svc.DroppedRecords(); drops != 0 {
		t.Fatalf("initial drops = %d, want 0", drops)
	}

	// Fill the single slot directly; the worker is not running, so every
	// Record after this must drop.
	select {
	case svc.records <- auditRecord(0):
	default:
		t.Fatal("failed to fill channel")
	}

	svc.Record(auditRecord(1))
	svc.Record(auditRecord(2))
	svc.Record(auditRecord(3))

	if drops := svc.DroppedRecords(); drops != 3 {
		t.Errorf("drops = %d, want 3", drops)
	}

	close(svc.records)
	for range svc.records {
	}
}

func TestAuditService_NoDropWithSufficientBuffer(t *testing.T) {
	defer goleak.VerifyNone(t)

	slowStore := &slowAuditStore{delay: 10 * time.Millisecond}

	svc := NewAuditService(slowStore, discardLogger(),
		WithChannelSize(100),
		WithSendTimeout(100*time.Millisecond),
		WithBatchSize(10),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)

	for i := 0; i < 50; i++ {
		svc.Record(auditRecord(i))
	}

	time.Sleep(200 * time.Millisecond)

	if drops := svc.DroppedRecords(); drops != 0 {
		t.Errorf("drops = %d with a large buffer, want 0", drops)
	}

	svc.Stop()
}

func TestAuditService_DropCounterConcurrent(t *testing.T) {
	defer goleak.VerifyNone(t)

	slowStore := &slowAuditStore{delay: time.Second}

	svc := NewAuditService(slowStore, discardLogger(),
		WithChannelSize(1),
		WithSendTimeout(0),
		WithBatchSize(1),
	)

	select {
	case svc.records <- auditRecord(0):
	default:
		t.Fatal("failed to fill channel")
	}

	const goroutines = 10
	const dropsPerGoroutine = 100

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < dropsPerGoroutine; j++ {
				svc.Record(auditRecord(id*1000 + j))
			}
		}(i)
	}
	wg.Wait()

	if drops := svc.DroppedRecords(); drops != int64(goroutines*dropsPerGoroutine) {
		t.Errorf("drops = %d, want %d", drops, goroutines*dropsPerGoroutine)
	}

	close(svc.records)
	for range svc.records {
	}
}

func TestAuditService_BatchSizeTriggersFlush(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := &trackingAuditStore{}
	svc := NewAuditService(store, discardLogger(),
		WithBatchSize(5),
		WithFlushInterval(time.Minute), // interval flush out of the picture
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)

	for i := 0; i < 5; i++ {
		svc.Record(auditRecord(i))
	}

	if !waitFor(t, 2*time.Second, func() bool { return store.count() == 5 }) {
		t.Errorf("flushed %d records, want 5 via batch-size trigger", store.count())
	}

	svc.Stop()
}

func TestAuditService_IntervalFlushesPartialBatch(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := &trackingAuditStore{}
	svc := NewAuditService(store, discardLogger(),
		WithBatchSize(100),
		WithFlushInterval(50*time.Millisecond),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)

	for i := 0; i < 3; i++ {
		svc.Record(auditRecord(i))
	}

	if !waitFor(t, 2*time.Second, func() bool { return store.count() == 3 }) {
		t.Errorf("flushed %d records, want 3 via interval trigger", store.count())
	}

	svc.Stop()
}

func TestAuditService_StopFlushesRemainder(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := &trackingAuditStore{}
	svc := NewAuditService(store, discardLogger(),
		WithBatchSize(100),
		WithFlushInterval(time.Minute),
	)

	svc.Start(context.Background())

	for i := 0; i < 7; i++ {
		svc.Record(auditRecord(i))
	}

	svc.Stop()

	if got := store.count(); got != 7 {
		t.Errorf("flushed %d records after Stop, want 7", got)
	}
}

func TestAuditService_StopIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := &trackingAuditStore{}
	svc := NewAuditService(store, discardLogger())

	svc.Start(context.Background())
	svc.Record(auditRecord(0))

	svc.Stop()
	svc.Stop()

	if got := store.count(); got != 1 {
		t.Errorf("flushed %d records, want 1", got)
	}
}

// Cancelling the lifetime context must stop the worker even though the
// intake channel is still open.
func TestAuditService_ContextCancelStopsWorker(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := &trackingAuditStore{}
	svc := NewAuditService(store, discardLogger(),
		WithBatchSize(100),
		WithFlushInterval(time.Minute),
	)

	ctx, cancel := context.WithCancel(context.Background())
	svc.Start(ctx)

	svc.Record(auditRecord(0))
	cancel()

	done := make(chan struct{})
	go func() {
		svc.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not exit after context cancellation")
	}
}

// Memory stays bounded under continuous load: records flow through instead
// of accumulating in the channel.
func TestAuditService_LongRunning(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping long-running test in short mode")
	}
	defer goleak.VerifyNone(t)

	store := &trackingAuditStore{}
	svc := NewAuditService(store, discardLogger(),
		WithChannelSize(100),
		WithBatchSize(10),
		WithFlushInterval(100*time.Millisecond),
		WithSendTimeout(50*time.Millisecond),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)

	start := time.Now()
	sent := 0
	for time.Since(start) < 3*time.Second {
		svc.Record(auditRecord(sent))
		sent++
		time.Sleep(time.Millisecond)
	}

	time.Sleep(200 * time.Millisecond)

	if depth := svc.ChannelDepth(); depth > 20 {
		t.Errorf("channel depth %d too high, records not draining", depth)
	}
	if store.count() == 0 {
		t.Error("no records flushed during sustained load")
	}

	svc.Stop()
}
