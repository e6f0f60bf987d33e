package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agent-warden/warden/internal/domain/audit"
)

// AuditService writes audit records asynchronously through a buffered
// channel and a background worker, so recording a decision never blocks the
// evaluation hot path. Records are batched by size and flushed on an
// interval; when the channel is full the caller blocks briefly and then the
// record is dropped and counted rather than stalling a request.
type AuditService struct {
	store         audit.Store
	records       chan audit.Record
	wg            sync.WaitGroup
	stopOnce      sync.Once
	logger        *slog.Logger
	batchSize     int
	flushInterval time.Duration

	channelSize int
	sendTimeout time.Duration // 0 = drop immediately when full
	dropCount   atomic.Int64
}

// AuditOption configures AuditService.
type AuditOption func(*AuditService)

// WithBatchSize sets how many records accumulate before a write.
func WithBatchSize(size int) AuditOption {
	return func(s *AuditService) {
		if size > 0 {
			s.batchSize = size
		}
	}
}

// WithFlushInterval sets how often a partial batch is written anyway.
func WithFlushInterval(interval time.Duration) AuditOption {
	return func(s *AuditService) {
		if interval > 0 {
			s.flushInterval = interval
		}
	}
}

// WithChannelSize sets the record buffer between callers and the worker.
func WithChannelSize(size int) AuditOption {
	return func(s *AuditService) {
		if size > 0 {
			s.records = make(chan audit.Record, size)
			s.channelSize = size
		}
	}
}

// WithSendTimeout sets how long Record blocks on a full channel before
// dropping. 0 drops immediately.
func WithSendTimeout(timeout time.Duration) AuditOption {
	return func(s *AuditService) {
		s.sendTimeout = timeout
	}
}

// NewAuditService creates the service. Call Start to launch the worker and
// Stop to flush and shut it down. A nil logger falls back to slog.Default().
func NewAuditService(store audit.Store, logger *slog.Logger, opts ...AuditOption) *AuditService {
	if logger == nil {
		logger = slog.Default()
	}

	const defaultChannelSize = 1000
	s := &AuditService{
		store:         store,
		records:       make(chan audit.Record, defaultChannelSize),
		logger:        logger,
		batchSize:     100,
		flushInterval: time.Second,
		channelSize:   defaultChannelSize,
		sendTimeout:   100 * time.Millisecond,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start launches the background worker. The context bounds the worker's
// lifetime independently of Stop; cancellation flushes what is batched and
// exits.
func (s *AuditService) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.worker(ctx)
}

// Record hands a record to the worker. The fast path is a non-blocking
// send; on a full channel the caller waits up to sendTimeout and the record
// is then dropped and counted.
func (s *AuditService) Record(record audit.Record) {
	select {
	case s.records <- record:
		return
	default:
	}

	if s.sendTimeout <= 0 {
		s.recordDrop(record)
		return
	}

	select {
	case s.records <- record:
	case <-time.After(s.sendTimeout):
		s.recordDrop(record)
	}
}

func (s *AuditService) recordDrop(record audit.Record) {
	drops := s.dropCount.Add(1)
	s.logger.Warn("audit record dropped",
		"request_id", record.RequestID,
		"agent_id", record.AgentID,
		"total_drops", drops,
	)
}

// DroppedRecords returns how many records have been dropped so far.
func (s *AuditService) DroppedRecords() int64 {
	return s.dropCount.Load()
}

// ChannelDepth returns how many records are waiting for the worker.
func (s *AuditService) ChannelDepth() int {
	return len(s.records)
}

// ChannelCapacity returns the record buffer size.
func (s *AuditService) ChannelCapacity() int {
	return s.channelSize
}

// Stop closes the intake, waits for the worker to flush everything still
// buffered, and returns. Safe to call more than once; Record must not be
// called after Stop.
func (s *AuditService) Stop() {
	s.stopOnce.Do(func() {
		close(s.records)
	})
	s.wg.Wait()
}

func (s *AuditService) worker(ctx context.Context) {
	defer s.wg.Done()

	batch := make([]audit.Record, 0, s.batchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case record, ok := <-s.records:
			if !ok {
				// Intake closed: flush the remainder with a bounded
				// deadline so shutdown cannot hang on a dead store.
				if len(batch) > 0 {
					flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					s.flush(flushCtx, batch)
					cancel()
				}
				return
			}
			batch = append(batch, record)
			if len(batch) >= s.batchSize {
				s.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ctx.Done():
			// Lifetime context cancelled. Flush what we already took;
			// anything still in the channel is lost, which callers accept
			// in exchange for a shutdown that cannot block on an open
			// channel.
			if len(batch) > 0 {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				s.flush(flushCtx, batch)
				cancel()
			}
			return
		}
	}
}

// flush writes a batch. Errors are logged and swallowed; losing an audit
// write must never fail the request that produced it.
func (s *AuditService) flush(ctx context.Context, batch []audit.Record) {
	if err := s.store.Append(ctx, batch...); err != nil {
		s.logger.Error("failed to write audit batch",
			"error", err,
			"count", len(batch),
		)
	}
}
