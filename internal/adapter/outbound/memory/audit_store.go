package memory

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/agent-warden/warden/internal/domain/audit"
)

// defaultWindow sizes the query window when the caller does not.
const defaultWindow = 1000

// AuditStore writes records as JSON Lines to a writer and mirrors the
// newest ones into a fixed window, so audit queries work without a
// database. Development backend; production deployments run on SQLite
// or the file trail.
type AuditStore struct {
	mu   sync.Mutex
	enc  *json.Encoder
	out  io.Writer
	ring []audit.Record
	head int // slot the next record lands in
	held int // records present, capped at len(ring)
}

// NewAuditStore returns a store writing to stdout. The optional argument
// overrides the query window size.
func NewAuditStore(window ...int) *AuditStore {
	return NewAuditStoreWithWriter(os.Stdout, window...)
}

// NewAuditStoreWithWriter returns a store writing to w. The optional
// argument overrides the query window size.
func NewAuditStoreWithWriter(w io.Writer, window ...int) *AuditStore {
	size := defaultWindow
	if len(window) > 0 && window[0] > 0 {
		size = window[0]
	}
	return &AuditStore{
		enc:  json.NewEncoder(w),
		out:  w,
		ring: make([]audit.Record, size),
	}
}

// Append encodes each record to the writer and rotates it into the window.
func (s *AuditStore) Append(ctx context.Context, records ...audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		if err := s.enc.Encode(r); err != nil {
			return err
		}
		s.ring[s.head] = r
		s.head = (s.head + 1) % len(s.ring)
		if s.held < len(s.ring) {
			s.held++
		}
	}
	return nil
}

// Flush is a no-op; Append writes through.
func (s *AuditStore) Flush(ctx context.Context) error { return nil }

// Close closes the writer when it is a real file.
func (s *AuditStore) Close() error {
	if f, ok := s.out.(*os.File); ok && f != os.Stdout && f != os.Stderr {
		return f.Close()
	}
	return nil
}

// Query walks the window newest first and applies the filter. Records
// that have rotated out of the window are gone for good.
func (s *AuditStore) Query(ctx context.Context, filter audit.Filter) ([]audit.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	filter = filter.Normalize()

	var out []audit.Record
	skipped := 0
	for i := 1; i <= s.held && len(out) < filter.Limit; i++ {
		rec := s.ring[(s.head-i+len(s.ring))%len(s.ring)]
		if !filter.Matches(&rec) {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Stats aggregates the records still in the window.
func (s *AuditStore) Stats(ctx context.Context) (*audit.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return audit.ComputeStats(s.ring[:s.held:s.held]), nil
}

var (
	_ audit.Store      = (*AuditStore)(nil)
	_ audit.QueryStore = (*AuditStore)(nil)
)
