// Package audit provides file-based audit persistence with JSON Lines format,
// daily rotation, size caps, retention cleanup, and an in-memory cache that
// serves the audit query API over the recent window.
package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/agent-warden/warden/internal/domain/audit"
)

const (
	dayLayout        = "2006-01-02"
	defaultRetention = 7
	defaultMaxSizeMB = 100
	defaultCacheSize = 1000

	// maxLineBytes bounds a single JSON line when re-reading the trail.
	// Sanitized parameter maps can make for long lines.
	maxLineBytes = 1 << 20

	sweepInterval = 1 * time.Hour
)

// segment is one file of the trail: audit-<day>.log, or audit-<day>-<seq>.log
// once the day's base file hit the size cap.
type segment struct {
	name  string
	day   string
	seq   int
	bytes int64
}

var segPattern = regexp.MustCompile(`^audit-(\d{4}-\d{2}-\d{2})(?:-(\d+))?\.log$`)

func parseSegName(name string) (segment, bool) {
	m := segPattern.FindStringSubmatch(name)
	if m == nil {
		return segment{}, false
	}
	seg := segment{name: name, day: m[1]}
	if m[2] != "" {
		n, err := strconv.Atoi(m[2])
		if err != nil {
			return segment{}, false
		}
		seg.seq = n
	}
	return seg, true
}

func segName(day string, seq int) string {
	if seq == 0 {
		return "audit-" + day + ".log"
	}
	return fmt.Sprintf("audit-%s-%d.log", day, seq)
}

// segments lists the trail files under dir, oldest first. Files that do not
// look like trail segments are ignored; a segment whose size cannot be read
// is listed with zero bytes.
func segments(dir string) []segment {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var segs []segment
	for _, e := range entries {
		seg, ok := parseSegName(e.Name())
		if !ok {
			continue
		}
		if info, err := e.Info(); err == nil {
			seg.bytes = info.Size()
		}
		segs = append(segs, seg)
	}

	sort.Slice(segs, func(i, j int) bool {
		if segs[i].day != segs[j].day {
			return segs[i].day < segs[j].day
		}
		return segs[i].seq < segs[j].seq
	})
	return segs
}

// FileConfig holds configuration for the file-based audit store.
type FileConfig struct {
	// Dir is the directory where audit files are stored.
	Dir string
	// RetentionDays is the number of days to keep audit files (default 7).
	RetentionDays int
	// MaxFileSizeMB is the maximum file size in megabytes before rotation (default 100).
	MaxFileSizeMB int
	// CacheSize is the number of recent records kept in memory for queries (default 1000).
	CacheSize int
}

// FileStore implements audit.Store with file rotation and retention, and
// audit.QueryStore over its in-memory cache of recent records. Queries and
// stats see the cached window only; the files on disk are the full trail.
type FileStore struct {
	dir           string
	maxFileSize   int64
	retentionDays int
	cache         *recordCache
	cancel        context.CancelFunc

	mu      sync.Mutex
	out     *os.File
	day     string
	seq     int
	written int64
	closed  bool
}

// NewFileStore opens the trail: it creates the directory if needed, resumes
// today's newest segment, sweeps segments past retention, warms the cache
// from the most recent non-empty segment, and starts the hourly sweep.
func NewFileStore(cfg FileConfig) (*FileStore, error) {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = defaultRetention
	}
	if cfg.MaxFileSizeMB <= 0 {
		cfg.MaxFileSizeMB = defaultMaxSizeMB
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = defaultCacheSize
	}

	// The trail may hold sensitive resource names even after masking.
	if err := os.MkdirAll(cfg.Dir, 0700); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &FileStore{
		dir:           cfg.Dir,
		maxFileSize:   int64(cfg.MaxFileSizeMB) * 1024 * 1024,
		retentionDays: cfg.RetentionDays,
		cache:         newRecordCache(cfg.CacheSize),
		cancel:        cancel,
	}

	// Resume the highest sequence already on disk for today, so a restart
	// keeps appending where the previous process stopped.
	today := time.Now().UTC().Format(dayLayout)
	seq := 0
	for _, seg := range segments(cfg.Dir) {
		if seg.day == today && seg.seq > seq {
			seq = seg.seq
		}
	}
	if err := s.swap(today, seq); err != nil {
		cancel()
		return nil, fmt.Errorf("open audit file: %w", err)
	}

	s.sweepExpired()
	s.warmCache()
	go s.sweepLoop(ctx)

	return s, nil
}

// Append writes the records as JSON Lines, rotating by date and size.
func (s *FileStore) Append(ctx context.Context, records ...audit.Record) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range records {
		if err := s.writeLocked(&records[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *FileStore) writeLocked(rec *audit.Record) error {
	day := rec.Timestamp.UTC().Format(dayLayout)
	if day != s.day {
		if err := s.swap(day, 0); err != nil {
			return fmt.Errorf("date rotation: %w", err)
		}
	}
	if s.written >= s.maxFileSize {
		if err := s.swap(s.day, s.seq+1); err != nil {
			return fmt.Errorf("size rotation: %w", err)
		}
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	n, err := s.out.Write(append(line, '\n'))
	if err != nil {
		return fmt.Errorf("write audit record: %w", err)
	}
	s.written += int64(n)

	s.cache.Add(*rec)
	return nil
}

// swap closes the current segment, if any, and opens (or creates) the one
// for the given day and sequence in append mode. Callers hold s.mu except
// during construction.
func (s *FileStore) swap(day string, seq int) error {
	if s.out != nil {
		_ = s.out.Sync()
		_ = s.out.Close()
		s.out = nil
	}

	name := segName(day, seq)
	f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open segment %s: %w", name, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat segment %s: %w", name, err)
	}

	s.out = f
	s.day = day
	s.seq = seq
	s.written = info.Size()
	return nil
}

// Flush forces pending records to disk by syncing the current segment.
func (s *FileStore) Flush(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.out != nil {
		return s.out.Sync()
	}
	return nil
}

// Close stops the sweep goroutine and closes the current segment. Safe to
// call more than once.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.cancel()

	if s.out == nil {
		return nil
	}
	_ = s.out.Sync()
	err := s.out.Close()
	s.out = nil
	return err
}

// Query retrieves audit records matching the filter from the cache, newest
// first. Only the cached window is visible through the API.
func (s *FileStore) Query(ctx context.Context, filter audit.Filter) ([]audit.Record, error) {
	filter = filter.Normalize()

	var result []audit.Record
	skipped := 0
	for _, rec := range s.cache.Recent(s.cache.Len()) {
		if len(result) >= filter.Limit {
			break
		}
		if !filter.Matches(&rec) {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		result = append(result, rec)
	}
	return result, nil
}

// Stats aggregates over the cached window.
func (s *FileStore) Stats(ctx context.Context) (*audit.Stats, error) {
	return audit.ComputeStats(s.cache.Recent(s.cache.Len())), nil
}

// sweepExpired removes segments whose day is past retention. Day strings
// compare lexicographically, so no date parsing is needed.
func (s *FileStore) sweepExpired() {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.retentionDays).Format(dayLayout)

	removed := 0
	for _, seg := range segments(s.dir) {
		if seg.day >= cutoff {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, seg.name)); err != nil {
			slog.Error("Audit sweep failed to remove segment", "file", seg.name, "error", err)
			continue
		}
		removed++
	}

	if removed > 0 {
		slog.Info("Audit sweep removed expired segments", "removed", removed)
	}
}

func (s *FileStore) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepExpired()
		}
	}
}

// warmCache streams the most recent non-empty segment through the ring so
// queries keep working across restarts. The ring itself keeps only the last
// CacheSize records, so the whole file never has to fit in memory.
func (s *FileStore) warmCache() {
	var last segment
	for _, seg := range segments(s.dir) {
		if seg.bytes > 0 {
			last = seg
		}
	}
	if last.name == "" {
		return
	}

	f, err := os.Open(filepath.Join(s.dir, last.name))
	if err != nil {
		slog.Error("Audit cache failed to open segment", "file", last.name, "error", err)
		return
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var rec audit.Record
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			slog.Warn("Audit cache skipping unreadable line", "file", last.name, "error", err)
			continue
		}
		s.cache.Add(rec)
	}
	if err := sc.Err(); err != nil {
		slog.Error("Audit cache stopped reading segment early", "file", last.name, "error", err)
	}
}

// Compile-time interface verification.
var (
	_ audit.Store      = (*FileStore)(nil)
	_ audit.QueryStore = (*FileStore)(nil)
)

// recordCache is a fixed-size ring of the most recent audit records.
type recordCache struct {
	mu   sync.RWMutex
	recs []audit.Record
	size int
	next int
	full bool
}

func newRecordCache(size int) *recordCache {
	if size <= 0 {
		size = defaultCacheSize
	}
	return &recordCache{recs: make([]audit.Record, size), size: size}
}

// Add stores a record, overwriting the oldest once the ring is full.
func (c *recordCache) Add(rec audit.Record) {
	c.mu.Lock()
	c.recs[c.next] = rec
	c.next++
	if c.next == c.size {
		c.next = 0
		c.full = true
	}
	c.mu.Unlock()
}

// Len returns the number of records currently cached.
func (c *recordCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lenLocked()
}

func (c *recordCache) lenLocked() int {
	if c.full {
		return c.size
	}
	return c.next
}

// Recent returns up to n records, newest first. The newest record sits just
// behind the write position; the walk descends from there and wraps once
// when the ring is full.
func (c *recordCache) Recent(n int) []audit.Record {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if have := c.lenLocked(); n > have {
		n = have
	}
	if n <= 0 {
		return nil
	}

	out := make([]audit.Record, 0, n)
	for i := c.next - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, c.recs[i])
	}
	for i := c.size - 1; c.full && i >= c.next && len(out) < n; i-- {
		out = append(out, c.recs[i])
	}
	return out
}
