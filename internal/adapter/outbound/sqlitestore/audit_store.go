// Package sqlitestore persists the audit trail in SQLite via database/sql.
// The driver is pure Go (modernc.org/sqlite), so the gateway ships as a
// single static binary with a durable, queryable trail and no external
// database to operate.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/agent-warden/warden/internal/domain/audit"
	"github.com/agent-warden/warden/internal/domain/policy"
)

// Config contains settings for the SQLite audit backend.
type Config struct {
	// Path is the database file path.
	Path string

	// MaxOpenConns caps open connections. Default: 10.
	MaxOpenConns int

	// MaxIdleConns caps idle connections. Default: 5.
	MaxIdleConns int

	// BusyTimeout is how long a writer waits on a locked database.
	// Default: 5 seconds.
	BusyTimeout time.Duration
}

// DefaultConfig returns the default SQLite configuration.
func DefaultConfig() Config {
	return Config{
		Path:         "data/audit.db",
		MaxOpenConns: 10,
		MaxIdleConns: 5,
		BusyTimeout:  5 * time.Second,
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS audit_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	log_id TEXT NOT NULL UNIQUE,
	request_id TEXT NOT NULL,
	agent_id TEXT NOT NULL,
	action_type TEXT NOT NULL,
	target_resource TEXT NOT NULL,
	decision TEXT NOT NULL,
	risk_score REAL NOT NULL,
	risk_level TEXT NOT NULL,
	matched_rules TEXT NOT NULL DEFAULT '[]',
	pii_detected INTEGER NOT NULL DEFAULT 0,
	pii_fields TEXT NOT NULL DEFAULT '[]',
	gateway_mode TEXT NOT NULL,
	sanitized_request TEXT NOT NULL DEFAULT '{}',
	response_status TEXT NOT NULL,
	processing_time_ms REAL NOT NULL,
	client_ip TEXT,
	user_agent TEXT,
	timestamp DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS ix_audit_agent_timestamp ON audit_logs (agent_id, timestamp);
CREATE INDEX IF NOT EXISTS ix_audit_decision_timestamp ON audit_logs (decision, timestamp);
CREATE INDEX IF NOT EXISTS ix_audit_risk_level_timestamp ON audit_logs (risk_level, timestamp);
`

// AuditStore implements audit.Store and audit.QueryStore on SQLite.
type AuditStore struct {
	db     *sql.DB
	config Config
}

// NewAuditStore opens (or creates) the database, applies pragmas, and
// migrates the schema.
func NewAuditStore(config Config) (*AuditStore, error) {
	if config.MaxOpenConns <= 0 {
		config.MaxOpenConns = DefaultConfig().MaxOpenConns
	}
	if config.MaxIdleConns <= 0 {
		config.MaxIdleConns = DefaultConfig().MaxIdleConns
	}
	if config.BusyTimeout <= 0 {
		config.BusyTimeout = DefaultConfig().BusyTimeout
	}

	db, err := sql.Open("sqlite", config.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}

	// An in-memory database is per-connection; a second connection would
	// see its own empty database.
	if config.Path == ":memory:" {
		config.MaxOpenConns = 1
		config.MaxIdleConns = 1
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)

	s := &AuditStore{db: db, config: config}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *AuditStore) initialize() error {
	if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", s.config.BusyTimeout.Milliseconds())); err != nil {
		return fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create audit schema: %w", err)
	}
	return nil
}

const insertRecord = `
INSERT INTO audit_logs (
	log_id, request_id, agent_id, action_type, target_resource,
	decision, risk_score, risk_level, matched_rules,
	pii_detected, pii_fields, gateway_mode, sanitized_request,
	response_status, processing_time_ms, client_ip, user_agent, timestamp
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

// Append writes the records in one transaction.
func (s *AuditStore) Append(ctx context.Context, records ...audit.Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin audit transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, insertRecord)
	if err != nil {
		return fmt.Errorf("failed to prepare audit insert: %w", err)
	}
	defer stmt.Close()

	for i := range records {
		r := &records[i]

		matchedRules, err := json.Marshal(r.MatchedRules)
		if err != nil {
			return fmt.Errorf("failed to marshal matched rules for %q: %w", r.LogID, err)
		}
		piiFields, err := json.Marshal(r.PIIFields)
		if err != nil {
			return fmt.Errorf("failed to marshal pii fields for %q: %w", r.LogID, err)
		}
		sanitized, err := json.Marshal(r.SanitizedRequest)
		if err != nil {
			return fmt.Errorf("failed to marshal sanitized request for %q: %w", r.LogID, err)
		}

		if _, err := stmt.ExecContext(ctx,
			r.LogID, r.RequestID, r.AgentID, string(r.ActionType), r.TargetResource,
			string(r.Decision), r.RiskScore, string(r.RiskLevel), string(matchedRules),
			r.PIIDetected, string(piiFields), r.GatewayMode, string(sanitized),
			r.ResponseStatus, r.ProcessingTimeMS, nullable(r.ClientIP), nullable(r.UserAgent),
			r.Timestamp.UTC(),
		); err != nil {
			return fmt.Errorf("failed to insert audit record %q: %w", r.LogID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit audit transaction: %w", err)
	}
	return nil
}

// Flush is a no-op; Append commits synchronously.
func (s *AuditStore) Flush(ctx context.Context) error {
	return nil
}

// Close closes the database.
func (s *AuditStore) Close() error {
	return s.db.Close()
}

// Ping reports backend health for the readiness probe.
func (s *AuditStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const selectRecord = `
SELECT log_id, request_id, agent_id, action_type, target_resource,
	decision, risk_score, risk_level, matched_rules,
	pii_detected, pii_fields, gateway_mode, sanitized_request,
	response_status, processing_time_ms, client_ip, user_agent, timestamp
FROM audit_logs
`

// Query returns matching records, newest first.
func (s *AuditStore) Query(ctx context.Context, filter audit.Filter) ([]audit.Record, error) {
	filter = filter.Normalize()

	where, args := buildWhere(filter)
	query := selectRecord + where + " ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer rows.Close()

	records := []audit.Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit records: %w", err)
	}
	return records, nil
}

// Stats aggregates per-decision counts and averages, plus count-weighted
// overall averages.
func (s *AuditStore) Stats(ctx context.Context) (*audit.Stats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT decision, COUNT(*), AVG(processing_time_ms), AVG(risk_score)
		FROM audit_logs
		GROUP BY decision
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit stats: %w", err)
	}
	defer rows.Close()

	stats := &audit.Stats{ByDecision: make(map[string]audit.DecisionStats)}
	var latencySum, riskSum float64
	for rows.Next() {
		var decision string
		var ds audit.DecisionStats
		if err := rows.Scan(&decision, &ds.Count, &ds.AvgLatencyMS, &ds.AvgRiskScore); err != nil {
			return nil, fmt.Errorf("failed to scan audit stats: %w", err)
		}
		stats.ByDecision[decision] = ds
		stats.TotalRequests += ds.Count
		latencySum += ds.AvgLatencyMS * float64(ds.Count)
		riskSum += ds.AvgRiskScore * float64(ds.Count)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit stats: %w", err)
	}

	if stats.TotalRequests > 0 {
		stats.AvgLatencyMS = latencySum / float64(stats.TotalRequests)
		stats.AvgRiskScore = riskSum / float64(stats.TotalRequests)
	}
	return stats, nil
}

// buildWhere translates the filter into a WHERE clause. String matching on
// enumerated columns is case-insensitive, mirroring the other backends.
func buildWhere(filter audit.Filter) (string, []any) {
	var conditions []string
	var args []any

	if filter.AgentID != "" {
		conditions = append(conditions, "agent_id = ?")
		args = append(args, filter.AgentID)
	}
	if filter.ActionType != "" {
		conditions = append(conditions, "action_type = ? COLLATE NOCASE")
		args = append(args, filter.ActionType)
	}
	if filter.Decision != "" {
		conditions = append(conditions, "decision = ? COLLATE NOCASE")
		args = append(args, filter.Decision)
	}
	if filter.RiskLevel != "" {
		conditions = append(conditions, "risk_level = ? COLLATE NOCASE")
		args = append(args, filter.RiskLevel)
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func scanRecord(rows *sql.Rows) (audit.Record, error) {
	var r audit.Record
	var actionType, decision, riskLevel string
	var matchedRules, piiFields, sanitized string
	var clientIP, userAgent sql.NullString

	if err := rows.Scan(
		&r.LogID, &r.RequestID, &r.AgentID, &actionType, &r.TargetResource,
		&decision, &r.RiskScore, &riskLevel, &matchedRules,
		&r.PIIDetected, &piiFields, &r.GatewayMode, &sanitized,
		&r.ResponseStatus, &r.ProcessingTimeMS, &clientIP, &userAgent, &r.Timestamp,
	); err != nil {
		return audit.Record{}, err
	}

	r.ActionType = policy.ActionType(actionType)
	r.Decision = policy.DecisionType(decision)
	r.RiskLevel = policy.RiskLevel(riskLevel)
	r.ClientIP = clientIP.String
	r.UserAgent = userAgent.String

	if err := json.Unmarshal([]byte(matchedRules), &r.MatchedRules); err != nil {
		return audit.Record{}, fmt.Errorf("bad matched_rules for %q: %w", r.LogID, err)
	}
	if err := json.Unmarshal([]byte(piiFields), &r.PIIFields); err != nil {
		return audit.Record{}, fmt.Errorf("bad pii_fields for %q: %w", r.LogID, err)
	}
	if err := json.Unmarshal([]byte(sanitized), &r.SanitizedRequest); err != nil {
		return audit.Record{}, fmt.Errorf("bad sanitized_request for %q: %w", r.LogID, err)
	}
	return r, nil
}

// nullable maps an empty string to NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Compile-time interface verification.
var (
	_ audit.Store      = (*AuditStore)(nil)
	_ audit.QueryStore = (*AuditStore)(nil)
)
