// Package store persists the append-only incident log and the quarantine
// inventory in SQLite. All appends funnel through a single synchronized
// writer so concurrent monitors never interleave partial records.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hostsentry/hostsentry/internal/signature"
)

// Store is the SQLite-backed incident and quarantine store.
type Store struct {
	db *sql.DB

	// appendMu serializes incident appends so the log preserves a total
	// order over writes and IDs and timestamps stay monotonic.
	appendMu  sync.Mutex
	lastID    int64
	lastStamp time.Time
}

// SystemInfo captures host facts at detection time.
type SystemInfo struct {
	Hostname string `json:"hostname"`
	User     string `json:"user"`
	PID      int    `json:"pid"`
}

// Incident is a confirmed detection persisted to the audit log. Records are
// append-only; retention cleanup is the only deletion path.
type Incident struct {
	ID          string             `json:"incident_id"`
	Timestamp   time.Time          `json:"timestamp"`
	Level       signature.Severity `json:"level"`
	Component   string             `json:"component"`
	Message     string             `json:"message"`
	Target      string             `json:"target,omitempty"`
	RuleIDs     []string           `json:"rule_ids,omitempty"`
	ActionTaken string             `json:"action_taken,omitempty"`
	Downgraded  bool               `json:"downgraded,omitempty"`
	SystemInfo  SystemInfo         `json:"system_info"`
	NetworkInfo map[string]string  `json:"network_info,omitempty"`
}

// QuarantineRecord describes one quarantined artifact. Created exactly once
// per artifact.
type QuarantineRecord struct {
	ID             string    `json:"id"`
	OriginalPath   string    `json:"original_path"`
	QuarantinePath string    `json:"quarantine_path"`
	Timestamp      time.Time `json:"timestamp"`
	Reason         string    `json:"reason"`
	Automated      bool      `json:"automated"`
}

// NewStore opens (or creates) the SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open(sqliteDriver, dbPath+"?_journal_mode=WAL&_foreign_keys=off")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}

	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS incidents (
			id TEXT PRIMARY KEY,
			timestamp INTEGER NOT NULL,
			level TEXT NOT NULL,
			component TEXT NOT NULL,
			message TEXT NOT NULL,
			target TEXT,
			rule_ids TEXT,
			action_taken TEXT,
			downgraded INTEGER DEFAULT 0,
			system_info TEXT,
			network_info TEXT,
			created_at INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS quarantine_records (
			id TEXT PRIMARY KEY,
			original_path TEXT NOT NULL,
			quarantine_path TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			reason TEXT,
			automated INTEGER DEFAULT 0,
			created_at INTEGER NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_incidents_timestamp ON incidents(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_incidents_level ON incidents(level)`,
		`CREATE INDEX IF NOT EXISTS idx_incidents_component ON incidents(component)`,
		`CREATE INDEX IF NOT EXISTS idx_quarantine_original ON quarantine_records(original_path)`,
		`CREATE INDEX IF NOT EXISTS idx_quarantine_timestamp ON quarantine_records(timestamp)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}
	return nil
}

// AppendIncident assigns the incident a monotonic time-derived ID and
// persists it. Appends are serialized; arrival order is the log order.
func (s *Store) AppendIncident(ctx context.Context, inc Incident) (string, error) {
	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	now := time.Now()
	if inc.Timestamp.IsZero() {
		inc.Timestamp = now
	}

	// Monitors stamp observation time before sending, so a preempted
	// goroutine can arrive after a later observation. Clamp so timestamps
	// never regress in append order.
	if inc.Timestamp.Before(s.lastStamp) {
		inc.Timestamp = s.lastStamp
	}
	s.lastStamp = inc.Timestamp

	// UnixNano is already unique in practice; guard against clock
	// granularity collisions so IDs stay strictly increasing.
	id := now.UnixNano()
	if id <= s.lastID {
		id = s.lastID + 1
	}
	s.lastID = id
	inc.ID = fmt.Sprintf("inc_%d", id)

	ruleIDs, err := json.Marshal(inc.RuleIDs)
	if err != nil {
		return "", fmt.Errorf("failed to marshal rule ids: %w", err)
	}
	sysInfo, err := json.Marshal(inc.SystemInfo)
	if err != nil {
		return "", fmt.Errorf("failed to marshal system info: %w", err)
	}
	var netInfo []byte
	if inc.NetworkInfo != nil {
		netInfo, err = json.Marshal(inc.NetworkInfo)
		if err != nil {
			return "", fmt.Errorf("failed to marshal network info: %w", err)
		}
	}

	query := `INSERT INTO incidents (
		id, timestamp, level, component, message, target, rule_ids,
		action_taken, downgraded, system_info, network_info, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		inc.ID, inc.Timestamp.UnixNano(), string(inc.Level), inc.Component,
		inc.Message, inc.Target, string(ruleIDs), inc.ActionTaken,
		boolToInt(inc.Downgraded), string(sysInfo), string(netInfo), now.Unix(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to append incident: %w", err)
	}

	return inc.ID, nil
}

// RecentIncidents returns the newest incidents, most recent first.
func (s *Store) RecentIncidents(ctx context.Context, limit int) ([]Incident, error) {
	query := `SELECT id, timestamp, level, component, message, target, rule_ids,
		action_taken, downgraded, system_info, network_info
		FROM incidents ORDER BY timestamp DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query incidents: %w", err)
	}
	defer rows.Close()

	return s.scanIncidents(rows)
}

// IncidentsSince returns incidents observed at or after the given time, in
// append order.
func (s *Store) IncidentsSince(ctx context.Context, since time.Time, limit int) ([]Incident, error) {
	query := `SELECT id, timestamp, level, component, message, target, rule_ids,
		action_taken, downgraded, system_info, network_info
		FROM incidents WHERE timestamp >= ? ORDER BY timestamp ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, since.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to query incidents since %s: %w", since, err)
	}
	defer rows.Close()

	return s.scanIncidents(rows)
}

// CountBySeverity aggregates incident counts per severity level.
func (s *Store) CountBySeverity(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT level, COUNT(1) FROM incidents GROUP BY level`)
	if err != nil {
		return nil, fmt.Errorf("failed to count incidents by severity: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var level string
		var n int
		if err := rows.Scan(&level, &n); err != nil {
			return nil, fmt.Errorf("failed to scan severity count: %w", err)
		}
		counts[level] = n
	}
	return counts, rows.Err()
}

// CountByComponent aggregates incident counts per emitting component.
func (s *Store) CountByComponent(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT component, COUNT(1) FROM incidents GROUP BY component`)
	if err != nil {
		return nil, fmt.Errorf("failed to count incidents by component: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var component string
		var n int
		if err := rows.Scan(&component, &n); err != nil {
			return nil, fmt.Errorf("failed to scan component count: %w", err)
		}
		counts[component] = n
	}
	return counts, rows.Err()
}

// AddQuarantineRecord persists a quarantine record. The response engine
// guarantees one record per quarantined artifact; FindQuarantineByOriginal
// supports that idempotence check.
func (s *Store) AddQuarantineRecord(ctx context.Context, rec QuarantineRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = fmt.Sprintf("quar_%d", time.Now().UnixNano())
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	query := `INSERT INTO quarantine_records (
		id, original_path, quarantine_path, timestamp, reason, automated, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.OriginalPath, rec.QuarantinePath, rec.Timestamp.Unix(),
		rec.Reason, boolToInt(rec.Automated), time.Now().Unix(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to save quarantine record: %w", err)
	}
	return rec.ID, nil
}

// FindQuarantineByOriginal looks up an existing record for an original path.
func (s *Store) FindQuarantineByOriginal(ctx context.Context, originalPath string) (*QuarantineRecord, error) {
	query := `SELECT id, original_path, quarantine_path, timestamp, reason, automated
		FROM quarantine_records WHERE original_path = ? ORDER BY timestamp DESC LIMIT 1`

	var rec QuarantineRecord
	var ts int64
	var automated int
	err := s.db.QueryRowContext(ctx, query, originalPath).Scan(
		&rec.ID, &rec.OriginalPath, &rec.QuarantinePath, &ts, &rec.Reason, &automated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up quarantine record: %w", err)
	}
	rec.Timestamp = time.Unix(ts, 0)
	rec.Automated = automated != 0
	return &rec, nil
}

// ListQuarantine returns the full quarantine inventory, newest first.
func (s *Store) ListQuarantine(ctx context.Context) ([]QuarantineRecord, error) {
	query := `SELECT id, original_path, quarantine_path, timestamp, reason, automated
		FROM quarantine_records ORDER BY timestamp DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query quarantine records: %w", err)
	}
	defer rows.Close()

	var records []QuarantineRecord
	for rows.Next() {
		var rec QuarantineRecord
		var ts int64
		var automated int
		if err := rows.Scan(&rec.ID, &rec.OriginalPath, &rec.QuarantinePath, &ts, &rec.Reason, &automated); err != nil {
			return nil, fmt.Errorf("failed to scan quarantine record: %w", err)
		}
		rec.Timestamp = time.Unix(ts, 0)
		rec.Automated = automated != 0
		records = append(records, rec)
	}
	return records, rows.Err()
}

// PurgeOlderThan destructively removes incidents and quarantine metadata
// older than the retention window. Returns counts so the caller can log the
// purge.
func (s *Store) PurgeOlderThan(ctx context.Context, retention time.Duration) (incidents, quarantined int64, err error) {
	cutoff := time.Now().Add(-retention)

	res, err := s.db.ExecContext(ctx, `DELETE FROM incidents WHERE timestamp < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, 0, fmt.Errorf("failed to purge incidents: %w", err)
	}
	incidents, _ = res.RowsAffected()

	res, err = s.db.ExecContext(ctx, `DELETE FROM quarantine_records WHERE timestamp < ?`, cutoff.Unix())
	if err != nil {
		return incidents, 0, fmt.Errorf("failed to purge quarantine records: %w", err)
	}
	quarantined, _ = res.RowsAffected()

	return incidents, quarantined, nil
}

func (s *Store) scanIncidents(rows *sql.Rows) ([]Incident, error) {
	var incidents []Incident
	for rows.Next() {
		var inc Incident
		var timestamp int64
		var level string
		var target, ruleIDs, actionTaken, sysInfo, netInfo sql.NullString
		var downgraded int

		err := rows.Scan(&inc.ID, &timestamp, &level, &inc.Component, &inc.Message,
			&target, &ruleIDs, &actionTaken, &downgraded, &sysInfo, &netInfo)
		if err != nil {
			return nil, fmt.Errorf("failed to scan incident: %w", err)
		}

		inc.Timestamp = time.Unix(0, timestamp)
		inc.Level = signature.Severity(level)
		inc.Downgraded = downgraded != 0
		if target.Valid {
			inc.Target = target.String
		}
		if actionTaken.Valid {
			inc.ActionTaken = actionTaken.String
		}
		if ruleIDs.Valid && strings.TrimSpace(ruleIDs.String) != "" {
			if err := json.Unmarshal([]byte(ruleIDs.String), &inc.RuleIDs); err != nil {
				inc.RuleIDs = []string{ruleIDs.String}
			}
		}
		if sysInfo.Valid && sysInfo.String != "" {
			_ = json.Unmarshal([]byte(sysInfo.String), &inc.SystemInfo)
		}
		if netInfo.Valid && netInfo.String != "" {
			_ = json.Unmarshal([]byte(netInfo.String), &inc.NetworkInfo)
		}

		incidents = append(incidents, inc)
	}
	return incidents, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
