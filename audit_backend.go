// audit_backend.go: Storage backends for the audit trail
//
// SQLite is the default store; a .jsonl OutputFile selects an append-only
// JSON lines file. If SQLite cannot be opened the logger falls back to JSONL
// next to the requested database.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package timedated

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver registration
)

// DefaultAuditDatabase is used when AuditConfig.OutputFile is empty.
const DefaultAuditDatabase = "/var/lib/timedated/audit.db"

// auditRetentionDays bounds how long events are kept in SQLite.
const auditRetentionDays = 365

// auditBackend persists batches of audit events.
type auditBackend interface {
	Write(events []AuditEvent) error
	Flush() error
	Close() error
	Maintenance() error
	GetStats() (*AuditDatabaseStats, error)
}

// AuditDatabaseStats summarizes the stored audit trail.
type AuditDatabaseStats struct {
	TotalEvents   int64            `json:"total_events"`
	EventsByName  map[string]int64 `json:"events_by_name"`
	EventsByLevel map[string]int64 `json:"events_by_level"`
	DatabaseSize  int64            `json:"database_size_bytes"`
	SchemaVersion int              `json:"schema_version"`
}

// createAuditBackend selects the backend for config.
func createAuditBackend(config AuditConfig) (auditBackend, error) {
	if filepath.Ext(config.OutputFile) == ".jsonl" {
		return newJSONLBackend(config.OutputFile)
	}

	dbPath := config.OutputFile
	if dbPath == "" {
		dbPath = DefaultAuditDatabase
	}

	backend, err := newSQLiteBackend(dbPath)
	if err == nil {
		return backend, nil
	}

	fallback := strings.TrimSuffix(dbPath, filepath.Ext(dbPath)) + ".jsonl"
	jsonlBackend, jsonlErr := newJSONLBackend(fallback)
	if jsonlErr != nil {
		return nil, fmt.Errorf("all audit backends failed - SQLite: %w, JSONL: %v", err, jsonlErr)
	}
	return jsonlBackend, nil
}

// sqliteAuditBackend stores events in a versioned SQLite schema.
type sqliteAuditBackend struct {
	db         *sql.DB
	dbPath     string
	insertStmt *sql.Stmt
	mu         sync.RWMutex
	closed     bool
}

func newSQLiteBackend(dbPath string) (*sqliteAuditBackend, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0750); err != nil {
		return nil, fmt.Errorf("failed to create audit database directory: %w", err)
	}

	// WAL keeps writers from blocking readers of the trail; the busy
	// timeout covers an operator querying the database concurrently.
	db, err := sql.Open("sqlite3", fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_cache_size=1000", dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping audit database: %w", err)
	}

	backend := &sqliteAuditBackend{db: db, dbPath: dbPath}

	if err := backend.ensureSchemaVersion(); err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("failed to initialize audit database schema: %w", err)
	}

	stmt, err := db.Prepare(`
	INSERT INTO audit_events (
		timestamp, level, event, component, target,
		old_value, new_value, caller_uid, caller_pid,
		process_id, process_name, context, checksum
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("failed to prepare audit insert statement: %w", err)
	}
	backend.insertStmt = stmt

	// Retention cleanup is not critical to startup
	_ = backend.Maintenance()

	return backend, nil
}

// ensureSchemaVersion creates or migrates the schema.
//
//   - Version 1: audit_events table
//   - Version 2: lookup indexes by event and by caller
func (s *sqliteAuditBackend) ensureSchemaVersion() error {
	const currentSchemaVersion = 2

	if _, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS schema_info (
		version INTEGER PRIMARY KEY,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("failed to create schema_info table: %w", err)
	}

	var version int
	err := s.db.QueryRow("SELECT version FROM schema_info ORDER BY version DESC LIMIT 1").Scan(&version)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to check schema version: %w", err)
	}
	if version >= currentSchemaVersion {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin migration transaction: %w", err)
	}
	for v := version; v < currentSchemaVersion; v++ {
		var migrateErr error
		switch v {
		case 0:
			migrateErr = migrateAuditToV1(tx)
		case 1:
			migrateErr = migrateAuditToV2(tx)
		default:
			migrateErr = fmt.Errorf("unknown migration path from version %d", v)
		}
		if migrateErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("schema migration from v%d failed: %w", v, migrateErr)
		}
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO schema_info (version, updated_at) VALUES (?, CURRENT_TIMESTAMP)`, currentSchemaVersion); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to update schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration transaction: %w", err)
	}
	return nil
}

func migrateAuditToV1(tx *sql.Tx) error {
	if _, err := tx.Exec(`
	CREATE TABLE IF NOT EXISTS audit_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		level TEXT NOT NULL,
		event TEXT NOT NULL,
		component TEXT NOT NULL,
		target TEXT,
		old_value TEXT,
		new_value TEXT,
		caller_uid INTEGER,
		caller_pid INTEGER,
		process_id INTEGER NOT NULL,
		process_name TEXT NOT NULL,
		context TEXT,
		checksum TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("failed to create audit_events table: %w", err)
	}
	if _, err := tx.Exec("CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_events(timestamp)"); err != nil {
		return fmt.Errorf("failed to create timestamp index: %w", err)
	}
	return nil
}

func migrateAuditToV2(tx *sql.Tx) error {
	for _, indexSQL := range []string{
		"CREATE INDEX IF NOT EXISTS idx_audit_event_time ON audit_events(event, timestamp)",
		"CREATE INDEX IF NOT EXISTS idx_audit_caller ON audit_events(caller_uid, timestamp)",
		"CREATE INDEX IF NOT EXISTS idx_audit_created_at ON audit_events(created_at)",
	} {
		if _, err := tx.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// Write inserts a batch of events in one transaction.
func (s *sqliteAuditBackend) Write(events []AuditEvent) (err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("cannot write to closed SQLite audit backend")
	}
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin audit transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	txStmt := tx.Stmt(s.insertStmt)
	defer func() { _ = txStmt.Close() }()

	for _, event := range events {
		if err = insertAuditEvent(txStmt, event); err != nil {
			return fmt.Errorf("failed to insert audit event: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit audit transaction: %w", err)
	}
	return nil
}

func insertAuditEvent(stmt *sql.Stmt, event AuditEvent) error {
	oldValue, err := jsonField(event.OldValue)
	if err != nil {
		return fmt.Errorf("failed to serialize old_value: %w", err)
	}
	newValue, err := jsonField(event.NewValue)
	if err != nil {
		return fmt.Errorf("failed to serialize new_value: %w", err)
	}
	contextJSON, err := jsonField(event.Context)
	if err != nil {
		return fmt.Errorf("failed to serialize context: %w", err)
	}

	var callerUID sql.NullInt64
	if event.CallerUID != nil {
		callerUID = sql.NullInt64{Int64: int64(*event.CallerUID), Valid: true}
	}

	_, err = stmt.Exec(
		event.Timestamp.Format(time.RFC3339Nano),
		event.Level.String(),
		event.Event,
		event.Component,
		event.Target,
		oldValue,
		newValue,
		callerUID,
		event.CallerPID,
		event.ProcessID,
		event.ProcessName,
		contextJSON,
		event.Checksum,
	)
	return err
}

func jsonField(v interface{}) (string, error) {
	if v == nil {
		return "", nil
	}
	if m, ok := v.(map[string]interface{}); ok && m == nil {
		return "", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Flush checkpoints the WAL.
func (s *sqliteAuditBackend) Flush() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil
	}
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("failed to flush SQLite audit backend: %w", err)
	}
	return nil
}

// Maintenance drops events past retention and refreshes planner statistics.
func (s *sqliteAuditBackend) Maintenance() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil
	}

	if _, err := s.db.Exec(`DELETE FROM audit_events WHERE created_at < datetime('now', '-' || ? || ' days')`, auditRetentionDays); err != nil {
		return fmt.Errorf("failed to clean up old audit events: %w", err)
	}
	for _, task := range []string{"PRAGMA optimize", "PRAGMA wal_checkpoint(FULL)"} {
		_, _ = s.db.Exec(task) // optimizations are advisory
	}
	return nil
}

// GetStats counts stored events.
func (s *sqliteAuditBackend) GetStats() (*AuditDatabaseStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("SQLite audit backend is closed")
	}

	stats := &AuditDatabaseStats{
		EventsByName:  make(map[string]int64),
		EventsByLevel: make(map[string]int64),
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM audit_events").Scan(&stats.TotalEvents); err != nil {
		return nil, fmt.Errorf("failed to count audit events: %w", err)
	}
	if err := s.groupCount("event", stats.EventsByName); err != nil {
		return nil, err
	}
	if err := s.groupCount("level", stats.EventsByLevel); err != nil {
		return nil, err
	}
	err := s.db.QueryRow("SELECT version FROM schema_info ORDER BY version DESC LIMIT 1").Scan(&stats.SchemaVersion)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to get schema version: %w", err)
	}
	if info, err := os.Stat(s.dbPath); err == nil {
		stats.DatabaseSize = info.Size()
	}
	return stats, nil
}

// groupCount fills into with COUNT(*) grouped by column, which is one of
// the fixed column names above.
func (s *sqliteAuditBackend) groupCount(column string, into map[string]int64) error {
	rows, err := s.db.Query("SELECT " + column + ", COUNT(*) FROM audit_events GROUP BY " + column) // #nosec G202 -- column is a constant
	if err != nil {
		return fmt.Errorf("failed to group audit events by %s: %w", column, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return fmt.Errorf("failed to scan audit stats: %w", err)
		}
		into[key] = count
	}
	return rows.Err()
}

// Close checkpoints and closes the database. Safe to call more than once.
func (s *sqliteAuditBackend) Close() error {
	if err := s.Flush(); err != nil {
		_ = err // the connection is closed regardless
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []string
	if s.insertStmt != nil {
		if err := s.insertStmt.Close(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing SQLite audit backend: %s", strings.Join(errs, "; "))
	}
	return nil
}

// jsonlAuditBackend appends one JSON object per line.
type jsonlAuditBackend struct {
	file   *os.File
	path   string
	mu     sync.Mutex
	closed bool
	count  map[string]int64
	levels map[string]int64
}

func newJSONLBackend(path string) (*jsonlAuditBackend, error) {
	if path == "" {
		return nil, fmt.Errorf("JSONL backend requires an output file")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create JSONL audit log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600) // #nosec G304 -- configured audit path
	if err != nil {
		return nil, fmt.Errorf("failed to open JSONL audit log file: %w", err)
	}
	return &jsonlAuditBackend{
		file:   file,
		path:   path,
		count:  make(map[string]int64),
		levels: make(map[string]int64),
	}, nil
}

func (j *jsonlAuditBackend) Write(events []AuditEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return fmt.Errorf("cannot write to closed JSONL audit backend")
	}

	for _, event := range events {
		data, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("failed to serialize audit event: %w", err)
		}
		if _, err := j.file.Write(append(data, '\n')); err != nil {
			return fmt.Errorf("failed to write audit event to JSONL: %w", err)
		}
		j.count[event.Event]++
		j.levels[event.Level.String()]++
	}
	return nil
}

func (j *jsonlAuditBackend) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync JSONL audit file: %w", err)
	}
	return nil
}

func (j *jsonlAuditBackend) Maintenance() error {
	return nil
}

// GetStats reports events written by this process and the file size.
func (j *jsonlAuditBackend) GetStats() (*AuditDatabaseStats, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	stats := &AuditDatabaseStats{
		EventsByName:  make(map[string]int64, len(j.count)),
		EventsByLevel: make(map[string]int64, len(j.levels)),
		SchemaVersion: 1,
	}
	for name, n := range j.count {
		stats.EventsByName[name] = n
		stats.TotalEvents += n
	}
	for level, n := range j.levels {
		stats.EventsByLevel[level] = n
	}
	if info, err := os.Stat(j.path); err == nil {
		stats.DatabaseSize = info.Size()
	}
	return stats, nil
}

func (j *jsonlAuditBackend) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	return j.file.Close()
}
