// Package storage persists memories, threat records, and pattern definitions
// in a single SQLite database. Natural-key uniqueness for active memories is
// enforced by a partial unique index, so concurrent upserts cannot race into
// duplicates.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
	"go.uber.org/zap"
)

// Store is the SQLite-backed persistence layer. It implements the memory
// backend and the threat record store; pattern stores hang off it via
// ThreatPatterns and LearningPatterns.
type Store struct {
	db     *sql.DB
	logger *zap.Logger

	// ThreatPatterns and LearningPatterns persist custom pattern
	// definitions for their respective engines.
	ThreatPatterns   *ThreatPatternStore
	LearningPatterns *LearningPatternStore
}

// Open opens or creates the database at path and applies the schema.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	s.ThreatPatterns = &ThreatPatternStore{db: db, logger: logger}
	s.LearningPatterns = &LearningPatternStore{db: db, logger: logger}

	logger.Info("storage opened", zap.String("path", path))
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memories (
		id            TEXT PRIMARY KEY,
		account_id    TEXT NOT NULL,
		owner_id      TEXT NOT NULL,
		memory_type   TEXT NOT NULL,
		key           TEXT NOT NULL,
		value         TEXT NOT NULL DEFAULT '{}',
		embedding     TEXT,
		confidence    REAL NOT NULL DEFAULT 1.0,
		importance    REAL NOT NULL DEFAULT 0.5,
		tags          TEXT,
		access_count  INTEGER NOT NULL DEFAULT 0,
		last_accessed TEXT NOT NULL,
		version       INTEGER NOT NULL DEFAULT 1,
		expires_at    TEXT,
		is_active     INTEGER NOT NULL DEFAULT 1,
		created_at    TEXT NOT NULL,
		updated_at    TEXT NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_memories_natural_key
		ON memories(owner_id, memory_type, key) WHERE is_active = 1;
	CREATE INDEX IF NOT EXISTS idx_memories_account ON memories(account_id, is_active);
	CREATE INDEX IF NOT EXISTS idx_memories_expires ON memories(expires_at);

	CREATE TABLE IF NOT EXISTS threat_records (
		id               TEXT PRIMARY KEY,
		account_id       TEXT NOT NULL,
		conversation_id  TEXT,
		threat_type      TEXT NOT NULL,
		severity         TEXT NOT NULL,
		confidence       REAL NOT NULL,
		matched_patterns TEXT,
		trigger_text     TEXT,
		status           TEXT NOT NULL,
		created_at       TEXT NOT NULL,
		updated_at       TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_threat_records_account
		ON threat_records(account_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS threat_patterns (
		id           TEXT PRIMARY KEY,
		account_id   TEXT NOT NULL,
		name         TEXT NOT NULL,
		pattern_type TEXT NOT NULL,
		regex        TEXT,
		keywords     TEXT,
		threat_type  TEXT NOT NULL,
		severity     TEXT NOT NULL,
		active       INTEGER NOT NULL DEFAULT 1,
		created_at   TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS learning_patterns (
		id         TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		name       TEXT NOT NULL,
		conditions TEXT NOT NULL,
		template   TEXT NOT NULL,
		variables  TEXT,
		active     INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pattern_metrics (
		pattern_id      TEXT PRIMARY KEY,
		total_uses      INTEGER NOT NULL DEFAULT 0,
		successful_uses INTEGER NOT NULL DEFAULT 0,
		success_rate    REAL NOT NULL DEFAULT 0,
		outcomes        TEXT,
		updated_at      TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
