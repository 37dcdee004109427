package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/facemydealer/dealerbrain/internal/threat"
)

// SaveRecord inserts a new threat record.
func (s *Store) SaveRecord(ctx context.Context, r *threat.Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO threat_records (id, account_id, conversation_id, threat_type, severity,
		 confidence, matched_patterns, trigger_text, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.AccountID, r.ConversationID, string(r.ThreatType), string(r.Severity),
		r.Confidence, marshalOrEmpty(r.MatchedPatterns, ""), r.TriggerText, string(r.Status),
		r.CreatedAt.UTC().Format(timeFormat), r.UpdatedAt.UTC().Format(timeFormat))
	return err
}

// GetRecord returns the record by id, or nil when absent.
func (s *Store) GetRecord(ctx context.Context, id string) (*threat.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, account_id, conversation_id, threat_type, severity, confidence,
		 matched_patterns, trigger_text, status, created_at, updated_at
		 FROM threat_records WHERE id = ?`, id)

	r, err := s.scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

// UpdateRecordStatus sets the record's status and updated_at.
func (s *Store) UpdateRecordStatus(ctx context.Context, id string, status threat.Status, updatedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE threat_records SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), updatedAt.UTC().Format(timeFormat), id)
	return err
}

// ListRecords returns the account's threat records, newest first.
func (s *Store) ListRecords(ctx context.Context, accountID string, limit int) ([]*threat.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, account_id, conversation_id, threat_type, severity, confidence,
		 matched_patterns, trigger_text, status, created_at, updated_at
		 FROM threat_records WHERE account_id = ?
		 ORDER BY created_at DESC LIMIT ?`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*threat.Record
	for rows.Next() {
		r, err := s.scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// scanRecord tolerates malformed columns, logging the damage and returning
// the rest of the row.
func (s *Store) scanRecord(row scanner) (*threat.Record, error) {
	var r threat.Record
	var threatType, severity, status, createdAt, updatedAt string
	var matchedPatterns sql.NullString

	err := row.Scan(&r.ID, &r.AccountID, &r.ConversationID, &threatType, &severity,
		&r.Confidence, &matchedPatterns, &r.TriggerText, &status, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	r.ThreatType = threat.ThreatType(threatType)
	r.Severity = threat.Severity(severity)
	r.Status = threat.Status(status)
	if matchedPatterns.Valid {
		if err := json.Unmarshal([]byte(matchedPatterns.String), &r.MatchedPatterns); err != nil {
			s.logger.Warn("malformed threat matched_patterns column", zap.String("id", r.ID), zap.Error(err))
		}
	}
	if r.CreatedAt, err = time.Parse(timeFormat, createdAt); err != nil {
		s.logger.Warn("malformed threat created_at column", zap.String("id", r.ID), zap.Error(err))
	}
	if r.UpdatedAt, err = time.Parse(timeFormat, updatedAt); err != nil {
		s.logger.Warn("malformed threat updated_at column", zap.String("id", r.ID), zap.Error(err))
	}
	return &r, nil
}

// ThreatPatternStore persists tenant custom threat patterns.
type ThreatPatternStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// SavePattern upserts a custom pattern definition.
func (s *ThreatPatternStore) SavePattern(ctx context.Context, p *threat.Pattern) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO threat_patterns (id, account_id, name, pattern_type, regex, keywords,
		 threat_type, severity, active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		 name = excluded.name, pattern_type = excluded.pattern_type,
		 regex = excluded.regex, keywords = excluded.keywords,
		 threat_type = excluded.threat_type, severity = excluded.severity,
		 active = excluded.active`,
		p.ID, p.AccountID, p.Name, string(p.Type), nullable(p.Regex),
		nullable(marshalOrEmpty(p.Keywords, "")), string(p.ThreatType), string(p.Severity),
		boolInt(p.Active), p.CreatedAt.UTC().Format(timeFormat))
	return err
}

// ListPatterns returns every stored custom pattern.
func (s *ThreatPatternStore) ListPatterns(ctx context.Context) ([]*threat.Pattern, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, account_id, name, pattern_type, regex, keywords, threat_type,
		 severity, active, created_at FROM threat_patterns`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var patterns []*threat.Pattern
	for rows.Next() {
		var p threat.Pattern
		var patternType, threatType, severity, createdAt string
		var regex, keywords sql.NullString
		var active int

		err := rows.Scan(&p.ID, &p.AccountID, &p.Name, &patternType, &regex, &keywords,
			&threatType, &severity, &active, &createdAt)
		if err != nil {
			return nil, err
		}

		p.Type = threat.PatternType(patternType)
		p.ThreatType = threat.ThreatType(threatType)
		p.Severity = threat.Severity(severity)
		p.Active = active == 1
		if regex.Valid {
			p.Regex = regex.String
		}
		if keywords.Valid {
			if err := json.Unmarshal([]byte(keywords.String), &p.Keywords); err != nil {
				s.logger.Warn("malformed threat pattern keywords column", zap.String("id", p.ID), zap.Error(err))
			}
		}
		p.CreatedAt, _ = time.Parse(timeFormat, createdAt)
		patterns = append(patterns, &p)
	}
	return patterns, rows.Err()
}

// DeletePattern removes the stored pattern. Idempotent.
func (s *ThreatPatternStore) DeletePattern(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM threat_patterns WHERE id = ?`, id)
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
