package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/facemydealer/dealerbrain/internal/learning"
)

// LearningPatternStore persists tenant custom learning patterns and
// per-pattern success metrics. Metrics rows exist for built-in patterns too,
// keyed by the built-in id.
type LearningPatternStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// SavePattern upserts a custom pattern definition.
func (s *LearningPatternStore) SavePattern(ctx context.Context, p *learning.Pattern) error {
	conditions, err := json.Marshal(p.Conditions)
	if err != nil {
		return fmt.Errorf("serializing conditions: %w", err)
	}
	variables := ""
	if len(p.Variables) > 0 {
		b, err := json.Marshal(p.Variables)
		if err != nil {
			return fmt.Errorf("serializing variables: %w", err)
		}
		variables = string(b)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO learning_patterns (id, account_id, name, conditions, template,
		 variables, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		 name = excluded.name, conditions = excluded.conditions,
		 template = excluded.template, variables = excluded.variables,
		 active = excluded.active, updated_at = excluded.updated_at`,
		p.ID, p.AccountID, p.Name, string(conditions), p.Template,
		nullable(variables), boolInt(p.Active),
		p.CreatedAt.UTC().Format(timeFormat), p.UpdatedAt.UTC().Format(timeFormat))
	return err
}

// ListPatterns returns every stored custom pattern.
func (s *LearningPatternStore) ListPatterns(ctx context.Context) ([]*learning.Pattern, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, account_id, name, conditions, template, variables, active,
		 created_at, updated_at FROM learning_patterns`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var patterns []*learning.Pattern
	for rows.Next() {
		var p learning.Pattern
		var conditions, createdAt, updatedAt string
		var variables sql.NullString
		var active int

		err := rows.Scan(&p.ID, &p.AccountID, &p.Name, &conditions, &p.Template,
			&variables, &active, &createdAt, &updatedAt)
		if err != nil {
			return nil, err
		}

		if err := json.Unmarshal([]byte(conditions), &p.Conditions); err != nil {
			return nil, fmt.Errorf("parsing conditions for pattern %s: %w", p.ID, err)
		}
		if variables.Valid {
			if err := json.Unmarshal([]byte(variables.String), &p.Variables); err != nil {
				s.logger.Warn("malformed learning pattern variables column", zap.String("id", p.ID), zap.Error(err))
			}
		}
		p.Active = active == 1
		p.CreatedAt, _ = time.Parse(timeFormat, createdAt)
		p.UpdatedAt, _ = time.Parse(timeFormat, updatedAt)
		patterns = append(patterns, &p)
	}
	return patterns, rows.Err()
}

// DeletePattern removes the stored pattern and its metrics. Idempotent.
func (s *LearningPatternStore) DeletePattern(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM learning_patterns WHERE id = ?`, id); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM pattern_metrics WHERE pattern_id = ?`, id)
	return err
}

// SaveMetrics upserts the metrics row for a pattern id.
func (s *LearningPatternStore) SaveMetrics(ctx context.Context, patternID string, m learning.SuccessMetrics) error {
	outcomes := ""
	if len(m.Outcomes) > 0 {
		b, err := json.Marshal(m.Outcomes)
		if err != nil {
			return fmt.Errorf("serializing outcomes: %w", err)
		}
		outcomes = string(b)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pattern_metrics (pattern_id, total_uses, successful_uses,
		 success_rate, outcomes, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(pattern_id) DO UPDATE SET
		 total_uses = excluded.total_uses, successful_uses = excluded.successful_uses,
		 success_rate = excluded.success_rate, outcomes = excluded.outcomes,
		 updated_at = excluded.updated_at`,
		patternID, m.TotalUses, m.SuccessfulUses, m.SuccessRate,
		nullable(outcomes), time.Now().UTC().Format(timeFormat))
	return err
}

// LoadMetrics returns all persisted metrics keyed by pattern id.
func (s *LearningPatternStore) LoadMetrics(ctx context.Context) (map[string]learning.SuccessMetrics, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT pattern_id, total_uses, successful_uses, success_rate, outcomes
		 FROM pattern_metrics`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	metrics := make(map[string]learning.SuccessMetrics)
	for rows.Next() {
		var id string
		var m learning.SuccessMetrics
		var outcomes sql.NullString

		if err := rows.Scan(&id, &m.TotalUses, &m.SuccessfulUses, &m.SuccessRate, &outcomes); err != nil {
			return nil, err
		}
		if outcomes.Valid {
			if err := json.Unmarshal([]byte(outcomes.String), &m.Outcomes); err != nil {
				s.logger.Warn("malformed pattern metrics outcomes column", zap.String("pattern_id", id), zap.Error(err))
			}
		}
		metrics[id] = m
	}
	return metrics, rows.Err()
}
