package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/facemydealer/dealerbrain/internal/memory"
)

// timeFormat preserves sub-second ordering across round-trips.
const timeFormat = time.RFC3339Nano

const memoryColumns = `id, account_id, owner_id, memory_type, key, value, embedding,
	confidence, importance, tags, access_count, last_accessed, version,
	expires_at, is_active, created_at, updated_at`

// UpsertEntry creates or replaces the active entry at its natural key. On
// replace the row keeps its id, creation time, and access tracking, and its
// version increments by one.
func (s *Store) UpsertEntry(ctx context.Context, e *memory.Entry) (string, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var existingID string
	var existingVersion int
	err = tx.QueryRowContext(ctx,
		`SELECT id, version FROM memories
		 WHERE owner_id = ? AND memory_type = ? AND key = ? AND is_active = 1`,
		e.OwnerID, string(e.Type), e.Key).Scan(&existingID, &existingVersion)

	value := marshalOrEmpty(e.Value, "{}")
	embedding := marshalOrEmpty(e.Embedding, "")
	tags := marshalOrEmpty(e.Tags, "")
	var expiresAt *string
	if e.ExpiresAt != nil {
		v := e.ExpiresAt.UTC().Format(timeFormat)
		expiresAt = &v
	}

	switch {
	case err == nil:
		e.ID = existingID
		e.Version = existingVersion + 1
		_, err = tx.ExecContext(ctx,
			`UPDATE memories SET account_id = ?, value = ?, embedding = ?, confidence = ?,
			 importance = ?, tags = ?, version = ?, expires_at = ?, updated_at = ?
			 WHERE id = ?`,
			e.AccountID, value, nullable(embedding), e.Confidence,
			e.Importance, nullable(tags), e.Version, expiresAt, now.Format(timeFormat),
			existingID)
		if err != nil {
			return "", fmt.Errorf("updating memory row: %w", err)
		}

	case errors.Is(err, sql.ErrNoRows):
		e.ID = uuid.NewString()
		e.Version = 1
		e.CreatedAt = now
		e.LastAccessed = now
		_, err = tx.ExecContext(ctx,
			`INSERT INTO memories (`+memoryColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, 1, ?, 1, ?, ?)`,
			e.ID, e.AccountID, e.OwnerID, string(e.Type), e.Key, value, nullable(embedding),
			e.Confidence, e.Importance, nullable(tags), now.Format(timeFormat),
			expiresAt, now.Format(timeFormat), now.Format(timeFormat))
		if err != nil {
			return "", fmt.Errorf("inserting memory row: %w", err)
		}

	default:
		return "", fmt.Errorf("looking up existing memory: %w", err)
	}

	e.UpdatedAt = now
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return e.ID, nil
}

// GetEntry returns the active entry at the natural key, or nil when absent.
func (s *Store) GetEntry(ctx context.Context, ownerID string, typ memory.Type, key string) (*memory.Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+memoryColumns+` FROM memories
		 WHERE owner_id = ? AND memory_type = ? AND key = ? AND is_active = 1`,
		ownerID, string(typ), key)

	e, err := s.scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

// TouchEntry increments access_count and sets last_accessed.
func (s *Store) TouchEntry(ctx context.Context, id string, accessedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE memories SET access_count = access_count + 1, last_accessed = ? WHERE id = ?`,
		accessedAt.UTC().Format(timeFormat), id)
	return err
}

// UpdateEntry rewrites the entry's mutable fields and increments its version.
func (s *Store) UpdateEntry(ctx context.Context, e *memory.Entry) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`UPDATE memories SET value = ?, embedding = ?, confidence = ?, importance = ?,
		 tags = ?, access_count = ?, last_accessed = ?, version = version + 1, updated_at = ?
		 WHERE id = ?`,
		marshalOrEmpty(e.Value, "{}"), nullable(marshalOrEmpty(e.Embedding, "")),
		e.Confidence, e.Importance, nullable(marshalOrEmpty(e.Tags, "")),
		e.AccessCount, e.LastAccessed.UTC().Format(timeFormat), now.Format(timeFormat),
		e.ID)
	if err != nil {
		return err
	}
	e.Version++
	e.UpdatedAt = now
	return nil
}

// ListEntries returns active entries matching the criteria, ordered by
// importance desc, access_count desc, updated_at desc.
func (s *Store) ListEntries(ctx context.Context, c memory.SearchCriteria) ([]*memory.Entry, error) {
	where := []string{"account_id = ?", "is_active = 1"}
	args := []any{c.AccountID}

	if c.OwnerID != "" {
		where = append(where, "owner_id = ?")
		args = append(args, c.OwnerID)
	}
	if c.Type != "" {
		where = append(where, "memory_type = ?")
		args = append(args, string(c.Type))
	}
	if c.MinImportance > 0 {
		where = append(where, "importance >= ?")
		args = append(args, c.MinImportance)
	}
	if !c.IncludeExpired {
		where = append(where, "(expires_at IS NULL OR expires_at > ?)")
		args = append(args, time.Now().UTC().Format(timeFormat))
	}
	for _, tag := range c.Tags {
		where = append(where, "tags LIKE ?")
		args = append(args, `%"`+tag+`"%`)
	}

	limit := c.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT `+memoryColumns+` FROM memories
		 WHERE %s
		 ORDER BY importance DESC, access_count DESC, updated_at DESC
		 LIMIT ?`, strings.Join(where, " AND ")), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*memory.Entry
	for rows.Next() {
		e, err := s.scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SoftDeleteEntry marks the entry inactive. Idempotent.
func (s *Store) SoftDeleteEntry(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE memories SET is_active = 0, updated_at = ? WHERE id = ?`,
		time.Now().UTC().Format(timeFormat), id)
	return err
}

// HardDeleteEntry removes the row. Idempotent.
func (s *Store) HardDeleteEntry(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	return err
}

// DecayImportance multiplies importance by factor (clamped at the floor) for
// every active entry of the account last accessed before staleBefore and
// still above the floor.
func (s *Store) DecayImportance(ctx context.Context, accountID string, factor, floor float64, staleBefore time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE memories SET importance = MAX(?, importance * ?), updated_at = ?
		 WHERE account_id = ? AND is_active = 1 AND importance > ? AND last_accessed < ?`,
		floor, factor, time.Now().UTC().Format(timeFormat),
		accountID, floor, staleBefore.UTC().Format(timeFormat))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteExpired hard-deletes the account's entries past their expiry.
func (s *Store) DeleteExpired(ctx context.Context, accountID string, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM memories WHERE account_id = ? AND expires_at IS NOT NULL AND expires_at <= ?`,
		accountID, now.UTC().Format(timeFormat))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// EntryStats returns per-type counts and mean importance over the account's
// active entries.
func (s *Store) EntryStats(ctx context.Context, accountID string) (*memory.Stats, error) {
	stats := &memory.Stats{ByType: make(map[memory.Type]int)}

	rows, err := s.db.QueryContext(ctx,
		`SELECT memory_type, COUNT(*) FROM memories
		 WHERE account_id = ? AND is_active = 1 GROUP BY memory_type`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var typ string
		var count int
		if err := rows.Scan(&typ, &count); err != nil {
			return nil, err
		}
		stats.ByType[memory.Type(typ)] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var avg sql.NullFloat64
	err = s.db.QueryRowContext(ctx,
		`SELECT AVG(importance) FROM memories WHERE account_id = ? AND is_active = 1`,
		accountID).Scan(&avg)
	if err != nil {
		return nil, err
	}
	if avg.Valid {
		stats.AvgImportance = avg.Float64
	}
	return stats, nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scanEntry tolerates malformed JSON or timestamp columns: the field is left
// zero and the damage is logged, the row is still returned.
func (s *Store) scanEntry(row scanner) (*memory.Entry, error) {
	var e memory.Entry
	var typ, lastAccessed, createdAt, updatedAt string
	var value string
	var embedding, tags, expiresAt sql.NullString
	var isActive int

	err := row.Scan(
		&e.ID, &e.AccountID, &e.OwnerID, &typ, &e.Key, &value, &embedding,
		&e.Confidence, &e.Importance, &tags, &e.AccessCount, &lastAccessed,
		&e.Version, &expiresAt, &isActive, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	e.Type = memory.Type(typ)
	e.IsActive = isActive == 1
	if err := json.Unmarshal([]byte(value), &e.Value); err != nil {
		s.logger.Warn("malformed memory value column", zap.String("id", e.ID), zap.Error(err))
	}
	if embedding.Valid {
		if err := json.Unmarshal([]byte(embedding.String), &e.Embedding); err != nil {
			s.logger.Warn("malformed memory embedding column", zap.String("id", e.ID), zap.Error(err))
		}
	}
	if tags.Valid {
		if err := json.Unmarshal([]byte(tags.String), &e.Tags); err != nil {
			s.logger.Warn("malformed memory tags column", zap.String("id", e.ID), zap.Error(err))
		}
	}
	if e.LastAccessed, err = time.Parse(timeFormat, lastAccessed); err != nil {
		s.logger.Warn("malformed memory last_accessed column", zap.String("id", e.ID), zap.Error(err))
	}
	if e.CreatedAt, err = time.Parse(timeFormat, createdAt); err != nil {
		s.logger.Warn("malformed memory created_at column", zap.String("id", e.ID), zap.Error(err))
	}
	if e.UpdatedAt, err = time.Parse(timeFormat, updatedAt); err != nil {
		s.logger.Warn("malformed memory updated_at column", zap.String("id", e.ID), zap.Error(err))
	}
	if expiresAt.Valid {
		t, err := time.Parse(timeFormat, expiresAt.String)
		if err != nil {
			s.logger.Warn("malformed memory expires_at column", zap.String("id", e.ID), zap.Error(err))
		} else {
			e.ExpiresAt = &t
		}
	}
	return &e, nil
}

// marshalOrEmpty serializes v to JSON, returning the fallback for nil or
// empty collections.
func marshalOrEmpty(v any, fallback string) string {
	switch val := v.(type) {
	case map[string]any:
		if len(val) == 0 {
			return fallback
		}
	case []float32:
		if len(val) == 0 {
			return fallback
		}
	case []string:
		if len(val) == 0 {
			return fallback
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fallback
	}
	return string(b)
}

// nullable maps the empty string to a SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
