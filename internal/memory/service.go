// Package memory provides the agent's persistent memory store: tenant-scoped
// CRUD over importance-weighted entries with keyword search, semantic search,
// importance decay, expiry cleanup, and consolidation of near-duplicates.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/facemydealer/dealerbrain/internal/config"
	"github.com/facemydealer/dealerbrain/internal/embeddings"
)

// Backend is the persistence contract the memory service requires: atomic
// natural-key upsert and consistent reads. The SQLite store implements it.
type Backend interface {
	// UpsertEntry creates or replaces the active entry at its natural key,
	// incrementing version on replace. It assigns e.ID when creating and
	// returns the entry id.
	UpsertEntry(ctx context.Context, e *Entry) (string, error)

	// GetEntry returns the active entry at the natural key, or nil when
	// absent. Absence is not an error.
	GetEntry(ctx context.Context, ownerID string, typ Type, key string) (*Entry, error)

	// TouchEntry increments access_count and sets last_accessed for the id.
	TouchEntry(ctx context.Context, id string, accessedAt time.Time) error

	// UpdateEntry rewrites a fetched entry's mutable fields (importance,
	// tags, value, access count) and increments its version.
	UpdateEntry(ctx context.Context, e *Entry) error

	// ListEntries returns active entries matching the criteria, ordered by
	// importance desc, access_count desc, updated_at desc.
	ListEntries(ctx context.Context, c SearchCriteria) ([]*Entry, error)

	// SoftDeleteEntry and HardDeleteEntry are idempotent.
	SoftDeleteEntry(ctx context.Context, id string) error
	HardDeleteEntry(ctx context.Context, id string) error

	// DecayImportance multiplies importance by factor for every active entry
	// of the account whose last_accessed is before staleBefore and whose
	// importance exceeds floor. Returns the number of rows affected.
	DecayImportance(ctx context.Context, accountID string, factor, floor float64, staleBefore time.Time) (int64, error)

	// DeleteExpired hard-deletes entries whose expiry is before now.
	DeleteExpired(ctx context.Context, accountID string, now time.Time) (int64, error)

	// EntryStats returns per-type counts and the mean importance for a tenant.
	EntryStats(ctx context.Context, accountID string) (*Stats, error)
}

// Service is the memory store. It performs no caching and always round-trips
// to the backend; concurrency safety comes from the backend's atomic upsert.
type Service struct {
	backend  Backend
	embedder embeddings.Provider // nil when embeddings are disabled
	policy   config.MemoryConfig
	logger   *zap.Logger
	metrics  *Metrics
}

// candidateMultiplier is how many times the requested limit semantic search
// over-fetches before similarity filtering.
const candidateMultiplier = 3

// NewService creates a memory service. embedder may be nil; semantic search
// then degrades to keyword search.
func NewService(backend Backend, embedder embeddings.Provider, policy config.MemoryConfig, logger *zap.Logger) (*Service, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.DefaultSearchLimit == 0 {
		policy.DefaultSearchLimit = 100
	}

	return &Service{
		backend:  backend,
		embedder: embedder,
		policy:   policy,
		logger:   logger,
		metrics:  NewMetrics(),
	}, nil
}

// Store upserts an entry on its natural key and returns the entry id.
//
// The embedding is computed best-effort from Key + Value; on provider failure
// or absence the entry is stored without one. Defaults: confidence 1.0,
// importance 0.5 when the zero value is supplied.
func (s *Service) Store(ctx context.Context, e *Entry) (string, error) {
	start := time.Now()
	var opErr error
	defer func() { s.metrics.RecordOp(ctx, "store", time.Since(start), opErr) }()

	if e == nil {
		opErr = ErrInvalidEntry
		return "", opErr
	}
	if e.Confidence == 0 {
		e.Confidence = 1.0
	}
	if e.Importance == 0 {
		e.Importance = 0.5
	}
	e.IsActive = true

	if err := e.Validate(); err != nil {
		opErr = fmt.Errorf("validating entry: %w", err)
		return "", opErr
	}

	e.Embedding = s.embedEntry(ctx, e)

	id, err := s.backend.UpsertEntry(ctx, e)
	if err != nil {
		opErr = fmt.Errorf("storing entry: %w", err)
		return "", opErr
	}

	s.logger.Debug("memory stored",
		zap.String("id", id),
		zap.String("owner_id", e.OwnerID),
		zap.String("type", string(e.Type)),
		zap.String("key", e.Key),
		zap.Int("version", e.Version))

	return id, nil
}

// StoreBatch stores entries independently, returning the ids of those that
// succeeded. A failing entry is logged and skipped; it never aborts the batch.
func (s *Service) StoreBatch(ctx context.Context, entries []*Entry) []string {
	ids := make([]string, 0, len(entries))
	for i, e := range entries {
		id, err := s.Store(ctx, e)
		if err != nil {
			s.logger.Warn("skipping failed batch entry",
				zap.Int("index", i),
				zap.Error(err))
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// Retrieve returns the entry at the natural key, or nil when absent. On
// success it increments the entry's access count and sets last accessed.
func (s *Service) Retrieve(ctx context.Context, ownerID string, typ Type, key string) (*Entry, error) {
	start := time.Now()
	var opErr error
	defer func() { s.metrics.RecordOp(ctx, "retrieve", time.Since(start), opErr) }()

	e, err := s.backend.GetEntry(ctx, ownerID, typ, key)
	if err != nil {
		opErr = fmt.Errorf("retrieving entry: %w", err)
		return nil, opErr
	}
	if e == nil {
		return nil, nil
	}

	now := time.Now().UTC()
	if err := s.backend.TouchEntry(ctx, e.ID, now); err != nil {
		// Access bookkeeping failure doesn't invalidate the read.
		s.logger.Warn("failed to update access tracking",
			zap.String("id", e.ID),
			zap.Error(err))
	} else {
		e.AccessCount++
		e.LastAccessed = now
	}

	return e, nil
}

// Search returns entries matching the criteria, ordered by importance desc,
// access count desc, updated-at desc, capped at the limit (default 100).
// Soft-deleted entries are never returned; expired entries only on opt-in.
func (s *Service) Search(ctx context.Context, c SearchCriteria) ([]*Entry, error) {
	start := time.Now()
	var opErr error
	defer func() { s.metrics.RecordOp(ctx, "search", time.Since(start), opErr) }()

	if c.AccountID == "" {
		opErr = ErrEmptyAccountID
		return nil, opErr
	}
	if c.Limit <= 0 {
		c.Limit = s.policy.DefaultSearchLimit
	}

	entries, err := s.backend.ListEntries(ctx, c)
	if err != nil {
		opErr = fmt.Errorf("searching entries: %w", err)
		return nil, opErr
	}
	return entries, nil
}

// SemanticSearch embeds the query and ranks candidates by cosine similarity,
// dropping results below the similarity threshold.
//
// When no embedding provider is configured, or the embedding call fails, it
// degrades to KeywordSearch. That is a documented fallback, not an error path.
func (s *Service) SemanticSearch(ctx context.Context, query string, c SearchCriteria) ([]ScoredEntry, error) {
	if c.Limit <= 0 {
		c.Limit = s.policy.DefaultSearchLimit
	}

	if s.embedder == nil {
		return s.KeywordSearch(ctx, query, c)
	}

	queryVec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		s.logger.Warn("embedding unavailable, falling back to keyword search",
			zap.Error(err))
		return s.KeywordSearch(ctx, query, c)
	}

	candidates := c
	candidates.Limit = c.Limit * candidateMultiplier
	entries, err := s.Search(ctx, candidates)
	if err != nil {
		return nil, err
	}

	scored := make([]ScoredEntry, 0, len(entries))
	for _, e := range entries {
		if len(e.Embedding) == 0 {
			continue
		}
		sim := CosineSimilarity(queryVec, e.Embedding)
		if sim < s.policy.SimilarityThreshold {
			continue
		}
		scored = append(scored, ScoredEntry{Entry: e, Score: sim})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > c.Limit {
		scored = scored[:c.Limit]
	}
	return scored, nil
}

// KeywordSearch ranks candidates by token overlap between the query and the
// entry's key, serialized value, and tags.
func (s *Service) KeywordSearch(ctx context.Context, query string, c SearchCriteria) ([]ScoredEntry, error) {
	if c.Limit <= 0 {
		c.Limit = s.policy.DefaultSearchLimit
	}

	candidates := c
	candidates.Limit = c.Limit * candidateMultiplier
	entries, err := s.Search(ctx, candidates)
	if err != nil {
		return nil, err
	}

	queryTokens := tokenize(query)
	scored := make([]ScoredEntry, 0, len(entries))
	for _, e := range entries {
		score := overlapScore(queryTokens, entryText(e))
		if score <= 0 {
			continue
		}
		scored = append(scored, ScoredEntry{Entry: e, Score: score})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Entry.Importance > scored[j].Entry.Importance
	})
	if len(scored) > c.Limit {
		scored = scored[:c.Limit]
	}
	return scored, nil
}

// Delete soft-deletes the entry. Deleting twice is not an error.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.backend.SoftDeleteEntry(ctx, id); err != nil {
		return fmt.Errorf("deleting entry: %w", err)
	}
	return nil
}

// HardDelete permanently removes the entry. Idempotent.
func (s *Service) HardDelete(ctx context.Context, id string) error {
	if err := s.backend.HardDeleteEntry(ctx, id); err != nil {
		return fmt.Errorf("hard-deleting entry: %w", err)
	}
	return nil
}

// ApplyDecay multiplies importance by the configured factor for every entry
// of the account not accessed within the staleness window and still above the
// decay floor. Returns the number of entries affected.
func (s *Service) ApplyDecay(ctx context.Context, accountID string) (int64, error) {
	if accountID == "" {
		return 0, ErrEmptyAccountID
	}

	staleBefore := time.Now().UTC().Add(-s.policy.StaleAfter)
	n, err := s.backend.DecayImportance(ctx, accountID, s.policy.DecayFactor, s.policy.DecayFloor, staleBefore)
	if err != nil {
		return 0, fmt.Errorf("applying decay: %w", err)
	}

	if n > 0 {
		s.logger.Info("importance decay applied",
			zap.String("account_id", accountID),
			zap.Int64("entries", n),
			zap.Float64("factor", s.policy.DecayFactor))
	}
	return n, nil
}

// CleanupExpired hard-deletes the account's entries past their expiry.
func (s *Service) CleanupExpired(ctx context.Context, accountID string) (int64, error) {
	if accountID == "" {
		return 0, ErrEmptyAccountID
	}

	n, err := s.backend.DeleteExpired(ctx, accountID, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("cleaning up expired entries: %w", err)
	}

	if n > 0 {
		s.logger.Info("expired memories purged",
			zap.String("account_id", accountID),
			zap.Int64("entries", n))
	}
	return n, nil
}

// Consolidate merges near-duplicate entries of one type for an owner.
//
// Entries are pairwise-compared by embedding; any pair above the consolidation
// threshold is merged. The higher-importance entry survives, absorbing the
// other's tags and value under synthetic keys and summing access counts; the
// absorbed entry is soft-deleted. Returns the number of entries absorbed.
func (s *Service) Consolidate(ctx context.Context, ownerID, accountID string, typ Type) (int, error) {
	start := time.Now()
	var opErr error
	defer func() { s.metrics.RecordOp(ctx, "consolidate", time.Since(start), opErr) }()

	entries, err := s.backend.ListEntries(ctx, SearchCriteria{
		AccountID: accountID,
		OwnerID:   ownerID,
		Type:      typ,
		Limit:     s.policy.DefaultSearchLimit * candidateMultiplier,
	})
	if err != nil {
		opErr = fmt.Errorf("listing entries for consolidation: %w", err)
		return 0, opErr
	}

	absorbed := make(map[string]bool)
	merged := 0

	for i := 0; i < len(entries); i++ {
		a := entries[i]
		if absorbed[a.ID] || len(a.Embedding) == 0 {
			continue
		}
		for j := i + 1; j < len(entries); j++ {
			b := entries[j]
			if absorbed[b.ID] || len(b.Embedding) == 0 {
				continue
			}
			sim := CosineSimilarity(a.Embedding, b.Embedding)
			if sim <= s.policy.ConsolidationThreshold {
				continue
			}

			survivor, victim := a, b
			if b.Importance > a.Importance {
				survivor, victim = b, a
			}

			mergeEntries(survivor, victim)

			if err := s.backend.UpdateEntry(ctx, survivor); err != nil {
				s.logger.Warn("skipping merge, survivor update failed",
					zap.String("survivor_id", survivor.ID),
					zap.Error(err))
				continue
			}
			if err := s.backend.SoftDeleteEntry(ctx, victim.ID); err != nil {
				s.logger.Warn("absorbed entry not soft-deleted",
					zap.String("victim_id", victim.ID),
					zap.Error(err))
			}

			absorbed[victim.ID] = true
			merged++

			if victim == a {
				break // a was absorbed; move to next i
			}
		}
	}

	if merged > 0 {
		s.logger.Info("memories consolidated",
			zap.String("owner_id", ownerID),
			zap.String("type", string(typ)),
			zap.Int("merged", merged))
	}
	return merged, nil
}

// Stats returns the tenant's per-type counts and mean importance.
func (s *Service) Stats(ctx context.Context, accountID string) (*Stats, error) {
	if accountID == "" {
		return nil, ErrEmptyAccountID
	}
	st, err := s.backend.EntryStats(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("computing stats: %w", err)
	}
	return st, nil
}

// mergeEntries folds the victim into the survivor: tags are unioned, the
// victim's value is kept under a synthetic key, and access counts are summed.
func mergeEntries(survivor, victim *Entry) {
	seen := make(map[string]bool, len(survivor.Tags))
	for _, t := range survivor.Tags {
		seen[t] = true
	}
	for _, t := range victim.Tags {
		if !seen[t] {
			survivor.Tags = append(survivor.Tags, t)
			seen[t] = true
		}
	}

	if survivor.Value == nil {
		survivor.Value = make(map[string]any)
	}
	survivor.Value["merged:"+victim.Key] = victim.Value

	survivor.AccessCount += victim.AccessCount
	if victim.LastAccessed.After(survivor.LastAccessed) {
		survivor.LastAccessed = victim.LastAccessed
	}
}

// embedEntry computes a best-effort embedding from the entry's key and
// serialized value. Any failure logs a warning and returns nil.
func (s *Service) embedEntry(ctx context.Context, e *Entry) []float32 {
	if s.embedder == nil {
		return nil
	}

	vec, err := s.embedder.EmbedQuery(ctx, entryText(e))
	if err != nil {
		s.logger.Warn("embedding generation failed, storing without embedding",
			zap.String("owner_id", e.OwnerID),
			zap.String("key", e.Key),
			zap.Error(err))
		return nil
	}
	return vec
}

// entryText is the text representation used for embedding and keyword scoring.
func entryText(e *Entry) string {
	text := e.Key
	if len(e.Value) > 0 {
		if b, err := json.Marshal(e.Value); err == nil {
			text += " " + string(b)
		}
	}
	for _, t := range e.Tags {
		text += " " + t
	}
	return text
}
