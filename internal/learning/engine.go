// Package learning matches inbound messages against learned response
// patterns, renders response templates from conversation context, and tracks
// each pattern's real-world success rate.
package learning

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/facemydealer/dealerbrain/internal/conversation"
	"github.com/facemydealer/dealerbrain/internal/memory"
)

// PatternStore persists tenant custom patterns and per-pattern success
// metrics. Built-in pattern definitions never touch the store; their metrics
// do.
type PatternStore interface {
	SavePattern(ctx context.Context, p *Pattern) error
	DeletePattern(ctx context.Context, id string) error
	ListPatterns(ctx context.Context) ([]*Pattern, error)

	// SaveMetrics upserts the metrics row for a pattern id.
	SaveMetrics(ctx context.Context, patternID string, m SuccessMetrics) error

	// LoadMetrics returns all persisted metrics keyed by pattern id.
	LoadMetrics(ctx context.Context) (map[string]SuccessMetrics, error)
}

// Engine matches messages against the pattern registry and records usage
// outcomes.
//
// The registry is read via an atomic snapshot; mutations copy the slice under
// a single writer mutex and swap the pointer.
type Engine struct {
	store    PatternStore
	memories *memory.Service
	logger   *zap.Logger
	metrics  *Metrics

	mu       sync.Mutex // guards registry mutation
	registry atomic.Pointer[[]*Pattern]
}

// NewEngine creates a learning engine, loading built-in patterns (with any
// persisted metrics overlaid) plus the tenant custom patterns from the store.
func NewEngine(ctx context.Context, store PatternStore, memories *memory.Service, logger *zap.Logger) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("pattern store cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		store:    store,
		memories: memories,
		logger:   logger,
		metrics:  NewMetrics(),
	}

	registry := builtinPatterns()

	persisted, err := store.LoadMetrics(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading pattern metrics: %w", err)
	}
	for _, p := range registry {
		if m, ok := persisted[p.ID]; ok {
			p.Metrics = m
		}
	}

	custom, err := store.ListPatterns(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading custom learning patterns: %w", err)
	}
	for _, p := range custom {
		if err := p.Validate(); err != nil {
			logger.Warn("skipping invalid stored learning pattern",
				zap.String("id", p.ID),
				zap.Error(err))
			continue
		}
		if m, ok := persisted[p.ID]; ok {
			p.Metrics = m
		}
		registry = append(registry, p)
	}
	e.registry.Store(&registry)

	logger.Info("learning engine initialized",
		zap.Int("builtin_patterns", len(builtinPatterns())),
		zap.Int("custom_patterns", len(custom)))

	return e, nil
}

// Patterns returns the active patterns visible to an account: all built-ins
// plus the account's custom patterns.
func (e *Engine) Patterns(accountID string) []*Pattern {
	snapshot := *e.registry.Load()
	out := make([]*Pattern, 0, len(snapshot))
	for _, p := range snapshot {
		if !p.Active {
			continue
		}
		if p.AccountID != "" && p.AccountID != accountID {
			continue
		}
		out = append(out, p)
	}
	return out
}

// FindMatchingPatterns evaluates every active pattern against the message and
// context and returns matches sorted by confidence descending. A pattern must
// satisfy at least one condition to appear; confidence is the fraction of its
// conditions satisfied.
func (e *Engine) FindMatchingPatterns(ctx context.Context, accountID, message string, convCtx *conversation.Context) ([]*Match, error) {
	start := time.Now()
	normalized := strings.ToLower(strings.TrimSpace(message))

	var matches []*Match
	for _, p := range e.Patterns(accountID) {
		matched := 0
		for i, c := range p.Conditions {
			if evalCondition(c, p.compiled[i], normalized, convCtx) {
				matched++
			}
		}
		if matched == 0 {
			continue
		}

		matches = append(matches, &Match{
			Pattern:           p,
			Confidence:        float64(matched) / float64(len(p.Conditions)),
			MatchedConditions: matched,
			Response:          applyTemplate(p.Template, p.Variables, convCtx),
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Confidence != matches[j].Confidence {
			return matches[i].Confidence > matches[j].Confidence
		}
		return matches[i].Pattern.Metrics.SuccessRate > matches[j].Pattern.Metrics.SuccessRate
	})

	e.metrics.RecordMatch(ctx, time.Since(start), len(matches))
	return matches, nil
}

// evalCondition evaluates one trigger condition. Reserved sequence values
// never match.
func evalCondition(c TriggerCondition, re *regexp.Regexp, normalized string, convCtx *conversation.Context) bool {
	switch c.Type {
	case ConditionKeyword:
		switch c.Operator {
		case OpContains:
			return strings.Contains(normalized, strings.ToLower(c.Value))
		case OpEquals:
			return normalized == strings.ToLower(c.Value)
		case OpRegex:
			return re != nil && re.MatchString(normalized)
		}
	case ConditionIntent:
		return convCtx != nil && strings.EqualFold(convCtx.Intent, c.Value)
	case ConditionSentiment:
		return convCtx != nil && strings.EqualFold(convCtx.Sentiment, c.Value)
	case ConditionContext:
		return convCtx.HasKey(c.Value)
	case ConditionSequence:
		if c.Value == SequenceFirstMessage {
			return convCtx == nil || len(convCtx.History) == 0
		}
	}
	return false
}

// GetBestPattern returns the single match with the highest weighted score
// (confidence weighted against historical success rate), or nil when nothing
// matched.
func (e *Engine) GetBestPattern(ctx context.Context, accountID, message string, convCtx *conversation.Context) (*Match, error) {
	matches, err := e.FindMatchingPatterns(ctx, accountID, message, convCtx)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}

	best := matches[0]
	for _, m := range matches[1:] {
		if m.WeightedScore() > best.WeightedScore() {
			best = m
		}
	}
	return best, nil
}

// RecordPatternUsage updates the pattern's success metrics from one usage
// outcome, persists them, and writes a learning memory entry.
func (e *Engine) RecordPatternUsage(ctx context.Context, event UsageEvent) error {
	if event.PatternID == "" {
		return ErrPatternNotFound
	}

	e.mu.Lock()
	old := *e.registry.Load()
	var updated *Pattern
	next := make([]*Pattern, len(old))
	for i, p := range old {
		if p.ID != event.PatternID {
			next[i] = p
			continue
		}
		cp := p.clone()
		cp.Metrics.TotalUses++
		if PositiveOutcome(event.Outcome) {
			cp.Metrics.SuccessfulUses++
		}
		cp.Metrics.SuccessRate = float64(cp.Metrics.SuccessfulUses) / float64(cp.Metrics.TotalUses)
		cp.Metrics.Outcomes[event.Outcome]++
		cp.UpdatedAt = time.Now().UTC()
		next[i] = cp
		updated = cp
	}
	if updated == nil {
		e.mu.Unlock()
		return ErrPatternNotFound
	}
	e.registry.Store(&next)
	e.mu.Unlock()

	if err := e.store.SaveMetrics(ctx, updated.ID, updated.Metrics); err != nil {
		return fmt.Errorf("persisting pattern metrics: %w", err)
	}

	e.metrics.RecordUsage(ctx, event.Outcome)

	if e.memories != nil && event.AccountID != "" {
		importance := 0.6
		if PositiveOutcome(event.Outcome) {
			importance = 0.9
		}
		_, err := e.memories.Store(ctx, &memory.Entry{
			AccountID:  event.AccountID,
			OwnerID:    event.AccountID,
			Type:       memory.TypeLearnedResponses,
			Key:        "pattern-usage:" + updated.ID,
			Importance: importance,
			Tags:       []string{"learning", event.Outcome},
			Value: map[string]any{
				"pattern_id":      updated.ID,
				"pattern_name":    updated.Name,
				"outcome":         event.Outcome,
				"total_uses":      updated.Metrics.TotalUses,
				"success_rate":    updated.Metrics.SuccessRate,
				"conversation_id": event.ConversationID,
			},
		})
		if err != nil {
			// Metrics are the source of truth; the memory write is
			// best-effort.
			e.logger.Warn("learning memory entry not stored",
				zap.String("pattern_id", updated.ID),
				zap.Error(err))
		}
	}

	e.logger.Debug("pattern usage recorded",
		zap.String("pattern_id", updated.ID),
		zap.String("outcome", event.Outcome),
		zap.Float64("success_rate", updated.Metrics.SuccessRate))
	return nil
}

// OptimizePattern returns advisory suggestions for an underperforming
// pattern. It never changes the pattern.
func (e *Engine) OptimizePattern(id string) ([]string, error) {
	var target *Pattern
	for _, p := range *e.registry.Load() {
		if p.ID == id {
			target = p
			break
		}
	}
	if target == nil {
		return nil, ErrPatternNotFound
	}

	m := target.Metrics
	var suggestions []string

	if m.TotalUses >= 20 && m.SuccessRate < 0.5 {
		suggestions = append(suggestions, fmt.Sprintf(
			"success rate %.0f%% over %d uses is below 50%%; consider revising the response template",
			m.SuccessRate*100, m.TotalUses))
	}
	if m.TotalUses > 0 {
		if noResponse := float64(m.Outcomes["no_response"]) / float64(m.TotalUses); noResponse > 0.4 {
			suggestions = append(suggestions, fmt.Sprintf(
				"no-response rate %.0f%% exceeds 40%%; the response may not invite a reply",
				noResponse*100))
		}
		if negative := float64(m.Outcomes["negative_response"]) / float64(m.TotalUses); negative > 0.2 {
			suggestions = append(suggestions, fmt.Sprintf(
				"negative-response rate %.0f%% exceeds 20%%; the tone or content may be off-putting",
				negative*100))
		}
	}
	return suggestions, nil
}

// CreatePattern registers a tenant custom pattern: store write first, then
// registry swap.
func (e *Engine) CreatePattern(ctx context.Context, p *Pattern) error {
	if p == nil {
		return ErrInvalidPattern
	}
	if p.AccountID == "" {
		return fmt.Errorf("%w: custom patterns require an account", ErrInvalidPattern)
	}

	p.Builtin = false
	p.Active = true
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if err := p.Validate(); err != nil {
		return err
	}

	if err := e.store.SavePattern(ctx, p); err != nil {
		return fmt.Errorf("saving learning pattern: %w", err)
	}

	e.swapPattern(p)

	e.logger.Info("custom learning pattern created",
		zap.String("id", p.ID),
		zap.String("account_id", p.AccountID),
		zap.String("name", p.Name))
	return nil
}

// UpdatePattern replaces an existing custom pattern. Built-ins cannot be
// updated.
func (e *Engine) UpdatePattern(ctx context.Context, p *Pattern) error {
	if p == nil || p.ID == "" {
		return ErrInvalidPattern
	}

	existing := e.findPattern(p.ID)
	if existing == nil {
		return ErrPatternNotFound
	}
	if existing.Builtin {
		return ErrBuiltinImmutable
	}

	p.AccountID = existing.AccountID
	p.Builtin = false
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = time.Now().UTC()
	if err := p.Validate(); err != nil {
		return err
	}

	if err := e.store.SavePattern(ctx, p); err != nil {
		return fmt.Errorf("saving learning pattern: %w", err)
	}

	e.swapPattern(p)
	return nil
}

// DeletePattern removes a custom pattern. Built-ins cannot be deleted.
func (e *Engine) DeletePattern(ctx context.Context, id string) error {
	existing := e.findPattern(id)
	if existing == nil {
		return ErrPatternNotFound
	}
	if existing.Builtin {
		return ErrBuiltinImmutable
	}

	if err := e.store.DeletePattern(ctx, id); err != nil {
		return fmt.Errorf("deleting learning pattern: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	old := *e.registry.Load()
	next := make([]*Pattern, 0, len(old))
	for _, p := range old {
		if p.ID == id {
			continue
		}
		next = append(next, p)
	}
	e.registry.Store(&next)
	return nil
}

// findPattern returns the registry pattern with the id, or nil.
func (e *Engine) findPattern(id string) *Pattern {
	for _, p := range *e.registry.Load() {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// swapPattern replaces (or appends) the pattern in a fresh registry snapshot.
func (e *Engine) swapPattern(p *Pattern) {
	e.mu.Lock()
	defer e.mu.Unlock()
	old := *e.registry.Load()
	next := make([]*Pattern, 0, len(old)+1)
	for _, existing := range old {
		if existing.ID == p.ID {
			continue
		}
		next = append(next, existing)
	}
	next = append(next, p)
	e.registry.Store(&next)
}
