// Package threat evaluates inbound marketplace messages against a registry of
// detection patterns, aggregates severity, decides escalate/terminate, and
// records confirmed incidents as memories for future learning.
package threat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/facemydealer/dealerbrain/internal/config"
	"github.com/facemydealer/dealerbrain/internal/conversation"
	"github.com/facemydealer/dealerbrain/internal/memory"
)

// RecordStore persists threat records. The SQLite store implements it.
type RecordStore interface {
	// SaveRecord inserts a new record.
	SaveRecord(ctx context.Context, r *Record) error

	// GetRecord returns the record by id, or nil when absent.
	GetRecord(ctx context.Context, id string) (*Record, error)

	// UpdateRecordStatus sets the record's status and updated_at.
	UpdateRecordStatus(ctx context.Context, id string, status Status, updatedAt time.Time) error

	// ListRecords returns an account's records, newest first.
	ListRecords(ctx context.Context, accountID string, limit int) ([]*Record, error)
}

// PatternStore persists tenant-scoped custom patterns. Built-ins never touch
// the store.
type PatternStore interface {
	SavePattern(ctx context.Context, p *Pattern) error
	ListPatterns(ctx context.Context) ([]*Pattern, error)
	DeletePattern(ctx context.Context, id string) error
}

// urgencyIndicators is the fixed word list behind the urgency-density
// heuristic. The cutoffs around it are coarse, hand-tuned policy, nothing
// deeper.
var urgencyIndicators = []string{
	"urgent",
	"immediately",
	"right now",
	"today only",
	"last chance",
	"act fast",
	"asap",
	"hurry",
	"expires",
	"final offer",
}

// Engine evaluates messages against the pattern registry and manages threat
// records.
//
// The registry is read via an atomic snapshot; mutations copy the slice under
// a single writer mutex and swap the pointer, so AnalyzeMessage never blocks
// on a registry write.
type Engine struct {
	records  RecordStore
	patterns PatternStore
	memories *memory.Service
	policy   config.ThreatConfig
	logger   *zap.Logger
	metrics  *Metrics

	mu       sync.Mutex // guards registry mutation
	registry atomic.Pointer[[]*Pattern]
}

// NewEngine creates a threat engine, loading built-in patterns plus the
// tenant custom patterns from the store.
func NewEngine(ctx context.Context, patterns PatternStore, records RecordStore, memories *memory.Service, policy config.ThreatConfig, logger *zap.Logger) (*Engine, error) {
	if patterns == nil || records == nil {
		return nil, fmt.Errorf("pattern and record stores cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		records:  records,
		patterns: patterns,
		memories: memories,
		policy:   policy,
		logger:   logger,
		metrics:  NewMetrics(),
	}

	registry := builtinPatterns()
	custom, err := patterns.ListPatterns(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading custom threat patterns: %w", err)
	}
	for _, p := range custom {
		if err := p.Validate(); err != nil {
			logger.Warn("skipping invalid stored threat pattern",
				zap.String("id", p.ID),
				zap.Error(err))
			continue
		}
		registry = append(registry, p)
	}
	e.registry.Store(&registry)

	logger.Info("threat engine initialized",
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

// AnalyzeMessage evaluates one inbound message against every active pattern
// and the behavioral heuristics, and returns the aggregated analysis.
//
// convCtx may be nil; history-based checks are then skipped.
func (e *Engine) AnalyzeMessage(ctx context.Context, accountID, message string, convCtx *conversation.Context) (*Analysis, error) {
	start := time.Now()
	a := &Analysis{}
	defer func() { e.metrics.RecordAnalysis(ctx, time.Since(start), a) }()

	normalized := strings.ToLower(strings.TrimSpace(message))
	var history []string
	if convCtx != nil {
		history = convCtx.History
	}

	for _, p := range e.Patterns(accountID) {
		conf, evidence, matched := matchPattern(p, normalized, history)
		if !matched {
			continue
		}

		a.MatchedPatterns = append(a.MatchedPatterns, p.Name)
		a.Evidence = append(a.Evidence, evidence)

		// Highest confidence wins; on a tie the higher-ranked severity does.
		if conf > a.Confidence || (conf == a.Confidence && p.Severity.Rank() > a.Severity.Rank()) {
			a.Confidence = conf
			a.ThreatType = p.ThreatType
			a.Severity = p.Severity
		}
	}

	if conf, evidence, threatType := e.behavioralSignal(normalized, history); threatType != "" {
		a.MatchedPatterns = append(a.MatchedPatterns, "behavioral")
		a.Evidence = append(a.Evidence, evidence)
		if conf > a.Confidence || (conf == a.Confidence && SeverityMedium.Rank() > a.Severity.Rank()) {
			a.Confidence = conf
			a.ThreatType = threatType
			a.Severity = SeverityMedium
		}
	}

	a.IsThreat = len(a.MatchedPatterns) > 0 && a.Confidence >= 0.5
	a.ShouldTerminate = a.Severity == SeverityCritical ||
		(a.Severity == SeverityHigh && a.Confidence >= e.policy.TerminateConfidence)
	a.ShouldEscalate = a.Severity == SeverityCritical ||
		(a.IsThreat && a.Confidence >= e.policy.EscalateConfidence)

	if a.IsThreat {
		a.SuggestedResponse = suggestedResponse(a.ThreatType)
		e.logger.Info("threat detected",
			zap.String("account_id", accountID),
			zap.String("threat_type", string(a.ThreatType)),
			zap.String("severity", string(a.Severity)),
			zap.Float64("confidence", a.Confidence),
			zap.Strings("matched_patterns", a.MatchedPatterns))
	}

	return a, nil
}

// matchPattern evaluates one pattern against the normalized message (and, for
// contextual patterns, the history). Behavioral patterns never match here.
func matchPattern(p *Pattern, normalized string, history []string) (float64, string, bool) {
	switch p.Type {
	case PatternRegex:
		if p.compiled != nil && p.compiled.MatchString(normalized) {
			return 0.85, fmt.Sprintf("%s: regex matched", p.Name), true
		}
	case PatternKeyword:
		for _, kw := range p.Keywords {
			if strings.Contains(normalized, strings.ToLower(kw)) {
				return 0.7, fmt.Sprintf("%s: keyword %q present", p.Name, kw), true
			}
		}
	case PatternContextual:
		if len(history) == 0 {
			return 0, "", false
		}
		joined := strings.ToLower(strings.Join(history, " "))
		for _, kw := range p.Keywords {
			if strings.Contains(joined, strings.ToLower(kw)) {
				return 0.7, fmt.Sprintf("%s: keyword %q present in history", p.Name, kw), true
			}
		}
	}
	return 0, "", false
}

// behavioralSignal runs the history heuristics: urgency-language density
// first, then topic churn. At most one signal is reported. Both require more
// than two history messages.
func (e *Engine) behavioralSignal(normalized string, history []string) (float64, string, ThreatType) {
	if len(history) <= 2 {
		return 0, "", ""
	}

	corpus := normalized + " " + strings.ToLower(strings.Join(history, " "))
	present := 0
	for _, indicator := range urgencyIndicators {
		if strings.Contains(corpus, indicator) {
			present++
		}
	}
	ratio := float64(present) / float64(len(urgencyIndicators))
	if ratio > e.policy.UrgencyRatioCutoff {
		conf := ratio * 2
		if conf > 0.9 {
			conf = 0.9
		}
		return conf, fmt.Sprintf("urgency language density %.2f across conversation", ratio), ThreatManipulation
	}

	changes := 0
	for i := 1; i < len(history); i++ {
		if sharedContentWords(history[i-1], history[i]) < 2 {
			changes++
		}
	}
	if changes > e.policy.TopicChangeCutoff {
		return 0.6, fmt.Sprintf("%d abrupt topic changes across conversation", changes), ThreatManipulation
	}

	return 0, "", ""
}

// sharedContentWords counts distinct words longer than three characters that
// appear in both messages.
func sharedContentWords(a, b string) int {
	words := func(s string) map[string]bool {
		set := make(map[string]bool)
		for _, w := range strings.Fields(strings.ToLower(s)) {
			w = strings.Trim(w, ".,!?\"'")
			if len(w) > 3 {
				set[w] = true
			}
		}
		return set
	}

	wa, wb := words(a), words(b)
	shared := 0
	for w := range wa {
		if wb[w] {
			shared++
		}
	}
	return shared
}

// RecordThreat persists the analysis as a detected incident and writes a
// compact memory entry for future learning. Critical incidents (and any
// analysis flagged for escalation) are escalated immediately.
func (e *Engine) RecordThreat(ctx context.Context, accountID, conversationID string, a *Analysis, rawText string) (*Record, error) {
	if a == nil {
		return nil, fmt.Errorf("analysis cannot be nil")
	}
	if accountID == "" {
		return nil, memory.ErrEmptyAccountID
	}

	now := time.Now().UTC()
	r := &Record{
		ID:              uuid.NewString(),
		AccountID:       accountID,
		ConversationID:  conversationID,
		ThreatType:      a.ThreatType,
		Severity:        a.Severity,
		Confidence:      a.Confidence,
		MatchedPatterns: a.MatchedPatterns,
		TriggerText:     rawText,
		Status:          StatusDetected,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := e.records.SaveRecord(ctx, r); err != nil {
		return nil, fmt.Errorf("saving threat record: %w", err)
	}

	if e.memories != nil {
		importance := 0.8
		if a.Severity == SeverityCritical {
			importance = 1.0
		}
		_, err := e.memories.Store(ctx, &memory.Entry{
			AccountID:  accountID,
			OwnerID:    accountID,
			Type:       memory.TypeThreatPatterns,
			Key:        "incident:" + r.ID,
			Confidence: a.Confidence,
			Importance: importance,
			Tags:       []string{"threat", string(a.ThreatType)},
			Value: map[string]any{
				"threat_type":      string(a.ThreatType),
				"severity":         string(a.Severity),
				"confidence":       a.Confidence,
				"matched_patterns": a.MatchedPatterns,
				"trigger_text":     rawText,
				"conversation_id":  conversationID,
			},
		})
		if err != nil {
			// Memory write is best-effort; the record is the source of truth.
			e.logger.Warn("threat memory entry not stored",
				zap.String("record_id", r.ID),
				zap.Error(err))
		}
	}

	if a.ShouldEscalate {
		if err := e.records.UpdateRecordStatus(ctx, r.ID, StatusEscalated, time.Now().UTC()); err != nil {
			return nil, fmt.Errorf("auto-escalating threat record: %w", err)
		}
		r.Status = StatusEscalated
	}

	e.logger.Info("threat recorded",
		zap.String("record_id", r.ID),
		zap.String("account_id", accountID),
		zap.String("status", string(r.Status)),
		zap.String("severity", string(r.Severity)))

	return r, nil
}

// UpdateThreatStatus sets the record's status. Any known status may be set;
// who is allowed to call this is the surrounding workflow's concern.
func (e *Engine) UpdateThreatStatus(ctx context.Context, id string, status Status) error {
	if !status.Valid() {
		return fmt.Errorf("unknown threat status %q", status)
	}

	r, err := e.records.GetRecord(ctx, id)
	if err != nil {
		return fmt.Errorf("loading threat record: %w", err)
	}
	if r == nil {
		return ErrRecordNotFound
	}

	if err := e.records.UpdateRecordStatus(ctx, id, status, time.Now().UTC()); err != nil {
		return fmt.Errorf("updating threat status: %w", err)
	}

	e.logger.Info("threat status updated",
		zap.String("record_id", id),
		zap.String("from", string(r.Status)),
		zap.String("to", string(status)))
	return nil
}

// EscalateThreat transitions the record to escalated.
func (e *Engine) EscalateThreat(ctx context.Context, id string) error {
	return e.UpdateThreatStatus(ctx, id, StatusEscalated)
}

// LearnFromThreat confirms or dismisses an incident. A confirmed incident may
// carry a new custom pattern, registered active for the record's tenant.
func (e *Engine) LearnFromThreat(ctx context.Context, id string, confirmed bool, newPattern *Pattern) error {
	r, err := e.records.GetRecord(ctx, id)
	if err != nil {
		return fmt.Errorf("loading threat record: %w", err)
	}
	if r == nil {
		return ErrRecordNotFound
	}

	status := StatusFalsePositive
	if confirmed {
		status = StatusConfirmed
	}
	if err := e.records.UpdateRecordStatus(ctx, id, status, time.Now().UTC()); err != nil {
		return fmt.Errorf("updating threat status: %w", err)
	}

	if confirmed && newPattern != nil {
		newPattern.AccountID = r.AccountID
		if err := e.AddPattern(ctx, newPattern); err != nil {
			return fmt.Errorf("registering learned pattern: %w", err)
		}
	}
	return nil
}

// AddPattern registers a tenant custom pattern: store write first, then
// registry swap.
func (e *Engine) AddPattern(ctx context.Context, p *Pattern) error {
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
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if err := p.Validate(); err != nil {
		return err
	}

	if err := e.patterns.SavePattern(ctx, p); err != nil {
		return fmt.Errorf("saving threat pattern: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	old := *e.registry.Load()
	next := make([]*Pattern, 0, len(old)+1)
	for _, existing := range old {
		if existing.ID == p.ID {
			continue // replace on re-add
		}
		next = append(next, existing)
	}
	next = append(next, p)
	e.registry.Store(&next)

	e.logger.Info("custom threat pattern registered",
		zap.String("id", p.ID),
		zap.String("account_id", p.AccountID),
		zap.String("name", p.Name))
	return nil
}

// RemovePattern deletes a custom pattern. Built-ins cannot be removed.
func (e *Engine) RemovePattern(ctx context.Context, id string) error {
	for _, p := range *e.registry.Load() {
		if p.ID == id && p.Builtin {
			return ErrBuiltinImmutable
		}
	}

	if err := e.patterns.DeletePattern(ctx, id); err != nil {
		return fmt.Errorf("deleting threat pattern: %w", err)
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

// Records returns an account's threat records, newest first.
func (e *Engine) Records(ctx context.Context, accountID string, limit int) ([]*Record, error) {
	if accountID == "" {
		return nil, memory.ErrEmptyAccountID
	}
	if limit <= 0 {
		limit = 100
	}
	records, err := e.records.ListRecords(ctx, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing threat records: %w", err)
	}
	return records, nil
}
