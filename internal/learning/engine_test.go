package learning_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/facemydealer/dealerbrain/internal/config"
	"github.com/facemydealer/dealerbrain/internal/conversation"
	"github.com/facemydealer/dealerbrain/internal/learning"
	"github.com/facemydealer/dealerbrain/internal/memory"
	"github.com/facemydealer/dealerbrain/internal/storage"
)

func newTestEngine(t *testing.T) (*learning.Engine, *storage.Store, *memory.Service) {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "test.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	memories, err := memory.NewService(store, nil, config.MemoryConfig{DefaultSearchLimit: 100}, zap.NewNop())
	require.NoError(t, err)

	engine, err := learning.NewEngine(context.Background(), store.LearningPatterns, memories, zap.NewNop())
	require.NoError(t, err)
	return engine, store, memories
}

func findMatch(matches []*learning.Match, name string) *learning.Match {
	for _, m := range matches {
		if m.Pattern.Name == name {
			return m
		}
	}
	return nil
}

func TestAvailabilityConfirmation(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	matches, err := engine.FindMatchingPatterns(context.Background(), "acct-1",
		"is this still available?", nil)
	require.NoError(t, err)

	m := findMatch(matches, "Availability Confirmation")
	require.NotNil(t, m, "the availability pattern must match its canonical trigger")
	assert.Equal(t, 1.0, m.Confidence)
	assert.Contains(t, m.Response, "still available")
}

func TestConfidenceIsMatchedOverTotal(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	// Two conditions, only the keyword one satisfied: confidence 0.5.
	matches, err := engine.FindMatchingPatterns(ctx, "acct-1",
		"I can offer 15000 for it", nil)
	require.NoError(t, err)

	m := findMatch(matches, "Lowball Offer Counter")
	require.NotNil(t, m)
	assert.Equal(t, 0.5, m.Confidence)
	assert.Equal(t, 1, m.MatchedConditions)

	// With matching intent both conditions fire: confidence 1.0.
	matches, err = engine.FindMatchingPatterns(ctx, "acct-1",
		"I can offer 15000 for it", &conversation.Context{Intent: "negotiation", History: []string{"hi"}})
	require.NoError(t, err)

	m = findMatch(matches, "Lowball Offer Counter")
	require.NotNil(t, m)
	assert.Equal(t, 1.0, m.Confidence)
}

func TestUnmatchedPatternsAreNeverReturned(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	matches, err := engine.FindMatchingPatterns(context.Background(), "acct-1",
		"zzz qqq", &conversation.Context{History: []string{"earlier message"}})
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestMatchesSortedByConfidence(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	matches, err := engine.FindMatchingPatterns(context.Background(), "acct-1",
		"is this still available and how much?", &conversation.Context{History: []string{"hi"}})
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(matches), 2)

	for i := 1; i < len(matches); i++ {
		assert.GreaterOrEqual(t, matches[i-1].Confidence, matches[i].Confidence)
	}
}

func TestFirstMessageSequenceCondition(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	matches, err := engine.FindMatchingPatterns(ctx, "acct-1", "hello", nil)
	require.NoError(t, err)
	assert.NotNil(t, findMatch(matches, "First Contact Greeting"))

	matches, err = engine.FindMatchingPatterns(ctx, "acct-1", "hello",
		&conversation.Context{History: []string{"earlier"}})
	require.NoError(t, err)
	assert.Nil(t, findMatch(matches, "First Contact Greeting"))
}

func TestTemplateRendering(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	convCtx := &conversation.Context{
		History:  []string{"hi"},
		Customer: &conversation.Customer{OfferedPrice: 17000},
		Vehicle:  &conversation.Vehicle{Make: "Toyota", Model: "Camry", Year: 2019, Price: 20000},
	}

	matches, err := engine.FindMatchingPatterns(context.Background(), "acct-1",
		"how much are you asking?", convCtx)
	require.NoError(t, err)

	m := findMatch(matches, "Price Inquiry")
	require.NotNil(t, m)
	assert.Contains(t, m.Response, "2019 Toyota Camry")
	assert.Contains(t, m.Response, "$20000")
	assert.Contains(t, m.Response, "$19000 - $23000")
}

func TestWeightedScore(t *testing.T) {
	m := &learning.Match{
		Pattern:    &learning.Pattern{Metrics: learning.SuccessMetrics{SuccessRate: 0.0}},
		Confidence: 1.0,
	}
	assert.InDelta(t, 0.6, m.WeightedScore(), 1e-9)

	m.Pattern.Metrics.SuccessRate = 1.0
	assert.InDelta(t, 1.0, m.WeightedScore(), 1e-9)
}

func TestGetBestPattern(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	best, err := engine.GetBestPattern(ctx, "acct-1", "is this still available?", nil)
	require.NoError(t, err)
	require.NotNil(t, best)
	assert.Equal(t, 1.0, best.Confidence)

	best, err = engine.GetBestPattern(ctx, "acct-1", "zzz qqq",
		&conversation.Context{History: []string{"earlier"}})
	require.NoError(t, err)
	assert.Nil(t, best, "no match returns nil, not an error")
}

func TestRecordPatternUsage(t *testing.T) {
	engine, store, memories := newTestEngine(t)
	ctx := context.Background()

	before := findPattern(t, engine, "builtin-availability")

	require.NoError(t, engine.RecordPatternUsage(ctx, learning.UsageEvent{
		PatternID: "builtin-availability",
		AccountID: "acct-1",
		Outcome:   "appointment_set",
	}))
	require.NoError(t, engine.RecordPatternUsage(ctx, learning.UsageEvent{
		PatternID: "builtin-availability",
		AccountID: "acct-1",
		Outcome:   "no_response",
	}))

	after := findPattern(t, engine, "builtin-availability")
	assert.Equal(t, before.Metrics.TotalUses+2, after.Metrics.TotalUses)
	assert.Equal(t, before.Metrics.SuccessfulUses+1, after.Metrics.SuccessfulUses)
	assert.InDelta(t,
		float64(after.Metrics.SuccessfulUses)/float64(after.Metrics.TotalUses),
		after.Metrics.SuccessRate, 1e-9)
	assert.Equal(t, 1, after.Metrics.Outcomes["appointment_set"])
	assert.Equal(t, 1, after.Metrics.Outcomes["no_response"])

	// Metrics survive a restart.
	reloaded, err := learning.NewEngine(ctx, store.LearningPatterns, memories, zap.NewNop())
	require.NoError(t, err)
	persisted := findPattern(t, reloaded, "builtin-availability")
	assert.Equal(t, after.Metrics.TotalUses, persisted.Metrics.TotalUses)

	// A positive outcome writes a high-importance learning memory.
	entries, err := memories.Search(ctx, memory.SearchCriteria{
		AccountID: "acct-1",
		Type:      memory.TypeLearnedResponses,
	})
	require.NoError(t, err)
	require.Len(t, entries, 1, "usage entries share one natural key per pattern")
	assert.Equal(t, 0.6, entries[0].Importance, "latest outcome was not positive")
}

func TestRecordPatternUsageUnknownPattern(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	err := engine.RecordPatternUsage(context.Background(), learning.UsageEvent{
		PatternID: "missing",
		AccountID: "acct-1",
		Outcome:   "positive_response",
	})
	assert.ErrorIs(t, err, learning.ErrPatternNotFound)
}

func TestOptimizePattern(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, engine.CreatePattern(ctx, &learning.Pattern{
		AccountID: "acct-1",
		Name:      "Weak Pattern",
		Conditions: []learning.TriggerCondition{
			{Type: learning.ConditionKeyword, Operator: learning.OpContains, Value: "weak trigger"},
		},
		Template: "A response nobody likes.",
	}))

	var id string
	for _, p := range engine.Patterns("acct-1") {
		if p.Name == "Weak Pattern" {
			id = p.ID
		}
	}
	require.NotEmpty(t, id)

	for i := 0; i < 10; i++ {
		require.NoError(t, engine.RecordPatternUsage(ctx, learning.UsageEvent{
			PatternID: id, AccountID: "acct-1", Outcome: "no_response",
		}))
	}
	for i := 0; i < 6; i++ {
		require.NoError(t, engine.RecordPatternUsage(ctx, learning.UsageEvent{
			PatternID: id, AccountID: "acct-1", Outcome: "negative_response",
		}))
	}
	for i := 0; i < 4; i++ {
		require.NoError(t, engine.RecordPatternUsage(ctx, learning.UsageEvent{
			PatternID: id, AccountID: "acct-1", Outcome: "sale_completed",
		}))
	}

	// 20 uses, 20% success, 50% no-response, 30% negative-response.
	suggestions, err := engine.OptimizePattern(id)
	require.NoError(t, err)
	assert.Len(t, suggestions, 3)

	_, err = engine.OptimizePattern("missing")
	assert.ErrorIs(t, err, learning.ErrPatternNotFound)
}

func TestPatternCRUD(t *testing.T) {
	engine, store, memories := newTestEngine(t)
	ctx := context.Background()

	p := &learning.Pattern{
		AccountID: "acct-1",
		Name:      "Warranty Question",
		Conditions: []learning.TriggerCondition{
			{Type: learning.ConditionKeyword, Operator: learning.OpContains, Value: "warranty"},
		},
		Template: "Every vehicle comes with a 30-day dealer warranty.",
	}
	require.NoError(t, engine.CreatePattern(ctx, p))
	require.NotEmpty(t, p.ID)

	matches, err := engine.FindMatchingPatterns(ctx, "acct-1",
		"does it come with a warranty?", &conversation.Context{History: []string{"hi"}})
	require.NoError(t, err)
	assert.NotNil(t, findMatch(matches, "Warranty Question"))

	// Custom patterns are tenant-scoped.
	matches, err = engine.FindMatchingPatterns(ctx, "acct-other",
		"does it come with a warranty?", &conversation.Context{History: []string{"hi"}})
	require.NoError(t, err)
	assert.Nil(t, findMatch(matches, "Warranty Question"))

	p.Template = "Ask us about extended warranty options."
	require.NoError(t, engine.UpdatePattern(ctx, p))

	// Custom patterns survive a restart.
	reloaded, err := learning.NewEngine(ctx, store.LearningPatterns, memories, zap.NewNop())
	require.NoError(t, err)
	matches, err = reloaded.FindMatchingPatterns(ctx, "acct-1",
		"warranty?", &conversation.Context{History: []string{"hi"}})
	require.NoError(t, err)
	m := findMatch(matches, "Warranty Question")
	require.NotNil(t, m)
	assert.Contains(t, m.Response, "extended warranty")

	require.NoError(t, engine.DeletePattern(ctx, p.ID))
	matches, err = engine.FindMatchingPatterns(ctx, "acct-1",
		"warranty?", &conversation.Context{History: []string{"hi"}})
	require.NoError(t, err)
	assert.Nil(t, findMatch(matches, "Warranty Question"))
}

func TestBuiltinsAreImmutable(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	builtin := findPattern(t, engine, "builtin-availability")

	err := engine.UpdatePattern(ctx, builtin)
	assert.ErrorIs(t, err, learning.ErrBuiltinImmutable)

	err = engine.DeletePattern(ctx, "builtin-availability")
	assert.ErrorIs(t, err, learning.ErrBuiltinImmutable)
}

func TestCreatePatternValidation(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	err := engine.CreatePattern(ctx, &learning.Pattern{
		Name: "No Account",
		Conditions: []learning.TriggerCondition{
			{Type: learning.ConditionKeyword, Operator: learning.OpContains, Value: "x"},
		},
		Template: "t",
	})
	assert.ErrorIs(t, err, learning.ErrInvalidPattern)

	err = engine.CreatePattern(ctx, &learning.Pattern{
		AccountID: "acct-1",
		Name:      "Bad Regex",
		Conditions: []learning.TriggerCondition{
			{Type: learning.ConditionKeyword, Operator: learning.OpRegex, Value: "([unclosed"},
		},
		Template: "t",
	})
	assert.ErrorIs(t, err, learning.ErrInvalidPattern)
}

func findPattern(t *testing.T, engine *learning.Engine, id string) *learning.Pattern {
	t.Helper()
	for _, p := range engine.Patterns("acct-1") {
		if p.ID == id {
			return p
		}
	}
	t.Fatalf("pattern %s not found in registry", id)
	return nil
}
