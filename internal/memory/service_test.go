package memory_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/facemydealer/dealerbrain/internal/config"
	"github.com/facemydealer/dealerbrain/internal/embeddings"
	"github.com/facemydealer/dealerbrain/internal/memory"
	"github.com/facemydealer/dealerbrain/internal/storage"
)

func testPolicy() config.MemoryConfig {
	return config.MemoryConfig{
		SimilarityThreshold:    0.7,
		ConsolidationThreshold: 0.9,
		DecayFactor:            0.995,
		DecayFloor:             0.1,
		StaleAfter:             30 * 24 * time.Hour,
		DefaultSearchLimit:     100,
	}
}

func newTestBackend(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "test.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestService(t *testing.T, embedder embeddings.Provider) (*memory.Service, *storage.Store) {
	t.Helper()
	backend := newTestBackend(t)
	svc, err := memory.NewService(backend, embedder, testPolicy(), zap.NewNop())
	require.NoError(t, err)
	return svc, backend
}

func testEntry(key string) *memory.Entry {
	return &memory.Entry{
		AccountID: "acct-1",
		OwnerID:   "dealer-1",
		Type:      memory.TypeProfile,
		Key:       key,
		Value:     map[string]any{"note": "value for " + key},
	}
}

func TestStoreAppliesDefaults(t *testing.T) {
	svc, backend := newTestService(t, nil)
	ctx := context.Background()

	e := testEntry("greeting-style")
	id, err := svc.Store(ctx, e)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	stored, err := backend.GetEntry(ctx, "dealer-1", memory.TypeProfile, "greeting-style")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 1.0, stored.Confidence)
	assert.Equal(t, 0.5, stored.Importance)
	assert.Equal(t, 1, stored.Version)
	assert.True(t, stored.IsActive)
}

func TestStoreIsIdempotentOnNaturalKey(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	first, err := svc.Store(ctx, testEntry("hours"))
	require.NoError(t, err)

	second, err := svc.Store(ctx, testEntry("hours"))
	require.NoError(t, err)

	assert.Equal(t, first, second, "re-storing the same key must update, not duplicate")

	stored, err := svc.Retrieve(ctx, "dealer-1", memory.TypeProfile, "hours")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 2, stored.Version)
}

func TestStoreRejectsInvalidEntries(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	tests := []struct {
		name    string
		entry   *memory.Entry
		wantErr error
	}{
		{"nil entry", nil, memory.ErrInvalidEntry},
		{"missing account", &memory.Entry{OwnerID: "o", Type: memory.TypeProfile, Key: "k"}, memory.ErrEmptyAccountID},
		{"missing owner", &memory.Entry{AccountID: "a", Type: memory.TypeProfile, Key: "k"}, memory.ErrEmptyOwnerID},
		{"missing key", &memory.Entry{AccountID: "a", OwnerID: "o", Type: memory.TypeProfile}, memory.ErrEmptyKey},
		{"unknown type", &memory.Entry{AccountID: "a", OwnerID: "o", Type: "bogus", Key: "k"}, memory.ErrInvalidType},
		{"confidence out of range", &memory.Entry{AccountID: "a", OwnerID: "o", Type: memory.TypeProfile, Key: "k", Confidence: 1.5}, memory.ErrInvalidScore},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Store(ctx, tt.entry)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestStoreBatchIsolatesFailures(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	ids := svc.StoreBatch(ctx, []*memory.Entry{
		testEntry("good-one"),
		{AccountID: "", OwnerID: "dealer-1", Type: memory.TypeProfile, Key: "bad"},
		testEntry("good-two"),
	})

	assert.Len(t, ids, 2)
}

func TestRetrieveMissingIsNotAnError(t *testing.T) {
	svc, _ := newTestService(t, nil)

	e, err := svc.Retrieve(context.Background(), "dealer-1", memory.TypeProfile, "nope")
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestRetrieveTracksAccess(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.Store(ctx, testEntry("hours"))
	require.NoError(t, err)

	first, err := svc.Retrieve(ctx, "dealer-1", memory.TypeProfile, "hours")
	require.NoError(t, err)
	assert.Equal(t, 1, first.AccessCount)

	second, err := svc.Retrieve(ctx, "dealer-1", memory.TypeProfile, "hours")
	require.NoError(t, err)
	assert.Equal(t, 2, second.AccessCount)
}

func TestSearchExcludesSoftDeleted(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	keepID, err := svc.Store(ctx, testEntry("keep"))
	require.NoError(t, err)
	dropID, err := svc.Store(ctx, testEntry("drop"))
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, dropID))
	// Deleting twice is not an error.
	require.NoError(t, svc.Delete(ctx, dropID))

	entries, err := svc.Search(ctx, memory.SearchCriteria{AccountID: "acct-1"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, keepID, entries[0].ID)
}

func TestSearchExcludesExpiredUnlessRequested(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Hour)
	expired := testEntry("flash-sale")
	expired.ExpiresAt = &past
	_, err := svc.Store(ctx, expired)
	require.NoError(t, err)

	_, err = svc.Store(ctx, testEntry("evergreen"))
	require.NoError(t, err)

	entries, err := svc.Search(ctx, memory.SearchCriteria{AccountID: "acct-1"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "evergreen", entries[0].Key)

	entries, err = svc.Search(ctx, memory.SearchCriteria{AccountID: "acct-1", IncludeExpired: true})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestSearchOrdersByImportance(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	low := testEntry("low")
	low.Importance = 0.2
	high := testEntry("high")
	high.Importance = 0.9

	_, err := svc.Store(ctx, low)
	require.NoError(t, err)
	_, err = svc.Store(ctx, high)
	require.NoError(t, err)

	entries, err := svc.Search(ctx, memory.SearchCriteria{AccountID: "acct-1"})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "high", entries[0].Key)
}

func TestSemanticSearchFallsBackWithoutProvider(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	e := testEntry("toyota-camry")
	e.Tags = []string{"toyota", "camry"}
	_, err := svc.Store(ctx, e)
	require.NoError(t, err)

	results, err := svc.SemanticSearch(ctx, "toyota camry", memory.SearchCriteria{AccountID: "acct-1"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "toyota-camry", results[0].Entry.Key)
	assert.Greater(t, results[0].Score, 0.0)
}

func TestSemanticSearchRanksBySimilarity(t *testing.T) {
	svc, _ := newTestService(t, embeddings.NewMockProvider(64))
	ctx := context.Background()

	_, err := svc.Store(ctx, &memory.Entry{
		AccountID: "acct-1", OwnerID: "dealer-1",
		Type: memory.TypeVehicleKnowledge, Key: "red toyota camry",
	})
	require.NoError(t, err)
	_, err = svc.Store(ctx, &memory.Entry{
		AccountID: "acct-1", OwnerID: "dealer-1",
		Type: memory.TypeVehicleKnowledge, Key: "blue honda civic",
	})
	require.NoError(t, err)

	// Identical text embeds to an identical vector with the mock provider.
	results, err := svc.SemanticSearch(ctx, "red toyota camry", memory.SearchCriteria{AccountID: "acct-1"})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "red toyota camry", results[0].Entry.Key)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
}

func TestApplyDecay(t *testing.T) {
	svc, backend := newTestService(t, nil)
	ctx := context.Background()

	stale := testEntry("stale")
	staleID, err := svc.Store(ctx, stale)
	require.NoError(t, err)
	require.NoError(t, backend.TouchEntry(ctx, staleID, time.Now().UTC().Add(-40*24*time.Hour)))

	fresh := testEntry("fresh")
	freshID, err := svc.Store(ctx, fresh)
	require.NoError(t, err)
	require.NoError(t, backend.TouchEntry(ctx, freshID, time.Now().UTC().Add(-24*time.Hour)))

	n, err := svc.ApplyDecay(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	decayed, err := backend.GetEntry(ctx, "dealer-1", memory.TypeProfile, "stale")
	require.NoError(t, err)
	assert.InDelta(t, 0.4975, decayed.Importance, 1e-9)

	untouched, err := backend.GetEntry(ctx, "dealer-1", memory.TypeProfile, "fresh")
	require.NoError(t, err)
	assert.Equal(t, 0.5, untouched.Importance)
}

func TestApplyDecayRespectsFloor(t *testing.T) {
	svc, backend := newTestService(t, nil)
	ctx := context.Background()

	e := testEntry("faded")
	e.Importance = 0.1 // already at the floor
	id, err := svc.Store(ctx, e)
	require.NoError(t, err)
	require.NoError(t, backend.TouchEntry(ctx, id, time.Now().UTC().Add(-60*24*time.Hour)))

	n, err := svc.ApplyDecay(ctx, "acct-1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCleanupExpired(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Minute)
	e := testEntry("gone")
	e.ExpiresAt = &past
	_, err := svc.Store(ctx, e)
	require.NoError(t, err)

	n, err := svc.CleanupExpired(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	entries, err := svc.Search(ctx, memory.SearchCriteria{AccountID: "acct-1", IncludeExpired: true})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestConsolidateMergesNearDuplicates(t *testing.T) {
	svc, backend := newTestService(t, nil)
	ctx := context.Background()

	vec := []float32{0.6, 0.8, 0, 0}

	a := testEntry("note-a")
	a.Type = memory.TypeCustomerPatterns
	a.Importance = 0.8
	a.Confidence = 1.0
	a.IsActive = true
	a.Embedding = vec
	a.Tags = []string{"pricing"}
	aID, err := backend.UpsertEntry(ctx, a)
	require.NoError(t, err)

	b := testEntry("note-b")
	b.Type = memory.TypeCustomerPatterns
	b.Importance = 0.4
	b.Confidence = 1.0
	b.IsActive = true
	b.Embedding = vec
	b.Tags = []string{"negotiation"}
	bID, err := backend.UpsertEntry(ctx, b)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, backend.TouchEntry(ctx, aID, time.Now().UTC()))
	}
	for i := 0; i < 2; i++ {
		require.NoError(t, backend.TouchEntry(ctx, bID, time.Now().UTC()))
	}

	merged, err := svc.Consolidate(ctx, "dealer-1", "acct-1", memory.TypeCustomerPatterns)
	require.NoError(t, err)
	assert.Equal(t, 1, merged)

	survivor, err := backend.GetEntry(ctx, "dealer-1", memory.TypeCustomerPatterns, "note-a")
	require.NoError(t, err)
	require.NotNil(t, survivor)
	assert.Equal(t, 5, survivor.AccessCount, "access counts must sum on merge")
	assert.ElementsMatch(t, []string{"pricing", "negotiation"}, survivor.Tags)
	assert.Contains(t, survivor.Value, "merged:note-b")

	absorbed, err := backend.GetEntry(ctx, "dealer-1", memory.TypeCustomerPatterns, "note-b")
	require.NoError(t, err)
	assert.Nil(t, absorbed, "absorbed entry must be soft-deleted")
}

func TestStats(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.Store(ctx, testEntry("one"))
	require.NoError(t, err)

	inv := testEntry("vin-123")
	inv.Type = memory.TypeInventory
	_, err = svc.Store(ctx, inv)
	require.NoError(t, err)

	stats, err := svc.Stats(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.ByType[memory.TypeProfile])
	assert.Equal(t, 1, stats.ByType[memory.TypeInventory])
	assert.InDelta(t, 0.5, stats.AvgImportance, 1e-9)
}

func TestHardDeleteIsIdempotent(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	id, err := svc.Store(ctx, testEntry("temp"))
	require.NoError(t, err)

	require.NoError(t, svc.HardDelete(ctx, id))
	require.NoError(t, svc.HardDelete(ctx, id))
}
