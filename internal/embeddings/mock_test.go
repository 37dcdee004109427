package embeddings

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facemydealer/dealerbrain/internal/config"
)

func TestMockProviderDeterminism(t *testing.T) {
	p := NewMockProvider(64)
	ctx := context.Background()

	a, err := p.EmbedQuery(ctx, "2019 toyota camry")
	require.NoError(t, err)
	b, err := p.EmbedQuery(ctx, "2019 toyota camry")
	require.NoError(t, err)
	c, err := p.EmbedQuery(ctx, "2020 ford f-150")
	require.NoError(t, err)

	assert.Equal(t, a, b, "same text must embed identically")
	assert.NotEqual(t, a, c, "different texts must embed differently")
	assert.Len(t, a, 64)
}

func TestMockProviderUnitVectors(t *testing.T) {
	p := NewMockProvider(0) // falls back to the default dimension
	assert.Equal(t, defaultMockDimension, p.Dimension())

	vec, err := p.EmbedQuery(context.Background(), "anything")
	require.NoError(t, err)

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
}

func TestMockProviderEmptyInput(t *testing.T) {
	p := NewMockProvider(8)
	ctx := context.Background()

	_, err := p.EmbedQuery(ctx, "")
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = p.EmbedDocuments(ctx, nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestMockProviderBatch(t *testing.T) {
	p := NewMockProvider(16)

	vectors, err := p.EmbedDocuments(context.Background(), []string{"one", "two", "one"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	assert.Equal(t, vectors[0], vectors[2])
	assert.NotEqual(t, vectors[0], vectors[1])
}

func TestNewProviderFactory(t *testing.T) {
	p, err := NewProvider(config.EmbeddingsConfig{Provider: "none"})
	require.NoError(t, err)
	assert.Nil(t, p, "provider none disables semantic search")

	p, err = NewProvider(config.EmbeddingsConfig{})
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = NewProvider(config.EmbeddingsConfig{Provider: "mock"})
	require.NoError(t, err)
	assert.IsType(t, &MockProvider{}, p)

	p, err = NewProvider(config.EmbeddingsConfig{Provider: "tei", BaseURL: "http://localhost:8080"})
	require.NoError(t, err)
	assert.IsType(t, &Service{}, p)

	_, err = NewProvider(config.EmbeddingsConfig{Provider: "tei"})
	assert.ErrorIs(t, err, ErrInvalidConfig, "tei requires a base URL")

	_, err = NewProvider(config.EmbeddingsConfig{Provider: "watsonx"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestDetectDimension(t *testing.T) {
	tests := []struct {
		model string
		want  int
	}{
		{"BAAI/bge-small-en-v1.5", 384},
		{"BAAI/bge-base-en-v1.5", 768},
		{"BAAI/bge-large-en-v1.5", 1024},
		{"text-embedding-3-small", 1536},
		{"text-embedding-3-large", 3072},
		{"BGE-Large-EN", 1024},
		{"", 384},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, detectDimension(tt.model), tt.model)
	}
}
