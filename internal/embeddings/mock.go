package embeddings

import (
	"context"
	"hash/fnv"
	"math"
)

const defaultMockDimension = 384

// MockProvider generates deterministic embeddings from a text hash.
//
// Identical texts always embed to identical unit vectors, so similarity math
// is exercisable in tests without a real model.
type MockProvider struct {
	dim int
}

// NewMockProvider creates a mock provider with the given dimension.
func NewMockProvider(dim int) *MockProvider {
	if dim <= 0 {
		dim = defaultMockDimension
	}
	return &MockProvider{dim: dim}
}

// EmbedQuery creates a deterministic embedding from the text hash.
func (m *MockProvider) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyInput
	}
	return m.embed(text), nil
}

// EmbedDocuments creates deterministic embeddings for each text.
func (m *MockProvider) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	vectors := make([][]float32, len(texts))
	for i, t := range texts {
		vectors[i] = m.embed(t)
	}
	return vectors, nil
}

// Dimension returns the embedding size.
func (m *MockProvider) Dimension() int {
	return m.dim
}

// Close is a no-op.
func (m *MockProvider) Close() error {
	return nil
}

func (m *MockProvider) embed(text string) []float32 {
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, m.dim)
	for i := range vec {
		// LCG keyed by the text hash.
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}
	return normalize(vec)
}

func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = float32(math.Sqrt(float64(norm)))
	for i, v := range vec {
		vec[i] = v / norm
	}
	return vec
}
