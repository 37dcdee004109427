package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a    []float32
		b    []float32
		want float64
	}{
		{
			name: "identical vectors",
			a:    []float32{1, 0, 0},
			b:    []float32{1, 0, 0},
			want: 1.0,
		},
		{
			name: "orthogonal vectors",
			a:    []float32{1, 0},
			b:    []float32{0, 1},
			want: 0.0,
		},
		{
			name: "opposite vectors",
			a:    []float32{1, 0},
			b:    []float32{-1, 0},
			want: -1.0,
		},
		{
			name: "mismatched lengths",
			a:    []float32{1, 2, 3},
			b:    []float32{1, 2},
			want: 0.0,
		},
		{
			name: "zero vector",
			a:    []float32{0, 0, 0},
			b:    []float32{1, 2, 3},
			want: 0.0,
		},
		{
			name: "empty vectors",
			a:    nil,
			b:    nil,
			want: 0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CosineSimilarity(tt.a, tt.b), 1e-9)
		})
	}
}

func TestCosineSimilaritySymmetric(t *testing.T) {
	a := []float32{0.3, -0.7, 0.2, 0.9}
	b := []float32{-0.1, 0.4, 0.8, 0.05}

	assert.Equal(t, CosineSimilarity(a, b), CosineSimilarity(b, a))
}

func TestCosineSimilarityBounded(t *testing.T) {
	a := []float32{2.5, -1.1, 0.3}
	b := []float32{-0.4, 3.2, 1.7}

	sim := CosineSimilarity(a, b)
	assert.GreaterOrEqual(t, sim, -1.0)
	assert.LessOrEqual(t, sim, 1.0)
}

func TestTokenize(t *testing.T) {
	tokens := tokenize("Is THIS still available? available!")

	assert.Contains(t, tokens, "is")
	assert.Contains(t, tokens, "this")
	assert.Contains(t, tokens, "still")
	assert.Contains(t, tokens, "available")
	assert.Len(t, tokens, 4) // duplicates collapse
}

func TestOverlapScore(t *testing.T) {
	query := tokenize("red toyota camry")

	assert.InDelta(t, 1.0, overlapScore(query, "2019 red Toyota Camry for sale"), 1e-9)
	assert.InDelta(t, 1.0/3.0, overlapScore(query, "toyota corolla"), 1e-9)
	assert.Zero(t, overlapScore(query, "honda civic"))
	assert.Zero(t, overlapScore(nil, "anything"))
}
