// Package embeddings provides embedding generation via multiple providers.
//
// The embedding provider is an optional collaborator: when it is absent or
// fails, callers degrade to keyword search. Nothing in this package should be
// allowed to fail a surrounding store or search operation.
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/facemydealer/dealerbrain/internal/config"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// Provider is the interface for embedding providers.
type Provider interface {
	// EmbedQuery generates an embedding for a single text.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// EmbedDocuments generates embeddings for multiple texts.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the embedding dimension for the current model.
	Dimension() int

	// Close releases resources held by the provider.
	Close() error
}

// NewProvider creates an embedding provider from configuration.
//
// Returns (nil, nil) when the provider is "none" or unset: a nil Provider is
// the documented way to run without semantic search.
func NewProvider(cfg config.EmbeddingsConfig) (Provider, error) {
	switch cfg.Provider {
	case "", "none":
		return nil, nil
	case "tei":
		return NewService(cfg)
	case "openai":
		return NewOpenAIProvider(cfg)
	case "mock":
		return NewMockProvider(defaultMockDimension), nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}

// detectDimension returns the embedding dimension for a model name.
// Falls back to 384 (bge-small) if the model is unknown.
func detectDimension(model string) int {
	model = strings.ToLower(model)
	switch {
	case strings.Contains(model, "text-embedding-3-large"):
		return 3072
	case strings.Contains(model, "text-embedding"):
		return 1536
	case strings.Contains(model, "base"):
		return 768
	case strings.Contains(model, "large"):
		return 1024
	default:
		return 384
	}
}
