package embeddings

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/facemydealer/dealerbrain/internal/config"
)

// OpenAIProvider generates embeddings via the OpenAI embeddings API.
type OpenAIProvider struct {
	client  *openai.Client
	cfg     config.EmbeddingsConfig
	metrics *Metrics
	dim     int
}

// NewOpenAIProvider creates an OpenAI embedding provider from configuration.
func NewOpenAIProvider(cfg config.EmbeddingsConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: api key required for openai provider", ErrInvalidConfig)
	}
	if cfg.Model == "" || cfg.Model == "BAAI/bge-small-en-v1.5" {
		cfg.Model = string(openai.SmallEmbedding3)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}

	return &OpenAIProvider{
		client:  openai.NewClient(cfg.APIKey),
		cfg:     cfg,
		metrics: NewMetrics(),
		dim:     detectDimension(cfg.Model),
	}, nil
}

// EmbedDocuments generates embeddings for multiple texts.
func (p *OpenAIProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	var genErr error
	defer func() {
		p.metrics.RecordGeneration(ctx, p.cfg.Model, "embed_documents", time.Since(start), len(texts), genErr)
	}()

	if len(texts) == 0 {
		genErr = fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
		return nil, genErr
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	truncated := make([]string, len(texts))
	for i, t := range texts {
		truncated[i] = p.truncate(t)
	}

	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: truncated,
		Model: openai.EmbeddingModel(p.cfg.Model),
	})
	if err != nil {
		genErr = fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
		return nil, genErr
	}
	if len(resp.Data) != len(texts) {
		genErr = fmt.Errorf("%w: expected %d embeddings, got %d", ErrEmbeddingFailed, len(texts), len(resp.Data))
		return nil, genErr
	}

	vectors := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

// EmbedQuery generates an embedding for a single query.
func (p *OpenAIProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	vectors, err := p.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// Dimension returns the embedding dimension for the configured model.
func (p *OpenAIProvider) Dimension() int {
	return p.dim
}

// Close is a no-op for the OpenAI client.
func (p *OpenAIProvider) Close() error {
	return nil
}

func (p *OpenAIProvider) truncate(text string) string {
	if p.cfg.MaxInputChars > 0 && len(text) > p.cfg.MaxInputChars {
		return text[:p.cfg.MaxInputChars]
	}
	return text
}
