package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/facemydealer/dealerbrain/internal/config"
)

// Service is a TEI-compatible HTTP embedding client.
//
// Every request is bounded by the configured timeout; the server-side timeout
// is the only cancellation point in this core.
type Service struct {
	cfg     config.EmbeddingsConfig
	client  *http.Client
	metrics *Metrics
	dim     int
}

// NewService creates a TEI embedding client from configuration.
func NewService(cfg config.EmbeddingsConfig) (*Service, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}

	return &Service{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		metrics: NewMetrics(),
		dim:     detectDimension(cfg.Model),
	}, nil
}

// teiRequest is the request body for the TEI embed endpoint.
type teiRequest struct {
	Inputs   interface{} `json:"inputs"`
	Truncate bool        `json:"truncate"`
}

// EmbedDocuments generates embeddings for multiple texts.
func (s *Service) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	var genErr error
	defer func() {
		s.metrics.RecordGeneration(ctx, s.cfg.Model, "embed_documents", time.Since(start), len(texts), genErr)
	}()

	if len(texts) == 0 {
		genErr = fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
		return nil, genErr
	}

	truncated := make([]string, len(texts))
	for i, t := range texts {
		truncated[i] = s.truncate(t)
	}

	var vectors [][]float32
	if genErr = s.post(ctx, truncated, &vectors); genErr != nil {
		return nil, genErr
	}
	return vectors, nil
}

// EmbedQuery generates an embedding for a single query.
func (s *Service) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	var genErr error
	defer func() {
		s.metrics.RecordGeneration(ctx, s.cfg.Model, "embed_query", time.Since(start), 1, genErr)
	}()

	if text == "" {
		genErr = fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
		return nil, genErr
	}

	var vectors [][]float32
	if genErr = s.post(ctx, []string{s.truncate(text)}, &vectors); genErr != nil {
		return nil, genErr
	}
	if len(vectors) == 0 {
		genErr = fmt.Errorf("%w: empty response", ErrEmbeddingFailed)
		return nil, genErr
	}
	return vectors[0], nil
}

// Dimension returns the embedding dimension based on the configured model.
func (s *Service) Dimension() int {
	return s.dim
}

// Close is a no-op for the HTTP client.
func (s *Service) Close() error {
	return nil
}

func (s *Service) truncate(text string) string {
	if s.cfg.MaxInputChars > 0 && len(text) > s.cfg.MaxInputChars {
		return text[:s.cfg.MaxInputChars]
	}
	return text
}

func (s *Service) post(ctx context.Context, inputs []string, out *[][]float32) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(teiRequest{Inputs: inputs, Truncate: true})
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", s.cfg.BaseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: status %d: %s", ErrEmbeddingFailed, resp.StatusCode, string(respBody))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
