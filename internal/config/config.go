// Package config provides configuration loading for dealerbrain.
package config

import (
	"fmt"
	"time"

	"github.com/facemydealer/dealerbrain/internal/logging"
)

// StorageConfig configures the SQLite backing store.
type StorageConfig struct {
	// Path is the database file path. ":memory:" is accepted for tests.
	Path string `koanf:"path"`
}

// EmbeddingsConfig configures the optional embedding provider.
type EmbeddingsConfig struct {
	// Provider selects the embedding backend: "tei", "openai", "mock", or
	// "none" to disable semantic search entirely.
	Provider string `koanf:"provider"`

	// BaseURL is the TEI endpoint (tei provider only).
	BaseURL string `koanf:"base_url"`

	// Model is the embedding model name.
	Model string `koanf:"model"`

	// APIKey is the provider API key (openai provider only).
	APIKey string `koanf:"api_key"`

	// Timeout bounds every embedding request. Embedding failures degrade to
	// keyword search; they never fail the surrounding operation.
	Timeout time.Duration `koanf:"timeout"`

	// MaxInputChars truncates text before embedding.
	MaxInputChars int `koanf:"max_input_chars"`
}

// MemoryConfig holds the memory store's policy constants.
type MemoryConfig struct {
	// SimilarityThreshold is the minimum cosine similarity for semantic
	// search results.
	SimilarityThreshold float64 `koanf:"similarity_threshold"`

	// ConsolidationThreshold is the minimum cosine similarity for merging
	// near-duplicate entries. Intentionally distinct from
	// SimilarityThreshold; both are tunable policy.
	ConsolidationThreshold float64 `koanf:"consolidation_threshold"`

	// DecayFactor multiplies importance on each decay pass.
	DecayFactor float64 `koanf:"decay_factor"`

	// DecayFloor exempts entries at or below this importance from decay.
	DecayFloor float64 `koanf:"decay_floor"`

	// StaleAfter is how long an entry must go unaccessed before decaying.
	StaleAfter time.Duration `koanf:"stale_after"`

	// DefaultSearchLimit caps search results when the caller supplies none.
	DefaultSearchLimit int `koanf:"default_search_limit"`
}

// ThreatConfig holds the threat engine's heuristic policy constants.
// The cutoffs are coarse hand-tuned heuristics, not calibrated truths.
type ThreatConfig struct {
	// UrgencyRatioCutoff is the indicator-density ratio above which the
	// behavioral check reports manipulation.
	UrgencyRatioCutoff float64 `koanf:"urgency_ratio_cutoff"`

	// TopicChangeCutoff is the number of low-overlap adjacent history pairs
	// above which the behavioral check reports manipulation.
	TopicChangeCutoff int `koanf:"topic_change_cutoff"`

	// TerminateConfidence is the minimum confidence for terminating on a
	// high-severity threat.
	TerminateConfidence float64 `koanf:"terminate_confidence"`

	// EscalateConfidence is the minimum confidence for escalating a
	// non-critical threat.
	EscalateConfidence float64 `koanf:"escalate_confidence"`
}

// MaintenanceConfig configures the background decay/cleanup scheduler.
type MaintenanceConfig struct {
	// Interval is the time between maintenance passes.
	Interval time.Duration `koanf:"interval"`

	// Accounts lists tenant IDs to maintain. Empty disables the scheduler.
	Accounts []string `koanf:"accounts"`

	// Consolidate enables near-duplicate consolidation during passes.
	Consolidate bool `koanf:"consolidate"`
}

// Config is the root configuration for the dealerbrain services.
type Config struct {
	Storage     StorageConfig     `koanf:"storage"`
	Embeddings  EmbeddingsConfig  `koanf:"embeddings"`
	Memory      MemoryConfig      `koanf:"memory"`
	Threat      ThreatConfig      `koanf:"threat"`
	Maintenance MaintenanceConfig `koanf:"maintenance"`
	Logging     logging.Config    `koanf:"logging"`
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}
	if c.Memory.SimilarityThreshold < -1 || c.Memory.SimilarityThreshold > 1 {
		return fmt.Errorf("memory.similarity_threshold must be in [-1,1], got %v", c.Memory.SimilarityThreshold)
	}
	if c.Memory.ConsolidationThreshold < -1 || c.Memory.ConsolidationThreshold > 1 {
		return fmt.Errorf("memory.consolidation_threshold must be in [-1,1], got %v", c.Memory.ConsolidationThreshold)
	}
	if c.Memory.DecayFactor <= 0 || c.Memory.DecayFactor > 1 {
		return fmt.Errorf("memory.decay_factor must be in (0,1], got %v", c.Memory.DecayFactor)
	}
	if c.Threat.UrgencyRatioCutoff < 0 || c.Threat.UrgencyRatioCutoff > 1 {
		return fmt.Errorf("threat.urgency_ratio_cutoff must be in [0,1], got %v", c.Threat.UrgencyRatioCutoff)
	}
	if c.Embeddings.Timeout < 0 {
		return fmt.Errorf("embeddings.timeout cannot be negative")
	}
	return c.Logging.Validate()
}
