package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "dealerbrain.db", cfg.Storage.Path)
	assert.Equal(t, "none", cfg.Embeddings.Provider)
	assert.Equal(t, 5*time.Second, cfg.Embeddings.Timeout)

	assert.Equal(t, 0.7, cfg.Memory.SimilarityThreshold)
	assert.Equal(t, 0.9, cfg.Memory.ConsolidationThreshold)
	assert.Equal(t, 0.995, cfg.Memory.DecayFactor)
	assert.Equal(t, 0.1, cfg.Memory.DecayFloor)
	assert.Equal(t, 30*24*time.Hour, cfg.Memory.StaleAfter)
	assert.Equal(t, 100, cfg.Memory.DefaultSearchLimit)

	assert.Equal(t, 0.3, cfg.Threat.UrgencyRatioCutoff)
	assert.Equal(t, 5, cfg.Threat.TopicChangeCutoff)
	assert.Equal(t, 0.8, cfg.Threat.TerminateConfidence)
	assert.Equal(t, 0.9, cfg.Threat.EscalateConfidence)

	assert.Equal(t, 5*time.Minute, cfg.Maintenance.Interval)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadMissingFileIsFine(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "dealerbrain.db", cfg.Storage.Path)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
storage:
  path: /var/lib/dealerbrain/brain.db
memory:
  decay_factor: 0.99
threat:
  topic_change_cutoff: 3
maintenance:
  accounts: [acct-1, acct-2]
  consolidate: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/dealerbrain/brain.db", cfg.Storage.Path)
	assert.Equal(t, 0.99, cfg.Memory.DecayFactor)
	assert.Equal(t, 3, cfg.Threat.TopicChangeCutoff)
	assert.Equal(t, []string{"acct-1", "acct-2"}, cfg.Maintenance.Accounts)
	assert.True(t, cfg.Maintenance.Consolidate)

	// Untouched sections still get defaults.
	assert.Equal(t, 0.7, cfg.Memory.SimilarityThreshold)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  path: from-file.db\n"), 0o600))

	t.Setenv("STORAGE_PATH", "from-env.db")
	t.Setenv("EMBEDDINGS_BASE_URL", "http://tei.internal:8080")
	t.Setenv("LOGGING_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env.db", cfg.Storage.Path)
	assert.Equal(t, "http://tei.internal:8080", cfg.Embeddings.BaseURL)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("memory:\n  decay_factor: 1.5\n"), 0o600))

	_, err := Load(path)
	assert.ErrorContains(t, err, "decay_factor")
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage: [unclosed\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestTransformEnvKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"STORAGE_PATH", "storage.path"},
		{"EMBEDDINGS_BASE_URL", "embeddings.base_url"},
		{"MEMORY_SIMILARITY_THRESHOLD", "memory.similarity_threshold"},
		{"DEBUG", "debug"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, transformEnvKey(tt.in))
	}
}
