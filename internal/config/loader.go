package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const maxConfigFileSize = 1024 * 1024 // 1MB

// Load reads configuration from an optional YAML file, then overrides with
// environment variables, then applies defaults and validates.
//
// Precedence (highest to lowest):
//  1. Environment variables (STORAGE_PATH, EMBEDDINGS_BASE_URL, ...)
//  2. YAML config file
//  3. Hardcoded defaults
//
// Environment variables map to config keys by lowercasing and splitting on the
// first underscore: EMBEDDINGS_BASE_URL -> embeddings.base_url.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		info, err := os.Stat(configPath)
		switch {
		case os.IsNotExist(err):
			// Missing file is fine; env vars and defaults still apply.
		case err != nil:
			return nil, fmt.Errorf("stat config file: %w", err)
		default:
			if info.Size() > maxConfigFileSize {
				return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
			}
			content, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("parse config file %s: %w", configPath, err)
			}
		}
	}

	if err := k.Load(env.Provider("", ".", transformEnvKey), nil); err != nil {
		return nil, fmt.Errorf("load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// transformEnvKey maps STORAGE_PATH -> storage.path, keeping underscores
// inside the field name (EMBEDDINGS_BASE_URL -> embeddings.base_url).
func transformEnvKey(s string) string {
	lower := strings.ToLower(s)
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

// applyDefaults fills in zero-valued fields.
func applyDefaults(cfg *Config) {
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "dealerbrain.db"
	}

	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = "none"
	}
	if cfg.Embeddings.BaseURL == "" {
		cfg.Embeddings.BaseURL = "http://localhost:8080"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "BAAI/bge-small-en-v1.5"
	}
	if cfg.Embeddings.Timeout == 0 {
		cfg.Embeddings.Timeout = 5 * time.Second
	}
	if cfg.Embeddings.MaxInputChars == 0 {
		cfg.Embeddings.MaxInputChars = 8000
	}

	if cfg.Memory.SimilarityThreshold == 0 {
		cfg.Memory.SimilarityThreshold = 0.7
	}
	if cfg.Memory.ConsolidationThreshold == 0 {
		cfg.Memory.ConsolidationThreshold = 0.9
	}
	if cfg.Memory.DecayFactor == 0 {
		cfg.Memory.DecayFactor = 0.995
	}
	if cfg.Memory.DecayFloor == 0 {
		cfg.Memory.DecayFloor = 0.1
	}
	if cfg.Memory.StaleAfter == 0 {
		cfg.Memory.StaleAfter = 30 * 24 * time.Hour
	}
	if cfg.Memory.DefaultSearchLimit == 0 {
		cfg.Memory.DefaultSearchLimit = 100
	}

	if cfg.Threat.UrgencyRatioCutoff == 0 {
		cfg.Threat.UrgencyRatioCutoff = 0.3
	}
	if cfg.Threat.TopicChangeCutoff == 0 {
		cfg.Threat.TopicChangeCutoff = 5
	}
	if cfg.Threat.TerminateConfidence == 0 {
		cfg.Threat.TerminateConfidence = 0.8
	}
	if cfg.Threat.EscalateConfidence == 0 {
		cfg.Threat.EscalateConfidence = 0.9
	}

	if cfg.Maintenance.Interval == 0 {
		cfg.Maintenance.Interval = 5 * time.Minute
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}
