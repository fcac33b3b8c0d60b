package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bloom-graph/src/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
ai:
  model: "test-model"
  timeout: 5
embedding:
  dim: 64
graph:
  top_k: 3
  min_score: 0.9
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "test-model", cfg.AI.Model)
	assert.Equal(t, 5, cfg.AI.TimeoutSecs)
	assert.Equal(t, 64, cfg.Embedding.Dim)
	assert.Equal(t, "hash", cfg.Embedding.Provider, "незаданные поля берутся из значений по умолчанию")
	assert.Equal(t, 3, cfg.Graph.TopK)
	assert.Equal(t, 0.9, cfg.Graph.MinScore)
	assert.Equal(t, 200, cfg.Graph.MaxEdges)
	assert.True(t, cfg.Graph.IncludeCooccurrence)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AI_API_KEY", "env-key")
	t.Setenv("BLOOM_DB_PATH", "/tmp/env.db")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("BLOOM_EMBEDDING_DIM", "128")

	cfg, err := LoadConfig(writeConfig(t, "ai:\n  api_key: file-key\n"))
	require.NoError(t, err)
	assert.Equal(t, "env-key", cfg.AI.APIKey)
	assert.Equal(t, "/tmp/env.db", cfg.Storage.SQLitePath)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 128, cfg.Embedding.Dim)
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Defaults().Graph, cfg.Graph)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "ai: [unclosed"))
	assert.Error(t, err)
}

func TestValidateRejectsOutOfRange(t *testing.T) {
	cases := map[string]func(*Config){
		"dim too small":    func(c *Config) { c.Embedding.Dim = 4 },
		"dim too large":    func(c *Config) { c.Embedding.Dim = 5000 },
		"unknown embedder": func(c *Config) { c.Embedding.Provider = "random" },
		"unknown provider": func(c *Config) { c.Classifier.Provider = "other" },
		"negative retries": func(c *Config) { c.Classifier.MaxRetries = -1 },
		"min prob":         func(c *Config) { c.Taxonomy.MinProb = 1.5 },
		"max levels":       func(c *Config) { c.Taxonomy.MaxLevels = 0 },
		"max nodes":        func(c *Config) { c.Nodes.MaxNodes = 0 },
		"top k":            func(c *Config) { c.Graph.TopK = 0 },
		"negative score":   func(c *Config) { c.Graph.MinScore = -0.1 },
		"max edges":        func(c *Config) { c.Graph.MaxEdges = 0 },
		"seq threshold":    func(c *Config) { c.Sequence.SimilarityThreshold = 2 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Defaults()
			mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrInvalidConfig))
		})
	}
	assert.NoError(t, Defaults().Validate())
}
