package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pario-ai/flowsmith/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, 0.9, cfg.Cache.SemanticThreshold)
	assert.Equal(t, 2*time.Second, cfg.Cache.LookupTimeout)
	assert.Equal(t, 3, cfg.Generation.MaxAttempts)
	assert.Equal(t, 45*time.Second, cfg.SyncBudget())
	require.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	t.Setenv("TEST_API_KEY", "sk-test-123")

	content := `
listen: ":9090"
db_path: "test.db"
providers:
  - name: openai
    url: https://api.openai.com/v1
    api_key: ${TEST_API_KEY}
    requests_per_second: 2
router:
  routes:
    - tier: smart
      targets:
        - provider: openai
          model: gpt-4o
cache:
  semantic_enabled: true
  semantic_threshold: 0.92
  lookup_timeout: 1500ms
complexity:
  t1: 3.5
generation:
  max_attempts: 5
quotas:
  - model: gpt-4o
    max_tokens: 500000
    period: monthly
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, "sk-test-123", cfg.Providers[0].APIKey, "env var not expanded")
	assert.Equal(t, models.TierSmart, cfg.Router.Routes[0].Tier)
	assert.True(t, cfg.Cache.SemanticEnabled)
	assert.Equal(t, 0.92, cfg.Cache.SemanticThreshold)
	assert.Equal(t, 1500*time.Millisecond, cfg.Cache.LookupTimeout)
	assert.Equal(t, 3.5, cfg.Complexity.T1)
	// untouched defaults survive the overlay
	assert.Equal(t, 7.0, cfg.Complexity.T2)
	assert.Equal(t, 0.6, cfg.Complexity.Weights.Gateway)
	assert.Equal(t, 5, cfg.Generation.MaxAttempts)
	require.Len(t, cfg.Quotas, 1)
	assert.Equal(t, models.QuotaMonthly, cfg.Quotas[0].Period)
	assert.Equal(t, int64(500000), cfg.Quotas[0].MaxTokens)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path.yaml")
	assert.Error(t, err)

	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Listen, cfg.Listen)
}

func TestValidateRejectsImpossibleValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"t1 above t2", func(c *Config) { c.Complexity.T1 = 8 }},
		{"threshold zero", func(c *Config) { c.Cache.SemanticThreshold = 0 }},
		{"threshold above one", func(c *Config) { c.Cache.SemanticThreshold = 1.2 }},
		{"no attempts", func(c *Config) { c.Generation.MaxAttempts = 0 }},
		{"margin exceeds deadline", func(c *Config) { c.Dispatch.SafetyMargin = time.Minute }},
		{"unknown backend", func(c *Config) { c.Cache.VectorBackend = "redis" }},
		{"empty quota", func(c *Config) { c.Quotas = []models.QuotaPolicy{{Period: models.QuotaDaily}} }},
		{"unknown quota period", func(c *Config) {
			c.Quotas = []models.QuotaPolicy{{MaxTokens: 10, Period: "weekly"}}
		}},
		{"duplicate provider", func(c *Config) {
			c.Providers = []ProviderConfig{{Name: "a"}, {Name: "a"}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
