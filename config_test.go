package regionews

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestLoadFromDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	cfg, err := LoadFrom(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "regionews.db", cfg.Store.Path)
	assert.Equal(t, "text-embedding-3-large", cfg.OpenAI.EmbeddingModel)
	assert.Equal(t, "gpt-4.1-mini", cfg.OpenAI.ScoringModel)
	assert.Equal(t, 4, cfg.OpenAI.Concurrency)
	assert.Equal(t, "P30D", cfg.Analysis.Window)
	assert.Equal(t, 0.15, cfg.Analysis.SpatialWeight)
	assert.Equal(t, ScopeLocation, cfg.Analysis.RegionalScope)
	assert.Equal(t, 0.95, cfg.Syndication.SimilarityThreshold)
	assert.Equal(t, 5, cfg.Syndication.MinDuplicates)
	assert.Equal(t, LinkageAverage, cfg.Cluster.Linkage)
	assert.Equal(t, 0.5, cfg.Cluster.DistanceThreshold)
	assert.Equal(t, 5, cfg.Regional.MinN)
	assert.Equal(t, 1000, cfg.Regional.NBootstrap)
	assert.Equal(t, 10000, cfg.Regional.NPermutations)
	assert.Nil(t, cfg.Regional.Seed)
	assert.Equal(t, "reports", cfg.Report.Dir)
	assert.True(t, cfg.Report.HTML)

	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultOptions(), cfg.Options())
}

func TestLoadFromFileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "config.yaml"), `
analysis:
  window: P60D
  spatial_weight: 0.3
  regional_scope: cluster
cluster:
  linkage: complete
  min_cluster_size: 4
regional:
  seed: 7
report:
  html: false
`)
	writeFile(t, filepath.Join(dir, ".env"), "REGIONEWS_STORE_PATH=from-dotenv.db\n")
	t.Cleanup(func() { _ = os.Unsetenv("REGIONEWS_STORE_PATH") })
	t.Setenv("REGIONEWS_CLUSTER_MIN_CLUSTER_SIZE", "8")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := LoadFrom(dir)
	require.NoError(t, err)

	assert.Equal(t, 0.3, cfg.Analysis.SpatialWeight)
	assert.Equal(t, ScopeCluster, cfg.Analysis.RegionalScope)
	assert.Equal(t, LinkageComplete, cfg.Cluster.Linkage)
	assert.Equal(t, 8, cfg.Cluster.MinClusterSize, "environment overrides the file")
	require.NotNil(t, cfg.Regional.Seed)
	assert.Equal(t, uint64(7), *cfg.Regional.Seed)
	assert.False(t, cfg.Report.HTML)
	assert.Equal(t, "from-dotenv.db", cfg.Store.Path)
	assert.Equal(t, "sk-test", cfg.OpenAI.APIKey)

	d, err := cfg.WindowDuration()
	require.NoError(t, err)
	assert.Equal(t, 60*24*time.Hour, d)

	opts := cfg.Options()
	assert.Equal(t, 0.3, opts.SpatialWeight)
	assert.Equal(t, ScopeCluster, opts.RegionalScope)
	assert.Equal(t, 8, opts.Cluster.MinClusterSize)
}

func TestConfigValidate(t *testing.T) {
	base, err := LoadFrom(t.TempDir())
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"spatial weight", func(c *Config) { c.Analysis.SpatialWeight = 1.2 }},
		{"fusion scale", func(c *Config) { c.Analysis.FusionScale = -1 }},
		{"scope", func(c *Config) { c.Analysis.RegionalScope = "county" }},
		{"window", func(c *Config) { c.Analysis.Window = "30 days" }},
		{"similarity", func(c *Config) { c.Syndication.SimilarityThreshold = 1.5 }},
		{"prefix", func(c *Config) { c.Syndication.PrefixChars = 200 }},
		{"linkage", func(c *Config) { c.Cluster.Linkage = "ward" }},
		{"confidence", func(c *Config) { c.Regional.Confidence = 1 }},
		{"nan confidence", func(c *Config) { c.Regional.Confidence = math.NaN() }},
		{"permutations", func(c *Config) { c.Regional.NPermutations = -1 }},
		{"bootstrap", func(c *Config) { c.Regional.NBootstrap = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := *base
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, eris.Is(err, ErrInvalidInput), "got %v", err)
		})
	}
}

func TestConfigSince(t *testing.T) {
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

	cfg := &Config{Analysis: AnalysisConfig{Window: "P30D"}}
	since, err := cfg.Since(now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 9, 18, 12, 0, 0, 0, time.UTC), since)

	cfg.Analysis.Window = ""
	since, err = cfg.Since(now)
	require.NoError(t, err)
	assert.True(t, since.IsZero())
}

func TestInitLogger(t *testing.T) {
	prev := zap.L()
	t.Cleanup(func() { zap.ReplaceGlobals(prev) })

	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.True(t, zap.L().Core().Enabled(zap.DebugLevel))

	require.NoError(t, InitLogger(LogConfig{Level: "warn", Format: "json"}))
	assert.False(t, zap.L().Core().Enabled(zap.InfoLevel))

	assert.Error(t, InitLogger(LogConfig{Level: "loud"}))
}
