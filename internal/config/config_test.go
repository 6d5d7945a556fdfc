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
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, int32(10), cfg.Store.MaxConns)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "https://api.sam.gov/opportunities/v2", cfg.SAM.BaseURL)
	assert.Equal(t, "https://services.govwin.com/neo-ws", cfg.GovWin.BaseURL)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.HaikuModel)
	assert.Equal(t, "claude-sonnet-4-5-20250929", cfg.Anthropic.SonnetModel)
	assert.Equal(t, 2*time.Minute, cfg.Anthropic.CallTimeout)
	assert.Equal(t, "https://login.salesforce.com", cfg.Salesforce.LoginURL)
	assert.InDelta(t, 0.85, cfg.Resolver.SimilarityThreshold, 0.001)
	assert.False(t, cfg.Resolver.InheritReviewFields)
	assert.Equal(t, "rubric.yaml", cfg.Scorer.RubricPath)
	assert.Equal(t, 50, cfg.Scorer.BatchLimit)
	assert.InDelta(t, 6.0, cfg.Search.FitThreshold, 0.001)
	assert.Equal(t, 10, cfg.Search.MaxResultsPerStrategy)
	assert.Equal(t, 5, cfg.Search.TitleKeywords)
	assert.Equal(t, 4, cfg.Evaluator.Concurrency)
	assert.Equal(t, 30, cfg.Evaluator.RequestsPerMinute)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck

	yaml := `
store:
  driver: sqlite
  database_url: local.db
log:
  level: debug
  format: console
resolver:
  similarity_threshold: 0.9
  inherit_review_fields: true
search:
  fit_threshold: 7.5
evaluator:
  concurrency: 8
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "local.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.InDelta(t, 0.9, cfg.Resolver.SimilarityThreshold, 0.001)
	assert.True(t, cfg.Resolver.InheritReviewFields)
	assert.InDelta(t, 7.5, cfg.Search.FitThreshold, 0.001)
	assert.Equal(t, 8, cfg.Evaluator.Concurrency)
	// Untouched keys keep their defaults.
	assert.Equal(t, 30, cfg.Evaluator.RequestsPerMinute)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))
	assert.Error(t, InitLogger(LogConfig{Level: "shout", Format: "json"}))
}
