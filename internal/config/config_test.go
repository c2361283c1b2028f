package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "claude-sonnet-4-5-20250929", cfg.Anthropic.Model)
	assert.Equal(t, int64(2000), cfg.Anthropic.MaxTokens)
	assert.InDelta(t, 0.1, cfg.Anthropic.Temperature, 0.0001)
	assert.Equal(t, int64(1), cfg.LLM.MaxConcurrent)
	assert.Equal(t, 120, cfg.LLM.CallTimeoutSecs)
	assert.Equal(t, 3, cfg.LLM.RetryAttempts)
	assert.Equal(t, DefaultRubric, cfg.Matcher.Rubric)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 5000, cfg.Server.Port)
	assert.False(t, cfg.Server.RetryMalformed)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
anthropic:
  model: claude-haiku-4-5-20251001
  max_tokens: 1000
llm:
  max_concurrent: 2
  requests_per_minute: 30
matcher:
  rubric:
    - "Biomarker matches"
    - "Prior therapy washout"
store:
  driver: sqlite
  database_url: local.db
server:
  port: 8080
  retry_malformed: true
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.Model)
	assert.Equal(t, int64(1000), cfg.Anthropic.MaxTokens)
	assert.Equal(t, int64(2), cfg.LLM.MaxConcurrent)
	assert.Equal(t, 30, cfg.LLM.RequestsPerMinute)
	assert.Equal(t, []string{"Biomarker matches", "Prior therapy washout"}, cfg.Matcher.Rubric)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "local.db", cfg.Store.DatabaseURL)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.True(t, cfg.Server.RetryMalformed)
	assert.Equal(t, "debug", cfg.Log.Level)

	// Unset keys keep their defaults.
	assert.InDelta(t, 0.1, cfg.Anthropic.Temperature, 0.0001)
	assert.Equal(t, 120, cfg.LLM.CallTimeoutSecs)
}

func TestLoadFromEnv(t *testing.T) {
	chdirTemp(t)
	t.Setenv("MEDMATCH_ANTHROPIC_KEY", "sk-env-test")
	t.Setenv("MEDMATCH_SERVER_PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sk-env-test", cfg.Anthropic.Key)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))
	require.Error(t, InitLogger(LogConfig{Level: "bogus", Format: "json"}))
}
