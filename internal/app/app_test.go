package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mozhuanzuojing/CountBot/internal/config"
	"github.com/mozhuanzuojing/CountBot/internal/llm"
	"github.com/mozhuanzuojing/CountBot/internal/logger"
)

func newTestApp(t *testing.T, cfg *config.Config, provider llm.Provider) *App {
	t.Helper()
	a, err := New(cfg, logger.NewNop(),
		WithProvider(provider),
		WithMetricsRegistry(prometheus.NewRegistry()))
	require.NoError(t, err)
	return a
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	workspace := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workspace, "AGENTS.md"), []byte("# Agent"), 0o644))

	cfg := &config.Config{}
	cfg.Workspace.Path = workspace
	cfg.LLM.APIKey = "sk-test0123456789"
	cfg.Subagent.Enabled = true
	cfg.Scheduler.Enabled = true
	cfg.Storage.JobsPath = filepath.Join(t.TempDir(), "jobs.db")
	return cfg
}

func applyConfigDefaults(cfg *config.Config) {
	// Round-trip through TOML-free loading path by validating defaults.
	if cfg.Agent.Model == "" {
		cfg.Agent.Model = "glm-4.7"
	}
	if cfg.Agent.MaxIterations == 0 {
		cfg.Agent.MaxIterations = 5
	}
	if cfg.Scheduler.MaxConcurrent == 0 {
		cfg.Scheduler.MaxConcurrent = 2
	}
	if cfg.Scheduler.JobTimeoutSeconds == 0 {
		cfg.Scheduler.JobTimeoutSeconds = 30
	}
}

func TestApp_ProcessMessage(t *testing.T) {
	cfg := testConfig(t)
	applyConfigDefaults(cfg)

	provider := llm.NewFixedProvider("the answer")
	a := newTestApp(t, cfg, provider)

	result, err := a.ProcessMessage(context.Background(), "session-1", "question")
	require.NoError(t, err)
	assert.Equal(t, "the answer", result)
	assert.Equal(t, 1, provider.CallCount())
}

func TestApp_WiresExpectedTools(t *testing.T) {
	cfg := testConfig(t)
	applyConfigDefaults(cfg)
	cfg.Tools.Fetch.Enabled = true

	a := newTestApp(t, cfg, llm.NewFixedProvider("ok"))

	registry := a.Loop().Tools()
	assert.True(t, registry.Has("system_time"))
	assert.True(t, registry.Has("web_fetch"))
	assert.True(t, registry.Has("cron"))
	assert.True(t, registry.Has("spawn"))
}

func TestApp_DisabledComponentsStayNil(t *testing.T) {
	cfg := testConfig(t)
	applyConfigDefaults(cfg)
	cfg.Scheduler.Enabled = false
	cfg.Subagent.Enabled = false

	a := newTestApp(t, cfg, llm.NewFixedProvider("ok"))

	assert.Nil(t, a.Scheduler())
	assert.Nil(t, a.Subagent())
	assert.False(t, a.Loop().Tools().Has("cron"))
	assert.False(t, a.Loop().Tools().Has("spawn"))
}

func TestApp_StartStop(t *testing.T) {
	cfg := testConfig(t)
	applyConfigDefaults(cfg)

	a := newTestApp(t, cfg, llm.NewFixedProvider("ok"))

	require.NoError(t, a.Start(context.Background()))
	require.NoError(t, a.Stop())
}
