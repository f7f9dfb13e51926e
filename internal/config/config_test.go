package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"FAMILIAR_API_KEY", "GEMINI_API_KEY", "FAMILIAR_REASONING_PROVIDER",
		"FAMILIAR_REASONING_BASE_URL", "FAMILIAR_MODEL", "FAMILIAR_ACTUATOR_URL",
		"FAMILIAR_SERVER_ADDR", "FAMILIAR_DEBUG",
	} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".familiar"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".familiar", "config.json"), []byte(content), 0o644))
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)

	if diff := cmp.Diff(Default(dir), cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadAppliesFileOverDefaults(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeConfig(t, dir, `{
		"agent_id": "pet",
		"rate": {"max_calls": 5, "window_seconds": 30},
		"executor": {"ask_policy": "block"}
	}`)

	cfg, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, "pet", cfg.AgentID)
	require.Equal(t, 5, cfg.Rate.MaxCalls)
	require.Equal(t, "block", cfg.Executor.AskPolicy)
	// Untouched sections keep their defaults.
	require.Equal(t, "gemini", cfg.Reasoning.Provider)
	require.True(t, cfg.Monitor.Enabled)
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeConfig(t, dir, `{"reasoning": {"model": "from-file", "api_key": "file-key"}}`)
	t.Setenv("FAMILIAR_MODEL", "from-env")
	t.Setenv("FAMILIAR_API_KEY", "env-key")

	cfg, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.Reasoning.Model)
	require.Equal(t, "env-key", cfg.Reasoning.APIKey)
}

func TestGeminiKeyOnlyFillsEmpty(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeConfig(t, dir, `{"reasoning": {"api_key": "file-key"}}`)
	t.Setenv("GEMINI_API_KEY", "gemini-key")

	cfg, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, "file-key", cfg.Reasoning.APIKey)
}

func TestMalformedConfigFails(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeConfig(t, dir, `{nope`)

	_, err := Load(dir)
	require.Error(t, err)
}

func TestDurationAccessorsClampToDefaults(t *testing.T) {
	var r ReasoningConfig
	require.Equal(t, 30*time.Second, r.Timeout())

	var m MonitorConfig
	require.Equal(t, 5*time.Minute, m.Cooldown())

	var a ActuatorConfig
	require.Equal(t, 2500*time.Millisecond, a.Timeout())
}

func TestSaveRoundTrips(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	cfg := Default(dir)
	cfg.AgentID = "saved"
	require.NoError(t, Save(dir, cfg))

	loaded, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, "saved", loaded.AgentID)
}

func TestLoadPersonaDefaults(t *testing.T) {
	dir := t.TempDir()
	p, err := LoadPersona(dir)
	require.NoError(t, err)
	require.Equal(t, "familiar", p.Name)
	require.NotEmpty(t, p.SystemPrompt)
	require.InDelta(t, 0.5, p.Emotions["curiosity"], 1e-9)
}

func TestLoadPersonaFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".familiar"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".familiar", "persona.yaml"), []byte(
		"name: pixel\nsystem_prompt: You are pixel.\nemotions:\n  curiosity: 0.9\n"), 0o644))

	p, err := LoadPersona(dir)
	require.NoError(t, err)
	require.Equal(t, "pixel", p.Name)
	require.Equal(t, "You are pixel.", p.SystemPrompt)
	require.InDelta(t, 0.9, p.Emotions["curiosity"], 1e-9)
}
