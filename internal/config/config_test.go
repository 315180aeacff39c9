package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, contents string) {
	t.Helper()
	cfgDir := filepath.Join(dir, ".steward")
	require.NoError(t, os.MkdirAll(cfgDir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(cfgDir, "config.toml"), []byte(contents), 0o600))
}

func isolate(t *testing.T) (home, work string) {
	t.Helper()
	home = t.TempDir()
	work = t.TempDir()
	t.Setenv("HOME", home)
	t.Chdir(work)
	return home, work
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "claude", cfg.AgentBinary)
	assert.Equal(t, "sonnet", cfg.DefaultModel)
	assert.Equal(t, 5*time.Minute, cfg.TurnTimeout)
	assert.Equal(t, 10*time.Minute, cfg.UnattendedTimeout)
	assert.Equal(t, 2*time.Second, cfg.GracePeriod)
	assert.Equal(t, 2*time.Second, cfg.ProgressInterval)
	assert.Equal(t, 4000, cfg.MaxMessageLen)
	assert.Equal(t, 5, cfg.LogMaxFiles)
	assert.Empty(t, cfg.OTELEndpoint)
}

func TestLoadHomeOverrides(t *testing.T) {
	home, _ := isolate(t)
	writeConfig(t, home, `
agent_binary = "claude-dev"
default_model = "opus"
turn_timeout = "90s"
max_message_len = 2000
otel_endpoint = "http://collector:4318"
`)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "claude-dev", cfg.AgentBinary)
	assert.Equal(t, "opus", cfg.DefaultModel)
	assert.Equal(t, 90*time.Second, cfg.TurnTimeout)
	assert.Equal(t, 2000, cfg.MaxMessageLen)
	assert.Equal(t, "http://collector:4318", cfg.OTELEndpoint)
	// Untouched keys keep their defaults.
	assert.Equal(t, 10*time.Minute, cfg.UnattendedTimeout)
}

func TestLoadProjectOverridesHome(t *testing.T) {
	home, work := isolate(t)
	writeConfig(t, home, `default_model = "opus"
turn_timeout = "90s"`)
	writeConfig(t, work, `default_model = "haiku"`)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "haiku", cfg.DefaultModel, "project config wins")
	assert.Equal(t, 90*time.Second, cfg.TurnTimeout, "home-only keys survive")
}

func TestLoadRejectsBadDuration(t *testing.T) {
	home, _ := isolate(t)
	writeConfig(t, home, `turn_timeout = "ninety seconds"`)

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "turn_timeout")
}

func TestLoadRejectsBadTOML(t *testing.T) {
	home, _ := isolate(t)
	writeConfig(t, home, `agent_binary = `)

	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsNonPositiveInts(t *testing.T) {
	home, _ := isolate(t)
	writeConfig(t, home, `max_message_len = 0`)

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_message_len")
}
