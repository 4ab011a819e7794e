package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromFileYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
environment: production
mesh:
  listen_port: 9001
  network_id: net-a
filter:
  owner_peer_id: owner-1
  accept_trusted_only: true
`), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, 9001, cfg.Mesh.ListenPort)
	assert.Equal(t, "net-a", cfg.Mesh.NetworkID)
	assert.True(t, cfg.Filter.AcceptTrustedOnly)
	assert.Equal(t, 30*time.Second, cfg.VM.AckTimeout, "defaults still apply for unset sections")
}

func TestLoadFromFileJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"environment":"staging","mesh":{"listen_port":7000}}`), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, 7000, cfg.Mesh.ListenPort)
}

func TestSaveAndReloadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.yaml")

	cfg := &Config{Environment: "test"}
	setDefaults(cfg)
	cfg.Mesh.ListenPort = 5555

	require.NoError(t, SaveToFile(cfg, path))

	reloaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 5555, reloaded.Mesh.ListenPort)
}

func TestSetDefaultsFillsEveryRequiredSection(t *testing.T) {
	cfg := &Config{}
	setDefaults(cfg)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 7946, cfg.Mesh.ListenPort)
	assert.Equal(t, 60*time.Second, cfg.VM.HeartbeatInterval)
	assert.Equal(t, ".omerta/events", cfg.EventLog.Directory)
	assert.Equal(t, "file", cfg.ChainStore.Backend)
	assert.Equal(t, "file", cfg.KeyStore.Type)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 9090, cfg.Metrics.Port)
	assert.Equal(t, "/healthz", cfg.Health.Path)
}
