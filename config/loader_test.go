package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFallsBackToDefaultsWhenNoFilesExist(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(LoaderOptions{ConfigDir: filepath.Join(dir, "missing"), Environment: "test", DotEnvPath: ""})
	require.NoError(t, err)
	assert.Equal(t, "test", cfg.Environment)
	assert.Equal(t, 7946, cfg.Mesh.ListenPort)
}

func TestLoadPrefersEnvironmentSpecificFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "staging.yaml"), []byte("mesh:\n  listen_port: 4321\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "default.yaml"), []byte("mesh:\n  listen_port: 1111\n"), 0o644))

	cfg, err := Load(LoaderOptions{ConfigDir: dir, Environment: "staging", DotEnvPath: ""})
	require.NoError(t, err)
	assert.Equal(t, 4321, cfg.Mesh.ListenPort)
}

func TestApplyEnvironmentOverridesWinsOverFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("mesh:\n  listen_port: 1111\n"), 0o644))
	require.NoError(t, os.Setenv("OMERTA_MESH_PORT", "9999"))
	defer os.Unsetenv("OMERTA_MESH_PORT")

	cfg, err := Load(LoaderOptions{ConfigDir: dir, Environment: "unused-env", DotEnvPath: ""})
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Mesh.ListenPort)
}

func TestMustLoadPanicsNever(t *testing.T) {
	assert.NotPanics(t, func() {
		MustLoad(LoaderOptions{ConfigDir: t.TempDir(), Environment: "test", DotEnvPath: ""})
	})
}
