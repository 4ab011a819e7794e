package chainstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/omerta-project/omerta/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFromConfigDefaultsToFileBackend(t *testing.T) {
	cfg := &config.ChainStoreConfig{Directory: filepath.Join(t.TempDir(), "chain.json")}
	store, err := NewFromConfig(context.Background(), cfg)
	require.NoError(t, err)
	_, ok := store.(*JSONFileStore)
	assert.True(t, ok)
}

func TestNewFromConfigRejectsUnknownBackend(t *testing.T) {
	cfg := &config.ChainStoreConfig{Backend: "dynamodb"}
	_, err := NewFromConfig(context.Background(), cfg)
	assert.Error(t, err)
}
