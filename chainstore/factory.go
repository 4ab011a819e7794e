package chainstore

import (
	"context"
	"fmt"

	"github.com/omerta-project/omerta/config"
)

// NewFromConfig builds the Store configured by cfg -- the wiring
// point between the config loader and the two concrete backends.
func NewFromConfig(ctx context.Context, cfg *config.ChainStoreConfig) (Store, error) {
	if cfg == nil {
		return OpenJSONFile(".omerta/chainstore/checkpoints.json")
	}

	switch cfg.Backend {
	case "", "file":
		return OpenJSONFile(cfg.Directory)
	case "postgres":
		return NewPostgresStore(ctx, &PostgresConfig{
			Host:     cfg.PostgresHost,
			Port:     cfg.PostgresPort,
			User:     cfg.PostgresUser,
			Password: cfg.PostgresPassword,
			Database: cfg.PostgresDatabase,
			SSLMode:  cfg.PostgresSSLMode,
		})
	default:
		return nil, fmt.Errorf("unsupported chain store backend: %q", cfg.Backend)
	}
}
