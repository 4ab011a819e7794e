package reputation

import (
	"fmt"

	"github.com/omerta-project/omerta/config"
)

// NewFromConfig builds the Anchor configured by cfg, or nil if
// reputation anchoring is disabled. This is the wiring point between
// the config loader and the two concrete anchor implementations.
func NewFromConfig(cfg *config.ReputationConfig) (Anchor, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	switch cfg.Chain {
	case "ethereum":
		return NewEthereumAnchor(cfg.RPCEndpoint, cfg.ContractAddress)
	case "solana":
		return NewSolanaAnchor(cfg.RPCEndpoint, cfg.ProgramID)
	default:
		return nil, fmt.Errorf("unsupported reputation chain: %q", cfg.Chain)
	}
}
