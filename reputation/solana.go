package reputation

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// SolanaAnchor reads a reputation score from a program-derived account
// keyed by peerId, grounded on did/solana/client.go's SolanaClient
// .Resolve (FindProgramAddress + GetAccountInfo), generalized from
// deserializing a full agent account to reading a single little-endian
// uint64 score field.
type SolanaAnchor struct {
	client    *rpc.Client
	programID solana.PublicKey
}

// NewSolanaAnchor connects to rpcEndpoint and binds to programID.
func NewSolanaAnchor(rpcEndpoint, programID string) (*SolanaAnchor, error) {
	pid, err := solana.PublicKeyFromBase58(programID)
	if err != nil {
		return nil, fmt.Errorf("parse reputation program id: %w", err)
	}
	return &SolanaAnchor{client: rpc.New(rpcEndpoint), programID: pid}, nil
}

// Lookup implements Anchor.
func (a *SolanaAnchor) Lookup(ctx context.Context, peerID string) (*PeerReputationRecord, error) {
	pda, _, err := solana.FindProgramAddress([][]byte{[]byte("reputation"), []byte(peerID)}, a.programID)
	if err != nil {
		return nil, fmt.Errorf("derive reputation pda: %w", err)
	}

	info, err := a.client.GetAccountInfo(ctx, pda)
	if err != nil {
		return nil, fmt.Errorf("get reputation account: %w", err)
	}
	if info == nil || info.Value == nil {
		return nil, fmt.Errorf("no reputation account for peer %s", peerID)
	}

	data := info.Value.Data.GetBinary()
	if len(data) < 8 {
		return nil, fmt.Errorf("reputation account data too short")
	}
	raw := binary.LittleEndian.Uint64(data[:8])
	return &PeerReputationRecord{PeerID: peerID, Score: float64(raw) / 1000.0}, nil
}
