// Package chainstore implements the witness chain store (SPEC_FULL.md
// §2): an append-only per-peer hash chain of checkpoints. A provider's
// deterministic witness selection (§4.8's SELECT_WITNESSES) binds its
// seed to the hash of the checkpoint a consumer recorded immediately
// before the interaction, so every witness can independently verify
// the seed came from a chain they can also inspect.
//
// Grounded on vm/tracker.Tracker's in-memory-map-plus-atomic-file
// pattern for the default backend, and on pkg/storage/postgres's
// pgx/v5 query shape for the optional persistent backend -- mirroring
// how the teacher's did/registry.go and crypto/chain package anchor an
// identity to verifiable chain state.
package chainstore

import (
	"context"
	"time"
)

// Checkpoint is one link in a peer's local append-only event chain.
type Checkpoint struct {
	PeerID     string    `json:"peer_id"`
	Sequence   int       `json:"sequence"`
	Hash       string    `json:"hash"`
	PrevHash   string    `json:"prev_hash"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Store is the witness chain store interface. Implementations must
// serialize Append calls for the same peerID so Sequence/PrevHash stay
// contiguous.
type Store interface {
	// Append records a new checkpoint for peerID, chaining it onto the
	// peer's current latest hash.
	Append(ctx context.Context, peerID, hash string) (Checkpoint, error)
	// Latest returns the most recently appended checkpoint for peerID,
	// if any exist.
	Latest(ctx context.Context, peerID string) (Checkpoint, bool, error)
	// Chain returns every checkpoint for peerID in sequence order.
	Chain(ctx context.Context, peerID string) ([]Checkpoint, error)
	// ContainsHash reports whether hash appears anywhere in peerID's
	// chain -- used to verify a provider's claimed checkpoint hash
	// actually belongs to the consumer's chain (§4.8).
	ContainsHash(ctx context.Context, peerID, hash string) (bool, error)
}
