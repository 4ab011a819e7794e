// Package reputation implements the optional on-chain reputation anchor
// (SPEC_FULL §4.10). Not part of spec.md's original module list: peer
// "reputation" fields already exist in Peer Selection's scoring formula
// (spec §4.5, via registry.DiscoveredPeer), but that data is purely
// gossip-derived. This package gives those fields an optional,
// read-only, chain-backed home so a deployment that wants
// harder-to-forge reputation can configure one, without changing the
// base gossip-only path spec.md describes (Non-goals: "no centralised
// directory service" -- a reputation anchor is peer-operated and
// read-only, not a directory service).
package reputation

import "context"

// PeerReputationRecord is what an anchor returns for one peer.
type PeerReputationRecord struct {
	PeerID string
	Score  float64 // same 0-100 scale as registry.PeerAnnouncement.Reputation
}

// Anchor is consulted by Peer Selection (spec §4.5) as an additive
// bonus on top of gossip reputation when configured. Absent
// configuration, selection runs purely on gossip data -- no behavior
// change to the base path.
type Anchor interface {
	Lookup(ctx context.Context, peerID string) (*PeerReputationRecord, error)
}

// CombineScores blends a gossip-derived reputation with an optional
// anchor-derived one: when anchored is nil, gossip is returned
// unchanged (no anchor configured); otherwise the two are averaged,
// weighted toward the anchor since it is the harder-to-forge source.
func CombineScores(gossip float64, anchored *PeerReputationRecord) float64 {
	if anchored == nil {
		return gossip
	}
	const anchorWeight = 0.7
	return anchorWeight*anchored.Score + (1-anchorWeight)*gossip
}
