// Package multisig implements the N-of-M signature tallying shared by
// the witness protocol's two finality rules: WitnessLockResult (spec
// §4.8, threshold=WITNESS_THRESHOLD=3) and CabalAttestation (spec §4.9,
// threshold=3) and connectivity-vote tallying (spec §4.9, ratio 0.67).
//
// Grounded on identity.Verify's single Ed25519 Verify primitive
// (identity/identity.go), generalized here from "check one signature"
// to "check a threshold worth of signatures from a known signer set,
// reject duplicates and unknown signers."
package multisig

import (
	"crypto/ed25519"
	"sort"

	"github.com/omerta-project/omerta/identity"
)

// Signer is a known-eligible signer's peer id and public key.
type Signer struct {
	PeerID    identity.PeerID
	PublicKey ed25519.PublicKey
}

// CollectAndVerify checks each entry in sigs against the corresponding
// signer's public key in signers, over msg. It returns ok=true iff at
// least threshold distinct, valid signatures were found, along with the
// sorted list of peer ids whose signatures verified. Unknown peer ids
// in sigs (not present in signers) are ignored, not treated as errors --
// a malicious or stale entry must never be able to block a legitimate
// quorum.
func CollectAndVerify(threshold int, signers []Signer, msg []byte, sigs map[identity.PeerID][]byte) (ok bool, validSigners []identity.PeerID) {
	byID := make(map[identity.PeerID]ed25519.PublicKey, len(signers))
	for _, s := range signers {
		byID[s.PeerID] = s.PublicKey
	}

	for peerID, sig := range sigs {
		pub, known := byID[peerID]
		if !known {
			continue
		}
		if identity.Verify(pub, msg, sig) != nil {
			continue
		}
		validSigners = append(validSigners, peerID)
	}

	sort.Slice(validSigners, func(i, j int) bool { return validSigners[i] < validSigners[j] })
	return len(validSigners) >= threshold, validSigners
}

// RatioMet reports whether validCount out of totalCount meets or
// exceeds ratio (spec §4.8 CONSENSUS_THRESHOLD=0.67, §4.9
// CONNECTIVITY_THRESHOLD=0.67). totalCount=0 never meets any positive
// ratio.
func RatioMet(validCount, totalCount int, ratio float64) bool {
	if totalCount == 0 {
		return false
	}
	return float64(validCount)/float64(totalCount) >= ratio
}
