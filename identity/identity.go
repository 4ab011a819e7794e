// Package identity provides the long-lived Ed25519 signing identity every
// mesh node holds, and the deterministic PeerId derived from it (spec §3,
// §4.1). Grounded on the teacher's crypto.KeyPair / crypto/keys.ed25519KeyPair
// shape (github.com/omerta-project/omerta/crypto, crypto/keys/ed25519.go),
// collapsed into a single package since Omerta only ever signs with
// Ed25519 — it has no multi-chain key-type plugin requirement the
// teacher's crypto/{types,keys,storage,chain} split was built for.
package identity

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// PeerID is the 16-hex-char identifier derived from a node's Ed25519
// public key: hex(sha256(pubkey)[0:8]).
type PeerID string

// String implements fmt.Stringer.
func (p PeerID) String() string { return string(p) }

// DerivePeerID computes the deterministic PeerID for an Ed25519 public key.
func DerivePeerID(pub ed25519.PublicKey) PeerID {
	hash := sha256.Sum256(pub)
	return PeerID(hex.EncodeToString(hash[:8]))
}

// ErrInvalidSignature is returned by Verify when the signature does not
// check out against the claimed public key.
var ErrInvalidSignature = errors.New("identity: invalid signature")

// Keypair is a node's long-lived Ed25519 signing identity.
type Keypair struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	peerID     PeerID
}

// Generate creates a fresh Ed25519 identity keypair.
func Generate() (*Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &Keypair{
		privateKey: priv,
		publicKey:  pub,
		peerID:     DerivePeerID(pub),
	}, nil
}

// FromPrivateKey wraps an existing Ed25519 private key (e.g. loaded from
// an SSHKeyStore-style external collaborator) as a Keypair.
func FromPrivateKey(priv ed25519.PrivateKey) *Keypair {
	pub := priv.Public().(ed25519.PublicKey)
	return &Keypair{privateKey: priv, publicKey: pub, peerID: DerivePeerID(pub)}
}

// PublicKey returns the Ed25519 public key.
func (k *Keypair) PublicKey() ed25519.PublicKey { return k.publicKey }

// PrivateKey returns the Ed25519 private key.
func (k *Keypair) PrivateKey() crypto.PrivateKey { return k.privateKey }

// PeerID returns this identity's deterministic peer id.
func (k *Keypair) PeerID() PeerID { return k.peerID }

// Sign signs message with the long-term identity key.
func (k *Keypair) Sign(message []byte) []byte {
	return ed25519.Sign(k.privateKey, message)
}

// Verify checks a signature produced by the holder of pub over message.
func Verify(pub ed25519.PublicKey, message, signature []byte) error {
	if !ed25519.Verify(pub, message, signature) {
		return ErrInvalidSignature
	}
	return nil
}
