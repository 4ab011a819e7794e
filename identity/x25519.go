package identity

import (
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"filippo.io/edwards25519"
)

// Ephemeral is a one-shot X25519 keypair for session-key agreement.
// Grounded on crypto/keys.X25519KeyPair.
type Ephemeral struct {
	private *ecdh.PrivateKey
	public  *ecdh.PublicKey
}

// GenerateEphemeral creates a new ephemeral X25519 keypair.
func GenerateEphemeral() (*Ephemeral, error) {
	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: generate ephemeral key: %w", err)
	}
	return &Ephemeral{private: priv, public: priv.PublicKey()}, nil
}

// PublicBytes returns the 32-byte wire representation of the public key.
func (e *Ephemeral) PublicBytes() []byte { return e.public.Bytes() }

// DeriveSharedSecret runs X25519 ECDH against a peer's public key bytes
// and returns SHA-256(rawSharedSecret), ready to feed into HKDF.
func (e *Ephemeral) DeriveSharedSecret(peerPublicBytes []byte) ([]byte, error) {
	peerPub, err := ecdh.X25519().NewPublicKey(peerPublicBytes)
	if err != nil {
		return nil, fmt.Errorf("identity: parse peer public key: %w", err)
	}
	shared, err := e.private.ECDH(peerPub)
	if err != nil {
		return nil, fmt.Errorf("identity: ecdh: %w", err)
	}
	sum := sha256.Sum256(shared)
	return sum[:], nil
}

// ConvertEd25519PublicToX25519 converts a long-term Ed25519 signing public
// key into its Montgomery-curve X25519 equivalent, allowing a session to
// be bootstrapped directly against a peer's identity key when no
// ephemeral key has been exchanged yet.
func ConvertEd25519PublicToX25519(edPub ed25519.PublicKey) ([]byte, error) {
	if len(edPub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("identity: invalid ed25519 public key length %d", len(edPub))
	}
	var A edwards25519.Point
	if _, err := A.SetBytes(edPub); err != nil {
		return nil, fmt.Errorf("identity: decode ed25519 point: %w", err)
	}
	return A.BytesMontgomery(), nil
}
