// Package envelope implements Omerta's signed, encrypted wire envelope
// (spec §4.1): a plaintext length-prefixed network id header followed by
// a ChaCha20-Poly1305 encrypted, Ed25519-signed MeshEnvelope payload.
//
// Grounded on the teacher's core/rfc9421 canonical-signing-bytes idiom
// (deterministic byte representation of a message minus its signature
// field) and core/session's HKDF-derived AEAD pipeline, adapted from
// HTTP-message canonicalization to envelope-struct canonicalization.
package envelope

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"io"
	"time"

	"golang.org/x/crypto/chacha20poly1305"

	omertaerrors "github.com/omerta-project/omerta/internal/errors"
	"github.com/omerta-project/omerta/identity"
)

// ReplayWindow is the maximum allowed clock skew between the envelope's
// claimed timestamp and the receiver's local clock (spec §4.1/§3).
const ReplayWindow = 60 * time.Second

// MaxNetworkIDLen is the wire limit on the plaintext network-id header:
// it is length-prefixed with a single byte, so it cannot exceed 255
// bytes (spec §3: NetworkId ≤255 bytes).
const MaxNetworkIDLen = 255

// MeshEnvelope is the signed payload carried inside the ChaCha20-Poly1305
// encrypted portion of the wire frame.
type MeshEnvelope struct {
	FromPeer  string          `json:"fromPeer"`
	ToPeer    string          `json:"toPeer,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
	Signature []byte          `json:"signature"`
}

// KeyLookup resolves a plaintext networkId to the NetworkKey a receiver
// should use to decrypt the envelope, and the trusted Ed25519 public key
// for a given PeerId so the signature can be verified.
type KeyLookup interface {
	NetworkKey(networkID string) ([]byte, bool)
	PeerPublicKey(peerID string) (ed25519.PublicKey, bool)
}

// Encode signs e with kp, encrypts it under networkKey, and produces the
// full wire frame: [u8 networkIdLen][networkId bytes][encryptedPayload].
func Encode(networkID string, networkKey []byte, kp *identity.Keypair, toPeer string, payload []byte, now time.Time) ([]byte, error) {
	if len(networkID) > MaxNetworkIDLen {
		return nil, omertaerrors.InvalidEnvelope("networkId exceeds 255 bytes", nil)
	}
	env := MeshEnvelope{
		FromPeer:  kp.PeerID().String(),
		ToPeer:    toPeer,
		Payload:   json.RawMessage(payload),
		Timestamp: now.Unix(),
	}
	signBytes, err := canonicalSigningBytes(env)
	if err != nil {
		return nil, omertaerrors.InvalidEnvelope("canonicalize envelope", err)
	}
	env.Signature = kp.Sign(signBytes)

	plaintext, err := json.Marshal(env)
	if err != nil {
		return nil, omertaerrors.InvalidEnvelope("marshal envelope", err)
	}

	aead, err := chacha20poly1305.New(networkKey)
	if err != nil {
		return nil, omertaerrors.InvalidEnvelope("bad network key", err)
	}
	nonce, err := randomNonce()
	if err != nil {
		return nil, omertaerrors.InvalidEnvelope("generate nonce", err)
	}
	encrypted := aead.Seal(nonce, nonce, plaintext, nil)

	out := make([]byte, 0, 1+len(networkID)+len(encrypted))
	out = append(out, byte(len(networkID)))
	out = append(out, networkID...)
	out = append(out, encrypted...)
	return out, nil
}

// Decode runs the full parse → lookup → decrypt → decode → verify →
// freshness pipeline described in spec §4.1. Any step failing returns an
// *OmertaError whose Kind matches §7's taxonomy; the caller must log and
// drop the message without further action, never acknowledging back to
// the sender (to avoid oracle leaks).
func Decode(frame []byte, keys KeyLookup, now time.Time) (*MeshEnvelope, string, error) {
	if len(frame) < 1 {
		return nil, "", omertaerrors.InvalidEnvelope("empty frame", nil)
	}
	nlen := int(frame[0])
	if len(frame) < 1+nlen {
		return nil, "", omertaerrors.InvalidEnvelope("truncated networkId", nil)
	}
	networkID := string(frame[1 : 1+nlen])
	encrypted := frame[1+nlen:]

	networkKey, ok := keys.NetworkKey(networkID)
	if !ok {
		return nil, networkID, omertaerrors.UnknownNetwork(networkID)
	}

	aead, err := chacha20poly1305.New(networkKey)
	if err != nil {
		return nil, networkID, omertaerrors.InvalidEnvelope("bad network key", err)
	}
	if len(encrypted) < aead.NonceSize() {
		return nil, networkID, omertaerrors.InvalidEnvelope("ciphertext shorter than nonce", nil)
	}
	nonce, ciphertext := encrypted[:aead.NonceSize()], encrypted[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, networkID, omertaerrors.InvalidEnvelope("decrypt failed", err)
	}

	var env MeshEnvelope
	if err := json.Unmarshal(plaintext, &env); err != nil {
		return nil, networkID, omertaerrors.InvalidEnvelope("decode payload", err)
	}

	pub, ok := keys.PeerPublicKey(env.FromPeer)
	if !ok {
		return nil, networkID, omertaerrors.BadSignature()
	}
	sig := env.Signature
	env.Signature = nil
	signBytes, err := canonicalSigningBytes(env)
	env.Signature = sig
	if err != nil {
		return nil, networkID, omertaerrors.InvalidEnvelope("canonicalize envelope", err)
	}
	if err := identity.Verify(pub, signBytes, sig); err != nil {
		return nil, networkID, omertaerrors.BadSignature()
	}

	skew := now.Sub(time.Unix(env.Timestamp, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > ReplayWindow {
		return nil, networkID, omertaerrors.StaleMessage(skew.Seconds())
	}

	return &env, networkID, nil
}

// canonicalSigningBytes produces the deterministic byte representation
// of e (minus its Signature field, which is zeroed before calling this)
// that both signer and verifier compute identically: JSON with sorted
// object keys and no insignificant whitespace. Go's encoding/json
// already marshals map keys in sorted order; MeshEnvelope is marshaled
// as a struct (field order fixed by declaration) which is equally
// deterministic, so no extra canonicalization pass is required beyond
// excluding the signature.
func canonicalSigningBytes(e MeshEnvelope) ([]byte, error) {
	e.Signature = nil
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(e); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func randomNonce() ([]byte, error) {
	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return nonce, nil
}
