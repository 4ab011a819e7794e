package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndSign(t *testing.T) {
	kp, err := Generate()
	require.NoError(t, err)
	require.Len(t, string(kp.PeerID()), 16)

	msg := []byte("vm-request payload")
	sig := kp.Sign(msg)
	require.NoError(t, Verify(kp.PublicKey(), msg, sig))

	msg[0] ^= 0xFF
	assert.Error(t, Verify(kp.PublicKey(), msg, sig))
}

func TestDerivePeerIDDeterministic(t *testing.T) {
	kp, err := Generate()
	require.NoError(t, err)

	id1 := DerivePeerID(kp.PublicKey())
	id2 := DerivePeerID(kp.PublicKey())
	assert.Equal(t, id1, id2)
}

func TestEphemeralSharedSecretAgrees(t *testing.T) {
	a, err := GenerateEphemeral()
	require.NoError(t, err)
	b, err := GenerateEphemeral()
	require.NoError(t, err)

	secretA, err := a.DeriveSharedSecret(b.PublicBytes())
	require.NoError(t, err)
	secretB, err := b.DeriveSharedSecret(a.PublicBytes())
	require.NoError(t, err)

	assert.Equal(t, secretA, secretB)
}

func TestConvertEd25519PublicToX25519(t *testing.T) {
	kp, err := Generate()
	require.NoError(t, err)

	xpub, err := ConvertEd25519PublicToX25519(kp.PublicKey())
	require.NoError(t, err)
	assert.Len(t, xpub, 32)
}
