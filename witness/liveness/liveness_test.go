package liveness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omerta-project/omerta/identity"
)

func TestSignAndVerifyPing(t *testing.T) {
	kp, err := identity.Generate()
	require.NoError(t, err)

	ping, err := SignPing(kp, "sess-1", "jti-1")
	require.NoError(t, err)

	sessionID, err := Verify(ping.Token, kp.PublicKey())
	require.NoError(t, err)
	assert.Equal(t, "sess-1", sessionID)
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	kp, err := identity.Generate()
	require.NoError(t, err)
	other, err := identity.Generate()
	require.NoError(t, err)

	ping, err := SignPing(kp, "sess-1", "jti-1")
	require.NoError(t, err)

	_, err = Verify(ping.Token, other.PublicKey())
	assert.Error(t, err)
}

func TestSignAndVerifyPong(t *testing.T) {
	kp, err := identity.Generate()
	require.NoError(t, err)

	pong, err := SignPong(kp, "sess-1", "jti-1")
	require.NoError(t, err)

	sessionID, err := Verify(pong.Token, kp.PublicKey())
	require.NoError(t, err)
	assert.Equal(t, "sess-1", sessionID)
}
