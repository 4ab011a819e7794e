// Package liveness implements the witness protocol's periodic
// liveness check (spec §4.8: "periodic liveness (LIVENESS_PING/PONG,
// replacement protocol for offline witnesses)"). A LIVENESS_PING is a
// short-lived JWT bearer token signed with the witness's Ed25519
// identity key; a peer that can verify it against the same public key
// it selected into the cabal knows it is still talking to the same
// signing identity, even across a network-address change.
//
// Grounded on oidc/auth0.Agent's JWT-bearer-grant pattern
// (oidc/auth0/auth0.go: build jwt.MapClaims, jwt.NewWithClaims, sign,
// verify against a known public key) -- generalized here from RS256
// client-credential tokens over HTTP to EdDSA-signed liveness probes
// over the mesh transport, since witnesses sign with the same Ed25519
// identity key used everywhere else in Omerta rather than an RSA
// client secret.
package liveness

import (
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/omerta-project/omerta/identity"
)

// PingTTL bounds how long a liveness ping's JWT is valid for (short,
// since it is reissued every LIVENESS_CHECK_INTERVAL).
const PingTTL = 30 * time.Second

// Ping is the LIVENESS_PING payload: a signed JWT claiming the
// witness's peer id and session, countersigned against its Ed25519
// identity key.
type Ping struct {
	Token string
}

// Pong is the LIVENESS_PONG reply: an equally signed acknowledgement
// carrying the original ping's jti so the pinger can correlate it.
type Pong struct {
	Token string
}

type claims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sessionId"`
}

// SignPing builds a LIVENESS_PING JWT for sessionID, signed by kp.
func SignPing(kp *identity.Keypair, sessionID, jti string) (Ping, error) {
	tok, err := sign(kp, sessionID, jti, time.Now().Add(PingTTL))
	if err != nil {
		return Ping{}, err
	}
	return Ping{Token: tok}, nil
}

// SignPong builds a LIVENESS_PONG JWT replying to pingJTI, signed by kp.
func SignPong(kp *identity.Keypair, sessionID, pingJTI string) (Pong, error) {
	tok, err := sign(kp, sessionID, pingJTI+"-pong", time.Now().Add(PingTTL))
	if err != nil {
		return Pong{}, err
	}
	return Pong{Token: tok}, nil
}

func sign(kp *identity.Keypair, sessionID, jti string, expires time.Time) (string, error) {
	now := time.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    string(kp.PeerID()),
			Subject:   string(kp.PeerID()),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			ID:        jti,
		},
		SessionID: sessionID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, c)
	return token.SignedString(kp.PrivateKey().(ed25519.PrivateKey))
}

// Verify checks tokenString's signature against expectedPub (the
// public key the verifying peer recorded for this witness when it
// joined the cabal) and returns the claimed session id. A verification
// failure here means the peer presenting the token is not provably the
// same signing identity anymore -- the caller should treat the witness
// as unreachable and begin the replacement protocol (spec §4.8).
func Verify(tokenString string, expectedPub ed25519.PublicKey) (sessionID string, err error) {
	var c claims
	token, err := jwt.ParseWithClaims(tokenString, &c, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != "EdDSA" {
			return nil, fmt.Errorf("unexpected signing method: %s", t.Method.Alg())
		}
		return expectedPub, nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", fmt.Errorf("liveness token failed validation")
	}
	return c.SessionID, nil
}
