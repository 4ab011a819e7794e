// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

package sessioninit

import (
	"context"
	"crypto"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	sagecrypto "github.com/omerta-project/omerta/crypto"
	"github.com/omerta-project/omerta/crypto/formats"
	"github.com/omerta-project/omerta/crypto/keys"
	"github.com/omerta-project/omerta/handshake"
	"github.com/omerta-project/omerta/session"
)

// Creator implements handshake.Events and forwards completed handshakes
// into a session.Manager, deriving the shared secret from each peer's
// ephemeral keys.
type Creator struct {
	sessionMgr *session.Manager

	mu           sync.RWMutex
	ephPrivByCtx map[string]*keys.X25519KeyPair
	sidByCtx     map[string]string
	exporter     sagecrypto.KeyExporter
}

// NewCreator creates a handshake integration Creator bound to sm.
func NewCreator(sm *session.Manager) *Creator {
	return &Creator{
		sessionMgr:   sm,
		ephPrivByCtx: make(map[string]*keys.X25519KeyPair),
		sidByCtx:     make(map[string]string),
		exporter:     formats.NewJWKExporter(),
	}
}

func (a *Creator) OnInvitation(ctx context.Context, ctxID string, inv handshake.InvitationMessage) error {
	return nil
}

func (a *Creator) OnRequest(ctx context.Context, ctxID string, req handshake.RequestMessage, senderPub crypto.PublicKey) error {
	return nil
}

func (a *Creator) OnResponse(ctx context.Context, ctxID string, res handshake.ResponseMessage, senderPub crypto.PublicKey) error {
	return nil
}

func (a *Creator) OnComplete(ctx context.Context, ctxID string, comp handshake.CompleteMessage, p session.Params) error {
	a.mu.RLock()
	my := a.ephPrivByCtx[ctxID]
	a.mu.RUnlock()
	if my == nil {
		return fmt.Errorf("no ephemeral private for ctx=%s", ctxID)
	}

	shared, err := my.DeriveSharedSecret(p.PeerEph)
	if err != nil {
		return fmt.Errorf("derive shared: %w", err)
	}
	p.SharedSecret = shared

	// Deterministic: both peers arrive at the same session ID and keys.
	_, sid, _, err := a.sessionMgr.EnsureSessionWithParams(p, nil)
	if err != nil {
		return fmt.Errorf("ensure session: %w", err)
	}

	a.mu.Lock()
	delete(a.ephPrivByCtx, ctxID)
	a.sidByCtx[ctxID] = sid
	a.mu.Unlock()

	return nil
}

func (a *Creator) AskEphemeral(ctx context.Context, ctxID string) ([]byte, json.RawMessage, error) {
	kp, err := keys.GenerateX25519KeyPair()
	if err != nil {
		return nil, nil, fmt.Errorf("gen x25519: %w", err)
	}
	x := kp.(*keys.X25519KeyPair)

	a.mu.Lock()
	a.ephPrivByCtx[ctxID] = x
	a.mu.Unlock()

	raw := x.PublicBytesKey()

	jwkBytes, err := a.exporter.ExportPublic(kp, sagecrypto.KeyFormatJWK)
	if err != nil {
		return nil, nil, fmt.Errorf("export jwk: %w", err)
	}
	return raw, json.RawMessage(jwkBytes), nil
}

// IssueKeyID generates a new opaque key ID for ctxID, binds it to the
// session established by OnComplete, and hands it back to be sent to the
// peer as part of the handshake ACK.
func (a *Creator) IssueKeyID(ctxID string) (string, bool) {
	a.mu.Lock()
	sid, ok := a.sidByCtx[ctxID]
	if ok {
		delete(a.sidByCtx, ctxID)
	}
	a.mu.Unlock()
	if !ok {
		return "", false
	}

	keyid := "session:" + randBase64URL(12)
	a.sessionMgr.BindKeyID(keyid, sid)
	return keyid, true
}

func randBase64URL(length int) string {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Errorf("crypto/rand read failed: %w", err))
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
