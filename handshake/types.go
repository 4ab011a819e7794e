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

package handshake

import (
	"context"
	"crypto"
	"encoding/json"
	"time"

	"github.com/omerta-project/omerta/core/message"
	"github.com/omerta-project/omerta/session"
)

type Phase int

const (
	Invitation Phase = iota + 1
	Request
	Response
	Complete
)

func (p Phase) String() string {
	switch p {
	case Invitation:
		return "invitation"
	case Request:
		return "request"
	case Response:
		return "response"
	case Complete:
		return "complete"
	default:
		return "unknown"
	}
}

// Events defines callbacks for the witness/mesh layer above the handshake.
// The handshake package does not create or store sessions; it only emits events.
type Events interface {
	OnInvitation(ctx context.Context, ctxID string, inv InvitationMessage) error
	// OnRequest fires after the Request is decrypted and parsed. The caller
	// may derive a shared secret and create/store a session outside.
	OnRequest(ctx context.Context, ctxID string, req RequestMessage, senderPub crypto.PublicKey) error
	OnResponse(ctx context.Context, ctxID string, res ResponseMessage, senderPub crypto.PublicKey) error
	// OnComplete fires when Complete is received; sessParams is populated if
	// a SecureSession has been established during the handshake.
	OnComplete(ctx context.Context, ctxID string, comp CompleteMessage, sessParams session.Params) error

	// AskEphemeral asks the caller to mint an X25519 ephemeral keypair for
	// this ctxID. The implementation must keep the private key internally
	// and return the raw public key (for transcript/HKDF binding) plus a
	// JWK-encoded public key to send to the peer.
	AskEphemeral(ctx context.Context, ctxID string) (rawPub []byte, jwkPub json.RawMessage, err error)
}

// NoopEvents is a default no-op implementation, used when no caller hooks
// are wired (e.g. in tests exercising the wire protocol only).
type NoopEvents struct{}

func (NoopEvents) OnInvitation(context.Context, string, InvitationMessage) error { return nil }
func (NoopEvents) OnRequest(context.Context, string, RequestMessage, crypto.PublicKey) error {
	return nil
}
func (NoopEvents) OnResponse(context.Context, string, ResponseMessage, crypto.PublicKey) error {
	return nil
}
func (NoopEvents) OnComplete(context.Context, string, CompleteMessage, session.Params) error {
	return nil
}
func (NoopEvents) AskEphemeral(context.Context, string) ([]byte, json.RawMessage, error) {
	return nil, nil, nil
}

// KeyIDBinder is an optional extension: if the events implementation
// supports it, the server embeds the issued keyid into the Complete ACK.
type KeyIDBinder interface {
	IssueKeyID(ctxID string) (keyid string, ok bool)
}

// InvitationMessage carries only the context/session identifier. The A2A
// message metadata alongside it carries the sender's DID and signature.
type InvitationMessage struct {
	message.BaseMessage
	message.MessageControlHeader
}

func (m *InvitationMessage) GetSequence() uint64     { return m.Sequence }
func (m *InvitationMessage) GetNonce() string        { return m.Nonce }
func (m *InvitationMessage) GetTimestamp() time.Time { return m.Timestamp }

// RequestMessage carries the initiator's ephemeral public key.
type RequestMessage struct {
	message.BaseMessage
	message.MessageControlHeader
	EphemeralPubKey json.RawMessage `json:"ephemeralPublicKey"` // JWK format
}

func (m *RequestMessage) GetSequence() uint64     { return m.Sequence }
func (m *RequestMessage) GetNonce() string        { return m.Nonce }
func (m *RequestMessage) GetTimestamp() time.Time { return m.Timestamp }

// ResponseMessage confirms the agreed session parameters.
type ResponseMessage struct {
	message.BaseMessage
	message.MessageControlHeader
	EphemeralPubKey json.RawMessage `json:"ephemeralPublicKey"` // JWK format
	KeyID           string          `json:"keyid,omitempty"`
	Ack             bool            `json:"ack"`
}

func (m *ResponseMessage) GetSequence() uint64     { return m.Sequence }
func (m *ResponseMessage) GetNonce() string        { return m.Nonce }
func (m *ResponseMessage) GetTimestamp() time.Time { return m.Timestamp }

// CompleteMessage signals the end of the handshake.
type CompleteMessage struct {
	message.BaseMessage
	message.MessageControlHeader
}

func (m *CompleteMessage) GetSequence() uint64     { return m.Sequence }
func (m *CompleteMessage) GetNonce() string        { return m.Nonce }
func (m *CompleteMessage) GetTimestamp() time.Time { return m.Timestamp }

// KeyInfo carries the parameters needed for RFC-9421 signature verification.
type KeyInfo struct {
	KeyID              string   `json:"keyid"`
	Salt               string   `json:"salt"`
	SignatureSpec      string   `json:"signatureSpec"`
	FieldsToSign       []string `json:"fieldsToSign"`
	TimestampTolerance string   `json:"timestampTolerance"`
}
