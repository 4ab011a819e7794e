// Package errors defines Omerta's structured error taxonomy (spec §7).
//
// Every kind here maps to a §7 error kind: transport-level kinds
// (InvalidEnvelope, UnknownNetwork, BadSignature, StaleMessage) are
// logged and dropped by their caller, never surfaced or acknowledged;
// request-scoped kinds propagate to the awaiting continuation.
package errors

import "fmt"

// Kind identifies one of the taxonomy entries from spec §7.
type Kind string

const (
	KindInvalidEnvelope       Kind = "INVALID_ENVELOPE"
	KindUnknownNetwork        Kind = "UNKNOWN_NETWORK"
	KindBadSignature          Kind = "BAD_SIGNATURE"
	KindStaleMessage          Kind = "STALE_MESSAGE"
	KindNoRoute               Kind = "NO_ROUTE"
	KindNoResponse            Kind = "NO_RESPONSE"
	KindSelfRequestNotAllowed Kind = "SELF_REQUEST_NOT_ALLOWED"
	KindFilterRejected        Kind = "FILTER_REJECTED"
	KindResourceExhausted     Kind = "RESOURCE_EXHAUSTED"
	KindVMCreationFailed      Kind = "VM_CREATION_FAILED"
	KindPersistenceError      Kind = "PERSISTENCE_ERROR"
	KindWitnessRejected       Kind = "WITNESS_REJECTED"
	KindConsumerAbandonment   Kind = "CONSUMER_ABANDONMENT"
	KindPathFailed            Kind = "PATH_FAILED"
)

// OmertaError is a structured error carrying a taxonomy Kind, a
// human message, optional structured details, and an optional cause.
type OmertaError struct {
	Kind    Kind
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *OmertaError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error
func (e *OmertaError) Unwrap() error {
	return e.Cause
}

// WithDetails attaches a key/value detail and returns the receiver for chaining.
func (e *OmertaError) WithDetails(key string, value interface{}) *OmertaError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new OmertaError of the given kind.
func New(kind Kind, message string, cause error) *OmertaError {
	return &OmertaError{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err is an *OmertaError of the given kind, unwrapping as needed.
func Is(err error, kind Kind) bool {
	for err != nil {
		if oe, ok := err.(*OmertaError); ok {
			return oe.Kind == kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Convenience constructors for the most frequently raised kinds.

func InvalidEnvelope(reason string, cause error) *OmertaError {
	return New(KindInvalidEnvelope, reason, cause)
}

func UnknownNetwork(networkID string) *OmertaError {
	return New(KindUnknownNetwork, "no network key registered for networkId", nil).
		WithDetails("networkId", networkID)
}

func BadSignature() *OmertaError {
	return New(KindBadSignature, "signature verification failed", nil)
}

func StaleMessage(skewSeconds float64) *OmertaError {
	return New(KindStaleMessage, "timestamp outside replay window", nil).
		WithDetails("skewSeconds", skewSeconds)
}

func NoRoute(peerID string) *OmertaError {
	return New(KindNoRoute, "no reachable path to peer", nil).WithDetails("peerId", peerID)
}

func NoResponse(requestID string) *OmertaError {
	return New(KindNoResponse, "request timed out awaiting response", nil).
		WithDetails("requestId", requestID)
}

func SelfRequestNotAllowed() *OmertaError {
	return New(KindSelfRequestNotAllowed, "peer requested a VM from itself", nil)
}

func FilterRejected(reason string) *OmertaError {
	return New(KindFilterRejected, reason, nil)
}

func ResourceExhausted(detail string) *OmertaError {
	return New(KindResourceExhausted, detail, nil)
}

func VMCreationFailed(detail string, cause error) *OmertaError {
	return New(KindVMCreationFailed, detail, cause)
}

func PersistenceError(detail string, cause error) *OmertaError {
	return New(KindPersistenceError, detail, cause)
}

func WitnessRejected(reason string) *OmertaError {
	return New(KindWitnessRejected, reason, nil)
}

func ConsumerAbandonment(sessionID string) *OmertaError {
	return New(KindConsumerAbandonment, "consumer failed to counter-sign in time", nil).
		WithDetails("sessionId", sessionID)
}

func PathFailed(peerID, path string) *OmertaError {
	return New(KindPathFailed, "reachability path failed", nil).
		WithDetails("peerId", peerID).WithDetails("path", path)
}
