// Package attestation implements cabal attestation (Transaction 01,
// spec §4.9): after an escrow lock finalizes, the provider allocates a
// VM and the cabal monitors its reachability for the session's
// duration, producing a multi-signed CABAL_ATTESTATION on termination.
//
// Grounded on the teacher's multi-party signature collection idiom
// (Ed25519 Sign/Verify composed N times, thresholded), generalized by
// [[multisig]] into the CollectAndVerify/RatioMet pair; this package
// calls RatioMet directly rather than re-implementing tallying.
package attestation

import (
	"fmt"
	"time"

	omertaerrors "github.com/omerta-project/omerta/internal/errors"
	"github.com/omerta-project/omerta/multisig"
)

// ConnectivityThreshold is the fraction of the cabal that must confirm
// VM reachability for monitoring to begin (spec §4.9).
const ConnectivityThreshold = 0.67

// TerminationReason enumerates why a session ended (spec §4.9).
type TerminationReason string

const (
	CompletedNormal        TerminationReason = "COMPLETED_NORMAL"
	ConsumerTerminatedEarly TerminationReason = "CONSUMER_TERMINATED_EARLY"
	ProviderTerminated     TerminationReason = "PROVIDER_TERMINATED"
	SessionFailed          TerminationReason = "SESSION_FAILED"
	ConsumerMisuse         TerminationReason = "CONSUMER_MISUSE"
	ConnectivityFailed     TerminationReason = "CONNECTIVITY_FAILED"
	Timeout                TerminationReason = "TIMEOUT"
)

// State is one of attestation's states.
type State string

const (
	StateIdle             State = "IDLE"
	StateAwaitingVotes    State = "AWAITING_CONNECTIVITY_VOTES"
	StateMonitoring       State = "MONITORING"
	StateVotingAbort      State = "VOTING_ABORT"
	StateCancelled        State = "CANCELLED"
	StateAttestationSigned State = "ATTESTATION_SIGNED"
	StateFailed           State = "FAILED"
)

// VMAllocated is what the provider sends to each witness once it has
// allocated the VM (spec §4.9).
type VMAllocated struct {
	SessionID          string
	VMWireguardPubkey  []byte
	ConsumerEndpoint   string
	CabalEndpoints     []string
	AllocatedAt        time.Time
	LockResultHash     string
}

// ConnectivityVote is one witness's VM_CONNECTIVITY_VOTE.
type ConnectivityVote struct {
	WitnessPeerID string
	CanReachVM    bool
	ConsumerAttached bool
}

// Cancelled is the provider's VM_CANCELLED notice on termination.
type Cancelled struct {
	SessionID           string
	Reason              TerminationReason
	ActualDurationSeconds float64
}

// CabalAttestation is the final multi-signed output, required input to
// settlement (out of scope here, per spec §4.9).
type CabalAttestation struct {
	SessionID  string
	Reason     TerminationReason
	Signatures map[string][]byte
}

// Machine drives one witness's participation in cabal attestation.
type Machine struct {
	state     State
	sessionID string
	selfPeerID string
	votes     map[string]ConnectivityVote
	result    CabalAttestation
}

// NewMachine starts a fresh attestation machine in IDLE.
func NewMachine(selfPeerID, sessionID string) *Machine {
	return &Machine{state: StateIdle, selfPeerID: selfPeerID, sessionID: sessionID, votes: make(map[string]ConnectivityVote)}
}

// State returns the machine's current state.
func (m *Machine) State() State { return m.state }

func (m *Machine) fail(reason string) error {
	m.state = StateFailed
	return omertaerrors.WitnessRejected(reason)
}

func (m *Machine) requireState(want State) error {
	if m.state != want {
		return m.fail(fmt.Sprintf("expected state %s, got %s", want, m.state))
	}
	return nil
}

// ReceiveAllocation records VM_ALLOCATED and moves IDLE ->
// AWAITING_CONNECTIVITY_VOTES once this witness casts its own vote
// (canReachVM supplied by the caller's actual reachability probe).
func (m *Machine) ReceiveAllocation(alloc VMAllocated, canReachVM, consumerAttached bool) ConnectivityVote {
	m.state = StateAwaitingVotes
	vote := ConnectivityVote{WitnessPeerID: m.selfPeerID, CanReachVM: canReachVM, ConsumerAttached: consumerAttached}
	m.votes[m.selfPeerID] = vote
	return vote
}

// ReceivePeerVote records a cabal peer's connectivity vote.
func (m *Machine) ReceivePeerVote(v ConnectivityVote) error {
	if err := m.requireState(StateAwaitingVotes); err != nil {
		return err
	}
	m.votes[v.WitnessPeerID] = v
	return nil
}

// EvaluateConnectivity tallies votes against ConnectivityThreshold and
// moves to MONITORING or VOTING_ABORT.
func (m *Machine) EvaluateConnectivity(cabalSize int) (reachable bool, err error) {
	if err := m.requireState(StateAwaitingVotes); err != nil {
		return false, err
	}
	reachableCount := 0
	for _, v := range m.votes {
		if v.CanReachVM && v.ConsumerAttached {
			reachableCount++
		}
	}
	if multisig.RatioMet(reachableCount, cabalSize, ConnectivityThreshold) {
		m.state = StateMonitoring
		return true, nil
	}
	m.state = StateVotingAbort
	return false, nil
}

// Terminate records the provider's VM_CANCELLED notice (from MONITORING
// or VOTING_ABORT) and moves to CANCELLED, awaiting the cabal's
// multi-signed attestation.
func (m *Machine) Terminate(c Cancelled) error {
	if m.state != StateMonitoring && m.state != StateVotingAbort {
		return m.fail(fmt.Sprintf("cannot terminate from state %s", m.state))
	}
	m.state = StateCancelled
	m.result.SessionID = c.SessionID
	m.result.Reason = c.Reason
	return nil
}

// SignAttestation adds this witness's signature over the attestation
// and, once at least 3 valid signatures exist, finalizes in
// ATTESTATION_SIGNED (spec §4.9: "collaboratively produce
// CABAL_ATTESTATION multi-signed by >= 3").
func (m *Machine) SignAttestation(sign func(msg []byte) []byte, canonicalMsg []byte, validSigners []string) error {
	if err := m.requireState(StateCancelled); err != nil {
		return err
	}
	if m.result.Signatures == nil {
		m.result.Signatures = make(map[string][]byte)
	}
	m.result.Signatures[m.selfPeerID] = sign(canonicalMsg)
	if len(validSigners) < 3 {
		return nil
	}
	m.state = StateAttestationSigned
	return nil
}

// Result returns this witness's view of the final attestation.
func (m *Machine) Result() CabalAttestation { return m.result }
