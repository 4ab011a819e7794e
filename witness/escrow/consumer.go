package escrow

import (
	"fmt"

	omertaerrors "github.com/omerta-project/omerta/internal/errors"
)

// ConsumerMachine drives the consumer side of an escrow lock through
// its 10 named states. Each method is a pure transition: given the
// current state and an event's payload, it either advances state and
// records the result, or returns an error and moves to FAILED. Callers
// (the mesh orchestration layer) own sending/receiving the wire
// messages; this type only owns the state and the decision of what
// transition a given event causes.
type ConsumerMachine struct {
	state ConsumerState

	sessionID      string
	providerPeerID string
	checkpointHash string
	commitment     WitnessCommitment
	result         LockResult
}

// NewConsumerMachine starts a fresh consumer machine in IDLE for a
// session against providerPeerID, recording the checkpoint hash the
// consumer observed for that provider's chain before this interaction
// (spec §4.8: "must be a hash the consumer recorded ... before this
// interaction").
func NewConsumerMachine(sessionID, providerPeerID, checkpointHash string) *ConsumerMachine {
	return &ConsumerMachine{
		state:          ConsumerIdle,
		sessionID:      sessionID,
		providerPeerID: providerPeerID,
		checkpointHash: checkpointHash,
	}
}

// State returns the machine's current state.
func (m *ConsumerMachine) State() ConsumerState { return m.state }

func (m *ConsumerMachine) fail(reason string) error {
	m.state = ConsumerFailed
	return omertaerrors.WitnessRejected(reason)
}

func (m *ConsumerMachine) requireState(want ConsumerState) error {
	if m.state != want {
		return m.fail(fmt.Sprintf("expected state %s, got %s", want, m.state))
	}
	return nil
}

// SendLockIntent builds the LockIntent to broadcast and transitions
// IDLE -> SENDING_LOCK_INTENT -> WAITING_FOR_WITNESS_COMMITMENT.
func (m *ConsumerMachine) SendLockIntent(consumerPeerID string, amount float64, consumerNonce string) (LockIntent, error) {
	if err := m.requireState(ConsumerIdle); err != nil {
		return LockIntent{}, err
	}
	m.state = ConsumerSendingLockIntent
	intent := LockIntent{
		SessionID:      m.sessionID,
		ConsumerPeerID: consumerPeerID,
		ProviderPeerID: m.providerPeerID,
		Amount:         amount,
		CheckpointHash: m.checkpointHash,
		ConsumerNonce:  consumerNonce,
	}
	m.state = ConsumerWaitingForWitnessCommitment
	return intent, nil
}

// WitnessSelector is the function the commitment's proposed
// witness list must match (spec §4.8: "rerunning SELECT_WITNESSES(seed
// = H(sessionId|providerNonce|consumerNonce), chainStateAtCheckpoint,
// criteria) reproduces the proposed witness list"). The caller supplies
// the deterministic selector since it depends on chain state the
// consumer resolves externally.
type WitnessSelector func(seed string, chainStateAtCheckpoint [][]byte) []string

// ReceiveWitnessCommitment validates the provider's commitment: the
// chain segment must verify (verifyChainSegment), the checkpoint must
// appear in it (containsCheckpoint), and reselecting witnesses with the
// same seed must reproduce the proposed list exactly. Moves through
// VERIFYING_PROVIDER_CHAIN -> VERIFYING_WITNESSES on success.
func (m *ConsumerMachine) ReceiveWitnessCommitment(
	commitment WitnessCommitment,
	consumerNonce string,
	seedHash func(sessionID, providerNonce, consumerNonce string) string,
	verifyChainSegment func(segment [][]byte) bool,
	containsCheckpoint func(segment [][]byte, checkpoint string) bool,
	selectWitnesses WitnessSelector,
) error {
	if err := m.requireState(ConsumerWaitingForWitnessCommitment); err != nil {
		return err
	}
	m.state = ConsumerVerifyingProviderChain

	if !verifyChainSegment(commitment.ProviderChain) {
		return m.fail("provider chain segment failed verification")
	}
	if !containsCheckpoint(commitment.ProviderChain, m.checkpointHash) {
		return m.fail("checkpoint not present in provider chain segment")
	}

	m.state = ConsumerVerifyingWitnesses
	seed := seedHash(m.sessionID, commitment.ProviderNonce, consumerNonce)
	expected := selectWitnesses(seed, commitment.ProviderChain)
	if !sameWitnessSet(expected, commitment.Witnesses) {
		return m.fail("witness selection did not reproduce the provider's proposed cabal")
	}

	m.commitment = commitment
	m.state = ConsumerSendingRequests
	return nil
}

func sameWitnessSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, id := range a {
		seen[id]++
	}
	for _, id := range b {
		if seen[id] == 0 {
			return false
		}
		seen[id]--
	}
	return true
}

// RequestsSent marks that the consumer has dispatched its preliminary
// data to each witness in the cabal (SENDING_REQUESTS -> WAITING_FOR_RESULT).
func (m *ConsumerMachine) RequestsSent() error {
	if err := m.requireState(ConsumerSendingRequests); err != nil {
		return err
	}
	m.state = ConsumerWaitingForResult
	return nil
}

// ReceiveResult records the cabal's lock result for review
// (WAITING_FOR_RESULT -> REVIEWING_RESULT).
func (m *ConsumerMachine) ReceiveResult(result LockResult) error {
	if err := m.requireState(ConsumerWaitingForResult); err != nil {
		return err
	}
	m.result = result
	m.state = ConsumerReviewingResult
	return nil
}

// Approve moves REVIEWING_RESULT -> SIGNING_RESULT: the consumer has
// decided the result is acceptable and will counter-sign it.
func (m *ConsumerMachine) Approve() error {
	if err := m.requireState(ConsumerReviewingResult); err != nil {
		return err
	}
	if !m.result.Approved {
		return m.fail("cannot approve a rejected lock result")
	}
	m.state = ConsumerSigningResult
	return nil
}

// Sign attaches the consumer's signature over the lock result and
// finalizes the machine in LOCKED, provided the finality rule is met
// once the signature is added.
func (m *ConsumerMachine) Sign(signature []byte, validWitnessSigners []string) error {
	if err := m.requireState(ConsumerSigningResult); err != nil {
		return err
	}
	m.result.ConsumerSignature = signature
	if !Committed(validWitnessSigners, len(signature) > 0) {
		return m.fail("finality rule not met after consumer signature")
	}
	m.state = ConsumerLocked
	return nil
}

// Result returns the final lock result as seen by this consumer.
func (m *ConsumerMachine) Result() LockResult { return m.result }
