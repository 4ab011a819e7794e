package escrow

import (
	"fmt"
	"sort"

	omertaerrors "github.com/omerta-project/omerta/internal/errors"
)

// KnownPeer is a candidate witness as seen by the provider's own
// peer set, carrying just enough to satisfy the selection constraint
// (spec §4.8: "{count=5, minHighTrust=2, maxPriorInteractionsWithConsumer=5,
// exclude={self, consumer}}").
type KnownPeer struct {
	PeerID              string
	HighTrust           bool
	PriorInteractions   map[string]int // consumerPeerID -> interaction count
}

// SelectProviderWitnesses deterministically picks ProviderSelectCount
// witnesses from known, excluding self and consumerPeerID, requiring at
// least ProviderSelectMinHighTrust high-trust peers and rejecting any
// peer with more than ProviderSelectMaxPriorInteractions prior
// interactions with this consumer. Ties are broken by peer id so the
// result is reproducible by the consumer's own reselection check.
func SelectProviderWitnesses(known []KnownPeer, selfPeerID, consumerPeerID string) ([]string, error) {
	eligible := make([]KnownPeer, 0, len(known))
	for _, p := range known {
		if p.PeerID == selfPeerID || p.PeerID == consumerPeerID {
			continue
		}
		if p.PriorInteractions[consumerPeerID] > ProviderSelectMaxPriorInteractions {
			continue
		}
		eligible = append(eligible, p)
	}
	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].HighTrust != eligible[j].HighTrust {
			return eligible[i].HighTrust
		}
		return eligible[i].PeerID < eligible[j].PeerID
	})
	if len(eligible) < ProviderSelectCount {
		return nil, fmt.Errorf("not enough eligible peers to select a witness cabal: have %d, need %d", len(eligible), ProviderSelectCount)
	}

	selected := eligible[:ProviderSelectCount]
	highTrustCount := 0
	for _, p := range selected {
		if p.HighTrust {
			highTrustCount++
		}
	}
	if highTrustCount < ProviderSelectMinHighTrust {
		return nil, fmt.Errorf("selected cabal has %d high-trust peers, need %d", highTrustCount, ProviderSelectMinHighTrust)
	}

	ids := make([]string, len(selected))
	for i, p := range selected {
		ids[i] = p.PeerID
	}
	sort.Strings(ids)
	return ids, nil
}

// ProviderMachine drives the provider side of an escrow lock through
// its 6 named states (plus FAILED).
type ProviderMachine struct {
	state      ProviderState
	sessionID  string
	commitment WitnessCommitment
}

// NewProviderMachine starts a fresh provider machine in IDLE.
func NewProviderMachine(sessionID string) *ProviderMachine {
	return &ProviderMachine{state: ProviderIdle, sessionID: sessionID}
}

// State returns the machine's current state.
func (m *ProviderMachine) State() ProviderState { return m.state }

func (m *ProviderMachine) fail(reason string) error {
	m.state = ProviderFailed
	return omertaerrors.WitnessRejected(reason)
}

func (m *ProviderMachine) requireState(want ProviderState) error {
	if m.state != want {
		return m.fail(fmt.Sprintf("expected state %s, got %s", want, m.state))
	}
	return nil
}

// ValidateCheckpoint checks the consumer's claimed checkpoint against
// the provider's own chain view (IDLE -> VALIDATING_CHECKPOINT ->
// SELECTING_WITNESSES).
func (m *ProviderMachine) ValidateCheckpoint(intent LockIntent, checkpointExists func(hash string) bool) error {
	if err := m.requireState(ProviderIdle); err != nil {
		return err
	}
	m.state = ProviderValidatingCheckpoint
	if !checkpointExists(intent.CheckpointHash) {
		return m.fail("claimed checkpoint not found in provider chain")
	}
	m.state = ProviderSelectingWitnesses
	return nil
}

// SelectWitnesses runs the deterministic selection and moves
// SELECTING_WITNESSES -> SENDING_COMMITMENT.
func (m *ProviderMachine) SelectWitnesses(known []KnownPeer, selfPeerID, consumerPeerID string) (WitnessCommitment, error) {
	if err := m.requireState(ProviderSelectingWitnesses); err != nil {
		return WitnessCommitment{}, err
	}
	witnesses, err := SelectProviderWitnesses(known, selfPeerID, consumerPeerID)
	if err != nil {
		return WitnessCommitment{}, m.fail(err.Error())
	}
	m.state = ProviderSendingCommitment
	m.commitment.SessionID = m.sessionID
	m.commitment.Witnesses = witnesses
	return m.commitment, nil
}

// CommitmentSent moves SENDING_COMMITMENT -> WAITING_FOR_LOCK.
func (m *ProviderMachine) CommitmentSent() error {
	if err := m.requireState(ProviderSendingCommitment); err != nil {
		return err
	}
	m.state = ProviderWaitingForLock
	return nil
}

// LockCommitted moves WAITING_FOR_LOCK -> SERVICE_PHASE once the cabal
// has produced a committed LockResult (spec §4.8 finality rule).
func (m *ProviderMachine) LockCommitted(result LockResult) error {
	if err := m.requireState(ProviderWaitingForLock); err != nil {
		return err
	}
	if !result.Approved {
		return m.fail("lock result was not approved")
	}
	m.state = ProviderServicePhase
	return nil
}
