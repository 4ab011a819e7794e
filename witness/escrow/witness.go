package escrow

import (
	"fmt"

	omertaerrors "github.com/omerta-project/omerta/internal/errors"
	"github.com/omerta-project/omerta/multisig"
)

// WitnessMachine drives one witness's participation in an escrow lock
// through its 15 named states (spec §4.8): chain-knowledge check,
// optional chain sync, balance/existing-lock evaluation, preliminary
// verdict exchange, consensus evaluation, escalation recruitment,
// final voting, multi-sig of the lock result, consumer counter-sign
// collection, and (once committed) periodic liveness monitoring.
type WitnessMachine struct {
	state WitnessState

	selfPeerID       string
	sessionID        string
	recruitmentRound int

	preliminary       map[string]PreliminaryVerdict // peerId -> verdict, this witness's cabal view
	lockResult        LockResult
}

// NewWitnessMachine starts a fresh witness machine in IDLE.
func NewWitnessMachine(selfPeerID, sessionID string) *WitnessMachine {
	return &WitnessMachine{
		state:       WitnessIdle,
		selfPeerID:  selfPeerID,
		sessionID:   sessionID,
		preliminary: make(map[string]PreliminaryVerdict),
	}
}

// State returns the machine's current state.
func (m *WitnessMachine) State() WitnessState { return m.state }

func (m *WitnessMachine) fail(reason string) error {
	m.state = WitnessFailed
	return omertaerrors.WitnessRejected(reason)
}

func (m *WitnessMachine) requireState(want WitnessState) error {
	if m.state != want {
		return m.fail(fmt.Sprintf("expected state %s, got %s", want, m.state))
	}
	return nil
}

// CheckChainKnowledge moves IDLE -> CHECKING_CHAIN_KNOWLEDGE, then
// either straight to EVALUATING_BALANCE (the witness already has the
// checkpointed chain state) or to SYNCING_CHAIN if it must first fetch
// it from a peer.
func (m *WitnessMachine) CheckChainKnowledge(hasCheckpointState bool) {
	m.state = WitnessCheckingChainKnowledge
	if hasCheckpointState {
		m.state = WitnessEvaluatingBalance
		return
	}
	m.state = WitnessSyncingChain
}

// ChainSynced completes an in-progress sync (SYNCING_CHAIN ->
// EVALUATING_BALANCE).
func (m *WitnessMachine) ChainSynced() error {
	if err := m.requireState(WitnessSyncingChain); err != nil {
		return err
	}
	m.state = WitnessEvaluatingBalance
	return nil
}

// EvaluateBalance checks the consumer's free balance against the
// requested amount (spec §4.8: "verify free balance (balance -
// alreadyLocked >= additionalAmount)" -- this is also how top-ups
// reuse the same cabal). Produces this witness's preliminary verdict
// and moves EVALUATING_BALANCE -> SENDING_PRELIMINARY_VERDICT.
func (m *WitnessMachine) EvaluateBalance(balance, alreadyLocked, requestedAmount float64) (PreliminaryVerdict, error) {
	if err := m.requireState(WitnessEvaluatingBalance); err != nil {
		return PreliminaryVerdict{}, err
	}
	approve := balance-alreadyLocked >= requestedAmount
	reason := "sufficient free balance"
	if !approve {
		reason = "insufficient free balance for requested lock"
	}
	verdict := PreliminaryVerdict{WitnessPeerID: m.selfPeerID, SessionID: m.sessionID, Approve: approve, Reason: reason}
	m.preliminary[m.selfPeerID] = verdict
	m.state = WitnessSendingPreliminaryVerdict
	return verdict, nil
}

// VerdictSent moves SENDING_PRELIMINARY_VERDICT -> AWAITING_PEER_VERDICTS.
func (m *WitnessMachine) VerdictSent() error {
	if err := m.requireState(WitnessSendingPreliminaryVerdict); err != nil {
		return err
	}
	m.state = WitnessAwaitingPeerVerdicts
	return nil
}

// ReceivePeerVerdict records a cabal peer's preliminary verdict.
// Callers drive the peer-verdict collection loop; once enough verdicts
// are in, EvaluateConsensus moves the machine forward.
func (m *WitnessMachine) ReceivePeerVerdict(v PreliminaryVerdict) error {
	if err := m.requireState(WitnessAwaitingPeerVerdicts); err != nil {
		return err
	}
	m.preliminary[v.WitnessPeerID] = v
	return nil
}

// EvaluateConsensus tallies the cabal's preliminary verdicts against
// CONSENSUS_THRESHOLD=0.67 (AWAITING_PEER_VERDICTS ->
// EVALUATING_CONSENSUS). If consensus on approval or on rejection is
// reached, the machine proceeds to FINAL_VOTING and returns whether the
// cabal approved; if there is no consensus either way, it moves to
// RECRUITING_REPLACEMENT (disagreement among the cabal triggers
// recruitment of a replacement witness, not an immediate abort), and
// fails once MaxRecruitmentRounds rounds have been used.
func (m *WitnessMachine) EvaluateConsensus(cabalSize int) (approved bool, err error) {
	if err := m.requireState(WitnessAwaitingPeerVerdicts); err != nil {
		return false, err
	}
	m.state = WitnessEvaluatingConsensus

	approvals, rejections := 0, 0
	for _, v := range m.preliminary {
		if v.Approve {
			approvals++
		} else {
			rejections++
		}
	}

	if multisig.RatioMet(approvals, cabalSize, ConsensusThreshold) {
		m.state = WitnessFinalVoting
		return true, nil
	}
	if multisig.RatioMet(rejections, cabalSize, ConsensusThreshold) {
		m.state = WitnessFinalVoting
		return false, nil
	}

	if m.recruitmentRound >= MaxRecruitmentRounds {
		return false, m.fail(fmt.Sprintf("no consensus after %d recruitment rounds", MaxRecruitmentRounds))
	}
	m.recruitmentRound++
	m.state = WitnessRecruitingReplacement
	return false, nil
}

// RecruitmentRound returns how many replacement-recruitment rounds have
// run so far (spec §4.8: capped at MAX_RECRUITMENT_ROUNDS=3).
func (m *WitnessMachine) RecruitmentRound() int { return m.recruitmentRound }

// ReplacementRecruited records that a replacement witness joined the
// cabal and moves RECRUITING_REPLACEMENT -> AWAITING_RECRUITMENT_VOTES.
func (m *WitnessMachine) ReplacementRecruited() error {
	if err := m.requireState(WitnessRecruitingReplacement); err != nil {
		return err
	}
	m.state = WitnessAwaitingRecruitmentVotes
	return nil
}

// RecruitmentVotesComplete moves AWAITING_RECRUITMENT_VOTES back to
// AWAITING_PEER_VERDICTS so EvaluateConsensus can run again with the
// replacement's verdict folded in.
func (m *WitnessMachine) RecruitmentVotesComplete() error {
	if err := m.requireState(WitnessAwaitingRecruitmentVotes); err != nil {
		return err
	}
	m.state = WitnessAwaitingPeerVerdicts
	return nil
}

// SignLockResult produces this witness's signature over the final
// voting outcome and moves FINAL_VOTING -> SIGNING_LOCK_RESULT ->
// AWAITING_CONSUMER_SIGNATURE.
func (m *WitnessMachine) SignLockResult(approved bool, sign func(msg []byte) []byte, canonicalMsg []byte) error {
	if err := m.requireState(WitnessFinalVoting); err != nil {
		return err
	}
	m.state = WitnessSigningLockResult
	if m.lockResult.WitnessSignatures == nil {
		m.lockResult.WitnessSignatures = make(map[string][]byte)
	}
	m.lockResult.SessionID = m.sessionID
	m.lockResult.Approved = approved
	m.lockResult.WitnessSignatures[m.selfPeerID] = sign(canonicalMsg)
	m.state = WitnessAwaitingConsumerSignature
	return nil
}

// ReceiveConsumerSignature records the consumer's counter-signature. If
// the finality rule is met, the machine moves to COMMITTED
// (BeginLivenessMonitoring then moves it to MONITORING_LIVENESS);
// otherwise it fails.
func (m *WitnessMachine) ReceiveConsumerSignature(signature []byte, validWitnessSigners []string) error {
	if err := m.requireState(WitnessAwaitingConsumerSignature); err != nil {
		return err
	}
	m.lockResult.ConsumerSignature = signature
	if !Committed(validWitnessSigners, len(signature) > 0) {
		return m.fail("finality rule not met after consumer signature")
	}
	m.state = WitnessCommitted
	return nil
}

// BeginLivenessMonitoring transitions a committed witness into ongoing
// liveness monitoring (spec §4.8: "periodic liveness (LIVENESS_PING/PONG,
// replacement protocol for offline witnesses)"). The actual PING/PONG
// exchange is implemented by witness/liveness; this just marks the
// machine as having entered that phase.
func (m *WitnessMachine) BeginLivenessMonitoring() error {
	if err := m.requireState(WitnessCommitted); err != nil {
		return err
	}
	m.state = WitnessMonitoringLiveness
	return nil
}

// Result returns this witness's view of the final lock result.
func (m *WitnessMachine) Result() LockResult { return m.lockResult }
