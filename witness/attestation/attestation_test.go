package attestation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMachineMonitoringHappyPath(t *testing.T) {
	m := NewMachine("w1", "sess-1")
	alloc := VMAllocated{SessionID: "sess-1", AllocatedAt: time.Now()}
	m.ReceiveAllocation(alloc, true, true)
	assert.Equal(t, StateAwaitingVotes, m.State())

	for _, id := range []string{"w2", "w3", "w4"} {
		require.NoError(t, m.ReceivePeerVote(ConnectivityVote{WitnessPeerID: id, CanReachVM: true, ConsumerAttached: true}))
	}
	require.NoError(t, m.ReceivePeerVote(ConnectivityVote{WitnessPeerID: "w5", CanReachVM: false}))

	reachable, err := m.EvaluateConnectivity(5)
	require.NoError(t, err)
	assert.True(t, reachable)
	assert.Equal(t, StateMonitoring, m.State())

	require.NoError(t, m.Terminate(Cancelled{SessionID: "sess-1", Reason: CompletedNormal}))
	assert.Equal(t, StateCancelled, m.State())

	require.NoError(t, m.SignAttestation(func(msg []byte) []byte { return []byte("sig") }, []byte("canon"), []string{"w1", "w2", "w3"}))
	assert.Equal(t, StateAttestationSigned, m.State())
	assert.Equal(t, CompletedNormal, m.Result().Reason)
}

func TestMachineVotesAbortOnPoorConnectivity(t *testing.T) {
	m := NewMachine("w1", "sess-1")
	m.ReceiveAllocation(VMAllocated{SessionID: "sess-1"}, false, false)
	require.NoError(t, m.ReceivePeerVote(ConnectivityVote{WitnessPeerID: "w2", CanReachVM: false}))
	require.NoError(t, m.ReceivePeerVote(ConnectivityVote{WitnessPeerID: "w3", CanReachVM: false}))

	reachable, err := m.EvaluateConnectivity(5)
	require.NoError(t, err)
	assert.False(t, reachable)
	assert.Equal(t, StateVotingAbort, m.State())

	require.NoError(t, m.Terminate(Cancelled{Reason: ConnectivityFailed}))
	assert.Equal(t, StateCancelled, m.State())
}

func TestSignAttestationWaitsForThreshold(t *testing.T) {
	m := NewMachine("w1", "sess-1")
	m.state = StateCancelled
	require.NoError(t, m.SignAttestation(func(msg []byte) []byte { return []byte("sig") }, []byte("canon"), []string{"w1"}))
	assert.Equal(t, StateCancelled, m.State(), "should not finalize before 3 valid signers")
}
