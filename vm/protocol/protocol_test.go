package protocol

import (
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	omertaerrors "github.com/omerta-project/omerta/internal/errors"
	"github.com/omerta-project/omerta/mesh/transport"
	"github.com/omerta-project/omerta/vm/filter"
	"github.com/omerta-project/omerta/vm/runtime"
)

type fakeRuntime struct {
	mu         sync.Mutex
	createErr  error
	destroyed  []string
	createCnt  int
}

func (f *fakeRuntime) Create(vmID string, req runtime.Requirements, sshPub string, mode runtime.NetworkMode) (runtime.CreateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCnt++
	if f.createErr != nil {
		return runtime.CreateResult{}, f.createErr
	}
	return runtime.CreateResult{VMIP: "10.77.1.2", PublicKey: []byte("provider-pubkey")}, nil
}

func (f *fakeRuntime) Destroy(vmID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed = append(f.destroyed, vmID)
	return nil
}

func (f *fakeRuntime) Status(vmID string) (string, error) { return "running", nil }

func (f *fakeRuntime) destroyedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.destroyed)
}

type fakeFilter struct {
	decision filter.Decision
}

func (f fakeFilter) Evaluate(req filter.FilterRequest, now time.Time) filter.Decision {
	return f.decision
}

type fakeTracker struct {
	mu      sync.Mutex
	tracked map[string]VMConnection
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{tracked: make(map[string]VMConnection)}
}

func (t *fakeTracker) TrackVM(conn VMConnection) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracked[conn.VMID] = conn
	return nil
}

func (t *fakeTracker) RemoveVM(vmID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tracked, vmID)
	return nil
}

func (t *fakeTracker) has(vmID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.tracked[vmID]
	return ok
}

// wireEnvelopeStub registers a vm-request handler on the provider's
// transport that stands in for the mesh envelope decode layer: it
// trusts an out-of-band consumerPeerID instead of verifying a
// signature, since this package has no direct envelope dependency.
func wireEnvelopeStub(t *transport.Transport, consumerPeerID string, provider *Provider) {
	t.OnChannel(ChannelVMRequest, func(from *net.UDPAddr, body json.RawMessage) {
		var req MeshVMRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return
		}
		provider.HandleRequestFrom(consumerPeerID, from, req)
	})
}

func mustListen(t *testing.T) *transport.Transport {
	t.Helper()
	tr, err := transport.Listen("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func TestConsumerRejectsSelfRequest(t *testing.T) {
	tr := mustListen(t)
	c := NewConsumer("peer-1", tr, nil)
	defer c.Close()

	_, err := c.RequestVM("peer-1", tr.LocalAddr(), MeshVMRequest{})
	require.Error(t, err)
	assert.True(t, omertaerrors.Is(err, omertaerrors.KindSelfRequestNotAllowed))
}

func TestConsumerProviderRoundTrip(t *testing.T) {
	consumerTr := mustListen(t)
	providerTr := mustListen(t)

	rt := &fakeRuntime{}
	prov := NewProvider("provider-1", providerTr, rt, fakeFilter{decision: filter.Decision{Outcome: filter.OutcomeAccept}}, nil, nil)
	defer prov.Shutdown("test teardown")

	wireEnvelopeStub(providerTr, "consumer-1", prov)

	providerTr.RememberPeer("consumer-1", consumerTr.LocalAddr())
	consumerTr.RememberPeer("provider-1", providerTr.LocalAddr())

	tracker := newFakeTracker()
	c := NewConsumer("consumer-1", consumerTr, tracker)
	defer c.Close()

	conn, err := c.RequestVM("provider-1", providerTr.LocalAddr(), MeshVMRequest{
		Requirements:   runtime.Requirements{CPU: 2, MemoryMB: 1024},
		SSHUser:        "ubuntu",
		SSHPublicKey:   "ssh-ed25519 AAAA...",
		TimeoutMinutes: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, "10.77.1.2", conn.VMIP)
	assert.Equal(t, "provider-1", conn.ProviderPeerID)
	assert.True(t, tracker.has(conn.VMID))
	assert.Equal(t, 1, rt.createCnt)
}

func TestConsumerHandlesProviderRejection(t *testing.T) {
	consumerTr := mustListen(t)
	providerTr := mustListen(t)

	rt := &fakeRuntime{}
	prov := NewProvider("provider-1", providerTr, rt, fakeFilter{decision: filter.Decision{Outcome: filter.OutcomeReject, Reason: "blocked peer"}}, nil, nil)
	defer prov.Shutdown("test teardown")
	wireEnvelopeStub(providerTr, "consumer-1", prov)

	providerTr.RememberPeer("consumer-1", consumerTr.LocalAddr())
	consumerTr.RememberPeer("provider-1", providerTr.LocalAddr())

	c := NewConsumer("consumer-1", consumerTr, nil)
	defer c.Close()

	_, err := c.RequestVM("provider-1", providerTr.LocalAddr(), MeshVMRequest{TimeoutMinutes: 1})
	require.Error(t, err)
	assert.True(t, omertaerrors.Is(err, omertaerrors.KindVMCreationFailed))
	assert.Equal(t, 0, rt.createCnt)
}

func TestProviderRollsBackOnAckTimeout(t *testing.T) {
	providerTr := mustListen(t)
	rt := &fakeRuntime{}
	prov := NewProvider("provider-1", providerTr, rt, fakeFilter{decision: filter.Decision{Outcome: filter.OutcomeAccept}}, nil, nil)
	prov.ackTimeout = 50 * time.Millisecond
	defer prov.Shutdown("test teardown")

	prov.HandleRequestFrom("consumer-1", providerTr.LocalAddr(), MeshVMRequest{VMID: "vm-1"})

	require.Eventually(t, func() bool { return rt.destroyedCount() == 1 }, time.Second, 10*time.Millisecond)
}

func TestProviderReleaseTearsDownRuntime(t *testing.T) {
	providerTr := mustListen(t)
	consumerTr := mustListen(t)
	rt := &fakeRuntime{}
	prov := NewProvider("provider-1", providerTr, rt, fakeFilter{decision: filter.Decision{Outcome: filter.OutcomeAccept}}, nil, nil)
	prov.ackTimeout = time.Hour
	defer prov.Shutdown("test teardown")

	providerTr.RememberPeer("consumer-1", consumerTr.LocalAddr())
	prov.HandleRequestFrom("consumer-1", consumerTr.LocalAddr(), MeshVMRequest{VMID: "vm-release-1"})

	rel := MeshVMReleaseRequest{Type: typeVMRelease, VMID: "vm-release-1"}
	body, err := json.Marshal(rel)
	require.NoError(t, err)
	prov.handleRelease(consumerTr.LocalAddr(), body)

	assert.Equal(t, 1, rt.destroyedCount())
}

func TestProviderHeartbeatResponseReleasesAfterMissedBeats(t *testing.T) {
	providerTr := mustListen(t)
	rt := &fakeRuntime{}
	prov := NewProvider("provider-1", providerTr, rt, fakeFilter{decision: filter.Decision{Outcome: filter.OutcomeAccept}}, nil, nil)
	prov.ackTimeout = time.Hour
	defer prov.Shutdown("test teardown")

	prov.HandleRequestFrom("consumer-1", providerTr.LocalAddr(), MeshVMRequest{VMID: "vm-hb-1"})

	for i := 0; i < MaxMissedHeartbeats-1; i++ {
		prov.OnHeartbeatResponse("consumer-1", MeshVMHeartbeatResponse{ActiveVMIDs: nil})
		assert.Equal(t, 0, rt.destroyedCount())
	}
	prov.OnHeartbeatResponse("consumer-1", MeshVMHeartbeatResponse{ActiveVMIDs: nil})
	assert.Equal(t, 1, rt.destroyedCount())
}

func TestMeshTunnelIPDeterministic(t *testing.T) {
	id := []byte{10, 20, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14}
	ip := meshTunnelIP(id)
	assert.Equal(t, "10.60.21.2", ip)
}
