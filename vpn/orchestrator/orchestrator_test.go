package orchestrator

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDriver struct {
	mu         sync.Mutex
	created    []string
	destroyed  []string
	peersAdded []string
	addPeerErr error
	createErr  error
}

func (f *fakeDriver) Create(name string, privateKey []byte, address string, prefixLen int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, name)
	return nil
}

func (f *fakeDriver) AddPeer(name string, peerPublicKey []byte, allowedIPs []string, endpoint *net.UDPAddr) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addPeerErr != nil {
		return f.addPeerErr
	}
	f.peersAdded = append(f.peersAdded, name)
	return nil
}

func (f *fakeDriver) Destroy(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed = append(f.destroyed, name)
	return nil
}

func (f *fakeDriver) ListInterfaces() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.created...), nil
}

func fakeKeygen() (priv, pub []byte, err error) {
	return []byte("priv-key-bytes-32-long-padding!!"), []byte("pub-key-bytes"), nil
}

func TestRequestTunnelAllocatesDeterministicSubnet(t *testing.T) {
	drv := &fakeDriver{}
	o := New(drv)
	id := uuid.New()

	info, err := o.RequestTunnel(id.String(), fakeKeygen)
	require.NoError(t, err)

	a := int(id[0])%200 + 50
	b := int(id[1])%250 + 1
	assert.Equal(t, fmt.Sprintf("10.%d.%d.1", a, b), info.ConsumerIP)
	assert.Equal(t, fmt.Sprintf("10.%d.%d.2", a, b), info.VMIP)
	assert.Contains(t, info.ConsumerIP, ".1")
	assert.Contains(t, info.VMIP, ".2")
	assert.Equal(t, "wg"+id.String()[:8], info.Interface)
	assert.Len(t, drv.created, 1)
	assert.True(t, o.HasActiveTunnel(id.String()))
}

func TestRequestFailedLeavesNoResidualInterface(t *testing.T) {
	drv := &fakeDriver{addPeerErr: errors.New("peer handshake failed")}
	o := New(drv)
	id := uuid.New()

	info, err := o.RequestTunnel(id.String(), fakeKeygen)
	require.NoError(t, err)

	err = o.AddProviderPeer(id.String(), []byte("provider-pub"), nil)
	require.Error(t, err)

	assert.False(t, o.HasActiveTunnel(id.String()), "failed AddProviderPeer must tear down the tunnel")
	assert.Contains(t, drv.destroyed, info.Interface)
}

func TestRequestTunnelCreateFailureLeavesNoState(t *testing.T) {
	drv := &fakeDriver{createErr: errors.New("interface already exists")}
	o := New(drv)
	id := uuid.New()

	_, err := o.RequestTunnel(id.String(), fakeKeygen)
	require.Error(t, err)
	assert.False(t, o.HasActiveTunnel(id.String()))
	assert.Empty(t, drv.destroyed, "nothing was created, so nothing should be torn down")
}

func TestTeardownIsIdempotent(t *testing.T) {
	drv := &fakeDriver{}
	o := New(drv)
	id := uuid.New()

	_, err := o.RequestTunnel(id.String(), fakeKeygen)
	require.NoError(t, err)

	require.NoError(t, o.Teardown(id.String()))
	require.NoError(t, o.Teardown(id.String()))
	assert.Len(t, drv.destroyed, 1)
}

func TestTwoVMsGetIndependentTunnels(t *testing.T) {
	drv := &fakeDriver{}
	o := New(drv)
	id1, id2 := uuid.New(), uuid.New()

	info1, err := o.RequestTunnel(id1.String(), fakeKeygen)
	require.NoError(t, err)
	info2, err := o.RequestTunnel(id2.String(), fakeKeygen)
	require.NoError(t, err)

	assert.NotEqual(t, info1.Interface, info2.Interface)
	assert.True(t, o.HasActiveTunnel(id1.String()))
	assert.True(t, o.HasActiveTunnel(id2.String()))
}
