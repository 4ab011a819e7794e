// Package orchestrator implements the ephemeral per-VM VPN orchestrator
// (spec §4.6): a stateless helper that generates an X25519 keypair,
// allocates a /24 subnet deterministically from a vmId, brings up a
// WireGuard-style tunnel interface through the injected TunnelDriver,
// and guarantees that any failure on the request path leaves no
// residual interface behind.
//
// The per-vmId in-flight guard is grounded on crypto/rotation
// .keyRotator's `rotating map[string]bool`: the teacher tracks which
// key ids currently have a rotation in progress so a second caller
// can't race it; Omerta reuses the identical guard shape keyed by
// vmId so no two create/teardown operations for the same VM can
// interleave (spec §5: "never two in-flight mutations for the same
// vmId").
package orchestrator

import (
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"

	omertaerrors "github.com/omerta-project/omerta/internal/errors"
	"github.com/omerta-project/omerta/internal/logger"
	"github.com/omerta-project/omerta/vm/runtime"
)

// TunnelInfo is what RequestTunnel returns: the interface and addressing
// an orchestrated VM tunnel was assigned.
type TunnelInfo struct {
	VMID         string
	Interface    string
	PrivateKey   []byte // X25519 scalar, zeroed by the caller once no longer needed
	PublicKey    []byte
	ConsumerIP   string // subnet .1
	VMIP         string // subnet .2
	SubnetPrefix string // e.g. "10.77.21.0/24"
}

// Orchestrator wires a TunnelDriver to the per-vmId create/addPeer/
// destroy sequence spec §4.6 describes. It holds no persistent state
// beyond the in-flight guard and the currently-up interfaces, since the
// spec calls it "stateless per-VM helper".
type Orchestrator struct {
	tunnel runtime.TunnelDriver
	log    logger.Logger

	mu       sync.Mutex
	rotating map[string]bool // vmId -> in-flight create/teardown guard
	active   map[string]*TunnelInfo
}

// New wires an Orchestrator to driver.
func New(driver runtime.TunnelDriver) *Orchestrator {
	return &Orchestrator{
		tunnel:   driver,
		log:      logger.GetDefaultLogger().WithFields(logger.String("component", "vpn-orchestrator")),
		rotating: make(map[string]bool),
		active:   make(map[string]*TunnelInfo),
	}
}

// RequestTunnel runs spec §4.6 steps 1-2: generates an X25519 keypair,
// allocates the deterministic subnet from vmID, and brings up
// wg<first-8-of-vmId> via the TunnelDriver. On any failure it is a
// no-op on the tunnel device (nothing was created yet), satisfying
// "request-failed ⇒ no residual interface" for the allocation phase
// itself.
func (o *Orchestrator) RequestTunnel(vmID string, generateKey func() (priv, pub []byte, err error)) (*TunnelInfo, error) {
	if !o.beginExclusive(vmID) {
		return nil, omertaerrors.ResourceExhausted("tunnel operation already in flight for vmId " + vmID)
	}
	defer o.endExclusive(vmID)

	priv, pub, err := generateKey()
	if err != nil {
		return nil, omertaerrors.New("TUNNEL_KEYGEN_FAILED", "generate X25519 keypair", err)
	}

	idBytes, err := vmIDBytes(vmID)
	if err != nil {
		return nil, omertaerrors.New("TUNNEL_VMID_INVALID", "parse vmId", err)
	}

	consumerIP, vmIP, prefix := allocateSubnet(idBytes)
	iface := interfaceName(vmID)

	info := &TunnelInfo{
		VMID:         vmID,
		Interface:    iface,
		PrivateKey:   priv,
		PublicKey:    pub,
		ConsumerIP:   consumerIP,
		VMIP:         vmIP,
		SubnetPrefix: prefix,
	}

	if err := o.tunnel.Create(iface, priv, consumerIP, 24); err != nil {
		// Nothing was brought up; no teardown needed.
		return nil, omertaerrors.New("TUNNEL_CREATE_FAILED", "bring up tunnel interface", err)
	}

	o.mu.Lock()
	o.active[vmID] = info
	o.mu.Unlock()

	return info, nil
}

// AddProviderPeer runs spec §4.6 step 3: on receiving the provider's
// response, adds it as a WireGuard peer with its returned public key.
// On failure, it tears down the tunnel (spec §4.6 step 4) since the
// request path cannot proceed without a working peer.
func (o *Orchestrator) AddProviderPeer(vmID string, providerPublicKey []byte, endpoint *net.UDPAddr) error {
	o.mu.Lock()
	info, ok := o.active[vmID]
	o.mu.Unlock()
	if !ok {
		return omertaerrors.New("TUNNEL_NOT_FOUND", "no tunnel registered for vmId "+vmID, nil)
	}

	allowedIPs := []string{info.VMIP + "/32"}
	if err := o.tunnel.AddPeer(info.Interface, providerPublicKey, allowedIPs, endpoint); err != nil {
		o.Teardown(vmID)
		return omertaerrors.New("TUNNEL_ADD_PEER_FAILED", "add provider as wireguard peer", err)
	}
	return nil
}

// Teardown destroys the tunnel interface for vmID, if one exists. This
// is the only path that destroys tunnel state; it is idempotent and
// safe to call on a vmID with no active tunnel.
func (o *Orchestrator) Teardown(vmID string) error {
	if !o.beginExclusive(vmID) {
		return omertaerrors.ResourceExhausted("tunnel operation already in flight for vmId " + vmID)
	}
	defer o.endExclusive(vmID)

	o.mu.Lock()
	info, ok := o.active[vmID]
	if ok {
		delete(o.active, vmID)
	}
	o.mu.Unlock()
	if !ok {
		return nil
	}

	if err := o.tunnel.Destroy(info.Interface); err != nil {
		o.log.Error("tunnel teardown failed", logger.Error(err), logger.String("vmId", vmID), logger.String("interface", info.Interface))
		return omertaerrors.New("TUNNEL_DESTROY_FAILED", "destroy tunnel interface", err)
	}
	return nil
}

// RequestFailed is the request-path teardown hook (spec §4.6 step 4 /
// spec §5 cancellation guarantee): callers invoke this from any early
// return between RequestTunnel succeeding and the VM connection being
// fully established, guaranteeing no residual interface survives a
// failed request.
func (o *Orchestrator) RequestFailed(vmID string) {
	_ = o.Teardown(vmID)
}

// HasActiveTunnel reports whether vmID currently has a tunnel up,
// primarily for tests asserting teardown actually happened.
func (o *Orchestrator) HasActiveTunnel(vmID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.active[vmID]
	return ok
}

func (o *Orchestrator) beginExclusive(vmID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.rotating[vmID] {
		return false
	}
	o.rotating[vmID] = true
	return true
}

func (o *Orchestrator) endExclusive(vmID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.rotating, vmID)
}

// interfaceName derives wg<first-8-of-vmId> (spec §4.6 step 2).
func interfaceName(vmID string) string {
	id := vmID
	if len(id) > 8 {
		id = id[:8]
	}
	return "wg" + id
}

// allocateSubnet computes the deterministic /24 subnet from a vmId's
// raw bytes: 10.(h[0]%200+50).(h[1]%250+1).0/24, assigning .1 to the
// consumer and .2 to the VM (spec §4.4 step 3 / §4.6 step 1).
func allocateSubnet(id []byte) (consumerIP, vmIP, prefix string) {
	a := int(id[0])%200 + 50
	b := int(id[1])%250 + 1
	return fmt.Sprintf("10.%d.%d.1", a, b), fmt.Sprintf("10.%d.%d.2", a, b), fmt.Sprintf("10.%d.%d.0/24", a, b)
}

// vmIDBytes parses vmID as a UUID and returns its raw 16 bytes, matching
// the VM protocol consumer's own `id[:]` computation (vm/protocol
// .meshTunnelIP) so both sides derive the identical VM-side address
// from the same vmId.
func vmIDBytes(vmID string) ([]byte, error) {
	id, err := uuid.Parse(vmID)
	if err != nil {
		return nil, err
	}
	return id[:], nil
}
