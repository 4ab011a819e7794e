package protocol

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	omertaerrors "github.com/omerta-project/omerta/internal/errors"
	"github.com/omerta-project/omerta/internal/logger"
	"github.com/omerta-project/omerta/mesh/transport"
)

// pendingRequest is one outstanding vm-request awaiting its response,
// grounded on core/handshake.Server's pendingState: a value stashed
// under a single mutex-guarded map, removed exactly once by whichever
// of (response arrival, timeout sweep) observes it first.
type pendingRequest struct {
	result  chan vmResult
	expires time.Time
}

type vmResult struct {
	resp MeshVMResponse
	ok   bool
}

// Consumer implements the consumer side of the VM protocol (spec §4.4).
type Consumer struct {
	peerID    string
	transport *transport.Transport
	tracker   VMTracker
	log       logger.Logger

	mu      sync.Mutex
	pending map[string]pendingRequest

	stop chan struct{}
}

// NewConsumer wires a Consumer to the mesh transport and VM tracker,
// registers its vm-response handler, and starts the pending-request
// cleanup sweep.
func NewConsumer(peerID string, t *transport.Transport, tracker VMTracker) *Consumer {
	c := &Consumer{
		peerID:    peerID,
		transport: t,
		tracker:   tracker,
		log:       logger.GetDefaultLogger().WithFields(logger.String("component", "vm-consumer")),
		pending:   make(map[string]pendingRequest),
		stop:      make(chan struct{}),
	}
	t.OnChannel(VMResponseChannel(peerID), c.handleResponse)
	go c.cleanupTicker(time.Minute)
	return c
}

// RequestVM runs the consumer algorithm (spec §4.4 steps 1-7): rejects
// self-requests, generates a vmId and deterministic tunnel IP, registers
// a continuation, sends the request, and awaits a response within
// timeoutMinutes, ACKing positively or negatively before returning.
func (c *Consumer) RequestVM(providerPeerID string, providerAddr *net.UDPAddr, req MeshVMRequest) (VMConnection, error) {
	if providerPeerID == c.peerID {
		return VMConnection{}, omertaerrors.SelfRequestNotAllowed()
	}

	c.transport.RememberPeer(providerPeerID, providerAddr)

	id, err := uuid.NewRandom()
	if err != nil {
		return VMConnection{}, omertaerrors.New("VM_ID_GENERATION_FAILED", "generate vmId", err)
	}
	vmID := id.String()
	idBytes := id[:]
	vmVPNIP := meshTunnelIP(idBytes)

	req.Type = typeVMRequest
	req.VMID = vmID
	if req.VMVPNIP == "" {
		req.VMVPNIP = vmVPNIP
	}
	timeoutMinutes := req.TimeoutMinutes
	if timeoutMinutes <= 0 {
		timeoutMinutes = 10
	}
	timeout := time.Duration(timeoutMinutes) * time.Minute

	pr := pendingRequest{
		result:  make(chan vmResult, 1),
		expires: time.Now().Add(timeout),
	}
	c.savePending(vmID, pr)

	body, err := json.Marshal(req)
	if err != nil {
		c.takePending(vmID)
		return VMConnection{}, omertaerrors.InvalidEnvelope("marshal vm request", err)
	}
	if err := c.transport.SendToPeer(providerPeerID, ChannelVMRequest, body); err != nil {
		c.takePending(vmID)
		return VMConnection{}, err
	}

	select {
	case res := <-pr.result:
		if !res.ok {
			return VMConnection{}, omertaerrors.NoResponse(vmID)
		}
		return c.finish(providerPeerID, req, res.resp, timeoutMinutes)
	case <-time.After(timeout):
		c.takePending(vmID)
		return VMConnection{}, omertaerrors.NoResponse(vmID)
	}
}

func (c *Consumer) finish(providerPeerID string, req MeshVMRequest, resp MeshVMResponse, timeoutMinutes int) (VMConnection, error) {
	if resp.Error != "" {
		c.ack(providerPeerID, resp.VMID, false)
		return VMConnection{}, omertaerrors.VMCreationFailed(resp.Error, nil)
	}

	c.ack(providerPeerID, resp.VMID, true)

	conn := VMConnection{
		VMID:              resp.VMID,
		ProviderPeerID:    providerPeerID,
		VMIP:              resp.VMIP,
		ConsumerVPNIP:     req.ConsumerVPNIP,
		VMVPNIP:           req.VMVPNIP,
		ProviderPublicKey: resp.ProviderPublicKey,
		SSHUser:           req.SSHUser,
		CreatedAt:         time.Now(),
		TimeoutMinutes:    timeoutMinutes,
	}
	if c.tracker != nil {
		if err := c.tracker.TrackVM(conn); err != nil {
			c.log.Error("failed to persist tracked VM", logger.Error(err), logger.String("vmId", conn.VMID))
		}
	}
	return conn, nil
}

func (c *Consumer) ack(providerPeerID, vmID string, success bool) {
	body, err := json.Marshal(MeshVMAck{Type: typeVMAck, VMID: vmID, Success: success})
	if err != nil {
		return
	}
	if err := c.transport.SendToPeer(providerPeerID, ChannelVMAck, body); err != nil {
		c.log.Debug("failed to send ack", logger.Error(err), logger.String("vmId", vmID))
	}
}

func (c *Consumer) handleResponse(_ *net.UDPAddr, body json.RawMessage) {
	var resp MeshVMResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		c.log.Debug("dropping undecodable vm response", logger.Error(err))
		return
	}
	pr, ok := c.takePending(resp.VMID)
	if !ok {
		return
	}
	select {
	case pr.result <- vmResult{resp: resp, ok: true}:
	default:
	}
}

// ReleaseVM sends a release request to providerPeerID for vmID and,
// without waiting for the provider's reply, removes local tracking if
// the send succeeded or forceLocalCleanup is set (spec §4.4 "Release").
func (c *Consumer) ReleaseVM(providerPeerID, vmID string, forceLocalCleanup bool) error {
	body, err := json.Marshal(MeshVMReleaseRequest{Type: typeVMRelease, VMID: vmID})
	if err != nil {
		return omertaerrors.InvalidEnvelope("marshal release request", err)
	}
	sendErr := c.transport.SendToPeer(providerPeerID, ChannelVMRelease, body)
	if sendErr == nil || forceLocalCleanup {
		if c.tracker != nil {
			_ = c.tracker.RemoveVM(vmID)
		}
	}
	return sendErr
}

func (c *Consumer) savePending(vmID string, pr pendingRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[vmID] = pr
}

func (c *Consumer) takePending(vmID string) (pendingRequest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pr, ok := c.pending[vmID]
	if ok {
		delete(c.pending, vmID)
	}
	return pr, ok
}

func (c *Consumer) cleanupTicker(d time.Duration) {
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			now := time.Now()
			c.mu.Lock()
			for id, pr := range c.pending {
				if now.After(pr.expires) {
					delete(c.pending, id)
				}
			}
			c.mu.Unlock()
		case <-c.stop:
			return
		}
	}
}

// Close stops the pending-request cleanup sweep.
func (c *Consumer) Close() {
	close(c.stop)
}

// meshTunnelIP computes the deterministic mesh-tunnel IP assigned to
// the VM side of a per-vmId subnet: 10.(id[0]%200+50).(id[1]%250+1).2
// (spec §4.4 step 3 / §4.6 step 1).
func meshTunnelIP(id []byte) string {
	if len(id) < 2 {
		panic(fmt.Sprintf("meshTunnelIP: id too short: %d bytes", len(id)))
	}
	return fmt.Sprintf("10.%d.%d.2", int(id[0])%200+50, int(id[1])%250+1)
}
