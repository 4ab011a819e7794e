package protocol

import (
	"encoding/json"
	"net"
	"sync"
	"time"

	omertaerrors "github.com/omerta-project/omerta/internal/errors"
	"github.com/omerta-project/omerta/internal/logger"
	"github.com/omerta-project/omerta/mesh/registry"
	"github.com/omerta-project/omerta/mesh/transport"
	"github.com/omerta-project/omerta/vm/filter"
	"github.com/omerta-project/omerta/vm/runtime"
)

// AckTimeout bounds how long the provider waits for a consumer's ACK
// before rolling back a just-created VM (spec §4.4 provider step 4).
const AckTimeout = 30 * time.Second

// HeartbeatInterval is how often the provider sends vm-heartbeat to
// each consumer with VMs on this provider (spec §4.4 provider step 5).
const HeartbeatInterval = 60 * time.Second

// MaxMissedHeartbeats is the number of consecutive missed heartbeat
// responses before a provider releases a consumer's VMs.
const MaxMissedHeartbeats = 3

// PeerDirectory resolves a consumer's announcement, kept abstract so
// this package doesn't depend on how peers were discovered.
type PeerDirectory interface {
	Get(peerID string) (registry.DiscoveredPeer, bool)
}

// FilterEvaluator is the narrow collaborator interface over
// vm/filter.Manager.Evaluate, injected so providers can be tested with
// a stub policy.
type FilterEvaluator interface {
	Evaluate(req filter.FilterRequest, now time.Time) filter.Decision
}

// EventSink records lifecycle events the provider observes (heartbeat
// misses, rollbacks, releases) for the JSONL event log (spec §7).
type EventSink interface {
	Record(component string, fields map[string]interface{})
}

type noopEventSink struct{}

func (noopEventSink) Record(string, map[string]interface{}) {}

type activeVM struct {
	vmID             string
	consumerPeerID   string
	consumerAddr     *net.UDPAddr
	ackCh            chan bool
	missedHeartbeats int
}

// Provider implements the provider side of the VM protocol (spec §4.4).
type Provider struct {
	peerID    string
	transport *transport.Transport
	runtime   runtime.VMRuntime
	filter    FilterEvaluator
	peers     PeerDirectory
	events    EventSink
	clock     runtime.Clock
	log       logger.Logger

	ackTimeout        time.Duration
	heartbeatInterval time.Duration

	mu     sync.Mutex
	active map[string]*activeVM // vmID -> activeVM

	stop chan struct{}
}

// NewProvider wires a Provider to the mesh transport, hypervisor
// runtime, filter policy, and peer directory, registers its channel
// handlers, and starts the heartbeat loop.
func NewProvider(peerID string, t *transport.Transport, vmRuntime runtime.VMRuntime, filterMgr FilterEvaluator, peers PeerDirectory, events EventSink) *Provider {
	if events == nil {
		events = noopEventSink{}
	}
	p := &Provider{
		peerID:    peerID,
		transport: t,
		runtime:   vmRuntime,
		filter:    filterMgr,
		peers:     peers,
		events:    events,
		clock:             runtime.SystemClock{},
		log:               logger.GetDefaultLogger().WithFields(logger.String("component", "vm-provider")),
		ackTimeout:        AckTimeout,
		heartbeatInterval: HeartbeatInterval,
		active:            make(map[string]*activeVM),
		stop:              make(chan struct{}),
	}
	t.OnChannel(ChannelVMAck, p.handleAck)
	t.OnChannel(ChannelVMRelease, p.handleRelease)
	go p.heartbeatLoop()
	return p
}

// HandleRequestFrom runs the full provider algorithm (spec §4.4 steps
// 1-5) for one inbound vm-request. The mesh transport's raw UDP channel
// handler carries no authenticated sender identity, so this is not
// registered as a channel handler directly: the owning mesh node
// decodes and signature-verifies the envelope first (mesh/envelope),
// then calls this with the verified sender peer id.
func (p *Provider) HandleRequestFrom(consumerPeerID string, from *net.UDPAddr, req MeshVMRequest) {
	if consumerPeerID == p.peerID {
		p.respondError(consumerPeerID, req.VMID, omertaerrors.SelfRequestNotAllowed().Error())
		return
	}

	decision := p.evaluate(consumerPeerID, req)
	if decision.Outcome != filter.OutcomeAccept {
		p.respondError(consumerPeerID, req.VMID, decision.Reason)
		p.events.Record("vm_requests", map[string]interface{}{
			"vmId": req.VMID, "consumer": consumerPeerID, "outcome": string(decision.Outcome), "reason": decision.Reason,
		})
		return
	}

	result, err := p.runtime.Create(req.VMID, req.Requirements, req.SSHPublicKey, runtime.NetworkDirect)
	if err != nil {
		p.respondError(consumerPeerID, req.VMID, err.Error())
		p.events.Record("errors", map[string]interface{}{"vmId": req.VMID, "error": err.Error()})
		return
	}

	av := &activeVM{
		vmID:           req.VMID,
		consumerPeerID: consumerPeerID,
		consumerAddr:   from,
		ackCh:          make(chan bool, 1),
	}
	p.mu.Lock()
	p.active[req.VMID] = av
	p.mu.Unlock()

	p.respondSuccess(consumerPeerID, req.VMID, result)
	p.events.Record("vm_lifecycle", map[string]interface{}{"vmId": req.VMID, "consumer": consumerPeerID, "event": "created"})

	go p.awaitAck(av)
}

func (p *Provider) evaluate(consumerPeerID string, req MeshVMRequest) filter.Decision {
	networkID := ""
	if p.peers != nil {
		if peer, ok := p.peers.Get(consumerPeerID); ok {
			networkID = peer.Announcement.NetworkID
		}
	}
	fr := filter.FilterRequest{
		RequesterID:  consumerPeerID,
		NetworkID:    networkID,
		Requirements: req.Requirements,
	}
	if p.filter == nil {
		return filter.Decision{Outcome: filter.OutcomeReject, Reason: "no filter policy configured"}
	}
	return p.filter.Evaluate(fr, p.clock.Now())
}

func (p *Provider) awaitAck(av *activeVM) {
	timer := time.NewTimer(p.ackTimeout)
	defer timer.Stop()
	select {
	case ok := <-av.ackCh:
		if !ok {
			p.rollback(av, "negative ack")
		}
	case <-timer.C:
		p.rollback(av, "ack timeout")
	}
}

func (p *Provider) rollback(av *activeVM, reason string) {
	p.mu.Lock()
	delete(p.active, av.vmID)
	p.mu.Unlock()
	if err := p.runtime.Destroy(av.vmID); err != nil {
		p.log.Error("rollback destroy failed", logger.Error(err), logger.String("vmId", av.vmID))
	}
	p.events.Record("vm_lifecycle", map[string]interface{}{"vmId": av.vmID, "consumer": av.consumerPeerID, "event": "rolled_back", "reason": reason})
}

func (p *Provider) handleAck(_ *net.UDPAddr, body json.RawMessage) {
	var ack MeshVMAck
	if err := json.Unmarshal(body, &ack); err != nil {
		p.log.Debug("dropping undecodable vm ack", logger.Error(err))
		return
	}
	p.mu.Lock()
	av, ok := p.active[ack.VMID]
	p.mu.Unlock()
	if !ok {
		return
	}
	select {
	case av.ackCh <- ack.Success:
	default:
	}
}

func (p *Provider) handleRelease(_ *net.UDPAddr, body json.RawMessage) {
	var rel MeshVMReleaseRequest
	if err := json.Unmarshal(body, &rel); err != nil {
		p.log.Debug("dropping undecodable release request", logger.Error(err))
		return
	}

	p.mu.Lock()
	av, ok := p.active[rel.VMID]
	if ok {
		delete(p.active, rel.VMID)
	}
	p.mu.Unlock()
	if !ok {
		return
	}

	errMsg := ""
	if err := p.runtime.Destroy(rel.VMID); err != nil {
		errMsg = err.Error()
	}
	p.events.Record("vm_lifecycle", map[string]interface{}{"vmId": rel.VMID, "consumer": av.consumerPeerID, "event": "released"})

	resp, err := json.Marshal(MeshVMReleaseResponse{Type: typeVMReleased, VMID: rel.VMID, Error: errMsg})
	if err != nil {
		return
	}
	_ = p.transport.SendToPeer(av.consumerPeerID, ChannelVMRelease, resp)
}

func (p *Provider) respondSuccess(consumerPeerID, vmID string, result runtime.CreateResult) {
	resp := MeshVMResponse{Type: typeVMResponse, VMID: vmID, VMIP: result.VMIP, ProviderPublicKey: result.PublicKey}
	p.send(consumerPeerID, resp)
}

func (p *Provider) respondError(consumerPeerID, vmID, reason string) {
	resp := MeshVMResponse{Type: typeVMResponse, VMID: vmID, Error: reason}
	p.send(consumerPeerID, resp)
}

func (p *Provider) send(consumerPeerID string, resp MeshVMResponse) {
	body, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := p.transport.SendToPeer(consumerPeerID, VMResponseChannel(consumerPeerID), body); err != nil {
		p.log.Debug("failed to send vm response", logger.Error(err), logger.String("vmId", resp.VMID))
	}
}

func (p *Provider) heartbeatLoop() {
	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.sendHeartbeats()
		case <-p.stop:
			return
		}
	}
}

func (p *Provider) sendHeartbeats() {
	byConsumer := make(map[string][]string)
	p.mu.Lock()
	for vmID, av := range p.active {
		byConsumer[av.consumerPeerID] = append(byConsumer[av.consumerPeerID], vmID)
	}
	p.mu.Unlock()

	now := p.clock.Now()
	for consumerID, vmIDs := range byConsumer {
		hb := MeshVMHeartbeat{Type: typeHeartbeat, ProviderPeerID: p.peerID, VMIDs: vmIDs, Timestamp: now.Unix()}
		body, err := json.Marshal(hb)
		if err != nil {
			continue
		}
		if err := p.transport.SendToPeer(consumerID, ChannelVMHeartbeat, body); err != nil {
			p.recordMissedHeartbeats(consumerID, vmIDs)
		}
	}
	p.events.Record("heartbeats", map[string]interface{}{"providerPeerId": p.peerID, "consumerCount": len(byConsumer)})
}

// OnHeartbeatResponse clears the missed-heartbeat counter for every VM
// the consumer confirms as still active, and releases any VM the
// consumer silently dropped.
func (p *Provider) OnHeartbeatResponse(consumerPeerID string, resp MeshVMHeartbeatResponse) {
	active := make(map[string]bool, len(resp.ActiveVMIDs))
	for _, id := range resp.ActiveVMIDs {
		active[id] = true
	}
	p.mu.Lock()
	var stale []*activeVM
	for vmID, av := range p.active {
		if av.consumerPeerID != consumerPeerID {
			continue
		}
		if active[vmID] {
			av.missedHeartbeats = 0
			continue
		}
		av.missedHeartbeats++
		if av.missedHeartbeats >= MaxMissedHeartbeats {
			stale = append(stale, av)
			delete(p.active, vmID)
		}
	}
	p.mu.Unlock()

	for _, av := range stale {
		if err := p.runtime.Destroy(av.vmID); err != nil {
			p.log.Error("heartbeat-triggered release failed", logger.Error(err), logger.String("vmId", av.vmID))
		}
		p.events.Record("vm_lifecycle", map[string]interface{}{"vmId": av.vmID, "consumer": av.consumerPeerID, "event": "released_missed_heartbeats"})
	}
}

func (p *Provider) recordMissedHeartbeats(consumerPeerID string, vmIDs []string) {
	p.mu.Lock()
	for _, vmID := range vmIDs {
		if av, ok := p.active[vmID]; ok && av.consumerPeerID == consumerPeerID {
			av.missedHeartbeats++
		}
	}
	p.mu.Unlock()
}

// Shutdown broadcasts provider_shutdown to every consumer with VMs on
// this provider, then stops the heartbeat loop (spec §4.4 "Shutdown").
func (p *Provider) Shutdown(reason string) {
	byConsumer := make(map[string][]string)
	p.mu.Lock()
	for vmID, av := range p.active {
		byConsumer[av.consumerPeerID] = append(byConsumer[av.consumerPeerID], vmID)
	}
	p.mu.Unlock()

	now := p.clock.Now()
	for consumerID, vmIDs := range byConsumer {
		note := MeshProviderShutdownNotification{
			Type: typeShutdown, ProviderPeerID: p.peerID, VMIDs: vmIDs, Reason: reason, Timestamp: now.Unix(),
		}
		body, err := json.Marshal(note)
		if err != nil {
			continue
		}
		_ = p.transport.SendToPeer(consumerID, ChannelVMShutdown, body)
	}
	close(p.stop)
}
