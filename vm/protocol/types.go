// Package protocol implements Omerta's VM protocol (spec §4.4): the
// consumer and provider sides of requesting, tracking, releasing, and
// heartbeating a rented VM over the mesh channel abstraction.
//
// The request/continuation registry (pendingResponses) is grounded on
// the teacher's core/handshake.Server pending map: savePending/
// takePending guarded by a single mutex plus a periodic cleanupTicker
// sweeping expired entries, generalized here from handshake context ids
// to VM ids and from a shared struct field to a channel-delivered
// result so callers can block on it directly. MeshVMRequest/
// MeshVMResponse follow the teacher's core/rfc9421.Message style of an
// explicit type discriminator plus flat fields, adapted to Omerta's
// plain request/response shapes (no covered-field signing here — the
// mesh envelope already signs the whole payload).
package protocol

import (
	"time"

	"github.com/omerta-project/omerta/vm/runtime"
)

// Channel name constants (spec §6 — plaintext, case-sensitive).
const (
	ChannelVMRequest  = "vm-request"
	ChannelVMAck      = "vm-ack"
	ChannelVMRelease  = "vm-release"
	ChannelVMHeartbeat = "vm-heartbeat"
	ChannelVMShutdown = "vm-shutdown"
	ChannelTunnelData = "tunnel-data"
)

// VMResponseChannel is the per-consumer response channel name
// (vm-response-<consumerPeerId>).
func VMResponseChannel(consumerPeerID string) string {
	return "vm-response-" + consumerPeerID
}

// MeshVMRequest is sent consumer -> provider on ChannelVMRequest.
type MeshVMRequest struct {
	Type              string               `json:"type"`
	VMID              string               `json:"vmId"`
	Requirements      runtime.Requirements `json:"requirements"`
	ConsumerPublicKey []byte               `json:"consumerPublicKey"`
	ConsumerEndpoint  string               `json:"consumerEndpoint"`
	ConsumerVPNIP     string               `json:"consumerVPNIP,omitempty"`
	VMVPNIP           string               `json:"vmVPNIP,omitempty"`
	SSHPublicKey      string               `json:"sshPublicKey"`
	SSHUser           string               `json:"sshUser"`
	TimeoutMinutes    int                  `json:"timeoutMinutes,omitempty"`
}

// MeshVMResponse is sent provider -> consumer on
// VMResponseChannel(consumerPeerId).
type MeshVMResponse struct {
	Type             string `json:"type"`
	VMID             string `json:"vmId"`
	VMIP             string `json:"vmIP,omitempty"`
	ProviderPublicKey []byte `json:"providerPublicKey,omitempty"`
	Error            string `json:"error,omitempty"`
}

// MeshVMReleaseRequest is sent consumer -> provider on ChannelVMRelease.
type MeshVMReleaseRequest struct {
	Type string `json:"type"`
	VMID string `json:"vmId"`
}

// MeshVMReleaseResponse is sent provider -> consumer in reply to a
// release request ("vm-released").
type MeshVMReleaseResponse struct {
	Type  string `json:"type"`
	VMID  string `json:"vmId"`
	Error string `json:"error,omitempty"`
}

// MeshVMAck is sent consumer -> provider on ChannelVMAck, confirming or
// rejecting a MeshVMResponse.
type MeshVMAck struct {
	Type    string `json:"type"`
	VMID    string `json:"vmId"`
	Success bool   `json:"success"`
}

// MeshVMHeartbeat is sent provider -> consumer every 60s on
// ChannelVMHeartbeat, listing the VM ids the provider believes that
// consumer owns.
type MeshVMHeartbeat struct {
	Type           string   `json:"type"`
	ProviderPeerID string   `json:"providerPeerId"`
	VMIDs          []string `json:"vmIds"`
	Timestamp      int64    `json:"timestamp"`
}

// MeshVMHeartbeatResponse is the consumer's reply confirming which of
// those VM ids it still considers active.
type MeshVMHeartbeatResponse struct {
	Type         string   `json:"type"`
	ActiveVMIDs  []string `json:"activeVmIds"`
	Timestamp    int64    `json:"timestamp"`
}

// MeshProviderShutdownNotification is broadcast provider -> subscribed
// consumers on ChannelVMShutdown before graceful exit.
type MeshProviderShutdownNotification struct {
	Type           string   `json:"type"`
	ProviderPeerID string   `json:"providerPeerId"`
	VMIDs          []string `json:"vmIds"`
	Reason         string   `json:"reason"`
	Timestamp      int64    `json:"timestamp"`
}

// VMConnection is the consumer-side record of a rented VM, persisted by
// the VM tracker (spec §4.7).
type VMConnection struct {
	VMID              string    `json:"vmId"`
	ProviderPeerID    string    `json:"providerPeerId"`
	VMIP              string    `json:"vmIp"`
	ConsumerVPNIP     string    `json:"consumerVpnIp"`
	VMVPNIP           string    `json:"vmVpnIp"`
	ProviderPublicKey []byte    `json:"providerPublicKey"`
	SSHUser           string    `json:"sshUser"`
	CreatedAt         time.Time `json:"createdAt"`
	TimeoutMinutes    int       `json:"timeoutMinutes"`
}

// VMTracker is the narrow collaborator interface the consumer side
// calls into on success (spec §4.4 step 7) and on release, kept abstract
// here so this package has no direct dependency on the tracker's
// persistence format.
type VMTracker interface {
	TrackVM(conn VMConnection) error
	RemoveVM(vmID string) error
}

const (
	typeVMRequest  = "vm_request"
	typeVMResponse = "vm_response"
	typeVMRelease  = "vm_release"
	typeVMReleased = "vm_released"
	typeVMAck      = "vm_ack"
	typeHeartbeat  = "vm_heartbeat"
	typeHeartbeatResponse = "vm_heartbeat_response"
	typeShutdown   = "provider_shutdown"
)
