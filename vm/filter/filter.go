// Package filter implements Omerta's filter chain and peer selection
// scoring (spec §4.5): an ordered sequence of independent checks over a
// VM request, the first deterministic verdict winning, grounded on the
// teacher's core/message/validator.MessageValidator composition of
// timestamp -> nonce -> duplicate -> order checks (each short-circuiting
// on its own failure, in a fixed sequence).
package filter

import (
	"strings"
	"time"

	"github.com/omerta-project/omerta/vm/runtime"
)

// Priority ranks an accepted request by why it was accepted.
type Priority string

const (
	PriorityOwner   Priority = "owner"
	PriorityNetwork Priority = "network"
	PriorityTrusted Priority = "trusted"
	PriorityDefault Priority = "default"
)

// Outcome is the verdict kind a Decision carries.
type Outcome string

const (
	OutcomeAccept        Outcome = "accept"
	OutcomeReject        Outcome = "reject"
	OutcomeNeedsApproval Outcome = "needsApproval"
)

// Decision is the result of evaluating a FilterRequest.
type Decision struct {
	Outcome  Outcome
	Priority Priority
	Reason   string
}

func accept(p Priority) Decision { return Decision{Outcome: OutcomeAccept, Priority: p} }
func reject(reason string) Decision {
	return Decision{Outcome: OutcomeReject, Reason: reason}
}

// FilterRequest is what a provider evaluates a VM request against.
type FilterRequest struct {
	RequesterID         string
	NetworkID           string
	Requirements        runtime.Requirements
	ActivityDescription string
}

// ResourceLimits bounds what a single VM request may consume.
type ResourceLimits struct {
	MaxCPU      int
	MaxMemoryMB int
	MaxDiskGB   int
}

// ActivityRules lists keywords that force rejection or are required to
// be present in a request's activity description.
type ActivityRules struct {
	Forbidden []string
	Required  []string
}

// QuietHours rejects requests arriving in a configured local window,
// e.g. Start=22, End=6 meaning 22:00-06:00.
type QuietHours struct {
	Enabled bool
	Start   int // hour of day, 0-23
	End     int // hour of day, 0-23
}

func (q QuietHours) contains(hour int) bool {
	if !q.Enabled {
		return false
	}
	if q.Start == q.End {
		return false
	}
	if q.Start < q.End {
		return hour >= q.Start && hour < q.End
	}
	// window wraps midnight
	return hour >= q.Start || hour < q.End
}

// Config holds a provider's filter policy (spec §4.5 ordering 1-7).
type Config struct {
	OwnerPeerID       string
	BlockedPeers      map[string]bool
	TrustedNetworks   map[string]bool
	AcceptTrustedOnly bool
	Limits            ResourceLimits
	Activity          ActivityRules
	Quiet             QuietHours
	DefaultOutcome    Outcome
}

// Manager evaluates FilterRequests against a Config's ordered rule
// chain, each step short-circuiting on a deterministic verdict (spec
// §4.5: "first deterministic rejection short-circuits").
type Manager struct {
	cfg Config
}

// NewManager builds a Manager from cfg, defaulting a nil map/zero
// DefaultOutcome to "reject" (deny-by-default).
func NewManager(cfg Config) *Manager {
	if cfg.BlockedPeers == nil {
		cfg.BlockedPeers = map[string]bool{}
	}
	if cfg.TrustedNetworks == nil {
		cfg.TrustedNetworks = map[string]bool{}
	}
	if cfg.DefaultOutcome == "" {
		cfg.DefaultOutcome = OutcomeReject
	}
	return &Manager{cfg: cfg}
}

// Evaluate runs the ordered rule chain from spec §4.5:
//  1. owner peer override -> accept(owner)
//  2. blocked peer -> reject
//  3. trusted-network rule under acceptTrustedOnly default
//  4. ResourceLimitRule (CPU/memory/disk caps)
//  5. ActivityDescriptionRule (forbidden > required keyword match)
//  6. QuietHoursRule
//  7. default action
func (m *Manager) Evaluate(req FilterRequest, now time.Time) Decision {
	if m.cfg.OwnerPeerID != "" && req.RequesterID == m.cfg.OwnerPeerID {
		return accept(PriorityOwner)
	}

	if m.cfg.BlockedPeers[req.RequesterID] {
		return reject("blocked peer")
	}

	trusted := m.cfg.TrustedNetworks[req.NetworkID]
	if m.cfg.AcceptTrustedOnly && !trusted {
		return reject("network not trusted")
	}

	if d, ok := m.checkResourceLimits(req.Requirements); ok {
		return d
	}

	if d, ok := m.checkActivity(req.ActivityDescription); ok {
		return d
	}

	if m.cfg.Quiet.contains(now.Hour()) {
		return reject("quiet hours")
	}

	if trusted {
		return accept(PriorityTrusted)
	}
	if m.cfg.DefaultOutcome == OutcomeAccept {
		return accept(PriorityNetwork)
	}
	if m.cfg.DefaultOutcome == OutcomeNeedsApproval {
		return Decision{Outcome: OutcomeNeedsApproval, Reason: "default policy requires approval"}
	}
	return reject("default policy denies")
}

func (m *Manager) checkResourceLimits(req runtime.Requirements) (Decision, bool) {
	l := m.cfg.Limits
	switch {
	case l.MaxCPU > 0 && req.CPU > l.MaxCPU:
		return reject("cpu request exceeds limit"), true
	case l.MaxMemoryMB > 0 && req.MemoryMB > l.MaxMemoryMB:
		return reject("memory request exceeds limit"), true
	case l.MaxDiskGB > 0 && req.DiskGB > l.MaxDiskGB:
		return reject("disk request exceeds limit"), true
	}
	return Decision{}, false
}

func (m *Manager) checkActivity(description string) (Decision, bool) {
	lower := strings.ToLower(description)
	for _, kw := range m.cfg.Activity.Forbidden {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return reject("forbidden activity keyword: " + kw), true
		}
	}
	for _, kw := range m.cfg.Activity.Required {
		if kw != "" && !strings.Contains(lower, strings.ToLower(kw)) {
			return reject("missing required activity keyword: " + kw), true
		}
	}
	return Decision{}, false
}
