package filter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/omerta-project/omerta/vm/runtime"
)

func TestEvaluateOwnerOverride(t *testing.T) {
	m := NewManager(Config{OwnerPeerID: "owner-1", BlockedPeers: map[string]bool{"owner-1": true}})
	d := m.Evaluate(FilterRequest{RequesterID: "owner-1"}, time.Now())
	assert.Equal(t, OutcomeAccept, d.Outcome)
	assert.Equal(t, PriorityOwner, d.Priority)
}

func TestEvaluateBlockedPeer(t *testing.T) {
	m := NewManager(Config{BlockedPeers: map[string]bool{"bad": true}})
	d := m.Evaluate(FilterRequest{RequesterID: "bad"}, time.Now())
	assert.Equal(t, OutcomeReject, d.Outcome)
}

func TestEvaluateAcceptTrustedOnlyRejectsUntrustedNetwork(t *testing.T) {
	m := NewManager(Config{AcceptTrustedOnly: true, TrustedNetworks: map[string]bool{"net-a": true}})
	d := m.Evaluate(FilterRequest{RequesterID: "p1", NetworkID: "net-b"}, time.Now())
	assert.Equal(t, OutcomeReject, d.Outcome)

	d2 := m.Evaluate(FilterRequest{RequesterID: "p1", NetworkID: "net-a"}, time.Now())
	assert.Equal(t, OutcomeAccept, d2.Outcome)
	assert.Equal(t, PriorityTrusted, d2.Priority)
}

func TestEvaluateResourceLimitRule(t *testing.T) {
	m := NewManager(Config{Limits: ResourceLimits{MaxCPU: 4}, DefaultOutcome: OutcomeAccept})
	d := m.Evaluate(FilterRequest{Requirements: runtime.Requirements{CPU: 8}}, time.Now())
	assert.Equal(t, OutcomeReject, d.Outcome)
	assert.Contains(t, d.Reason, "cpu")
}

func TestEvaluateActivityDescriptionForbiddenBeatsRequired(t *testing.T) {
	m := NewManager(Config{
		DefaultOutcome: OutcomeAccept,
		Activity: ActivityRules{
			Forbidden: []string{"mining"},
			Required:  []string{"research"},
		},
	})
	d := m.Evaluate(FilterRequest{ActivityDescription: "crypto mining for research"}, time.Now())
	assert.Equal(t, OutcomeReject, d.Outcome)
	assert.Contains(t, d.Reason, "forbidden")
}

func TestEvaluateActivityDescriptionRequiredMissing(t *testing.T) {
	m := NewManager(Config{
		DefaultOutcome: OutcomeAccept,
		Activity:       ActivityRules{Required: []string{"research"}},
	})
	d := m.Evaluate(FilterRequest{ActivityDescription: "just browsing"}, time.Now())
	assert.Equal(t, OutcomeReject, d.Outcome)
}

func TestEvaluateQuietHours(t *testing.T) {
	m := NewManager(Config{DefaultOutcome: OutcomeAccept, Quiet: QuietHours{Enabled: true, Start: 22, End: 6}})
	late := time.Date(2026, 1, 1, 23, 0, 0, 0, time.UTC)
	d := m.Evaluate(FilterRequest{}, late)
	assert.Equal(t, OutcomeReject, d.Outcome)

	midday := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	d2 := m.Evaluate(FilterRequest{}, midday)
	assert.Equal(t, OutcomeAccept, d2.Outcome)
}

func TestEvaluateDefaultDenyByDefault(t *testing.T) {
	m := NewManager(Config{})
	d := m.Evaluate(FilterRequest{RequesterID: "anyone"}, time.Now())
	assert.Equal(t, OutcomeReject, d.Outcome)
}

func TestSelectPeerScoresAndBreaksTiesByPeerID(t *testing.T) {
	now := time.Now()
	req := runtime.Requirements{CPU: 2, MemoryMB: 1024}
	candidates := []Candidate{
		{PeerID: "b", Reputation: 50, ResponseMs: 100, LastSeen: now, Capabilities: runtime.Requirements{CPU: 4, MemoryMB: 4096}},
		{PeerID: "a", Reputation: 50, ResponseMs: 100, LastSeen: now, Capabilities: runtime.Requirements{CPU: 4, MemoryMB: 4096}},
		{PeerID: "c", Reputation: 1, ResponseMs: 9999, LastSeen: now.Add(-time.Hour), Capabilities: runtime.Requirements{CPU: 4, MemoryMB: 4096}},
	}
	best, ok := SelectPeer(candidates, req, now)
	assert.True(t, ok)
	assert.Equal(t, "a", best.PeerID, "identical scores must tie-break lexicographically")
}

func TestSelectPeerFiltersIneligibleCandidates(t *testing.T) {
	req := runtime.Requirements{CPU: 8, RequiredAPIs: []string{"gpu"}}
	candidates := []Candidate{
		{PeerID: "weak", Reputation: 100, ResponseMs: 1, Capabilities: runtime.Requirements{CPU: 2}},
		{PeerID: "noapi", Reputation: 100, ResponseMs: 1, Capabilities: runtime.Requirements{CPU: 16}},
		{PeerID: "good", Reputation: 10, ResponseMs: 50, Capabilities: runtime.Requirements{CPU: 16, RequiredAPIs: []string{"gpu", "nvme"}}},
	}
	best, ok := SelectPeer(candidates, req, time.Now())
	assert.True(t, ok)
	assert.Equal(t, "good", best.PeerID)
}

func TestSelectPeerNoneEligible(t *testing.T) {
	_, ok := SelectPeer(nil, runtime.Requirements{CPU: 1}, time.Now())
	assert.False(t, ok)
}
