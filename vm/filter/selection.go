package filter

import (
	"sort"
	"time"

	"github.com/omerta-project/omerta/vm/runtime"
)

// Candidate is one provider peer being scored for selection.
type Candidate struct {
	PeerID       string
	Reputation   float64
	ResponseMs   float64
	LastSeen     time.Time
	Capabilities runtime.Requirements
}

// freshnessBonus applies spec §4.5's step function: 10/7/5/2 for
// <30s/<60s/<120s/else.
func freshnessBonus(lastSeen, now time.Time) float64 {
	age := now.Sub(lastSeen)
	switch {
	case age < 30*time.Second:
		return 10
	case age < 60*time.Second:
		return 7
	case age < 120*time.Second:
		return 5
	default:
		return 2
	}
}

// score computes spec §4.5's selection score:
// 0.6*reputation + 0.3*(1000/max(responseMs,1)) + freshnessBonus(lastSeen).
func score(c Candidate, now time.Time) float64 {
	responseMs := c.ResponseMs
	if responseMs < 1 {
		responseMs = 1
	}
	return 0.6*c.Reputation + 0.3*(1000/responseMs) + freshnessBonus(c.LastSeen, now)
}

// matchesRequirements reports whether c's capabilities satisfy req:
// numeric fields must be element-wise >=, imageId/requiredAPIs must be
// set-membership matches.
func matchesRequirements(c Candidate, req runtime.Requirements) bool {
	if c.Capabilities.CPU < req.CPU {
		return false
	}
	if c.Capabilities.MemoryMB < req.MemoryMB {
		return false
	}
	if c.Capabilities.DiskGB < req.DiskGB {
		return false
	}
	if req.ImageID != "" && c.Capabilities.ImageID != req.ImageID {
		return false
	}
	have := make(map[string]bool, len(c.Capabilities.RequiredAPIs))
	for _, a := range c.Capabilities.RequiredAPIs {
		have[a] = true
	}
	for _, need := range req.RequiredAPIs {
		if !have[need] {
			return false
		}
	}
	return true
}

// SelectPeer scores every candidate matching req's requirements and
// returns the best one, breaking ties by peerId lexicographically for
// determinism (spec §4.5).
func SelectPeer(candidates []Candidate, req runtime.Requirements, now time.Time) (Candidate, bool) {
	var eligible []Candidate
	for _, c := range candidates {
		if matchesRequirements(c, req) {
			eligible = append(eligible, c)
		}
	}
	if len(eligible) == 0 {
		return Candidate{}, false
	}

	sort.Slice(eligible, func(i, j int) bool {
		si, sj := score(eligible[i], now), score(eligible[j], now)
		if si != sj {
			return si > sj
		}
		return eligible[i].PeerID < eligible[j].PeerID
	})
	return eligible[0], true
}
