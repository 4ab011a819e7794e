// Package registry implements the peer registry and freshness
// subsystem (spec §4.3): a TTL-bounded peer announcement table, a
// bounded LRU recent-contact tracker, a bounded-hop "who has recent"
// gossip query with single-in-flight-per-peer deduplication, and a
// path-failure reporter that invalidates stale reachability paths.
//
// Grounded on the teacher's core/message/nonce.Manager and
// pkg/agent/core/message/dedupe.Detector shape: TTL map + periodic
// cleanup goroutine guarded by sync.RWMutex, generalized here from
// nonce/packet-hash keys to peer-id keys.
package registry

import (
	"sync"
	"time"
)

// AnnouncementTTL is how long a peer announcement is considered live
// without being refreshed.
const AnnouncementTTL = 5 * time.Minute

// PeerAnnouncement mirrors spec §3's wire-level peer announcement.
type PeerAnnouncement struct {
	PeerID       string
	NetworkID    string
	Endpoint     string
	Capabilities []string
	Reputation   int
	JobsComplete int
	JobsRejected int
	AvgRespMs    int
	Signature    []byte
}

// DiscoveredPeer pairs an announcement with when it was last refreshed.
type DiscoveredPeer struct {
	Announcement PeerAnnouncement
	LastSeen     time.Time
}

// PeerRegistry is the `peers: map<peerId, DiscoveredPeer>` table.
type PeerRegistry struct {
	mu    sync.RWMutex
	peers map[string]DiscoveredPeer

	cleanupInterval time.Duration
	stop            chan struct{}
}

// NewPeerRegistry creates a registry with a periodic TTL sweep.
func NewPeerRegistry(cleanupInterval time.Duration) *PeerRegistry {
	r := &PeerRegistry{
		peers:           make(map[string]DiscoveredPeer),
		cleanupInterval: cleanupInterval,
		stop:            make(chan struct{}),
	}
	go r.cleanupLoop()
	return r
}

// Upsert records or refreshes a peer announcement.
func (r *PeerRegistry) Upsert(a PeerAnnouncement, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[a.PeerID] = DiscoveredPeer{Announcement: a, LastSeen: now}
}

// Get returns the discovered peer for id if present and unexpired.
func (r *PeerRegistry) Get(id string) (DiscoveredPeer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[id]
	if ok && time.Since(p.LastSeen) > AnnouncementTTL {
		return DiscoveredPeer{}, false
	}
	return p, ok
}

// List returns a snapshot of all currently known peers.
func (r *PeerRegistry) List() []DiscoveredPeer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]DiscoveredPeer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	return out
}

// Close stops the cleanup loop.
func (r *PeerRegistry) Close() {
	close(r.stop)
}

func (r *PeerRegistry) cleanupLoop() {
	ticker := time.NewTicker(r.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.sweep(time.Now())
		case <-r.stop:
			return
		}
	}
}

func (r *PeerRegistry) sweep(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, p := range r.peers {
		if now.Sub(p.LastSeen) > AnnouncementTTL {
			delete(r.peers, id)
		}
	}
}
