package registry

import (
	"container/list"
	"sync"
	"time"
)

// MaxRecentContacts bounds the RecentContactTracker LRU (spec §4.3).
const MaxRecentContacts = 500

// RecentContactTTL is the TTL after which a contact is pruned.
const RecentContactTTL = 5 * time.Minute

// PathKind distinguishes how a peer was last reached.
type PathKind string

const (
	PathDirect PathKind = "direct"
	PathRelay  PathKind = "relay"
)

// ReachabilityPath is compared structurally per spec §4.3 invariant (i):
// two direct paths are equal regardless of relay fields; two relay
// paths are equal only if RelayPeerID matches.
type ReachabilityPath struct {
	Kind        PathKind
	RelayPeerID string
}

// Equal reports structural equality.
func (p ReachabilityPath) Equal(o ReachabilityPath) bool {
	if p.Kind != o.Kind {
		return false
	}
	if p.Kind == PathRelay {
		return p.RelayPeerID == o.RelayPeerID
	}
	return true
}

type contactEntry struct {
	peerID    string
	path      ReachabilityPath
	lastSeen  time.Time
	listElem  *list.Element
}

// RecentContactTracker is a bounded LRU + TTL cache of the last-known
// reachability path per peer, grounded on the teacher's nonce/dedupe
// TTL-map shape but additionally capped at MaxRecentContacts entries
// with LRU eviction.
type RecentContactTracker struct {
	mu       sync.Mutex
	entries  map[string]*contactEntry
	order    *list.List // front = most recently touched
	maxSize  int
	ttl      time.Duration
	stop     chan struct{}
}

// NewRecentContactTracker creates a tracker with the spec's default
// bound (500 entries, 5 minute TTL) and starts a periodic prune.
func NewRecentContactTracker() *RecentContactTracker {
	t := &RecentContactTracker{
		entries: make(map[string]*contactEntry),
		order:   list.New(),
		maxSize: MaxRecentContacts,
		ttl:     RecentContactTTL,
		stop:    make(chan struct{}),
	}
	go t.pruneLoop()
	return t
}

// RecordContact inserts or replaces the contact for peerID, evicting the
// least-recently-touched entry if the tracker is at capacity.
func (t *RecentContactTracker) RecordContact(peerID string, path ReachabilityPath, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.entries[peerID]; ok {
		e.path = path
		e.lastSeen = now
		t.order.MoveToFront(e.listElem)
		return
	}

	if len(t.entries) >= t.maxSize {
		t.evictOldestLocked()
	}

	e := &contactEntry{peerID: peerID, path: path, lastSeen: now}
	e.listElem = t.order.PushFront(e)
	t.entries[peerID] = e
}

// Touch refreshes the lastSeen timestamp for an existing contact. It
// never creates a new contact (spec §4.3 invariant ii).
func (t *RecentContactTracker) Touch(peerID string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[peerID]
	if !ok {
		return false
	}
	e.lastSeen = now
	t.order.MoveToFront(e.listElem)
	return true
}

// GetContact returns the path and lastSeen for peerID if present and
// unexpired relative to now.
func (t *RecentContactTracker) GetContact(peerID string, now time.Time) (ReachabilityPath, time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[peerID]
	if !ok || now.Sub(e.lastSeen) > t.ttl {
		return ReachabilityPath{}, time.Time{}, false
	}
	return e.path, e.lastSeen, true
}

// RemoveContactsUsingPath removes every tracked contact whose current
// path structurally equals path (spec §4.3 invariant iii: a pathFailed
// event removes any contact using that exact path).
func (t *RecentContactTracker) RemoveContactsUsingPath(path ReachabilityPath) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for id, e := range t.entries {
		if e.path.Equal(path) {
			t.order.Remove(e.listElem)
			delete(t.entries, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked contacts.
func (t *RecentContactTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Close stops the periodic prune loop.
func (t *RecentContactTracker) Close() {
	close(t.stop)
}

func (t *RecentContactTracker) evictOldestLocked() {
	back := t.order.Back()
	if back == nil {
		return
	}
	e := back.Value.(*contactEntry)
	t.order.Remove(back)
	delete(t.entries, e.peerID)
}

func (t *RecentContactTracker) pruneLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.prune(time.Now())
		case <-t.stop:
			return
		}
	}
}

func (t *RecentContactTracker) prune(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, e := range t.entries {
		if now.Sub(e.lastSeen) > t.ttl {
			t.order.Remove(e.listElem)
			delete(t.entries, id)
		}
	}
}
