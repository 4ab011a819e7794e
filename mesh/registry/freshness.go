package registry

import (
	"sync"
	"time"
)

// MaxHops bounds how far a FreshnessQuery is allowed to propagate.
const MaxHops = 3

// QueryTimeout is how long a FreshnessQuery waits for the best
// available answer before returning whatever it has (or notFound).
const QueryTimeout = 5 * time.Second

// MaxAcceptableAge rejects responses claiming a contact older than this.
const MaxAcceptableAge = 300 * time.Second

// QueryRateLimit is the minimum spacing between freshness queries for
// the same peer.
const QueryRateLimit = 30 * time.Second

// FreshnessAnswer is one candidate response to a "who has recent"
// query.
type FreshnessAnswer struct {
	PeerID   string
	Path     ReachabilityPath
	LastSeen time.Time
}

// Responder asks the mesh transport to broadcast a bounded-hop query
// for peerID and invokes deliver for every answer it receives before
// QueryTimeout elapses. Supplied by the caller (transport layer); kept
// abstract here so FreshnessQuery has no direct transport dependency,
// mirroring the teacher's pattern of injecting a narrow collaborator
// interface rather than depending on the concrete transport type.
type Responder func(peerID string, maxHops int, deliver func(FreshnessAnswer))

// inflight tracks the single outstanding query for one peerId plus the
// waiters sharing it (spec §4.3: "concurrent queries by multiple
// callers for the same peer share one outstanding query").
type inflight struct {
	best    *FreshnessAnswer
	done    chan struct{}
	started time.Time
}

// FreshnessQuery implements whoHasRecent/iHaveRecent bounded-hop gossip
// dedup, grounded on the teacher's core/session.Manager single-owner
// map-with-mutex style (one map entry per in-flight operation, guarded
// by a single mutex, fan-out to waiters on completion).
type FreshnessQuery struct {
	mu         sync.Mutex
	inflight   map[string]*inflight
	lastQuery  map[string]time.Time
	respond    Responder
	timeout    time.Duration
}

// NewFreshnessQuery wires a FreshnessQuery to the transport-provided
// Responder, using the spec default QueryTimeout.
func NewFreshnessQuery(respond Responder) *FreshnessQuery {
	return &FreshnessQuery{
		inflight:  make(map[string]*inflight),
		lastQuery: make(map[string]time.Time),
		respond:   respond,
		timeout:   QueryTimeout,
	}
}

// NewFreshnessQueryWithTimeout is NewFreshnessQuery with an overridden
// query timeout, used by tests and by callers tuning for a smaller mesh.
func NewFreshnessQueryWithTimeout(respond Responder, timeout time.Duration) *FreshnessQuery {
	q := NewFreshnessQuery(respond)
	q.timeout = timeout
	return q
}

// WhoHasRecent resolves the freshest known contact for peerID by issuing
// a bounded-hop broadcast query, or by joining the one already in flight
// for peerID. Within QueryRateLimit of the last query for peerID, with
// none in flight, it returns (zero, false) without querying. Returns
// (answer, true) or (zero, false) if no fresh-enough answer arrived
// within the query timeout.
func (q *FreshnessQuery) WhoHasRecent(peerID string, now time.Time) (FreshnessAnswer, bool) {
	q.mu.Lock()
	if last, ok := q.lastQuery[peerID]; ok && now.Sub(last) < QueryRateLimit {
		if inf, ok := q.inflight[peerID]; ok {
			q.mu.Unlock()
			return q.await(inf)
		}
		q.mu.Unlock()
		return FreshnessAnswer{}, false
	}
	if inf, ok := q.inflight[peerID]; ok {
		q.mu.Unlock()
		return q.await(inf)
	}

	inf := &inflight{done: make(chan struct{}), started: now}
	q.inflight[peerID] = inf
	q.lastQuery[peerID] = now
	q.mu.Unlock()

	go q.run(peerID, inf, now)

	return q.await(inf)
}

func (q *FreshnessQuery) run(peerID string, inf *inflight, now time.Time) {
	defer func() {
		q.mu.Lock()
		delete(q.inflight, peerID)
		q.mu.Unlock()
		close(inf.done)
	}()

	if q.respond == nil {
		return
	}

	timer := time.NewTimer(q.timeout)
	defer timer.Stop()

	answers := make(chan FreshnessAnswer, 16)
	go q.respond(peerID, MaxHops, func(a FreshnessAnswer) {
		select {
		case answers <- a:
		default:
		}
	})

	for {
		select {
		case a := <-answers:
			age := now.Sub(a.LastSeen)
			if age < 0 {
				age = 0
			}
			if age > MaxAcceptableAge {
				continue
			}
			q.mu.Lock()
			if inf.best == nil || a.LastSeen.After(inf.best.LastSeen) {
				best := a
				inf.best = &best
			}
			q.mu.Unlock()
		case <-timer.C:
			return
		}
	}
}

func (q *FreshnessQuery) await(inf *inflight) (FreshnessAnswer, bool) {
	<-inf.done
	q.mu.Lock()
	defer q.mu.Unlock()
	if inf.best == nil {
		return FreshnessAnswer{}, false
	}
	return *inf.best, true
}

// PathFailureReporter records local path failures and invalidates any
// cached contact using that exact path (spec §4.3: "must never
// fabricate success").
type PathFailureReporter struct {
	mu       sync.Mutex
	failures map[string][]ReachabilityPath
	tracker  *RecentContactTracker
}

// NewPathFailureReporter binds a reporter to the tracker it invalidates.
func NewPathFailureReporter(tracker *RecentContactTracker) *PathFailureReporter {
	return &PathFailureReporter{
		failures: make(map[string][]ReachabilityPath),
		tracker:  tracker,
	}
}

// ReportFailure records that path failed to reach peerID and removes
// any cached contact entry using that exact path.
func (r *PathFailureReporter) ReportFailure(peerID string, path ReachabilityPath) {
	r.mu.Lock()
	r.failures[peerID] = append(r.failures[peerID], path)
	r.mu.Unlock()

	if r.tracker != nil {
		r.tracker.RemoveContactsUsingPath(path)
	}
}

// Failures returns the recorded failure paths for peerID.
func (r *PathFailureReporter) Failures(peerID string) []ReachabilityPath {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ReachabilityPath, len(r.failures[peerID]))
	copy(out, r.failures[peerID])
	return out
}
