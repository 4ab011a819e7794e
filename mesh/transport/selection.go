package transport

import "net"

// Method is a connection method a consumer/provider pair can use to
// exchange VM-protocol traffic, ordered from cheapest/fastest to most
// expensive.
type Method string

const (
	MethodDirect      Method = "direct"
	MethodHolePunched Method = "hole-punched"
	MethodRelay       Method = "relay"
)

// Candidate is one reachable path to a peer, scored by Method.
type Candidate struct {
	Method Method
	Addr   *net.UDPAddr
	// RelayPeerID is set only when Method == MethodRelay.
	RelayPeerID string
}

// SelectMethod picks the best candidate from a peer's known reachability
// paths, preferring direct over hole-punched over relay — grounded on
// the teacher's pkg/agent/transport/selector.go multi-transport-selection
// pattern (try transports in priority order, fall back on failure).
func SelectMethod(candidates []Candidate) (Candidate, bool) {
	best := map[Method]Candidate{}
	for _, c := range candidates {
		if _, ok := best[c.Method]; !ok {
			best[c.Method] = c
		}
	}
	for _, m := range []Method{MethodDirect, MethodHolePunched, MethodRelay} {
		if c, ok := best[m]; ok {
			return c, true
		}
	}
	return Candidate{}, false
}

// NextMethod returns the connection method to try after method fails,
// following the same priority order, or ("", false) if method was
// already the last resort.
func NextMethod(method Method) (Method, bool) {
	order := []Method{MethodDirect, MethodHolePunched, MethodRelay}
	for i, m := range order {
		if m == method && i+1 < len(order) {
			return order[i+1], true
		}
	}
	return "", false
}
