// Package transport implements Omerta's UDP mesh transport (spec §4.2):
// a single UDP socket multiplexed into named logical channels, STUN-based
// NAT classification, and a direct → hole-punched → relay connection
// selection policy.
//
// Grounded on the teacher's pkg/agent/transport.MessageTransport
// abstraction (transport-agnostic Send/connect/selector pattern),
// generalized from a request/response RPC transport to a connectionless
// multiplexed UDP channel model, since Omerta's wire transport is raw
// UDP rather than gRPC/HTTP/WebSocket.
package transport

import (
	"encoding/json"
	"net"
	"sync"
	"time"

	omertaerrors "github.com/omerta-project/omerta/internal/errors"
	"github.com/omerta-project/omerta/internal/logger"
)

// ChannelMessage wraps an inner payload with the logical channel name it
// is addressed to (spec §6's VM protocol channel names: vm-request,
// vm-response-<peerId>, vm-ack, vm-release, vm-heartbeat, vm-shutdown,
// tunnel-data).
type ChannelMessage struct {
	Channel string          `json:"channel"`
	Body    json.RawMessage `json:"body"`
}

// Handler processes an inbound message on a channel, identified by the
// sender's resolved address (useful for hole-punch/relay bookkeeping).
type Handler func(from *net.UDPAddr, body json.RawMessage)

// Stats mirrors the "statistics" operation of the teacher's transport
// selector: basic counters a caller can poll or export as metrics.
type Stats struct {
	PacketsSent     uint64
	PacketsReceived uint64
	BytesSent       uint64
	BytesReceived   uint64
	DecodeErrors    uint64
}

// Transport owns exactly one UDP socket (spec §5: "only the mesh
// transport writes" to it) and dispatches inbound datagrams to
// channel-registered handlers.
type Transport struct {
	conn *net.UDPConn
	log  logger.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
	peers    map[string]*net.UDPAddr // peerId -> last known address
	stats    Stats

	closeOnce sync.Once
	done      chan struct{}
}

// Listen opens a UDP socket on addr (e.g. ":9420") and starts the
// read loop. Callers register channel handlers with OnChannel on the
// returned Transport; handlers registered later still receive subsequent
// packets.
func Listen(addr string) (*Transport, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, omertaerrors.New("TRANSPORT_BIND_FAILED", "resolve listen address", err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, omertaerrors.New("TRANSPORT_BIND_FAILED", "bind udp socket", err)
	}
	t := &Transport{
		conn:     conn,
		log:      logger.GetDefaultLogger().WithFields(logger.String("component", "mesh-transport")),
		handlers: make(map[string]Handler),
		peers:    make(map[string]*net.UDPAddr),
		done:     make(chan struct{}),
	}
	go t.readLoop()
	return t, nil
}

// LocalAddr returns the bound local UDP address.
func (t *Transport) LocalAddr() *net.UDPAddr {
	return t.conn.LocalAddr().(*net.UDPAddr)
}

// OnChannel registers h to receive every message addressed to channel.
// Only one handler per channel; re-registering replaces it.
func (t *Transport) OnChannel(channel string, h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[channel] = h
}

// RememberPeer records the last known address for peerId, used by
// KnownPeers, Broadcast, and as the destination for SendToPeer.
func (t *Transport) RememberPeer(peerID string, addr *net.UDPAddr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peers[peerID] = addr
}

// KnownPeers returns the peer ids this transport currently has an
// address on file for.
func (t *Transport) KnownPeers() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.peers))
	for id := range t.peers {
		out = append(out, id)
	}
	return out
}

// Statistics returns a snapshot of packet/byte counters.
func (t *Transport) Statistics() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.stats
}

// SendOnChannel wraps body in a ChannelMessage for channel and writes it
// to addr as a single UDP datagram.
func (t *Transport) SendOnChannel(addr *net.UDPAddr, channel string, body []byte) error {
	msg := ChannelMessage{Channel: channel, Body: body}
	raw, err := json.Marshal(msg)
	if err != nil {
		return omertaerrors.InvalidEnvelope("marshal channel message", err)
	}
	n, err := t.conn.WriteToUDP(raw, addr)
	if err != nil {
		return omertaerrors.NoRoute(addr.String())
	}
	t.mu.Lock()
	t.stats.PacketsSent++
	t.stats.BytesSent += uint64(n)
	t.mu.Unlock()
	return nil
}

// SendToPeer looks up peerId's last known address and sends on channel.
func (t *Transport) SendToPeer(peerID, channel string, body []byte) error {
	t.mu.RLock()
	addr, ok := t.peers[peerID]
	t.mu.RUnlock()
	if !ok {
		return omertaerrors.NoRoute(peerID)
	}
	return t.SendOnChannel(addr, channel, body)
}

// Broadcast sends body on channel to every known peer.
func (t *Transport) Broadcast(channel string, body []byte) {
	t.mu.RLock()
	addrs := make([]*net.UDPAddr, 0, len(t.peers))
	for _, a := range t.peers {
		addrs = append(addrs, a)
	}
	t.mu.RUnlock()
	for _, a := range addrs {
		_ = t.SendOnChannel(a, channel, body)
	}
}

// Close stops the read loop and releases the socket.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		err = t.conn.Close()
	})
	return err
}

func (t *Transport) readLoop() {
	buf := make([]byte, 65536)
	for {
		n, addr, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-t.done:
				return
			default:
				t.log.Debug("read error", logger.Error(err))
				continue
			}
		}
		t.mu.Lock()
		t.stats.PacketsReceived++
		t.stats.BytesReceived += uint64(n)
		t.mu.Unlock()

		var msg ChannelMessage
		if err := json.Unmarshal(buf[:n], &msg); err != nil {
			t.mu.Lock()
			t.stats.DecodeErrors++
			t.mu.Unlock()
			t.log.Debug("decode error, dropping datagram", logger.Error(err))
			continue
		}

		t.mu.RLock()
		h, ok := t.handlers[msg.Channel]
		t.mu.RUnlock()
		if !ok {
			t.log.Debug("no handler for channel, dropping", logger.String("channel", msg.Channel))
			continue
		}
		go h(addr, msg.Body)
	}
}

// DialTimeout is how long a direct-connect attempt waits before falling
// back to the next connection method in the selection policy.
const DialTimeout = 3 * time.Second
