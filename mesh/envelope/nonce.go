package envelope

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"
)

// NonceManager prevents replay of gossip query ids and request ids
// within a TTL window. Grounded directly on the teacher's
// core/message/nonce.Manager (pkg/agent/core/message/nonce/manager.go):
// same TTL-map + periodic cleanup goroutine shape, reused here for
// Omerta's bounded-hop gossip query dedup (spec §4.3) rather than
// RFC-9421 HTTP message nonces.
type NonceManager struct {
	ttl             time.Duration
	mu              sync.RWMutex
	used            map[string]time.Time
	cleanupInterval time.Duration
	stop            chan struct{}
}

// NewNonceManager creates a tracker with the given TTL and periodic
// cleanup interval.
func NewNonceManager(ttl, cleanupInterval time.Duration) *NonceManager {
	m := &NonceManager{
		ttl:             ttl,
		used:            make(map[string]time.Time),
		cleanupInterval: cleanupInterval,
		stop:            make(chan struct{}),
	}
	go m.cleanupLoop()
	return m
}

// GenerateNonce returns a cryptographically secure 128-bit random value,
// Base64URL-encoded without padding.
func GenerateNonce() (string, error) {
	const size = 16
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("envelope: generate nonce: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// IsUsed reports whether nonce was already marked used within the TTL
// window, lazily evicting it if the window has elapsed.
func (m *NonceManager) IsUsed(nonce string) bool {
	m.mu.RLock()
	ts, exists := m.used[nonce]
	m.mu.RUnlock()
	if !exists {
		return false
	}
	if time.Since(ts) > m.ttl {
		m.mu.Lock()
		delete(m.used, nonce)
		m.mu.Unlock()
		return false
	}
	return true
}

// MarkUsed records nonce as seen at the current time.
func (m *NonceManager) MarkUsed(nonce string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.used[nonce] = time.Now()
}

// Count returns the number of nonces currently tracked.
func (m *NonceManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.used)
}

// Close stops the background cleanup goroutine.
func (m *NonceManager) Close() {
	close(m.stop)
}

func (m *NonceManager) cleanupLoop() {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.performCleanup()
		case <-m.stop:
			return
		}
	}
}

func (m *NonceManager) performCleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for nonce, ts := range m.used {
		if now.Sub(ts) > m.ttl {
			delete(m.used, nonce)
		}
	}
}
