package messaging

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultDedupWindow is how long a message fingerprint suppresses redeliveries.
const DefaultDedupWindow = 20 * time.Second

// DedupGate suppresses transport redeliveries of the same inbound message.
// It keeps an in-memory map of message fingerprints for a short window; the
// guarantee is best effort and per process.
type DedupGate struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[string]time.Time
	now    func() time.Time
}

// DedupOption configures a DedupGate.
type DedupOption func(*DedupGate)

// WithDedupWindow overrides the suppression window.
func WithDedupWindow(d time.Duration) DedupOption {
	return func(g *DedupGate) { g.window = d }
}

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) DedupOption {
	return func(g *DedupGate) { g.now = now }
}

// NewDedupGate creates a dedup gate with the default 20 second window.
func NewDedupGate(opts ...DedupOption) *DedupGate {
	g := &DedupGate{
		window: DefaultDedupWindow,
		seen:   make(map[string]time.Time),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// IsDuplicate reports whether this exact message (sender, body, timestamp)
// was already seen inside the window. A first sighting is recorded and
// returns false. Expired fingerprints are swept on every call.
func (g *DedupGate) IsDuplicate(waID, body string, timestamp int64) bool {
	key := fingerprint(waID, body, timestamp)
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	for k, t := range g.seen {
		if now.Sub(t) > g.window {
			delete(g.seen, k)
		}
	}

	if t, ok := g.seen[key]; ok && now.Sub(t) <= g.window {
		slog.Debug("DedupGate.IsDuplicate: suppressing duplicate message", "waID", waID)
		return true
	}
	g.seen[key] = now
	return false
}

// fingerprint hashes the identifying triple of an inbound message.
func fingerprint(waID, body string, timestamp int64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s_%s_%d", waID, body, timestamp)))
	return hex.EncodeToString(sum[:])
}
