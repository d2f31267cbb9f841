// Package cooldown gates repeated alerts for the same dedup key behind
// a per-kind TTL so a flapping anomaly does not spam the notifier.
package cooldown

import (
	"sync"
	"time"

	"github.com/sawpanic/marketsentry/internal/model"
)

// Gate tracks the last-emitted time per dedup key and suppresses
// repeats within each kind's TTL.
type Gate struct {
	ttl map[model.AlertKind]time.Duration

	mu       sync.Mutex
	lastSeen map[string]time.Time
}

// New creates a Gate with the given per-kind TTLs.
func New(volatility, basis, crossExchange time.Duration) *Gate {
	return &Gate{
		ttl: map[model.AlertKind]time.Duration{
			model.AlertVolatility:    volatility,
			model.AlertBasis:         basis,
			model.AlertCrossExchange: crossExchange,
		},
		lastSeen: make(map[string]time.Time),
	}
}

// Filter takes a batch of freshly-detected alerts and returns only those
// not currently within their dedup key's cooldown window. A single
// "now" is read once for the whole batch so alerts emitted in the same
// scan pass are judged against a consistent clock.
func (g *Gate) Filter(alerts []model.Alert) []model.Alert {
	now := time.Now()
	g.mu.Lock()
	defer g.mu.Unlock()

	var out []model.Alert
	for _, a := range alerts {
		ttl, ok := g.ttl[a.Kind]
		if !ok {
			ttl = 5 * time.Minute
		}
		last, seen := g.lastSeen[a.DedupKey]
		if seen && now.Sub(last) < ttl {
			continue
		}
		g.lastSeen[a.DedupKey] = now
		out = append(out, a)
	}
	return out
}

// Purge drops dedup-key entries older than the longest configured TTL,
// bounding the map's growth across long-running processes.
func (g *Gate) Purge() {
	var maxTTL time.Duration
	for _, ttl := range g.ttl {
		if ttl > maxTTL {
			maxTTL = ttl
		}
	}
	now := time.Now()
	g.mu.Lock()
	defer g.mu.Unlock()
	for k, last := range g.lastSeen {
		if now.Sub(last) > maxTTL {
			delete(g.lastSeen, k)
		}
	}
}
