// Package breaker wraps sony/gobreaker with the per-venue defaults this
// pipeline needs: trip after a run of consecutive failures, half-open
// after a cooldown, one probe request before fully closing again.
package breaker

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// Registry hands out one circuit breaker per venue, created lazily on
// first use with shared settings.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	settings func(venue string) gobreaker.Settings
}

// NewRegistry creates a Registry. Breakers trip after maxConsecutiveFails
// failures in a row and stay open for openFor before probing again.
func NewRegistry(maxConsecutiveFails uint32, openFor time.Duration) *Registry {
	return &Registry{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		settings: func(venue string) gobreaker.Settings {
			return gobreaker.Settings{
				Name:        venue,
				MaxRequests: 1,
				Interval:    0,
				Timeout:     openFor,
				ReadyToTrip: func(counts gobreaker.Counts) bool {
					return counts.ConsecutiveFailures >= maxConsecutiveFails
				},
			}
		},
	}
}

// For returns the breaker for venue, creating it on first call.
func (r *Registry) For(venue string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[venue]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker(r.settings(venue))
	r.breakers[venue] = b
	return b
}

// Execute runs fn through venue's breaker, translating gobreaker's
// ErrOpenState/ErrTooManyRequests into the caller's error directly.
func (r *Registry) Execute(venue string, fn func() (any, error)) (any, error) {
	return r.For(venue).Execute(fn)
}

// State reports the current breaker state for venue without tripping it.
func (r *Registry) State(venue string) gobreaker.State {
	return r.For(venue).State()
}
