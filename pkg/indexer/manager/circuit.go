// Package manager holds the per-indexer circuit breaker the indexer
// aggregator consults before each search fan-out.
package manager

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	gocache "github.com/patrickmn/go-cache"
)

// CircuitBreaker tracks per-indexer-name cooldowns: every recorded failure
// opens or extends one, and the cooldown grows while failures continue, so
// an aggregated search doesn't keep hammering a dead
// upstream on every request (§4.2, §5 "circuit-breaker deadline").
type CircuitBreaker struct {
	cooldowns *gocache.Cache
	mu        sync.Mutex
	backoffs  map[string]backoff.BackOff
}

// NewCircuitBreaker builds a CircuitBreaker ready to track any indexer name
// handed to it; the aggregator holds one instance for its lifetime.
func NewCircuitBreaker() *CircuitBreaker {
	return &CircuitBreaker{
		cooldowns: gocache.New(gocache.NoExpiration, time.Minute),
		backoffs:  make(map[string]backoff.BackOff),
	}
}

// Unavailable reports whether name is currently in its cooldown window.
func (b *CircuitBreaker) Unavailable(name string) bool {
	_, found := b.cooldowns.Get(name)
	return found
}

// RecordSuccess clears any cooldown and resets the backoff schedule.
func (b *CircuitBreaker) RecordSuccess(name string) {
	b.cooldowns.Delete(name)
	b.mu.Lock()
	delete(b.backoffs, name)
	b.mu.Unlock()
}

// RecordFailure opens (or extends) the cooldown window for name, advancing
// along an exponential schedule capped at 15 minutes.
func (b *CircuitBreaker) RecordFailure(name string) {
	b.mu.Lock()
	bo, ok := b.backoffs[name]
	if !ok {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = 10 * time.Second
		eb.Multiplier = 2
		eb.MaxInterval = 15 * time.Minute
		eb.MaxElapsedTime = 0
		bo = eb
		b.backoffs[name] = bo
	}
	next := bo.NextBackOff()
	b.mu.Unlock()

	if next == backoff.Stop {
		next = 15 * time.Minute
	}
	b.cooldowns.Set(name, struct{}{}, next)
}
