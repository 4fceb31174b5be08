// Package fallback implements the fallback chain executor (C9) and a
// supplemented per-provider circuit breaker consulted before trying a
// provider, layered beneath auto-throttle (which reacts only to 429s).
package fallback

import (
	"sync"
	"time"
)

// breakerState is the circuit breaker's three-state machine.
type breakerState int

const (
	closed breakerState = iota
	open
	halfOpen
)

// CircuitBreaker trips after consecutive failures and stays open for a
// cooldown period before moving to half-open, where calls are allowed through
// until the next recorded success closes it or the next failure reopens it.
// Grounded directly on the teacher's sdk.CircuitBreaker.
type CircuitBreaker struct {
	mu               sync.Mutex
	failureThreshold int
	cooldown         time.Duration

	state       breakerState
	failures    int
	lastFailure time.Time
}

func NewCircuitBreaker(failureThreshold int, cooldown time.Duration) *CircuitBreaker {
	if failureThreshold < 1 {
		failureThreshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{failureThreshold: failureThreshold, cooldown: cooldown, state: closed}
}

// Allow reports whether a call should be attempted. It transitions
// open->halfOpen once the cooldown has elapsed.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case closed:
		return true
	case open:
		if time.Since(b.lastFailure) >= b.cooldown {
			b.state = halfOpen
			return true
		}
		return false
	default: // halfOpen
		return true
	}
}

// RecordSuccess closes the breaker and resets the failure count.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = closed
	b.failures = 0
}

// RecordFailure increments the failure count; once it reaches the
// threshold (or a half-open trial fails), the breaker opens.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastFailure = time.Now()
	if b.state == halfOpen {
		b.state = open
		return
	}
	b.failures++
	if b.failures >= b.failureThreshold {
		b.state = open
	}
}

// IsOpen reports the breaker's tripped state, for diagnostics.
func (b *CircuitBreaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == open
}

// Breakers is a registry of per-provider circuit breakers.
type Breakers struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	threshold int
	cooldown  time.Duration
}

func NewBreakers(threshold int, cooldown time.Duration) *Breakers {
	return &Breakers{breakers: make(map[string]*CircuitBreaker), threshold: threshold, cooldown: cooldown}
}

func (b *Breakers) For(provider string) *CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	cb, ok := b.breakers[provider]
	if !ok {
		cb = NewCircuitBreaker(b.threshold, b.cooldown)
		b.breakers[provider] = cb
	}
	return cb
}
