// Package ratelimit implements the per-provider token bucket (C4) and
// sliding window (C5), composed by the combined limiter (C6).
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/fenwick-io/llmgateway/internal/gatewayerr"
)

// TokenBucket is a single continuous-refill bucket: capacity = burst,
// refill rate = rpm/60 tokens/sec, computed from wall-clock elapsed time
// rather than a ticking scheduler.
type TokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	tokens     float64
	refillRate float64 // tokens/sec
	lastRefill time.Time
	windowSize time.Duration
}

// NewTokenBucket builds a full bucket with the given burst capacity and RPM.
func NewTokenBucket(burst int, rpm int, windowSize time.Duration) *TokenBucket {
	cap := float64(burst)
	if cap < 1 {
		cap = 1
	}
	return &TokenBucket{
		capacity:   cap,
		tokens:     cap,
		refillRate: float64(rpm) / 60.0,
		lastRefill: time.Now(),
		windowSize: windowSize,
	}
}

func (b *TokenBucket) refillLocked(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
}

// Acquire blocks until a token is available, waiting out the computed refill
// delay against ctx so a cancelled/timed-out request doesn't hold its gate
// slot for the full wait (spec §5: bucket refill waits are a suspension
// point that must be cancellable). If the required wait exceeds the
// configured window size, it returns a RateLimit error instead of waiting,
// per spec §4.3.
func (b *TokenBucket) Acquire(ctx context.Context, provider string) error {
	for {
		b.mu.Lock()
		now := time.Now()
		b.refillLocked(now)
		if b.tokens >= 1 {
			b.tokens--
			b.mu.Unlock()
			return nil
		}
		wait := (1 - b.tokens) / b.refillRate
		waitDur := time.Duration(wait * float64(time.Second))
		if waitDur > b.windowSize {
			b.mu.Unlock()
			return &gatewayerr.RateLimit{Provider: provider}
		}
		b.mu.Unlock()

		timer := time.NewTimer(waitDur)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Reset restores the bucket to full capacity.
func (b *TokenBucket) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens = b.capacity
	b.lastRefill = time.Now()
}

// SetRefillRate adjusts the refill rate (tokens/sec) without losing current
// token state; used by auto-throttle (C8) when it lowers a provider's
// effective RPM.
func (b *TokenBucket) SetRefillRate(rpm int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillRate = float64(rpm) / 60.0
}

// Available returns the current (post-refill) token count, for gauges.
func (b *TokenBucket) Available() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(time.Now())
	return b.tokens
}

// MultiProviderBuckets maps provider name -> TokenBucket, generalizing the
// teacher's tenant-keyed multi-tenant limiter onto provider keys.
type MultiProviderBuckets struct {
	mu      sync.RWMutex
	buckets map[string]*TokenBucket
}

func NewMultiProviderBuckets() *MultiProviderBuckets {
	return &MultiProviderBuckets{buckets: make(map[string]*TokenBucket)}
}

// Register creates (or idempotently replaces, with identical config, the
// same observable limits for) a provider's bucket.
func (m *MultiProviderBuckets) Register(provider string, burst, rpm int, windowSize time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buckets[provider] = NewTokenBucket(burst, rpm, windowSize)
}

// Get returns the bucket for a provider, or nil if unregistered.
func (m *MultiProviderBuckets) Get(provider string) *TokenBucket {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.buckets[provider]
}
