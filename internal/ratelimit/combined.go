package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fenwick-io/llmgateway/internal/gatewayerr"
)

// Mode reports which execution path a CombinedLimiter is running, per
// spec §9's requirement to expose this via a status accessor.
type Mode string

const (
	ModeAtomic   Mode = "atomic"
	ModeFallback Mode = "fallback"
)

// Config is one provider's rate-limit configuration (spec §3 Rate-Limit
// Provider Config).
type Config struct {
	RPM        int
	TPM        int // advisory; not enforced here
	Burst      int
	WindowSize time.Duration
}

// ThrottleLookup resolves open question #1 (auto-throttle <-> limiter
// coupling): rather than re-registering the limiter's configured rpm when
// auto-throttle changes current_rpm, the limiter consults this function on
// every admission. A nil lookup (or one returning 0) means "use the
// registered rpm unmodified".
type ThrottleLookup func(provider string) (currentRPM int, ok bool)

// CombinedLimiter composes a token bucket (C4) and sliding window (C5) per
// provider (C6). It registers providers from configuration and serves both
// the atomic (shared-store) and in-memory fallback execution paths behind
// one interface.
type CombinedLimiter struct {
	mode Mode

	mu      sync.RWMutex
	configs map[string]Config
	buckets *MultiProviderBuckets
	window  SlidingWindow

	throttleLookup ThrottleLookup

	// fallbackWaitCap bounds how long Acquire will wait for sliding-window
	// capacity on the fallback path before raising RateLimit (default 30s
	// per spec §4.5).
	fallbackWaitCap time.Duration
}

// NewCombinedLimiter builds a limiter. Pass a RedisSlidingWindow for the
// atomic path, or an InMemorySlidingWindow for the fallback path; the mode
// is inferred from the concrete type.
func NewCombinedLimiter(window SlidingWindow) *CombinedLimiter {
	mode := ModeFallback
	if _, ok := window.(*RedisSlidingWindow); ok {
		mode = ModeAtomic
	}
	return &CombinedLimiter{
		mode:            mode,
		configs:         make(map[string]Config),
		buckets:         NewMultiProviderBuckets(),
		window:          window,
		fallbackWaitCap: 30 * time.Second,
	}
}

// Mode reports whether the limiter is running the atomic or fallback path.
func (l *CombinedLimiter) Mode() Mode { return l.mode }

// SetThrottleLookup wires the auto-throttle controller's current_rpm lookup
// into the admission path (open question #1, resolution (a)).
func (l *CombinedLimiter) SetThrottleLookup(fn ThrottleLookup) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.throttleLookup = fn
}

// RegisterProvider registers (or idempotently re-registers, if config is
// identical, with no change in observable limits) a provider's rate limit
// configuration. Must be called before Acquire.
func (l *CombinedLimiter) RegisterProvider(name string, cfg Config) {
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 60 * time.Second
	}
	l.mu.Lock()
	l.configs[name] = cfg
	l.mu.Unlock()
	l.buckets.Register(name, cfg.Burst, cfg.RPM, cfg.WindowSize)
}

func (l *CombinedLimiter) effectiveRPM(name string, cfg Config) int {
	l.mu.RLock()
	lookup := l.throttleLookup
	l.mu.RUnlock()
	if lookup != nil {
		if rpm, ok := lookup(name); ok && rpm > 0 {
			return rpm
		}
	}
	return cfg.RPM
}

// Acquire performs the combined rate-limit check for one request against
// provider, blocking per C4/C5 semantics until admitted or until the
// applicable limits are exceeded, in which case it returns a RateLimit
// error.
func (l *CombinedLimiter) Acquire(ctx context.Context, provider string) error {
	l.mu.RLock()
	cfg, ok := l.configs[provider]
	l.mu.RUnlock()
	if !ok {
		return fmt.Errorf("ratelimit: provider %q not registered", provider)
	}
	rpm := l.effectiveRPM(provider, cfg)

	switch l.mode {
	case ModeAtomic:
		admitted, err := l.window.Admit(ctx, provider, rpm, cfg.WindowSize)
		if err != nil {
			return err
		}
		if !admitted {
			return &gatewayerr.RateLimit{Provider: provider}
		}
		bucket := l.buckets.Get(provider)
		bucket.SetRefillRate(rpm)
		return bucket.Acquire(ctx, provider)

	default: // ModeFallback
		mem, _ := l.window.(*InMemorySlidingWindow)
		deadline := time.Now().Add(l.fallbackWaitCap)
		for {
			if mem.Check(provider, rpm, cfg.WindowSize) {
				break
			}
			if time.Now().After(deadline) {
				return &gatewayerr.RateLimit{Provider: provider}
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(100 * time.Millisecond):
			}
		}
		bucket := l.buckets.Get(provider)
		bucket.SetRefillRate(rpm)
		if err := bucket.Acquire(ctx, provider); err != nil {
			return err
		}
		mem.Add(provider)
		return nil
	}
}

// Status returns occupancy/capacity gauges for a provider, used by the
// observability adapter (C18).
func (l *CombinedLimiter) Status(ctx context.Context, provider string) (occupancy int, capacity int, tokensAvailable float64, err error) {
	l.mu.RLock()
	cfg, ok := l.configs[provider]
	l.mu.RUnlock()
	if !ok {
		return 0, 0, 0, fmt.Errorf("ratelimit: provider %q not registered", provider)
	}
	occ, err := l.window.Count(ctx, provider, cfg.WindowSize)
	if err != nil {
		return 0, 0, 0, err
	}
	bucket := l.buckets.Get(provider)
	return occ, cfg.Burst, bucket.Available(), nil
}
