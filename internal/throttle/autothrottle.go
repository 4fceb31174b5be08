// Package throttle implements the auto-throttle control loop (C8): it
// observes post-hoc 429s per provider and reduces effective RPM
// multiplicatively on a spike, restoring it gradually through stable
// periods.
package throttle

import (
	"sync"
	"time"
)

// State mirrors spec §3's Throttle State entity.
type State struct {
	OriginalRPM               int
	CurrentRPM                int
	ThrottleFactor            float64
	SpikeCount                int
	LastSpikeTime             *time.Time
	ConsecutiveStableMinutes  int
	IsThrottled               bool
	LastErrorTime             *time.Time
	LastStabilityReset        *time.Time
}

// Config controls the control loop's thresholds, all defaulted per spec
// §4.7.
type Config struct {
	SpikeWindow       time.Duration // default 60s
	SpikeThreshold    int           // default 3
	ThrottleCooldown  time.Duration // default 30s, min gap between throttle events
	ThrottleReduction float64       // default 0.20
	StableDuration    int           // default 5 (minutes)
	RestoreIncrement  float64       // default 0.10
	FloorFactor       float64       // default 0.2
}

func DefaultConfig() Config {
	return Config{
		SpikeWindow:       60 * time.Second,
		SpikeThreshold:    3,
		ThrottleCooldown:  30 * time.Second,
		ThrottleReduction: 0.20,
		StableDuration:    5,
		RestoreIncrement:  0.10,
		FloorFactor:       0.2,
	}
}

// OnSpike is an optional fire-and-forget alert hook invoked when a provider
// is newly throttled.
type OnSpike func(provider string, state State)

// Controller owns per-provider ThrottleState and the spike/restore control
// loop. No single teacher file implements this; it is built in the shape of
// the teacher's CircuitBreaker (mutex-guarded per-key state + time-windowed
// counters), adapted to the multiplicative throttle-factor model.
type Controller struct {
	cfg Config

	mu         sync.Mutex
	states     map[string]*State
	errTimes   map[string][]time.Time
	onSpike    OnSpike
}

func NewController(cfg Config, onSpike OnSpike) *Controller {
	return &Controller{
		cfg:      cfg,
		states:   make(map[string]*State),
		errTimes: make(map[string][]time.Time),
		onSpike:  onSpike,
	}
}

// Register establishes a provider's original RPM, idempotent across
// repeated calls with the same value.
func (c *Controller) Register(provider string, originalRPM int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.states[provider]; exists {
		return
	}
	c.states[provider] = &State{
		OriginalRPM:    originalRPM,
		CurrentRPM:     originalRPM,
		ThrottleFactor: 1.0,
	}
}

func (c *Controller) purgeErrorsLocked(provider string, now time.Time) {
	cutoff := now.Add(-c.cfg.SpikeWindow)
	ts := c.errTimes[provider]
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		c.errTimes[provider] = append([]time.Time{}, ts[i:]...)
	}
}

// RecordError registers a 429 observation for provider. If the count within
// SpikeWindow reaches SpikeThreshold and no throttle has fired within
// ThrottleCooldown, it reduces the throttle factor multiplicatively (floored
// at FloorFactor) and marks the provider throttled.
func (c *Controller) RecordError(provider string) State {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	st, ok := c.states[provider]
	if !ok {
		st = &State{OriginalRPM: 0, CurrentRPM: 0, ThrottleFactor: 1.0}
		c.states[provider] = st
	}
	st.LastErrorTime = &now

	c.errTimes[provider] = append(c.errTimes[provider], now)
	c.purgeErrorsLocked(provider, now)

	withinCooldown := st.LastSpikeTime != nil && now.Sub(*st.LastSpikeTime) < c.cfg.ThrottleCooldown
	if len(c.errTimes[provider]) >= c.cfg.SpikeThreshold && !withinCooldown {
		st.ThrottleFactor *= (1 - c.cfg.ThrottleReduction)
		if st.ThrottleFactor < c.cfg.FloorFactor {
			st.ThrottleFactor = c.cfg.FloorFactor
		}
		st.CurrentRPM = int(roundFloat(float64(st.OriginalRPM) * st.ThrottleFactor))
		st.IsThrottled = true
		st.SpikeCount++
		st.LastSpikeTime = &now
		st.ConsecutiveStableMinutes = 0
		st.LastStabilityReset = &now
		if c.onSpike != nil {
			stCopy := *st
			go c.onSpike(provider, stCopy)
		}
	}
	return *st
}

// CheckRestore is invoked periodically (~1/min) per provider. If the
// provider saw an error since the last stability reset, it resets the
// stable-minute counter; otherwise it increments it, and once it reaches
// StableDuration, restores RPM by RestoreIncrement (capped at 1.0 factor,
// which clears IsThrottled).
func (c *Controller) CheckRestore(provider string) State {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.states[provider]
	if !ok || !st.IsThrottled {
		if ok {
			return *st
		}
		return State{}
	}

	now := time.Now()
	hadErrorSinceReset := st.LastErrorTime != nil && st.LastStabilityReset != nil && st.LastErrorTime.After(*st.LastStabilityReset)
	if hadErrorSinceReset {
		st.ConsecutiveStableMinutes = 0
		st.LastStabilityReset = &now
		return *st
	}

	st.ConsecutiveStableMinutes++
	if st.ConsecutiveStableMinutes >= c.cfg.StableDuration {
		st.ThrottleFactor *= (1 + c.cfg.RestoreIncrement)
		if st.ThrottleFactor >= 1.0 {
			st.ThrottleFactor = 1.0
			st.IsThrottled = false
		}
		st.CurrentRPM = int(roundFloat(float64(st.OriginalRPM) * st.ThrottleFactor))
		st.ConsecutiveStableMinutes = 0
		st.LastStabilityReset = &now
	}
	return *st
}

// CurrentRPM satisfies ratelimit.ThrottleLookup: it resolves open question
// #1 by exposing the throttle-adjusted RPM directly to the combined limiter
// rather than re-registering the limiter's static config on every change.
func (c *Controller) CurrentRPM(provider string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[provider]
	if !ok {
		return 0, false
	}
	return st.CurrentRPM, true
}

// Snapshot returns a copy of a provider's current state, for inspection/
// metrics.
func (c *Controller) Snapshot(provider string) (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[provider]
	if !ok {
		return State{}, false
	}
	return *st, true
}

func roundFloat(f float64) float64 {
	if f < 0 {
		return float64(int(f - 0.5))
	}
	return float64(int(f + 0.5))
}
