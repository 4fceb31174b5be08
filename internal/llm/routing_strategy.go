package llm

import (
	"sync"
	"sync/atomic"
)

// SelectionStrategy is an alternative to the cost-optimizer's
// complexity-based routing (C11), for deployments that disable it: weighted
// (a deterministic rotation that picks each provider in proportion to its
// weight), round-robin, or health-aware failover selection among a fixed pool
// of provider names.
type SelectionStrategy int

const (
	StrategyWeighted SelectionStrategy = iota
	StrategyRoundRobin
	StrategyFailover
)

// WeightedProvider pairs a provider name with a relative selection weight.
type WeightedProvider struct {
	Name   string
	Weight int
}

// ProviderSelector picks a provider name from a configured pool according to
// a SelectionStrategy. It is independent of the cost optimizer and can be
// used in its place when complexity-based routing is disabled.
type ProviderSelector struct {
	mu       sync.Mutex
	strategy SelectionStrategy
	weighted []WeightedProvider
	rrIndex  uint64
	healthy  map[string]bool
}

// NewProviderSelector builds a selector over the given weighted pool.
func NewProviderSelector(strategy SelectionStrategy, pool []WeightedProvider) *ProviderSelector {
	healthy := make(map[string]bool, len(pool))
	for _, p := range pool {
		healthy[p.Name] = true
	}
	return &ProviderSelector{strategy: strategy, weighted: pool, healthy: healthy}
}

// MarkHealth updates a provider's health flag for failover strategy
// purposes.
func (s *ProviderSelector) MarkHealth(name string, healthy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthy[name] = healthy
}

// Select returns the next provider name per the configured strategy. Returns
// "" if the pool is empty or (failover) no provider is healthy.
func (s *ProviderSelector) Select() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.weighted) == 0 {
		return ""
	}
	switch s.strategy {
	case StrategyRoundRobin:
		idx := atomic.AddUint64(&s.rrIndex, 1) - 1
		return s.weighted[int(idx)%len(s.weighted)].Name
	case StrategyFailover:
		for _, p := range s.weighted {
			if s.healthy[p.Name] {
				return p.Name
			}
		}
		return ""
	default: // StrategyWeighted
		total := 0
		for _, p := range s.weighted {
			total += p.Weight
		}
		if total <= 0 {
			return s.weighted[0].Name
		}
		target := int(atomic.AddUint64(&s.rrIndex, 1)-1) % total
		cum := 0
		for _, p := range s.weighted {
			cum += p.Weight
			if target < cum {
				return p.Name
			}
		}
		return s.weighted[len(s.weighted)-1].Name
	}
}
