package fallback

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/fenwick-io/llmgateway/internal/gatewayerr"
	"github.com/fenwick-io/llmgateway/internal/llm"
)

// Stats tracks fallback-executor outcomes across all requests, per spec
// §4.8.
type Stats struct {
	TotalCalls        int64
	FallbackTriggered int64
	FallbackSuccess   int64
	AllFailed         int64
}

// Snapshot returns a point-in-time copy of the counters.
func (s *Stats) Snapshot() Stats {
	return Stats{
		TotalCalls:        atomic.LoadInt64(&s.TotalCalls),
		FallbackTriggered: atomic.LoadInt64(&s.FallbackTriggered),
		FallbackSuccess:   atomic.LoadInt64(&s.FallbackSuccess),
		AllFailed:         atomic.LoadInt64(&s.AllFailed),
	}
}

// CallFunc invokes a single provider; wraps whatever gate/limiter/retry
// pipeline the orchestrator has already composed around the adapter call.
type CallFunc func(ctx context.Context, provider llm.Provider, req llm.CompletionRequest) (llm.CompletionResponse, error)

// Executor resolves a per-agent provider chain and iterates it on
// retryable failure, per spec §4.8.
type Executor struct {
	registry *llm.Registry
	breakers *Breakers
	chains   map[string][]string // agent_id -> ordered provider names

	mu    sync.RWMutex
	stats Stats
}

// NewExecutor builds a fallback executor over a provider registry and
// optional per-agent chain overrides.
func NewExecutor(registry *llm.Registry, breakers *Breakers, chains map[string][]string) *Executor {
	return &Executor{registry: registry, breakers: breakers, chains: chains}
}

// ResolveChain returns the ordered provider names for an agent: its custom
// chain intersected with what's currently registered, or (if unmapped) all
// registered providers in registration order.
func (e *Executor) ResolveChain(agentID string) []string {
	e.mu.RLock()
	custom, hasCustom := e.chains[agentID]
	e.mu.RUnlock()

	if !hasCustom {
		return e.registry.Names()
	}
	out := make([]string, 0, len(custom))
	for _, name := range custom {
		if e.registry.Has(name) {
			out = append(out, name)
		}
	}
	return out
}

// ExecuteWithFallback iterates the resolved chain for agentID, invoking call
// for each provider until one succeeds. Non-retryable adapter errors are
// also treated as chain-continue (logged elsewhere by the caller) per spec
// §4.8's "also continue but log at error" rule; only the caller decides
// whether to log, this executor simply does not special-case them.
func (e *Executor) ExecuteWithFallback(ctx context.Context, agentID string, req llm.CompletionRequest, call CallFunc) (llm.CompletionResponse, bool, error) {
	return e.ExecuteWithPreferred(ctx, agentID, "", req, call)
}

// ExecuteWithPreferred behaves like ExecuteWithFallback but moves preferred
// to the front of the resolved chain when it's present in it, so an upstream
// selection (e.g. the cost optimizer's C11 complexity/budget pick) actually
// drives which provider is tried first instead of the router chain silently
// overriding it. preferred == "" is equivalent to ExecuteWithFallback.
func (e *Executor) ExecuteWithPreferred(ctx context.Context, agentID, preferred string, req llm.CompletionRequest, call CallFunc) (llm.CompletionResponse, bool, error) {
	chain := reorderWithPreferred(e.ResolveChain(agentID), preferred)
	atomic.AddInt64(&e.stats.TotalCalls, 1)

	errsByProvider := make(map[string]error)
	attempted := 0

	for _, name := range chain {
		provider, ok := e.registry.Get(name)
		if !ok {
			continue
		}
		if e.breakers != nil && !e.breakers.For(name).Allow() {
			errsByProvider[name] = &gatewayerr.APIError{Provider: name, Message: "circuit breaker open"}
			continue
		}

		attempted++
		resp, err := call(ctx, provider, req)
		if err == nil {
			if e.breakers != nil {
				e.breakers.For(name).RecordSuccess()
			}
			fallbackUsed := attempted > 1
			if fallbackUsed {
				atomic.AddInt64(&e.stats.FallbackTriggered, 1)
				atomic.AddInt64(&e.stats.FallbackSuccess, 1)
			}
			return resp, fallbackUsed, nil
		}

		if e.breakers != nil {
			e.breakers.For(name).RecordFailure()
		}
		errsByProvider[name] = err
	}

	if attempted > 1 {
		atomic.AddInt64(&e.stats.FallbackTriggered, 1)
	}
	atomic.AddInt64(&e.stats.AllFailed, 1)
	return llm.CompletionResponse{}, attempted > 1, &gatewayerr.AllProvidersFailed{
		AgentID:          agentID,
		Chain:            chain,
		ErrorsByProvider: errsByProvider,
	}
}

// Stats returns a snapshot of executor statistics.
func (e *Executor) Stats() Stats { return e.stats.Snapshot() }

// reorderWithPreferred moves preferred to the front of chain when present,
// preserving the relative order of everything else. Returns chain unchanged
// if preferred is empty or not found in it.
func reorderWithPreferred(chain []string, preferred string) []string {
	if preferred == "" {
		return chain
	}
	idx := -1
	for i, name := range chain {
		if name == preferred {
			idx = i
			break
		}
	}
	if idx <= 0 {
		return chain
	}
	out := make([]string, 0, len(chain))
	out = append(out, preferred)
	out = append(out, chain[:idx]...)
	out = append(out, chain[idx+1:]...)
	return out
}
