package cost

import (
	"sync"
	"time"

	"github.com/fenwick-io/llmgateway/internal/gatewayerr"
)

// Optimizer selects providers per task complexity under a daily budget and
// records post-hoc usage, per spec §4.10.
type Optimizer struct {
	mu      sync.Mutex
	budget  Budget
	rules   RoutingRules
	pricing *PricingTable
	state   *State
}

// NewOptimizer builds a cost optimizer. A zero-value budget.Scope defaults
// to ScopeProcess/PeriodDaily, matching spec.md's plain daily accounting.
func NewOptimizer(budget Budget, rules RoutingRules, pricing *PricingTable) *Optimizer {
	if budget.Scope == "" {
		budget.Scope = ScopeProcess
	}
	if budget.Period == "" {
		budget.Period = PeriodDaily
	}
	if pricing == nil {
		pricing = DefaultPricing()
	}
	return &Optimizer{budget: budget, rules: rules, pricing: pricing, state: newState()}
}

func periodStart(now time.Time, period BudgetPeriod) time.Time {
	y, m, d := now.Date()
	switch period {
	case PeriodWeekly:
		wd := int(now.Weekday())
		return time.Date(y, m, d-wd, 0, 0, 0, 0, now.Location())
	case PeriodMonthly:
		return time.Date(y, m, 1, 0, 0, 0, 0, now.Location())
	case PeriodQuarterly:
		qm := ((int(m) - 1) / 3) * 3 + 1
		return time.Date(y, time.Month(qm), 1, 0, 0, 0, 0, now.Location())
	case PeriodYearly:
		return time.Date(y, 1, 1, 0, 0, 0, 0, now.Location())
	default: // PeriodDaily
		return time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	}
}

// resetIfNewPeriodLocked clears accumulated aggregates exactly once when the
// current period boundary has rolled past LastReset, per spec §3's "reset
// to empty when local wall date changes" invariant (generalized to the
// configured period).
func (o *Optimizer) resetIfNewPeriodLocked() {
	now := time.Now()
	if periodStart(now, o.budget.Period).After(o.state.LastReset) {
		o.state = newState()
	}
}

func (o *Optimizer) totalSpentLocked() float64 {
	total := 0.0
	for _, v := range o.state.DailyCosts {
		total += v
	}
	return total
}

// SelectProvider implements spec §4.10's select_provider algorithm.
func (o *Optimizer) SelectProvider(complexity Complexity, available map[string]bool) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.resetIfNewPeriodLocked()

	pref := append([]string{}, o.rules[complexity]...)

	if o.budget.DailyLimit > 0 && o.totalSpentLocked() >= o.budget.DailyLimit && o.budget.ExceededAction == ActionFallbackToFree {
		var free []string
		for _, p := range pref {
			if o.pricing.IsFreeTier(p, "*") {
				free = append(free, p)
			}
		}
		pref = free
	}

	var intersected []string
	for _, p := range pref {
		if available[p] {
			intersected = append(intersected, p)
		}
	}

	if len(intersected) == 0 {
		// Open question resolution #2: rather than hard-coding a default
		// provider name, an empty result after filtering is surfaced as
		// AllProvidersFailed so the caller gets a typed, inspectable error
		// instead of a silent, unconfigurable fallback.
		return "", &gatewayerr.AllProvidersFailed{
			AgentID:          string(complexity),
			Chain:            pref,
			ErrorsByProvider: map[string]error{},
		}
	}
	return intersected[0], nil
}

// RecordUsage computes cost via the pricing table and updates daily/user/
// conversation aggregates, per spec §4.10. Returns the computed cost and
// whether the alert threshold was crossed by this call.
func (o *Optimizer) RecordUsage(provider, model string, tokensIn, tokensOut int, user, conversation string) (costUSD float64, alerted bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.resetIfNewPeriodLocked()

	costUSD = o.pricing.ComputeCost(provider, model, tokensIn, tokensOut)
	o.state.DailyCosts[provider] += costUSD
	if user != "" {
		o.state.UserCosts[user] += costUSD
	}
	if conversation != "" {
		o.state.ConversationCosts[conversation] += costUSD
	}
	if costUSD == 0 {
		o.state.FreeRequestsToday++
	} else {
		o.state.PaidRequestsToday++
	}

	if o.budget.DailyLimit > 0 && o.budget.AlertAtPercent > 0 {
		percentUsed := o.totalSpentLocked() / o.budget.DailyLimit * 100
		alerted = percentUsed >= o.budget.AlertAtPercent
	}
	return costUSD, alerted
}

// Stats is a read-only snapshot of accounting state, for the orchestrator
// and observability adapter.
type Stats struct {
	DailyCosts        map[string]float64
	PaidRequestsToday int
	FreeRequestsToday int
}

func (o *Optimizer) GetStats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.resetIfNewPeriodLocked()
	costs := make(map[string]float64, len(o.state.DailyCosts))
	for k, v := range o.state.DailyCosts {
		costs[k] = v
	}
	return Stats{
		DailyCosts:        costs,
		PaidRequestsToday: o.state.PaidRequestsToday,
		FreeRequestsToday: o.state.FreeRequestsToday,
	}
}
