// Package tokentracker tallies token usage by issue, agent, and phase and
// signals warn/halt thresholds against a configured budget. Totals are
// monotonically non-decreasing and overflow-checked on every recording
// call.
package tokentracker

import (
	"fmt"
	"sync"

	cadreerrors "github.com/randalmurphal/cadre/internal/errors"
)

// Budget configures warn/halt thresholds for a single issue or for the
// fleet as a whole.
type Budget struct {
	// Total is the hard ceiling; 0 disables budget enforcement entirely.
	Total int
	// WarnAt is the count at which Record starts returning warn=true
	// without yet failing. 0 disables the warn threshold.
	WarnAt int
}

// Tracker accumulates token counts across agents and phases for a single
// scope (one issue, or the fleet). Safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	budget  Budget
	total   int
	byPhase map[int]int
	byAgent map[string]int
}

// New constructs a Tracker enforcing budget. A zero-value Budget disables
// enforcement (Record never warns or halts).
func New(budget Budget) *Tracker {
	return &Tracker{
		budget:  budget,
		byPhase: map[int]int{},
		byAgent: map[string]int{},
	}
}

// Record adds tokens to the running totals for agent and phase, then
// checks the totals against the configured budget. warn is true once the
// total has crossed WarnAt (and remains true thereafter). err is a
// *cadreerrors.BudgetExceeded once the total crosses Total.
//
// Record overflow-checks on every call, not only when a threshold is
// crossed, keeping the running total monotonically non-decreasing.
func (t *Tracker) Record(agent string, phase int, tokens int) (warn bool, err error) {
	if tokens < 0 {
		return false, fmt.Errorf("negative token count: %d", tokens)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	newTotal := t.total + tokens
	if newTotal < t.total {
		return false, fmt.Errorf("token total overflow recording %d tokens on top of %d", tokens, t.total)
	}
	t.total = newTotal
	t.byAgent[agent] += tokens
	t.byPhase[phase] += tokens

	if t.budget.WarnAt > 0 && t.total >= t.budget.WarnAt {
		warn = true
	}
	if t.budget.Total > 0 && t.total > t.budget.Total {
		return warn, &cadreerrors.BudgetExceeded{Current: t.total, Budget: t.budget.Total}
	}
	return warn, nil
}

// Total returns the running total token count.
func (t *Tracker) Total() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// ByPhase returns a copy of the per-phase token tally.
func (t *Tracker) ByPhase() map[int]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[int]int, len(t.byPhase))
	for k, v := range t.byPhase {
		out[k] = v
	}
	return out
}

// ByAgent returns a copy of the per-agent token tally.
func (t *Tracker) ByAgent() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]int, len(t.byAgent))
	for k, v := range t.byAgent {
		out[k] = v
	}
	return out
}

// Consistent reports whether total == Σ byAgent == Σ byPhase.
func (t *Tracker) Consistent() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	var agentSum, phaseSum int
	for _, v := range t.byAgent {
		agentSum += v
	}
	for _, v := range t.byPhase {
		phaseSum += v
	}
	return t.total == agentSum && t.total == phaseSum
}
