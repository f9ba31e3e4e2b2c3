// Package spend converts between credit balances and token budgets: the
// affordable token cap computed before a generation starts, and the exact
// credit cost settled after it completes. All functions are pure; the
// catalog supplies the per-model cost multipliers (credits per 1000 tokens).
package spend

import (
	"github.com/kerna-app/kerna/pkg/plans"
)

const (
	// AbsoluteMaxTokens bounds any single generation regardless of balance
	AbsoluteMaxTokens = 4096

	// SafetyMargin absorbs estimation slack between counted tokens and
	// the billed amount
	SafetyMargin = 50
)

// Estimator derives token budgets and credit costs from the plan catalog
type Estimator struct {
	catalog *plans.Catalog
}

// NewEstimator creates an estimator over the given catalog
func NewEstimator(catalog *plans.Catalog) *Estimator {
	return &Estimator{catalog: catalog}
}

// MaxAffordableTokens returns how many tokens the balance can pay for at
// the model's rate. Cost is expressed per 1000 tokens.
func (e *Estimator) MaxAffordableTokens(balance int64, model plans.Model) int64 {
	if balance <= 0 {
		return 0
	}
	return balance * 1000 / e.catalog.CostMultiplier(model)
}

// TokenCap returns the output-token budget for one generation: the smaller
// of what the balance affords and the absolute maximum, minus the safety
// margin, floored at 1 so a funded request always gets to attempt output.
func (e *Estimator) TokenCap(balance int64, model plans.Model) int64 {
	cap := e.MaxAffordableTokens(balance, model)
	if cap > AbsoluteMaxTokens {
		cap = AbsoluteMaxTokens
	}
	cap -= SafetyMargin
	if cap < 1 {
		return 1
	}
	return cap
}

// ExactCost returns the credits to charge for tokensUsed, rounding up to
// whole credits with a floor of one full multiplier unit: every generation
// costs at least the per-request minimum for its model.
func (e *Estimator) ExactCost(tokensUsed int64, model plans.Model) int64 {
	multiplier := e.catalog.CostMultiplier(model)
	if tokensUsed < 0 {
		tokensUsed = 0
	}
	cost := (tokensUsed*multiplier + 999) / 1000
	if cost < multiplier {
		return multiplier
	}
	return cost
}
