package spend

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kerna-app/kerna/pkg/plans"
)

func newEstimator() *Estimator {
	return NewEstimator(plans.DefaultCatalog())
}

func TestMaxAffordableTokens(t *testing.T) {
	e := newEstimator()

	t.Run("multiplier 2", func(t *testing.T) {
		// balance=5, cost=2 per 1k tokens -> 2500 tokens
		assert.Equal(t, int64(2500), e.MaxAffordableTokens(5, plans.ModelGPT4oMini))
	})

	t.Run("multiplier 1", func(t *testing.T) {
		assert.Equal(t, int64(5000), e.MaxAffordableTokens(5, plans.ModelGeminiFlashLite))
	})

	t.Run("expensive model", func(t *testing.T) {
		assert.Equal(t, int64(125), e.MaxAffordableTokens(5, plans.ModelGPT4o))
	})

	t.Run("zero balance", func(t *testing.T) {
		assert.Equal(t, int64(0), e.MaxAffordableTokens(0, plans.ModelGPT4oMini))
	})

	t.Run("negative balance", func(t *testing.T) {
		assert.Equal(t, int64(0), e.MaxAffordableTokens(-3, plans.ModelGPT4oMini))
	})
}

func TestTokenCap(t *testing.T) {
	e := newEstimator()

	t.Run("affordable below absolute max", func(t *testing.T) {
		// maxAffordable=2500, min(2500, 4096)-50 = 2450
		assert.Equal(t, int64(2450), e.TokenCap(5, plans.ModelGPT4oMini))
	})

	t.Run("clamped to absolute max", func(t *testing.T) {
		// A large balance affords more than AbsoluteMaxTokens
		assert.Equal(t, int64(AbsoluteMaxTokens-SafetyMargin), e.TokenCap(1000, plans.ModelGeminiFlashLite))
	})

	t.Run("never below one", func(t *testing.T) {
		assert.Equal(t, int64(1), e.TokenCap(1, plans.ModelGPT4o))
		assert.Equal(t, int64(1), e.TokenCap(0, plans.ModelGPT4oMini))
	})
}

func TestExactCost(t *testing.T) {
	e := newEstimator()

	t.Run("minimum charge floor", func(t *testing.T) {
		// 10 tokens at multiplier 40 would round to 1; floor is one
		// full multiplier unit
		assert.Equal(t, int64(40), e.ExactCost(10, plans.ModelGPT4o))
	})

	t.Run("rounds up partial thousands", func(t *testing.T) {
		// ceil(1500/1000*2) = 3
		assert.Equal(t, int64(3), e.ExactCost(1500, plans.ModelGPT4oMini))
	})

	t.Run("exact thousands", func(t *testing.T) {
		assert.Equal(t, int64(4), e.ExactCost(2000, plans.ModelGPT4oMini))
	})

	t.Run("zero tokens still charges minimum", func(t *testing.T) {
		assert.Equal(t, int64(1), e.ExactCost(0, plans.ModelGeminiFlashLite))
		assert.Equal(t, int64(60), e.ExactCost(0, plans.ModelClaudeSonnet))
	})

	t.Run("negative tokens treated as zero", func(t *testing.T) {
		assert.Equal(t, int64(2), e.ExactCost(-5, plans.ModelGPT4oMini))
	})

	t.Run("cap times multiplier bounded by balance plus margin slack", func(t *testing.T) {
		// Spending exactly the token cap never costs more than the
		// balance it was computed from.
		for _, balance := range []int64{1, 5, 17, 100, 999} {
			for _, model := range []plans.Model{plans.ModelGeminiFlashLite, plans.ModelGPT4oMini, plans.ModelGPT4o} {
				cap := e.TokenCap(balance, model)
				cost := e.ExactCost(cap, model)
				max := balance
				if min := e.catalog.CostMultiplier(model); max < min {
					max = min // the per-request minimum can exceed a tiny balance
				}
				assert.LessOrEqual(t, cost, max, "balance=%d model=%s", balance, model)
			}
		}
	})
}
