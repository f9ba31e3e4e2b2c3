package plans

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	c := DefaultCatalog()

	t.Run("tier allotments", func(t *testing.T) {
		assert.Equal(t, int64(5), c.Lookup(PlanFree).Credits)
		assert.Equal(t, int64(1000), c.Lookup(PlanCramWeek).Credits)
		assert.Equal(t, int64(3000), c.Lookup(PlanMonthly).Credits)
		assert.Equal(t, int64(5000), c.Lookup(PlanAnnual).Credits)
	})

	t.Run("refill cadence", func(t *testing.T) {
		assert.Equal(t, RefillDaily, c.Lookup(PlanFree).RefillFrequency)
		assert.Equal(t, RefillNone, c.Lookup(PlanCramWeek).RefillFrequency)
		assert.Equal(t, 7, c.Lookup(PlanCramWeek).DurationDays)
		assert.Equal(t, RefillMonthly, c.Lookup(PlanMonthly).RefillFrequency)
		// Annual bills yearly but refills monthly
		assert.Equal(t, RefillMonthly, c.Lookup(PlanAnnual).RefillFrequency)
	})

	t.Run("model costs", func(t *testing.T) {
		assert.Equal(t, int64(1), c.CostMultiplier(ModelGeminiFlashLite))
		assert.Equal(t, int64(2), c.CostMultiplier(ModelGPT4oMini))
		assert.Equal(t, int64(40), c.CostMultiplier(ModelGPT4o))
		assert.Equal(t, int64(60), c.CostMultiplier(ModelClaudeSonnet))
	})

	t.Run("unknown plan resolves to free", func(t *testing.T) {
		assert.Equal(t, c.Lookup(PlanFree), c.Lookup(Plan("platinum")))
	})

	t.Run("unknown model resolves to default", func(t *testing.T) {
		assert.Equal(t, int64(1), c.CostMultiplier(Model("gpt-9")))
	})

	assert.Equal(t, int64(10), c.MinCreditBuffer())
}

func TestPlanValid(t *testing.T) {
	assert.True(t, PlanFree.Valid())
	assert.True(t, PlanCramWeek.Valid())
	assert.True(t, PlanMonthly.Valid())
	assert.True(t, PlanAnnual.Valid())
	assert.False(t, Plan("").Valid())
	assert.False(t, Plan("trial").Valid())
}

func TestModelValid(t *testing.T) {
	assert.True(t, ModelGeminiFlashLite.Valid())
	assert.True(t, ModelClaudeSonnet.Valid())
	assert.False(t, Model("").Valid())
}

func TestNewCatalogOverrides(t *testing.T) {
	c := NewCatalog(
		map[Plan]Entry{
			PlanFree: {Name: "Free Tier", Credits: 10, RefillFrequency: RefillDaily},
		},
		map[Model]int64{ModelGPT4o: 55},
		20,
	)

	assert.Equal(t, int64(10), c.Lookup(PlanFree).Credits)
	assert.Equal(t, int64(55), c.CostMultiplier(ModelGPT4o))
	assert.Equal(t, int64(20), c.MinCreditBuffer())
	// Untouched entries keep defaults
	assert.Equal(t, int64(3000), c.Lookup(PlanMonthly).Credits)
	assert.Equal(t, int64(2), c.CostMultiplier(ModelGPT4oMini))
}

func TestLoadCatalog(t *testing.T) {
	t.Run("valid file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "plans.yaml")
		content := `
plans:
  free:
    name: Free Tier
    credits: 8
    refill_frequency: daily
model_costs:
  gpt-4o: 45
min_credit_buffer: 15
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))

		c, err := LoadCatalog(path)
		require.NoError(t, err)
		assert.Equal(t, int64(8), c.Lookup(PlanFree).Credits)
		assert.Equal(t, int64(45), c.CostMultiplier(ModelGPT4o))
		assert.Equal(t, int64(15), c.MinCreditBuffer())
	})

	t.Run("unknown plan rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "plans.yaml")
		require.NoError(t, os.WriteFile(path, []byte("plans:\n  platinum:\n    credits: 1\n"), 0644))

		_, err := LoadCatalog(path)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "unknown plan")
	})

	t.Run("non-positive cost rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "plans.yaml")
		require.NoError(t, os.WriteFile(path, []byte("model_costs:\n  gpt-4o: 0\n"), 0644))

		_, err := LoadCatalog(path)
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadCatalog(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}

func TestStaticProvider(t *testing.T) {
	c := DefaultCatalog()
	p := NewStaticProvider(c)
	assert.Same(t, c, p.Catalog())
	assert.NoError(t, p.Close())
}

func TestFileProvider(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plans.yaml")
	require.NoError(t, os.WriteFile(path, []byte("min_credit_buffer: 12\n"), 0644))

	logger := logrus.New()
	p, err := NewFileProvider(path, logger)
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, int64(12), p.Catalog().MinCreditBuffer())
}
