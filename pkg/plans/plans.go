package plans

// Plan identifies a subscription tier
type Plan string

const (
	PlanFree     Plan = "free"
	PlanCramWeek Plan = "cram_week"
	PlanMonthly  Plan = "monthly"
	PlanAnnual   Plan = "annual"
)

// Valid reports whether p is one of the known tiers
func (p Plan) Valid() bool {
	switch p {
	case PlanFree, PlanCramWeek, PlanMonthly, PlanAnnual:
		return true
	}
	return false
}

// RefillFrequency describes how a tier's credits are replenished
type RefillFrequency string

const (
	RefillDaily   RefillFrequency = "daily"
	RefillMonthly RefillFrequency = "monthly"
	RefillNone    RefillFrequency = "none"
)

// Model identifies a supported generation model
type Model string

const (
	ModelGeminiFlashLite Model = "gemini-2.5-flash-lite"
	ModelGPT4oMini       Model = "gpt-4o-mini"
	ModelGPT4o           Model = "gpt-4o"
	ModelClaudeSonnet    Model = "claude-sonnet"
)

// DefaultModel is the low-cost model forced for free-tier users
const DefaultModel = ModelGeminiFlashLite

// Valid reports whether m is a supported model identifier
func (m Model) Valid() bool {
	switch m {
	case ModelGeminiFlashLite, ModelGPT4oMini, ModelGPT4o, ModelClaudeSonnet:
		return true
	}
	return false
}

// Entry describes one subscription tier
type Entry struct {
	Name            string          `yaml:"name"`
	Credits         int64           `yaml:"credits"`
	RefillFrequency RefillFrequency `yaml:"refill_frequency"`
	DurationDays    int             `yaml:"duration_days"`
}

// Catalog is the immutable plan and model-cost configuration.
// Construct with DefaultCatalog or NewCatalog and pass by reference;
// never mutate after construction.
type Catalog struct {
	entries         map[Plan]Entry
	modelCosts      map[Model]int64
	minCreditBuffer int64
}

// NewCatalog builds a catalog from explicit configuration.
// Missing entries fall back to the defaults.
func NewCatalog(entries map[Plan]Entry, modelCosts map[Model]int64, minCreditBuffer int64) *Catalog {
	def := DefaultCatalog()
	c := &Catalog{
		entries:         make(map[Plan]Entry, len(def.entries)),
		modelCosts:      make(map[Model]int64, len(def.modelCosts)),
		minCreditBuffer: minCreditBuffer,
	}
	for p, e := range def.entries {
		c.entries[p] = e
	}
	for m, cost := range def.modelCosts {
		c.modelCosts[m] = cost
	}
	for p, e := range entries {
		c.entries[p] = e
	}
	for m, cost := range modelCosts {
		c.modelCosts[m] = cost
	}
	if c.minCreditBuffer <= 0 {
		c.minCreditBuffer = def.minCreditBuffer
	}
	return c
}

// DefaultCatalog returns the built-in tier configuration
func DefaultCatalog() *Catalog {
	return &Catalog{
		entries: map[Plan]Entry{
			PlanFree: {
				Name:            "Free Tier",
				Credits:         5,
				RefillFrequency: RefillDaily,
			},
			PlanCramWeek: {
				Name:            "Cram Week",
				Credits:         1000,
				RefillFrequency: RefillNone,
				DurationDays:    7,
			},
			PlanMonthly: {
				Name:            "Semester Monthly",
				Credits:         3000,
				RefillFrequency: RefillMonthly,
			},
			PlanAnnual: {
				Name: "Annual Pro",
				// Billed yearly, but credits reset monthly. Intentional.
				Credits:         5000,
				RefillFrequency: RefillMonthly,
			},
		},
		modelCosts: map[Model]int64{
			ModelGeminiFlashLite: 1,
			ModelGPT4oMini:       2,
			ModelGPT4o:           40,
			ModelClaudeSonnet:    60,
		},
		minCreditBuffer: 10,
	}
}

// Lookup returns the entry for a plan. Unknown plans resolve to the free
// tier so a corrupt plan column can never grant paid allotments.
func (c *Catalog) Lookup(p Plan) Entry {
	if e, ok := c.entries[p]; ok {
		return e
	}
	return c.entries[PlanFree]
}

// CostMultiplier returns the credit cost per 1000 tokens for a model.
// Unknown models resolve to the default model's multiplier.
func (c *Catalog) CostMultiplier(m Model) int64 {
	if cost, ok := c.modelCosts[m]; ok {
		return cost
	}
	return c.modelCosts[DefaultModel]
}

// MinCreditBuffer is the minimum balance headroom required to start a
// generation with a non-default model
func (c *Catalog) MinCreditBuffer() int64 {
	return c.minCreditBuffer
}

// Models returns the supported model identifiers
func (c *Catalog) Models() []Model {
	models := make([]Model, 0, len(c.modelCosts))
	for m := range c.modelCosts {
		models = append(models, m)
	}
	return models
}

// Plans returns the configured tiers
func (c *Catalog) Plans() []Plan {
	out := make([]Plan, 0, len(c.entries))
	for p := range c.entries {
		out = append(out, p)
	}
	return out
}
