package llmstream

import (
	"sync"
	"time"
)

// ModelInfo describes a known model.
type ModelInfo struct {
	ID                   string   `json:"id"`
	Provider             string   `json:"provider"`
	DisplayName          string   `json:"display_name"`
	ContextWindow        int      `json:"context_window"`
	SupportsInvocations  bool     `json:"supports_invocations"`
	SupportsDeliberation bool     `json:"supports_deliberation"`
	InputCostPerMillion  *float64 `json:"input_cost_per_million,omitempty"`
	OutputCostPerMillion *float64 `json:"output_cost_per_million,omitempty"`
	Aliases              []string `json:"aliases,omitempty"`
}

func floatPtr(v float64) *float64 { return &v }

// builtinModels is the fallback model list used when a catalog source is
// unavailable (February 2026).
var builtinModels = []ModelInfo{
	{
		ID: "claude-opus-4-6", Provider: "anthropic", DisplayName: "Claude Opus 4.6",
		ContextWindow: 200000, SupportsInvocations: true, SupportsDeliberation: true,
		InputCostPerMillion: floatPtr(15.0), OutputCostPerMillion: floatPtr(75.0),
		Aliases: []string{"opus", "claude-opus"},
	},
	{
		ID: "claude-sonnet-4-5", Provider: "anthropic", DisplayName: "Claude Sonnet 4.5",
		ContextWindow: 200000, SupportsInvocations: true, SupportsDeliberation: true,
		InputCostPerMillion: floatPtr(3.0), OutputCostPerMillion: floatPtr(15.0),
		Aliases: []string{"sonnet", "claude-sonnet"},
	},
	{
		ID: "gpt-5.2", Provider: "openai", DisplayName: "GPT-5.2",
		ContextWindow: 1047576, SupportsInvocations: true, SupportsDeliberation: true,
		InputCostPerMillion: floatPtr(2.50), OutputCostPerMillion: floatPtr(10.0),
		Aliases: []string{"gpt5"},
	},
	{
		ID: "gpt-5.2-mini", Provider: "openai", DisplayName: "GPT-5.2 Mini",
		ContextWindow: 1047576, SupportsInvocations: true, SupportsDeliberation: false,
		InputCostPerMillion: floatPtr(0.75), OutputCostPerMillion: floatPtr(3.0),
		Aliases: []string{"gpt5-mini"},
	},
}

// CatalogSource fetches the current model list, e.g. from a provider's
// list-models endpoint.
type CatalogSource func() ([]ModelInfo, error)

// Catalog is a time-bounded cache over a model list. The list refreshes
// from the source once the TTL elapses; a failed refresh keeps serving
// the previous list. The clock is injectable for tests.
type Catalog struct {
	source    CatalogSource
	ttl       time.Duration
	now       func() time.Time
	mu        sync.Mutex
	models    []ModelInfo
	fetchedAt time.Time
}

// CatalogOption configures a Catalog.
type CatalogOption func(*Catalog)

// WithCatalogTTL overrides the default five minute TTL.
func WithCatalogTTL(ttl time.Duration) CatalogOption {
	return func(c *Catalog) { c.ttl = ttl }
}

// WithClock injects a clock, used by tests.
func WithClock(now func() time.Time) CatalogOption {
	return func(c *Catalog) { c.now = now }
}

// NewCatalog creates a Catalog over the given source. A nil source serves
// the builtin list and never refreshes.
func NewCatalog(source CatalogSource, opts ...CatalogOption) *Catalog {
	c := &Catalog{
		source: source,
		ttl:    5 * time.Minute,
		now:    time.Now,
		models: builtinModels,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Models returns the cached model list, refreshing it if the TTL elapsed.
func (c *Catalog) Models() []ModelInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.source != nil && (c.fetchedAt.IsZero() || c.now().Sub(c.fetchedAt) >= c.ttl) {
		if fresh, err := c.source(); err == nil && len(fresh) > 0 {
			c.models = fresh
		}
		// A failed refresh keeps the stale list; retry after another TTL.
		c.fetchedAt = c.now()
	}

	out := make([]ModelInfo, len(c.models))
	copy(out, c.models)
	return out
}

// Lookup returns the catalog entry for a model id or alias, or nil.
func (c *Catalog) Lookup(modelID string) *ModelInfo {
	models := c.Models()
	for i := range models {
		if models[i].ID == modelID {
			return &models[i]
		}
		for _, alias := range models[i].Aliases {
			if alias == modelID {
				return &models[i]
			}
		}
	}
	return nil
}
