package usage

// Rate is the per-million-token pricing for one model.
type Rate struct {
	InputPerMillion  float64 `yaml:"input_per_million" json:"input_per_million"`
	OutputPerMillion float64 `yaml:"output_per_million" json:"output_per_million"`
}

// Pricing maps model ids to rates.
type Pricing map[string]Rate

// Estimate computes the USD cost for the given token totals. Output and
// thoughts tokens are both billed at the output rate. Models absent from
// the table report priced=false and cost 0; token totals still
// accumulate elsewhere.
func (p Pricing) Estimate(model string, t Totals) (cost float64, priced bool) {
	rate, ok := p[model]
	if !ok {
		return 0, false
	}
	cost = float64(t.PromptTokens) / 1_000_000.0 * rate.InputPerMillion
	cost += float64(t.OutputTokens+t.ThoughtsTokens) / 1_000_000.0 * rate.OutputPerMillion
	return cost, true
}
