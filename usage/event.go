package usage

import "time"

// Totals holds summed token counts.
type Totals struct {
	PromptTokens   int64 `json:"prompt_tokens"`
	OutputTokens   int64 `json:"output_tokens"`
	ThoughtsTokens int64 `json:"thoughts_tokens"`
	TotalTokens    int64 `json:"total_tokens"`
}

// Add folds other into t.
func (t *Totals) Add(other Totals) {
	t.PromptTokens += other.PromptTokens
	t.OutputTokens += other.OutputTokens
	t.ThoughtsTokens += other.ThoughtsTokens
	t.TotalTokens += other.TotalTokens
}

// Event is a single attributable usage record. Immutable once appended.
type Event struct {
	ID             string    `json:"id"`
	Component      string    `json:"component"` // "reasoner" or a capability name
	Phase          string    `json:"phase"`     // "turn", "invocation", ...
	Model          string    `json:"model"`
	PromptTokens   int       `json:"prompt_tokens"`
	OutputTokens   int       `json:"output_tokens"`
	ThoughtsTokens int       `json:"thoughts_tokens"`
	TotalTokens    int       `json:"total_tokens"`
	At             time.Time `json:"at"`
}

// Day returns the UTC calendar day the event belongs to, as YYYY-MM-DD.
func (e Event) Day() string {
	return e.At.UTC().Format(time.DateOnly)
}

// Totals returns the event's token counts as a Totals value.
func (e Event) Totals() Totals {
	return Totals{
		PromptTokens:   int64(e.PromptTokens),
		OutputTokens:   int64(e.OutputTokens),
		ThoughtsTokens: int64(e.ThoughtsTokens),
		TotalTokens:    int64(e.TotalTokens),
	}
}
