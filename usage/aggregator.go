package usage

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ModelSummary is one model's share of a summary, with cost estimation.
type ModelSummary struct {
	Model            string  `json:"model"`
	Totals           Totals  `json:"totals"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
	Priced           bool    `json:"priced"`
}

// ComponentSummary is one component's share of a summary.
type ComponentSummary struct {
	Component string         `json:"component"`
	Totals    Totals         `json:"totals"`
	ByModel   []ModelSummary `json:"by_model"`
}

// DaySummary is one day's totals within a summary window.
type DaySummary struct {
	Day    string `json:"day"`
	Totals Totals `json:"totals"`
}

// Summary is the aggregate view over a day window.
type Summary struct {
	FromDay          string             `json:"from_day"`
	ToDay            string             `json:"to_day"`
	Totals           Totals             `json:"totals"`
	EstimatedCostUSD float64            `json:"estimated_cost_usd"`
	ByComponent      []ComponentSummary `json:"by_component"`
	ByDay            []DaySummary       `json:"by_day"`
}

// Aggregator folds usage events into a process-lifetime running total,
// the active task (if any), and the durable ledger. It is the only
// mutator of those totals; all methods are safe for concurrent use.
type Aggregator struct {
	ledger  *Ledger
	pricing Pricing
	logger  *slog.Logger
	now     func() time.Time

	mu       sync.Mutex
	lifetime Totals
	active   *Task
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithNow injects a clock, used by tests.
func WithNow(now func() time.Time) AggregatorOption {
	return func(a *Aggregator) { a.now = now }
}

// NewAggregator creates an Aggregator. The ledger may be nil, in which
// case events are folded into totals but not persisted.
func NewAggregator(ledger *Ledger, pricing Pricing, logger *slog.Logger, opts ...AggregatorOption) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Aggregator{
		ledger:  ledger,
		pricing: pricing,
		logger:  logger.With("component", "usage"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// StartTask begins a new task ledger for the given goal. A still-running
// task is force-finalized as interrupted first.
func (a *Aggregator) StartTask(goal string) *Task {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.active != nil && a.active.Status == TaskRunning {
		a.finalizeLocked(TaskInterrupted)
	}

	a.active = &Task{
		ID:        uuid.New().String(),
		Goal:      goal,
		StartedAt: a.now(),
		Status:    TaskRunning,
		ByModel:   make(map[string]Totals),
	}
	return a.active.snapshot()
}

// FinishTask finalizes the active task with the given terminal status.
// It is a no-op when no task is running.
func (a *Aggregator) FinishTask(status TaskStatus) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active == nil || a.active.Status != TaskRunning {
		return
	}
	a.finalizeLocked(status)
}

func (a *Aggregator) finalizeLocked(status TaskStatus) {
	at := a.now()
	a.active.Status = status
	a.active.FinishedAt = &at
}

// Record appends one event to the ledger and folds it into the lifetime
// total and the active task. Ledger failures are logged and swallowed:
// usage tracking never fails the user-facing response.
func (a *Aggregator) Record(ctx context.Context, ev Event) {
	if ev.At.IsZero() {
		ev.At = a.now()
	}

	if a.ledger != nil {
		if err := a.ledger.Append(ctx, ev); err != nil {
			a.logger.Warn("usage event append failed",
				"component", ev.Component,
				"model", ev.Model,
				"error", err,
			)
		}
	}

	totals := ev.Totals()

	a.mu.Lock()
	defer a.mu.Unlock()
	a.lifetime.Add(totals)
	if a.active != nil && a.active.Status == TaskRunning {
		a.active.Totals.Add(totals)
		perModel := a.active.ByModel[ev.Model]
		perModel.Add(totals)
		a.active.ByModel[ev.Model] = perModel
	}
}

// Lifetime returns the process-lifetime running total.
func (a *Aggregator) Lifetime() Totals {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lifetime
}

// ActiveTask returns a snapshot of the current task, or nil.
func (a *Aggregator) ActiveTask() *Task {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active == nil {
		return nil
	}
	return a.active.snapshot()
}

// Summary aggregates the ledger over a rolling window of 1-31 days
// ending today, broken down by component/model (sorted by total token
// volume descending) and by day.
func (a *Aggregator) Summary(ctx context.Context, windowDays int) (*Summary, error) {
	if windowDays < 1 || windowDays > 31 {
		return nil, fmt.Errorf("window must be 1-31 days, got %d", windowDays)
	}
	today := a.now().UTC()
	from := today.AddDate(0, 0, -(windowDays - 1))
	return a.summaryRange(ctx, from.Format(time.DateOnly), today.Format(time.DateOnly))
}

// SummaryForDay aggregates the ledger for one explicit day (YYYY-MM-DD).
func (a *Aggregator) SummaryForDay(ctx context.Context, day string) (*Summary, error) {
	if _, err := time.Parse(time.DateOnly, day); err != nil {
		return nil, fmt.Errorf("invalid day %q: %w", day, err)
	}
	return a.summaryRange(ctx, day, day)
}

func (a *Aggregator) summaryRange(ctx context.Context, fromDay, toDay string) (*Summary, error) {
	if a.ledger == nil {
		return nil, fmt.Errorf("no ledger configured")
	}

	byCompModel, err := a.ledger.totalsByComponentModel(ctx, fromDay, toDay)
	if err != nil {
		return nil, err
	}
	byDay, err := a.ledger.totalsByDay(ctx, fromDay, toDay)
	if err != nil {
		return nil, err
	}

	sum := &Summary{FromDay: fromDay, ToDay: toDay}

	// Rows arrive sorted by total tokens descending, which keeps each
	// component's model list in descending order. Components themselves
	// are re-sorted by their summed totals below.
	index := make(map[string]int)
	for _, g := range byCompModel {
		cost, priced := a.pricing.Estimate(g.Model, g.Totals)

		i, ok := index[g.Component]
		if !ok {
			i = len(sum.ByComponent)
			index[g.Component] = i
			sum.ByComponent = append(sum.ByComponent, ComponentSummary{Component: g.Component})
		}
		comp := &sum.ByComponent[i]
		comp.Totals.Add(g.Totals)
		comp.ByModel = append(comp.ByModel, ModelSummary{
			Model:            g.Model,
			Totals:           g.Totals,
			EstimatedCostUSD: cost,
			Priced:           priced,
		})

		sum.Totals.Add(g.Totals)
		sum.EstimatedCostUSD += cost
	}

	sort.SliceStable(sum.ByComponent, func(i, j int) bool {
		return sum.ByComponent[i].Totals.TotalTokens > sum.ByComponent[j].Totals.TotalTokens
	})

	for _, g := range byDay {
		sum.ByDay = append(sum.ByDay, DaySummary{Day: g.Day, Totals: g.Totals})
	}

	return sum, nil
}

// Events returns up to limit ledger events for an explicit day.
func (a *Aggregator) Events(ctx context.Context, day string, limit int) ([]Event, error) {
	if a.ledger == nil {
		return nil, fmt.Errorf("no ledger configured")
	}
	if _, err := time.Parse(time.DateOnly, day); err != nil {
		return nil, fmt.Errorf("invalid day %q: %w", day, err)
	}
	return a.ledger.Events(ctx, day, limit)
}
