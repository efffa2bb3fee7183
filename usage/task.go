package usage

import "time"

// TaskStatus is the lifecycle state of one user-initiated task.
type TaskStatus string

const (
	TaskRunning     TaskStatus = "running"
	TaskCompleted   TaskStatus = "completed"
	TaskInterrupted TaskStatus = "interrupted"
	TaskStopped     TaskStatus = "stopped"
	TaskError       TaskStatus = "error"
)

// Task is the usage ledger scoped to one user-initiated task, from
// submission to completion. It is mutated only by the Aggregator while
// running and frozen on finalization.
type Task struct {
	ID         string            `json:"id"`
	Goal       string            `json:"goal"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
	Status     TaskStatus        `json:"status"`
	Totals     Totals            `json:"totals"`
	ByModel    map[string]Totals `json:"by_model"`
}

// snapshot returns a deep copy safe to hand to callers.
func (t *Task) snapshot() *Task {
	cp := *t
	cp.ByModel = make(map[string]Totals, len(t.ByModel))
	for model, totals := range t.ByModel {
		cp.ByModel[model] = totals
	}
	if t.FinishedAt != nil {
		at := *t.FinishedAt
		cp.FinishedAt = &at
	}
	return &cp
}
