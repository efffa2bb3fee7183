package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Ledger is an append-only SQLite store for usage events, indexed by
// day. All public methods are safe for concurrent use (SQLite
// serializes writes, so concurrent appends cannot interleave).
type Ledger struct {
	db *sql.DB
}

// OpenLedger creates or opens a ledger at the given database path. The
// schema is created automatically on first use.
func OpenLedger(dbPath string) (*Ledger, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open usage ledger: %w", err)
	}

	l := &Ledger{db: db}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate usage schema: %w", err)
	}

	return l, nil
}

// Close closes the database connection.
func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS usage_events (
		id              TEXT PRIMARY KEY,
		day             TEXT NOT NULL,
		at              TEXT NOT NULL,
		component       TEXT NOT NULL,
		phase           TEXT NOT NULL,
		model           TEXT NOT NULL,
		prompt_tokens   INTEGER NOT NULL,
		output_tokens   INTEGER NOT NULL,
		thoughts_tokens INTEGER NOT NULL,
		total_tokens    INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_usage_day ON usage_events(day);
	CREATE INDEX IF NOT EXISTS idx_usage_component ON usage_events(component);
	`
	_, err := l.db.Exec(schema)
	return err
}

// Append persists one event. If ev.ID is empty, a UUIDv7 is generated.
// The stored row is never mutated afterwards.
func (l *Ledger) Append(ctx context.Context, ev Event) error {
	if ev.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate usage event ID: %w", err)
		}
		ev.ID = id.String()
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO usage_events
			(id, day, at, component, phase, model,
			 prompt_tokens, output_tokens, thoughts_tokens, total_tokens)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID,
		ev.Day(),
		ev.At.UTC().Format(time.RFC3339Nano),
		ev.Component,
		ev.Phase,
		ev.Model,
		ev.PromptTokens,
		ev.OutputTokens,
		ev.ThoughtsTokens,
		ev.TotalTokens,
	)
	if err != nil {
		return fmt.Errorf("insert usage event: %w", err)
	}
	return nil
}

// Events returns up to limit events for an explicit day (YYYY-MM-DD),
// oldest first. limit <= 0 means no limit.
func (l *Ledger) Events(ctx context.Context, day string, limit int) ([]Event, error) {
	query := `SELECT id, at, component, phase, model,
			prompt_tokens, output_tokens, thoughts_tokens, total_tokens
		FROM usage_events WHERE day = ? ORDER BY at ASC`
	args := []interface{}{day}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query usage events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var at string
		if err := rows.Scan(&ev.ID, &at, &ev.Component, &ev.Phase, &ev.Model,
			&ev.PromptTokens, &ev.OutputTokens, &ev.ThoughtsTokens, &ev.TotalTokens); err != nil {
			return nil, fmt.Errorf("scan usage event: %w", err)
		}
		ev.At, err = time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, fmt.Errorf("parse usage timestamp: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// groupedTotals is one aggregation row.
type groupedTotals struct {
	Component string
	Model     string
	Day       string
	Totals    Totals
}

// totalsByComponentModel aggregates events within [fromDay, toDay]
// grouped by component and model.
func (l *Ledger) totalsByComponentModel(ctx context.Context, fromDay, toDay string) ([]groupedTotals, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT component, model,
			SUM(prompt_tokens), SUM(output_tokens), SUM(thoughts_tokens), SUM(total_tokens)
		 FROM usage_events
		 WHERE day >= ? AND day <= ?
		 GROUP BY component, model
		 ORDER BY SUM(total_tokens) DESC`,
		fromDay, toDay,
	)
	if err != nil {
		return nil, fmt.Errorf("query usage by component/model: %w", err)
	}
	defer rows.Close()

	var result []groupedTotals
	for rows.Next() {
		var g groupedTotals
		if err := rows.Scan(&g.Component, &g.Model,
			&g.Totals.PromptTokens, &g.Totals.OutputTokens,
			&g.Totals.ThoughtsTokens, &g.Totals.TotalTokens); err != nil {
			return nil, fmt.Errorf("scan usage aggregate: %w", err)
		}
		result = append(result, g)
	}
	return result, rows.Err()
}

// totalsByDay aggregates events within [fromDay, toDay] grouped by day.
func (l *Ledger) totalsByDay(ctx context.Context, fromDay, toDay string) ([]groupedTotals, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT day,
			SUM(prompt_tokens), SUM(output_tokens), SUM(thoughts_tokens), SUM(total_tokens)
		 FROM usage_events
		 WHERE day >= ? AND day <= ?
		 GROUP BY day
		 ORDER BY day ASC`,
		fromDay, toDay,
	)
	if err != nil {
		return nil, fmt.Errorf("query usage by day: %w", err)
	}
	defer rows.Close()

	var result []groupedTotals
	for rows.Next() {
		var g groupedTotals
		if err := rows.Scan(&g.Day,
			&g.Totals.PromptTokens, &g.Totals.OutputTokens,
			&g.Totals.ThoughtsTokens, &g.Totals.TotalTokens); err != nil {
			return nil, fmt.Errorf("scan usage aggregate: %w", err)
		}
		result = append(result, g)
	}
	return result, rows.Err()
}
