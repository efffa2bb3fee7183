// Package usage tracks token consumption and estimated cost across the
// orchestration loop. Every reasoning-call usage record and every
// capability-reported usage record becomes one immutable Event, appended
// to a per-day durable ledger and folded into a process-lifetime running
// total and the active task's totals.
//
// Persistence is best-effort: a ledger append failure is logged and
// swallowed, never surfaced to the user-facing response.
package usage
