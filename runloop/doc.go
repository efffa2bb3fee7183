// Package runloop drives the agentic tool-invocation cycle: assemble a
// turn, stream the reasoning response, dispatch requested capability
// invocations, re-inject their results, and repeat until the model
// stops asking for invocations or the iteration budget runs out.
//
// The package is organized around these concepts:
//
//   - Loop: the per-conversation orchestrator. One loop instance owns
//     one conversation's active turn-cycle; Run is not re-entrant.
//   - Assembler: builds the ordered message list from history, new user
//     text, and attachments.
//   - Router: normalizes invocation arguments and timeouts and
//     dispatches to registered capability handlers.
//   - Registry: capability handler registration and manifest.
//   - Emitter: ordered caller-facing event stream (chunk,
//     invocation_start, invocation_result, done).
//
// Within one iteration all requested invocations run concurrently, and
// results are collected in request order before the next turn is sent.
// A partially-settled iteration is never exposed to the model.
package runloop
