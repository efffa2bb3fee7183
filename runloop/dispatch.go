package runloop

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/driftwoodlabs/relay/llmstream"
)

// RouterConfig holds dispatch timeout policy.
type RouterConfig struct {
	// DefaultTimeout applies when neither the invocation nor the
	// capability declares one.
	DefaultTimeout time.Duration
	// MaxTimeout is the absolute ceiling any override is clamped to.
	MaxTimeout time.Duration
}

// DefaultRouterConfig returns the default dispatch policy.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		DefaultTimeout: 60 * time.Second,
		MaxTimeout:     10 * time.Minute,
	}
}

// Router normalizes invocation arguments and timeouts into one internal
// call descriptor, resolves the named handler, and wraps the outcome.
// Unknown capabilities and handler failures become ok=false results,
// never errors: the loop must be able to continue and report the
// failure to the reasoning service.
type Router struct {
	registry *Registry
	config   RouterConfig
	logger   *slog.Logger
}

// NewRouter creates a Router over the given registry.
func NewRouter(registry *Registry, config RouterConfig, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = DefaultRouterConfig().DefaultTimeout
	}
	if config.MaxTimeout <= 0 {
		config.MaxTimeout = DefaultRouterConfig().MaxTimeout
	}
	return &Router{
		registry: registry,
		config:   config,
		logger:   logger.With("component", "router"),
	}
}

// invocationArgs is the wire shape of invocation arguments.
type invocationArgs struct {
	Goal      json.RawMessage `json:"goal"`
	TimeoutMs int64           `json:"timeout_ms"`
}

// normalize resolves the goal union and the effective timeout once, at
// the router boundary.
func (r *Router) normalize(inv llmstream.InvocationRequest, c *Capability) (Call, error) {
	call := Call{Capability: inv.Capability}

	goal, timeoutMs, err := parseArguments(inv.Arguments)
	if err != nil {
		return call, err
	}
	call.Goal = goal

	timeout := r.config.DefaultTimeout
	if c != nil && c.DefaultTimeout > 0 {
		timeout = c.DefaultTimeout
	}
	if timeoutMs > 0 {
		timeout = time.Duration(timeoutMs) * time.Millisecond
	}
	if timeout > r.config.MaxTimeout {
		timeout = r.config.MaxTimeout
	}
	call.Timeout = timeout
	return call, nil
}

// parseArguments resolves the dynamic goal field: plain text for most
// capabilities, a structured object for filesystem-style calls.
func parseArguments(raw json.RawMessage) (Goal, int64, error) {
	if len(raw) == 0 {
		return Goal{}, 0, fmt.Errorf("empty invocation arguments")
	}

	// Bare string arguments are a text goal.
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return TextGoal(text), 0, nil
	}

	var args invocationArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return Goal{}, 0, fmt.Errorf("malformed invocation arguments: %w", err)
	}

	if len(args.Goal) == 0 {
		// No goal field: the whole object is a structured goal.
		return ObjectGoal(raw), args.TimeoutMs, nil
	}

	var goalText string
	if err := json.Unmarshal(args.Goal, &goalText); err == nil {
		return TextGoal(goalText), args.TimeoutMs, nil
	}
	return ObjectGoal(args.Goal), args.TimeoutMs, nil
}

// Dispatch resolves and invokes one capability, wrapping the outcome as
// a Result. The context carries loop-level cancellation; the call's
// timeout is independent of it.
func (r *Router) Dispatch(ctx context.Context, inv llmstream.InvocationRequest) Result {
	c := r.registry.Get(inv.Capability)
	if c == nil {
		r.logger.Warn("unknown capability requested", "capability", inv.Capability)
		return failedResult(inv.Capability, Goal{},
			fmt.Sprintf("unknown capability %q; known capabilities: %v", inv.Capability, r.registry.Names()))
	}

	call, err := r.normalize(inv, c)
	if err != nil {
		return failedResult(inv.Capability, Goal{}, err.Error())
	}

	return r.invoke(ctx, c, call)
}

// invoke runs the handler, racing it against the call timeout when the
// handler does not self-enforce it.
func (r *Router) invoke(ctx context.Context, c *Capability, call Call) Result {
	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if c.SelfTimed {
		var timeoutCancel context.CancelFunc
		callCtx, timeoutCancel = context.WithTimeout(callCtx, call.Timeout)
		defer timeoutCancel()
		return settle(call, runHandler(callCtx, c.Handler, call))
	}

	done := make(chan outcome, 1)
	go func() {
		done <- runHandler(callCtx, c.Handler, call)
	}()

	timer := time.NewTimer(call.Timeout)
	defer timer.Stop()

	select {
	case out := <-done:
		return settle(call, out)
	case <-timer.C:
		// Best-effort stop signal; the goroutine's result is discarded.
		cancel()
		r.logger.Warn("invocation timed out",
			"capability", call.Capability,
			"timeout", call.Timeout,
		)
		return failedResult(call.Capability, call.Goal,
			fmt.Sprintf("timed out after %s", call.Timeout))
	case <-ctx.Done():
		cancel()
		return failedResult(call.Capability, call.Goal, "cancelled")
	}
}

type outcome struct {
	result Result
	err    error
}

func runHandler(ctx context.Context, h Handler, call Call) outcome {
	result, err := h.Execute(ctx, call)
	return outcome{result: result, err: err}
}

// settle fills in the echoed call fields and folds a handler error into
// the result.
func settle(call Call, out outcome) Result {
	if out.err != nil {
		return failedResult(call.Capability, call.Goal, out.err.Error())
	}
	result := out.result
	result.Capability = call.Capability
	if result.Goal.Kind == "" {
		result.Goal = call.Goal
	}
	return result
}

// DispatchAll fans out every invocation concurrently and collects
// results in invocation order, not completion order. It returns only
// once every invocation has settled.
func (r *Router) DispatchAll(ctx context.Context, invs []llmstream.InvocationRequest) []Result {
	results := make([]Result, len(invs))
	var wg sync.WaitGroup
	for i, inv := range invs {
		wg.Add(1)
		go func(idx int, inv llmstream.InvocationRequest) {
			defer wg.Done()
			results[idx] = r.Dispatch(ctx, inv)
		}(i, inv)
	}
	wg.Wait()
	return results
}
