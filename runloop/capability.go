package runloop

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/driftwoodlabs/relay/llmstream"
)

// GoalKind discriminates the two goal payload shapes.
type GoalKind string

const (
	GoalText   GoalKind = "text"   // plain-text goal, the common case
	GoalObject GoalKind = "object" // structured goal, e.g. filesystem calls
)

// Goal is the tagged union carried by every capability call. It is
// resolved once at the router boundary, never re-interpreted inside
// handlers.
type Goal struct {
	Kind   GoalKind        `json:"kind"`
	Text   string          `json:"text,omitempty"`
	Object json.RawMessage `json:"object,omitempty"`
}

// TextGoal creates a plain-text Goal.
func TextGoal(text string) Goal {
	return Goal{Kind: GoalText, Text: text}
}

// ObjectGoal creates a structured Goal.
func ObjectGoal(object json.RawMessage) Goal {
	return Goal{Kind: GoalObject, Object: object}
}

// String renders the goal for summaries and echoes.
func (g Goal) String() string {
	if g.Kind == GoalObject {
		return string(g.Object)
	}
	return g.Text
}

// Call is the normalized internal call descriptor handed to a handler.
type Call struct {
	Capability string
	Goal       Goal
	Timeout    time.Duration
}

// TimelineEntry is one progress note reported by a handler.
type TimelineEntry struct {
	At   time.Time `json:"at"`
	Note string    `json:"note"`
}

// Result is the settled outcome of one capability invocation.
type Result struct {
	OK         bool             `json:"ok"`
	Capability string           `json:"agent"`
	Goal       Goal             `json:"goal"`
	Summary    string           `json:"summary,omitempty"`
	Payload    json.RawMessage  `json:"payload,omitempty"`
	Error      string           `json:"error,omitempty"`
	Timeline   []TimelineEntry  `json:"timeline,omitempty"`
	Usage      *llmstream.Usage `json:"usage,omitempty"`
}

// failedResult builds an ok=false Result for the given call.
func failedResult(capability string, goal Goal, errMsg string) Result {
	return Result{
		OK:         false,
		Capability: capability,
		Goal:       goal,
		Error:      errMsg,
	}
}

// Handler implements one invocable capability. Implementations must
// tolerate concurrent invocation for distinct goals and honor ctx
// cancellation promptly. The router assumes nothing about a handler's
// internal concurrency.
type Handler interface {
	Execute(ctx context.Context, call Call) (Result, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, call Call) (Result, error)

func (f HandlerFunc) Execute(ctx context.Context, call Call) (Result, error) {
	return f(ctx, call)
}

// Capability pairs a handler with its manifest entry and dispatch
// defaults.
type Capability struct {
	Manifest llmstream.ToolDef
	Handler  Handler
	// DefaultTimeout applies when the invocation carries no override.
	// 0 falls back to the router default.
	DefaultTimeout time.Duration
	// SelfTimed handlers enforce their own timeout; the router skips
	// its timer race for them.
	SelfTimed bool
}

// Registry manages capability registration and lookup.
type Registry struct {
	mu           sync.RWMutex
	capabilities map[string]*Capability
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{capabilities: make(map[string]*Capability)}
}

// Register adds or replaces a capability.
func (r *Registry) Register(c Capability) error {
	if c.Manifest.Name == "" {
		return fmt.Errorf("capability name required")
	}
	if c.Handler == nil {
		return fmt.Errorf("capability %q has no handler", c.Manifest.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capabilities[c.Manifest.Name] = &c
	return nil
}

// Get returns a registered capability by name, or nil.
func (r *Registry) Get(name string) *Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.capabilities[name]
}

// Manifest returns every capability's manifest entry for the model.
func (r *Registry) Manifest() []llmstream.ToolDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]llmstream.ToolDef, 0, len(r.capabilities))
	for _, c := range r.capabilities {
		defs = append(defs, c.Manifest)
	}
	return defs
}

// Names returns the names of all registered capabilities.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.capabilities))
	for name := range r.capabilities {
		names = append(names, name)
	}
	return names
}
