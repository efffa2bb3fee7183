package runloop

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/driftwoodlabs/relay/llmstream"
)

func newTestRouter(t *testing.T, registry *Registry) *Router {
	t.Helper()
	return NewRouter(registry, DefaultRouterConfig(), testLogger())
}

func TestParseArgumentsGoalShapes(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantKind GoalKind
		wantText string
		wantErr  bool
	}{
		{name: "bare string", raw: `"summarize the report"`, wantKind: GoalText, wantText: "summarize the report"},
		{name: "goal field string", raw: `{"goal":"do the thing"}`, wantKind: GoalText, wantText: "do the thing"},
		{name: "goal field object", raw: `{"goal":{"path":"/etc/hosts"}}`, wantKind: GoalObject},
		{name: "object without goal", raw: `{"path":"/etc/hosts","offset":10}`, wantKind: GoalObject},
		{name: "empty", raw: ``, wantErr: true},
		{name: "malformed", raw: `{`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			goal, _, err := parseArguments(json.RawMessage(tt.raw))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseArguments: %v", err)
			}
			if goal.Kind != tt.wantKind {
				t.Errorf("kind = %q, want %q", goal.Kind, tt.wantKind)
			}
			if tt.wantText != "" && goal.Text != tt.wantText {
				t.Errorf("text = %q, want %q", goal.Text, tt.wantText)
			}
		})
	}
}

func TestNormalizeTimeoutPrecedence(t *testing.T) {
	registry := NewRegistry()
	router := NewRouter(registry, RouterConfig{
		DefaultTimeout: 30 * time.Second,
		MaxTimeout:     2 * time.Minute,
	}, testLogger())

	capDefault := &Capability{DefaultTimeout: 45 * time.Second}

	tests := []struct {
		name string
		c    *Capability
		args string
		want time.Duration
	}{
		{name: "router default", c: &Capability{}, args: `"x"`, want: 30 * time.Second},
		{name: "capability default wins", c: capDefault, args: `"x"`, want: 45 * time.Second},
		{name: "invocation override wins", c: capDefault, args: `{"goal":"x","timeout_ms":5000}`, want: 5 * time.Second},
		{name: "override clamped to max", c: capDefault, args: `{"goal":"x","timeout_ms":600000}`, want: 2 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			call, err := router.normalize(llmstream.InvocationRequest{
				Capability: "any",
				Arguments:  json.RawMessage(tt.args),
			}, tt.c)
			if err != nil {
				t.Fatalf("normalize: %v", err)
			}
			if call.Timeout != tt.want {
				t.Errorf("timeout = %s, want %s", call.Timeout, tt.want)
			}
		})
	}
}

func TestDispatchUnknownCapability(t *testing.T) {
	registry := NewRegistry()
	registerEcho(t, registry)
	router := newTestRouter(t, registry)

	res := router.Dispatch(context.Background(), llmstream.InvocationRequest{
		ID: "i1", Capability: "nope", Arguments: json.RawMessage(`"x"`),
	})
	if res.OK {
		t.Fatal("unknown capability reported ok")
	}
	if !strings.Contains(res.Error, "unknown capability") || !strings.Contains(res.Error, "echo") {
		t.Errorf("error = %q, want unknown-capability message listing known names", res.Error)
	}
}

func TestDispatchHandlerErrorBecomesResult(t *testing.T) {
	registry := NewRegistry()
	err := registry.Register(Capability{
		Manifest: llmstream.ToolDef{Name: "flaky"},
		Handler: HandlerFunc(func(ctx context.Context, call Call) (Result, error) {
			return Result{}, errors.New("backend unavailable")
		}),
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	router := newTestRouter(t, registry)

	res := router.Dispatch(context.Background(), llmstream.InvocationRequest{
		ID: "i1", Capability: "flaky", Arguments: json.RawMessage(`"x"`),
	})
	if res.OK {
		t.Fatal("failed handler reported ok")
	}
	if res.Error != "backend unavailable" {
		t.Errorf("error = %q", res.Error)
	}
	if res.Capability != "flaky" {
		t.Errorf("capability = %q", res.Capability)
	}
}

func TestDispatchEchoesCallFields(t *testing.T) {
	registry := NewRegistry()
	err := registry.Register(Capability{
		Manifest: llmstream.ToolDef{Name: "quiet"},
		Handler: HandlerFunc(func(ctx context.Context, call Call) (Result, error) {
			// Handler fills in nothing but ok.
			return Result{OK: true}, nil
		}),
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	router := newTestRouter(t, registry)

	res := router.Dispatch(context.Background(), llmstream.InvocationRequest{
		ID: "i1", Capability: "quiet", Arguments: json.RawMessage(`"the goal"`),
	})
	if !res.OK {
		t.Fatalf("result = %+v", res)
	}
	if res.Capability != "quiet" {
		t.Errorf("capability = %q", res.Capability)
	}
	if res.Goal.Text != "the goal" {
		t.Errorf("goal = %+v, want echoed", res.Goal)
	}
}

func TestDispatchTimeout(t *testing.T) {
	registry := NewRegistry()
	err := registry.Register(Capability{
		Manifest:       llmstream.ToolDef{Name: "sleeper"},
		DefaultTimeout: 30 * time.Millisecond,
		Handler: HandlerFunc(func(ctx context.Context, call Call) (Result, error) {
			select {
			case <-time.After(5 * time.Second):
				return Result{OK: true}, nil
			case <-ctx.Done():
				return Result{}, ctx.Err()
			}
		}),
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	router := newTestRouter(t, registry)

	start := time.Now()
	res := router.Dispatch(context.Background(), llmstream.InvocationRequest{
		ID: "i1", Capability: "sleeper", Arguments: json.RawMessage(`"x"`),
	})
	if res.OK {
		t.Fatal("timed-out call reported ok")
	}
	if !strings.Contains(res.Error, "timed out after") {
		t.Errorf("error = %q", res.Error)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("dispatch took %s, timeout did not fire", elapsed)
	}
}

func TestDispatchSelfTimedGetsDeadline(t *testing.T) {
	registry := NewRegistry()
	var sawDeadline bool
	err := registry.Register(Capability{
		Manifest:       llmstream.ToolDef{Name: "self"},
		DefaultTimeout: time.Second,
		SelfTimed:      true,
		Handler: HandlerFunc(func(ctx context.Context, call Call) (Result, error) {
			_, sawDeadline = ctx.Deadline()
			return Result{OK: true, Summary: "self-enforced"}, nil
		}),
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	router := newTestRouter(t, registry)

	res := router.Dispatch(context.Background(), llmstream.InvocationRequest{
		ID: "i1", Capability: "self", Arguments: json.RawMessage(`"x"`),
	})
	if !res.OK {
		t.Fatalf("result = %+v", res)
	}
	if !sawDeadline {
		t.Error("self-timed handler saw no context deadline")
	}
}

func TestDispatchParentCancellation(t *testing.T) {
	registry := NewRegistry()
	err := registry.Register(Capability{
		Manifest: llmstream.ToolDef{Name: "hang"},
		Handler: HandlerFunc(func(ctx context.Context, call Call) (Result, error) {
			<-ctx.Done()
			return Result{}, ctx.Err()
		}),
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	router := newTestRouter(t, registry)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	res := router.Dispatch(ctx, llmstream.InvocationRequest{
		ID: "i1", Capability: "hang", Arguments: json.RawMessage(`"x"`),
	})
	if res.OK {
		t.Fatal("cancelled call reported ok")
	}
	if res.Error != "cancelled" {
		t.Errorf("error = %q", res.Error)
	}
}

func TestDispatchAllOrderUnderVariedLatency(t *testing.T) {
	registry := NewRegistry()
	err := registry.Register(Capability{
		Manifest: llmstream.ToolDef{Name: "vary"},
		Handler: HandlerFunc(func(ctx context.Context, call Call) (Result, error) {
			switch call.Goal.Text {
			case "first":
				time.Sleep(60 * time.Millisecond)
			case "second":
				time.Sleep(5 * time.Millisecond)
			}
			return Result{OK: true, Summary: call.Goal.Text}, nil
		}),
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	router := newTestRouter(t, registry)

	invs := []llmstream.InvocationRequest{
		{ID: "i1", Capability: "vary", Arguments: json.RawMessage(`"first"`)},
		{ID: "i2", Capability: "vary", Arguments: json.RawMessage(`"second"`)},
		{ID: "i3", Capability: "vary", Arguments: json.RawMessage(`"third"`)},
	}
	results := router.DispatchAll(context.Background(), invs)
	if len(results) != 3 {
		t.Fatalf("results = %+v", results)
	}
	for i, want := range []string{"first", "second", "third"} {
		if results[i].Summary != want {
			t.Errorf("results[%d] = %q, want %q", i, results[i].Summary, want)
		}
	}
}

func TestRegistryRejectsInvalid(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(Capability{Handler: HandlerFunc(nil)}); err == nil {
		t.Error("nameless capability accepted")
	}
	if err := registry.Register(Capability{Manifest: llmstream.ToolDef{Name: "x"}}); err == nil {
		t.Error("handlerless capability accepted")
	}
}
