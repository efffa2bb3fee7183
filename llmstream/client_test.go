package llmstream

import (
	"context"
	"testing"
)

// mockAdapter is a scripted ProviderAdapter for tests.
type mockAdapter struct {
	name      string
	calls     []Request
	streamFn  func(req Request) (<-chan StreamEvent, error)
	failFirst error // returned on the first call only
}

func (m *mockAdapter) Name() string { return m.name }

func (m *mockAdapter) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	m.calls = append(m.calls, req)
	if m.failFirst != nil && len(m.calls) == 1 {
		return nil, m.failFirst
	}
	if m.streamFn != nil {
		return m.streamFn(req)
	}
	ch := make(chan StreamEvent, 4)
	ch <- StreamEvent{Type: StreamStart}
	ch <- StreamEvent{Type: StreamTextDelta, Delta: "ok"}
	ch <- StreamEvent{Type: StreamUsage, Usage: &Usage{PromptTokens: 1, OutputTokens: 1, TotalTokens: 2}}
	ch <- StreamEvent{Type: StreamFinish}
	close(ch)
	return ch, nil
}

func TestClientResolvesDefaultProvider(t *testing.T) {
	adapter := &mockAdapter{name: "mock"}
	client := NewClient(WithProvider("mock", adapter))

	_, err := client.Stream(context.Background(), Request{Model: "m"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(adapter.calls) != 1 {
		t.Fatalf("expected 1 adapter call, got %d", len(adapter.calls))
	}
	if adapter.calls[0].Provider != "mock" {
		t.Errorf("expected provider to be filled in, got %q", adapter.calls[0].Provider)
	}
}

func TestClientUnknownProvider(t *testing.T) {
	client := NewClient(WithProvider("mock", &mockAdapter{name: "mock"}))

	_, err := client.Stream(context.Background(), Request{Provider: "nope"})
	if err == nil {
		t.Fatal("expected error for unknown provider")
	}
	if _, ok := err.(*ConfigurationError); !ok {
		t.Errorf("expected ConfigurationError, got %T", err)
	}
}

func TestClientNoProviders(t *testing.T) {
	client := NewClient()
	_, err := client.Stream(context.Background(), Request{})
	if err == nil {
		t.Fatal("expected error with no providers")
	}
}

func TestClientRetriesDeliberationRejectionOnce(t *testing.T) {
	rejection := &InvalidRequestError{
		UpstreamError: UpstreamError{
			ClientError: ClientError{Message: "model does not accept reasoning_effort"},
			Provider:    "mock", StatusCode: 400,
		},
		Param: "deliberation_depth",
	}
	adapter := &mockAdapter{name: "mock", failFirst: rejection}
	client := NewClient(WithProvider("mock", adapter))

	_, err := client.Stream(context.Background(), Request{Model: "m", DeliberationDepth: "high"})
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if len(adapter.calls) != 2 {
		t.Fatalf("expected 2 adapter calls, got %d", len(adapter.calls))
	}
	if adapter.calls[0].DeliberationDepth != "high" {
		t.Errorf("first call should carry deliberation depth")
	}
	if adapter.calls[1].DeliberationDepth != "" {
		t.Errorf("retry should clear deliberation depth, got %q", adapter.calls[1].DeliberationDepth)
	}
}

func TestClientDoesNotRetryWithoutDeliberation(t *testing.T) {
	rejection := &InvalidRequestError{
		UpstreamError: UpstreamError{
			ClientError: ClientError{Message: "bad request"},
			Provider:    "mock", StatusCode: 400,
		},
		Param: "deliberation_depth",
	}
	adapter := &mockAdapter{name: "mock", failFirst: rejection}
	client := NewClient(WithProvider("mock", adapter))

	// No deliberation depth set: the rejection propagates unchanged.
	_, err := client.Stream(context.Background(), Request{Model: "m"})
	if err == nil {
		t.Fatal("expected error to propagate")
	}
	if len(adapter.calls) != 1 {
		t.Fatalf("expected 1 adapter call, got %d", len(adapter.calls))
	}
}

func TestClientPropagatesOtherFailures(t *testing.T) {
	failure := &ServerError{UpstreamError: UpstreamError{
		ClientError: ClientError{Message: "boom"},
		Provider:    "mock", StatusCode: 500, Retryable: true,
	}}
	adapter := &mockAdapter{name: "mock", failFirst: failure}
	client := NewClient(
		WithProvider("mock", adapter),
		WithRetryPolicy(RetryPolicy{MaxRetries: 0}),
	)

	_, err := client.Stream(context.Background(), Request{Model: "m", DeliberationDepth: "low"})
	if err == nil {
		t.Fatal("expected error")
	}
	if _, ok := err.(*ServerError); !ok {
		t.Errorf("expected ServerError, got %T", err)
	}
	if len(adapter.calls) != 1 {
		t.Fatalf("server errors must not trigger the deliberation retry, got %d calls", len(adapter.calls))
	}
}

func TestClientRetriesTransportFailure(t *testing.T) {
	failure := &ServerError{UpstreamError: UpstreamError{
		ClientError: ClientError{Message: "overloaded"},
		Provider:    "mock", StatusCode: 503, Retryable: true,
	}}
	adapter := &mockAdapter{name: "mock", failFirst: failure}
	client := NewClient(
		WithProvider("mock", adapter),
		WithRetryPolicy(RetryPolicy{MaxRetries: 1, BaseDelay: 0.001, BackoffMultiplier: 2.0}),
	)

	events, err := client.Stream(context.Background(), Request{Model: "m"})
	if err != nil {
		t.Fatalf("expected retry to recover, got %v", err)
	}
	resp, err := NewCollector(nil).Collect(context.Background(), events)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if resp.Text != "ok" {
		t.Errorf("text = %q", resp.Text)
	}
	if len(adapter.calls) != 2 {
		t.Fatalf("expected 2 adapter calls, got %d", len(adapter.calls))
	}
}

func TestClientDoesNotRetryNonRetryableFailure(t *testing.T) {
	failure := &AuthenticationError{UpstreamError: UpstreamError{
		ClientError: ClientError{Message: "bad key"},
		Provider:    "mock", StatusCode: 401,
	}}
	adapter := &mockAdapter{name: "mock", failFirst: failure}
	client := NewClient(
		WithProvider("mock", adapter),
		WithRetryPolicy(RetryPolicy{MaxRetries: 3, BaseDelay: 0.001, BackoffMultiplier: 2.0}),
	)

	if _, err := client.Stream(context.Background(), Request{Model: "m"}); err == nil {
		t.Fatal("expected error")
	}
	if len(adapter.calls) != 1 {
		t.Fatalf("auth errors must not be retried, got %d calls", len(adapter.calls))
	}
}

func TestClientRetriesDeliberationRejectionFromStream(t *testing.T) {
	rejection := &InvalidRequestError{
		UpstreamError: UpstreamError{
			ClientError: ClientError{Message: "model does not accept reasoning_effort"},
			Provider:    "mock", StatusCode: 400,
		},
		Param: "deliberation_depth",
	}

	// The rejection arrives as a stream event, not from the Stream call.
	adapter := &mockAdapter{name: "mock"}
	adapter.streamFn = func(req Request) (<-chan StreamEvent, error) {
		ch := make(chan StreamEvent, 4)
		ch <- StreamEvent{Type: StreamStart}
		if len(adapter.calls) == 1 {
			ch <- StreamEvent{Type: StreamError, Err: rejection}
		} else {
			ch <- StreamEvent{Type: StreamTextDelta, Delta: "ok"}
			ch <- StreamEvent{Type: StreamFinish}
		}
		close(ch)
		return ch, nil
	}
	client := NewClient(WithProvider("mock", adapter))

	events, err := client.Stream(context.Background(), Request{Model: "m", DeliberationDepth: "high"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	resp, err := NewCollector(nil).Collect(context.Background(), events)
	if err != nil {
		t.Fatalf("expected mid-stream rejection to be retried, got %v", err)
	}
	if resp.Text != "ok" {
		t.Errorf("text = %q", resp.Text)
	}
	if len(adapter.calls) != 2 {
		t.Fatalf("expected 2 adapter calls, got %d", len(adapter.calls))
	}
	if adapter.calls[1].DeliberationDepth != "" {
		t.Errorf("retry should clear deliberation depth, got %q", adapter.calls[1].DeliberationDepth)
	}
}

func TestClientStreamErrorWithoutDeliberationNotRetried(t *testing.T) {
	failure := &ServerError{UpstreamError: UpstreamError{
		ClientError: ClientError{Message: "mid-stream failure"},
		Provider:    "mock", StatusCode: 500, Retryable: true,
	}}
	adapter := &mockAdapter{name: "mock"}
	adapter.streamFn = func(req Request) (<-chan StreamEvent, error) {
		ch := make(chan StreamEvent, 2)
		ch <- StreamEvent{Type: StreamStart}
		ch <- StreamEvent{Type: StreamError, Err: failure}
		close(ch)
		return ch, nil
	}
	client := NewClient(WithProvider("mock", adapter))

	events, err := client.Stream(context.Background(), Request{Model: "m", DeliberationDepth: "high"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if _, err := NewCollector(nil).Collect(context.Background(), events); err == nil {
		t.Fatal("expected the stream error to propagate")
	}
	if len(adapter.calls) != 1 {
		t.Fatalf("non-deliberation stream errors must not be retried, got %d calls", len(adapter.calls))
	}
}

func TestClientMiddlewareOrder(t *testing.T) {
	var order []string
	mw := func(tag string) StreamMiddleware {
		return func(ctx context.Context, req Request, next func(context.Context, Request) (<-chan StreamEvent, error)) (<-chan StreamEvent, error) {
			order = append(order, tag)
			return next(ctx, req)
		}
	}

	adapter := &mockAdapter{name: "mock"}
	client := NewClient(
		WithProvider("mock", adapter),
		WithMiddleware(mw("first"), mw("second")),
	)

	if _, err := client.Stream(context.Background(), Request{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("middleware ran in wrong order: %v", order)
	}
}
