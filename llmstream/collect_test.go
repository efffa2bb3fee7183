package llmstream

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func eventChannel(events ...StreamEvent) <-chan StreamEvent {
	ch := make(chan StreamEvent, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return ch
}

func TestCollectorForwardsDeltasInOrder(t *testing.T) {
	var got []string
	collector := NewCollector(func(delta string) {
		got = append(got, delta)
	})

	resp, err := collector.Collect(context.Background(), eventChannel(
		StreamEvent{Type: StreamStart},
		StreamEvent{Type: StreamTextDelta, Delta: "The "},
		StreamEvent{Type: StreamTextDelta, Delta: "answer "},
		StreamEvent{Type: StreamTextDelta, Delta: "is 42."},
		StreamEvent{Type: StreamUsage, Usage: &Usage{PromptTokens: 5, OutputTokens: 3, TotalTokens: 8}},
		StreamEvent{Type: StreamFinish},
	))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if want := []string{"The ", "answer ", "is 42."}; strings.Join(got, "") != strings.Join(want, "") {
		t.Errorf("deltas out of order: %v", got)
	}
	if resp.Text != "The answer is 42." {
		t.Errorf("unexpected accumulated text: %q", resp.Text)
	}
	if resp.Usage.TotalTokens != 8 {
		t.Errorf("usage not captured: %+v", resp.Usage)
	}
}

func TestCollectorAccumulatesInvocations(t *testing.T) {
	args := json.RawMessage(`{"goal":"read it"}`)
	collector := NewCollector(nil)

	resp, err := collector.Collect(context.Background(), eventChannel(
		StreamEvent{Type: StreamStart},
		StreamEvent{Type: StreamInvocation, Invocation: &InvocationRequest{ID: "inv_1", Capability: "fs", Arguments: args}},
		StreamEvent{Type: StreamInvocation, Invocation: &InvocationRequest{ID: "inv_2", Capability: "browser", Arguments: args}},
		StreamEvent{Type: StreamUsage, Usage: &Usage{TotalTokens: 1}},
		StreamEvent{Type: StreamFinish},
	))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(resp.Invocations) != 2 {
		t.Fatalf("expected 2 invocations, got %d", len(resp.Invocations))
	}
	if resp.Invocations[0].ID != "inv_1" || resp.Invocations[1].ID != "inv_2" {
		t.Errorf("invocation order not preserved: %+v", resp.Invocations)
	}
	if resp.FinishReason != "invocations" {
		t.Errorf("expected finish reason %q, got %q", "invocations", resp.FinishReason)
	}
}

func TestCollectorPrefersSettledResponse(t *testing.T) {
	collector := NewCollector(nil)

	resp, err := collector.Collect(context.Background(), eventChannel(
		StreamEvent{Type: StreamTextDelta, Delta: "partial"},
		StreamEvent{Type: StreamFinish, Response: &Response{
			ID: "resp_1", Model: "m", Usage: Usage{TotalTokens: 9}, FinishReason: "stop",
		}},
	))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.ID != "resp_1" {
		t.Errorf("settled response not used: %+v", resp)
	}
	if resp.Text != "partial" {
		t.Errorf("forwarded text must win over empty settled text: %q", resp.Text)
	}
}

func TestCollectorCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	ch := make(chan StreamEvent, 2)
	ch <- StreamEvent{Type: StreamTextDelta, Delta: "partial "}
	// Channel left open: the stream never finishes.

	sawDelta := make(chan struct{})
	collector := NewCollector(func(string) { close(sawDelta) })

	done := make(chan struct{})
	var resp *Response
	var err error
	go func() {
		resp, err = collector.Collect(ctx, ch)
		close(done)
	}()

	<-sawDelta
	cancel()
	<-done

	var cancelled *CancelledError
	if !errors.As(err, &cancelled) {
		t.Fatalf("expected CancelledError, got %v", err)
	}
	if resp == nil || resp.Text != "partial " {
		t.Errorf("expected partial text to survive cancellation, got %+v", resp)
	}
}

func TestCollectorStreamError(t *testing.T) {
	boom := &ServerError{UpstreamError: UpstreamError{
		ClientError: ClientError{Message: "upstream exploded"},
		StatusCode:  500, Retryable: true,
	}}
	collector := NewCollector(nil)

	_, err := collector.Collect(context.Background(), eventChannel(
		StreamEvent{Type: StreamTextDelta, Delta: "some"},
		StreamEvent{Type: StreamError, Err: boom},
	))
	if err == nil {
		t.Fatal("expected stream error to propagate")
	}
	if _, ok := err.(*ServerError); !ok {
		t.Errorf("expected ServerError, got %T", err)
	}
}
