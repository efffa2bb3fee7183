package runloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/driftwoodlabs/relay/llmstream"
	"github.com/driftwoodlabs/relay/usage"
)

// Status is the terminal state of one loop run.
type Status string

const (
	StatusDone           Status = "done"
	StatusCancelled      Status = "cancelled"
	StatusIterationLimit Status = "iteration_limit"
	StatusError          Status = "error"
)

// Outcome is the settled result of one loop run.
type Outcome struct {
	Status             Status            `json:"status"`
	Text               string            `json:"text"`
	IterationsUsed     int               `json:"iterations_used"`
	Results            []Result          `json:"results,omitempty"`
	Continuation       *Continuation     `json:"continuation,omitempty"`
	SkippedAttachments []SkipNote        `json:"skipped_attachments,omitempty"`
	Usage              llmstream.Usage   `json:"usage"`
}

// StreamClient issues a turn list to the reasoning service. Satisfied by
// *llmstream.Client.
type StreamClient interface {
	Stream(ctx context.Context, req llmstream.Request) (<-chan llmstream.StreamEvent, error)
}

// UsageTracker observes usage events and task lifecycle. Satisfied by
// *usage.Aggregator. A nil tracker disables usage tracking.
type UsageTracker interface {
	StartTask(goal string) *usage.Task
	FinishTask(status usage.TaskStatus)
	Record(ctx context.Context, ev usage.Event)
}

// LoopConfig holds per-conversation loop policy.
type LoopConfig struct {
	Model             string
	Provider          string
	DeliberationDepth string // "low", "medium", "high", or ""
	// MaxIterations bounds reasoning calls per run. 0 means the default
	// of 10.
	MaxIterations int
}

// DefaultMaxIterations is the iteration budget used when none is
// configured.
const DefaultMaxIterations = 10

// Loop drives the assemble, call, dispatch, re-inject cycle for one
// conversation. One Loop owns one conversation's active turn-cycle;
// Run is not re-entrant.
type Loop struct {
	conv      *Conversation
	client    StreamClient
	router    *Router
	registry  *Registry
	assembler Assembler
	config    LoopConfig
	tracker   UsageTracker
	logger    *slog.Logger

	mu      sync.Mutex
	running bool
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithUsageTracker attaches a usage tracker.
func WithUsageTracker(tracker UsageTracker) LoopOption {
	return func(l *Loop) { l.tracker = tracker }
}

// WithLoopLogger sets the loop logger.
func WithLoopLogger(logger *slog.Logger) LoopOption {
	return func(l *Loop) { l.logger = logger }
}

// WithAssembler overrides the default turn assembler.
func WithAssembler(a Assembler) LoopOption {
	return func(l *Loop) { l.assembler = a }
}

// NewLoop creates a Loop over the given conversation, client, and
// capability router.
func NewLoop(conv *Conversation, client StreamClient, router *Router, registry *Registry, config LoopConfig, opts ...LoopOption) *Loop {
	l := &Loop{
		conv:     conv,
		client:   client,
		router:   router,
		registry: registry,
		config:   config,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	l.logger = l.logger.With("component", "runloop", "conversation", conv.ID())
	return l
}

// acquire reserves the single run slot.
func (l *Loop) acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return fmt.Errorf("loop already running for conversation %s", l.conv.ID())
	}
	l.running = true
	return nil
}

func (l *Loop) release() {
	l.mu.Lock()
	l.running = false
	l.mu.Unlock()
}

// Start runs the loop in the background and returns its ordered event
// stream. The terminal done event carries the outcome. The run slot is
// reserved before returning, so a rejected caller gets an error here
// rather than a dead event stream.
func (l *Loop) Start(ctx context.Context, userText string, attachments []Attachment) (<-chan Event, error) {
	if err := l.acquire(); err != nil {
		return nil, err
	}

	emitter := NewEmitter(256)
	go func() {
		defer l.release()
		_, _ = l.run(ctx, userText, attachments, emitter)
	}()
	return emitter.Events(), nil
}

// Run executes the loop to completion. The emitter receives the ordered
// event stream and may be nil. On an upstream service failure the
// returned outcome carries the best-effort partial answer alongside a
// non-nil error.
func (l *Loop) Run(ctx context.Context, userText string, attachments []Attachment, emitter *Emitter) (*Outcome, error) {
	if err := l.acquire(); err != nil {
		return nil, err
	}
	defer l.release()
	return l.run(ctx, userText, attachments, emitter)
}

// run is the loop body; the caller holds the run slot. Every return
// path emits the terminal done event.
func (l *Loop) run(ctx context.Context, userText string, attachments []Attachment, emitter *Emitter) (*Outcome, error) {
	if emitter == nil {
		emitter = NewEmitter(1) // discard; nothing reads it
	}

	if l.tracker != nil {
		l.tracker.StartTask(userText)
	}

	messages, skipped := l.assembler.Assemble(l.conv.Messages(), userText, attachments)
	l.conv.Append("user", userText)
	for _, note := range skipped {
		l.logger.Warn("attachment skipped", "name", note.Name, "reason", note.Reason)
	}

	outcome := &Outcome{SkippedAttachments: skipped}
	maxIterations := l.config.MaxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}

	var text strings.Builder
	manifest := l.registry.Manifest()

	for iteration := 1; ; iteration++ {
		outcome.IterationsUsed = iteration

		if ctx.Err() != nil {
			return l.finishCancelled(outcome, text.String(), emitter), nil
		}

		resp, err := l.streamTurn(ctx, messages, manifest, emitter)
		if resp != nil {
			if resp.Text != "" {
				if text.Len() > 0 {
					text.WriteString("\n")
				}
				text.WriteString(resp.Text)
			}
			outcome.Usage = outcome.Usage.Add(resp.Usage)
		}
		if err != nil {
			var cancelled *llmstream.CancelledError
			if errors.As(err, &cancelled) || ctx.Err() != nil {
				return l.finishCancelled(outcome, text.String(), emitter), nil
			}
			// Upstream failure: propagate, but hand the caller whatever
			// answer material already exists.
			outcome.Status = StatusError
			outcome.Text = fallbackText(text.String(), outcome.Results)
			l.finishTask(usage.TaskError)
			emitter.Done(outcome)
			return outcome, err
		}

		l.recordModelUsage(ctx, resp.Usage)

		if len(resp.Invocations) == 0 {
			outcome.Status = StatusDone
			outcome.Text = fallbackText(text.String(), outcome.Results)
			l.conv.Append("assistant", outcome.Text)
			l.finishTask(usage.TaskCompleted)
			emitter.Done(outcome)
			return outcome, nil
		}

		if iteration >= maxIterations {
			return l.finishIterationLimit(outcome, text.String(), emitter), nil
		}

		results := l.dispatchRound(ctx, resp.Invocations, emitter)
		outcome.Results = append(outcome.Results, results...)

		if ctx.Err() != nil {
			return l.finishCancelled(outcome, text.String(), emitter), nil
		}

		messages = appendRound(messages, resp, results)
	}
}

// streamTurn issues one reasoning call and folds the stream, forwarding
// text deltas to the emitter as chunks.
func (l *Loop) streamTurn(ctx context.Context, messages []llmstream.Message, manifest []llmstream.ToolDef, emitter *Emitter) (*llmstream.Response, error) {
	req := llmstream.Request{
		Model:             l.config.Model,
		Provider:          l.config.Provider,
		Messages:          messages,
		Manifest:          manifest,
		DeliberationDepth: l.config.DeliberationDepth,
	}

	events, err := l.client.Stream(ctx, req)
	if err != nil {
		return nil, err
	}

	collector := llmstream.NewCollector(func(delta string) {
		emitter.Emit(Event{Kind: EventChunk, Text: delta})
	})
	return collector.Collect(ctx, events)
}

// dispatchRound fans out one iteration's invocations and reports start
// and result events in invocation order.
func (l *Loop) dispatchRound(ctx context.Context, invs []llmstream.InvocationRequest, emitter *Emitter) []Result {
	for i := range invs {
		inv := invs[i]
		emitter.Emit(Event{Kind: EventInvocationStart, Invocation: &inv})
	}

	started := time.Now()
	results := l.router.DispatchAll(ctx, invs)
	l.logger.Debug("invocation round settled",
		"count", len(invs),
		"elapsed", time.Since(started),
	)

	for i := range results {
		inv := invs[i]
		res := results[i]
		emitter.Emit(Event{Kind: EventInvocationResult, Invocation: &inv, Result: &res})
		l.recordCapabilityUsage(ctx, res)
	}
	return results
}

// appendRound extends the turn list with the assistant's invocations and
// their results, preserving invocation order.
func appendRound(messages []llmstream.Message, resp *llmstream.Response, results []Result) []llmstream.Message {
	asst := llmstream.Message{Role: llmstream.RoleAssistant}
	if resp.Text != "" {
		asst.Parts = append(asst.Parts, llmstream.TextPart(resp.Text))
	}
	for _, inv := range resp.Invocations {
		asst.Parts = append(asst.Parts, llmstream.InvocationPart(inv.ID, inv.Capability, inv.Arguments))
	}
	messages = append(messages, asst)

	for i, res := range results {
		content, err := json.Marshal(res)
		if err != nil {
			content = []byte(fmt.Sprintf(`{"ok":false,"error":%q}`, err.Error()))
		}
		messages = append(messages, llmstream.ResultMessage(resp.Invocations[i].ID, string(content), !res.OK))
	}
	return messages
}

func (l *Loop) finishCancelled(outcome *Outcome, text string, emitter *Emitter) *Outcome {
	// No synthetic assistant turn: the conversation must not claim a
	// completed answer that never happened.
	outcome.Status = StatusCancelled
	outcome.Text = fallbackText(text, outcome.Results)
	l.finishTask(usage.TaskStopped)
	l.logger.Info("run cancelled", "iterations", outcome.IterationsUsed)
	emitter.Done(outcome)
	return outcome
}

func (l *Loop) finishIterationLimit(outcome *Outcome, text string, emitter *Emitter) *Outcome {
	outcome.Status = StatusIterationLimit
	outcome.Text = fallbackText(text, outcome.Results)
	if outcome.Text == "" {
		outcome.Text = fmt.Sprintf("Stopped after %d iterations with work still pending.", outcome.IterationsUsed)
	}
	outcome.Continuation = &Continuation{
		ConversationID: l.conv.ID(),
		IterationsUsed: outcome.IterationsUsed,
		Reason:         ReasonIterationLimit,
		PendingText:    text,
		IssuedAt:       time.Now(),
	}
	l.finishTask(usage.TaskInterrupted)
	l.logger.Info("iteration budget exhausted", "iterations", outcome.IterationsUsed)
	emitter.Done(outcome)
	return outcome
}

func (l *Loop) finishTask(status usage.TaskStatus) {
	if l.tracker != nil {
		l.tracker.FinishTask(status)
	}
}

func (l *Loop) recordModelUsage(ctx context.Context, u llmstream.Usage) {
	if l.tracker == nil {
		return
	}
	l.tracker.Record(ctx, usage.Event{
		Component:      "reasoner",
		Phase:          "turn",
		Model:          l.config.Model,
		PromptTokens:   u.PromptTokens,
		OutputTokens:   u.OutputTokens,
		ThoughtsTokens: u.ThoughtsTokens,
		TotalTokens:    u.TotalTokens,
	})
}

func (l *Loop) recordCapabilityUsage(ctx context.Context, res Result) {
	if l.tracker == nil || res.Usage == nil {
		return
	}
	// The capability's own model is opaque here; the event stays
	// unpriced but its tokens still accumulate.
	l.tracker.Record(ctx, usage.Event{
		Component:      res.Capability,
		Phase:          "invocation",
		PromptTokens:   res.Usage.PromptTokens,
		OutputTokens:   res.Usage.OutputTokens,
		ThoughtsTokens: res.Usage.ThoughtsTokens,
		TotalTokens:    res.Usage.TotalTokens,
	})
}

// fallbackText returns the accumulated text, or a numbered summary of
// per-invocation outcomes when no text exists. An empty response is
// returned only when there were no invocations at all.
func fallbackText(text string, results []Result) string {
	if text != "" || len(results) == 0 {
		return text
	}
	var sb strings.Builder
	for i, res := range results {
		if i > 0 {
			sb.WriteString("\n")
		}
		line := res.Summary
		if !res.OK {
			line = "failed"
			if res.Error != "" {
				line = "failed: " + res.Error
			}
		} else if line == "" {
			line = "completed"
		}
		fmt.Fprintf(&sb, "%d. %s: %s", i+1, res.Capability, line)
	}
	return sb.String()
}
