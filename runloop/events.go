package runloop

import (
	"sync"
	"time"

	"github.com/driftwoodlabs/relay/llmstream"
)

// EventKind identifies the type of loop event delivered to the caller.
type EventKind string

const (
	EventChunk            EventKind = "chunk"
	EventInvocationStart  EventKind = "invocation_start"
	EventInvocationResult EventKind = "invocation_result"
	EventDone             EventKind = "done"
)

// Event is one entry in the caller-facing stream. Events arrive in
// order; done terminates the stream exactly once.
type Event struct {
	Kind       EventKind                    `json:"kind"`
	Timestamp  time.Time                    `json:"timestamp"`
	Text       string                       `json:"text,omitempty"`
	Invocation *llmstream.InvocationRequest `json:"invocation,omitempty"`
	Result     *Result                      `json:"result,omitempty"`
	Outcome    *Outcome                     `json:"outcome,omitempty"`
}

// Emitter delivers loop events to the caller via a buffered channel.
// Emission never blocks the loop: with a full buffer, events other than
// done are dropped.
type Emitter struct {
	ch     chan Event
	mu     sync.Mutex
	closed bool
}

// NewEmitter creates an Emitter with the given buffer size.
func NewEmitter(bufferSize int) *Emitter {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Emitter{ch: make(chan Event, bufferSize)}
}

// Events returns the read-only event channel.
func (e *Emitter) Events() <-chan Event {
	return e.ch
}

// Emit sends an event. Closed emitters drop it silently. The last
// buffer slot stays reserved for the terminal done event.
func (e *Emitter) Emit(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	ev.Timestamp = time.Now()
	// All sends happen under the mutex and the reader only drains, so
	// this check keeps one slot free without racing.
	if len(e.ch) < cap(e.ch)-1 {
		e.ch <- ev
	}
	// Otherwise drop rather than stall the loop.
}

// Done emits the terminal event and closes the stream. The reserved
// buffer slot guarantees the outcome is delivered even to a consumer
// that fell behind. Safe to call multiple times; only the first call
// delivers.
func (e *Emitter) Done(outcome *Outcome) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.ch <- Event{Kind: EventDone, Timestamp: time.Now(), Outcome: outcome}
	e.closed = true
	close(e.ch)
}
