package runloop

import (
	"testing"
)

func TestEmitterDeliversInOrder(t *testing.T) {
	e := NewEmitter(8)
	e.Emit(Event{Kind: EventChunk, Text: "a"})
	e.Emit(Event{Kind: EventChunk, Text: "b"})
	e.Done(&Outcome{Status: StatusDone})

	var got []Event
	for ev := range e.Events() {
		got = append(got, ev)
	}
	if len(got) != 3 {
		t.Fatalf("events = %+v", got)
	}
	if got[0].Text != "a" || got[1].Text != "b" {
		t.Errorf("chunk order = %q, %q", got[0].Text, got[1].Text)
	}
	if got[2].Kind != EventDone || got[2].Outcome == nil {
		t.Errorf("terminal event = %+v", got[2])
	}
}

func TestEmitterDropsWhenFullButDeliversDone(t *testing.T) {
	e := NewEmitter(2)
	for i := 0; i < 10; i++ {
		e.Emit(Event{Kind: EventChunk, Text: "x"}) // must not block
	}
	// The consumer never drained, so chunks were dropped, but the
	// terminal event still arrives with its outcome.
	e.Done(&Outcome{Status: StatusDone})

	var got []Event
	for ev := range e.Events() {
		got = append(got, ev)
	}
	if len(got) != 2 {
		t.Fatalf("delivered = %d, want 2", len(got))
	}
	last := got[len(got)-1]
	if last.Kind != EventDone {
		t.Fatalf("final event = %q, want done", last.Kind)
	}
	if last.Outcome == nil || last.Outcome.Status != StatusDone {
		t.Errorf("done outcome = %+v, want delivered outcome", last.Outcome)
	}
}

func TestEmitterDoneIsIdempotent(t *testing.T) {
	e := NewEmitter(4)
	e.Done(&Outcome{Status: StatusDone})
	e.Done(&Outcome{Status: StatusCancelled}) // must not panic or deliver
	e.Emit(Event{Kind: EventChunk, Text: "late"})

	var got []Event
	for ev := range e.Events() {
		got = append(got, ev)
	}
	if len(got) != 1 {
		t.Fatalf("events = %+v", got)
	}
	if got[0].Outcome.Status != StatusDone {
		t.Errorf("outcome = %+v", got[0].Outcome)
	}
}
