package runloop

import (
	"testing"
	"time"
)

func TestContinuationTokenRoundTrip(t *testing.T) {
	orig := &Continuation{
		ConversationID: "conv-42",
		IterationsUsed: 10,
		Reason:         ReasonIterationLimit,
		PendingText:    "partial answer so far",
		IssuedAt:       time.Date(2026, 8, 27, 10, 30, 0, 0, time.UTC),
	}
	token, err := orig.Token()
	if err != nil {
		t.Fatalf("Token: %v", err)
	}

	got, err := DecodeContinuation(token)
	if err != nil {
		t.Fatalf("DecodeContinuation: %v", err)
	}
	if got.ConversationID != orig.ConversationID ||
		got.IterationsUsed != orig.IterationsUsed ||
		got.Reason != orig.Reason ||
		got.PendingText != orig.PendingText ||
		!got.IssuedAt.Equal(orig.IssuedAt) {
		t.Errorf("decoded = %+v, want %+v", got, orig)
	}
}

func TestDecodeContinuationRejectsGarbage(t *testing.T) {
	if _, err := DecodeContinuation("!!not base64!!"); err == nil {
		t.Error("invalid encoding accepted")
	}
	if _, err := DecodeContinuation("bm90IGpzb24"); err == nil { // "not json"
		t.Error("non-JSON payload accepted")
	}
}
