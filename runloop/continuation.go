package runloop

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// Continuation is the serializable resume point returned when the
// iteration budget runs out while the model is still requesting
// invocations. It survives a process restart: a resume re-enters the
// loop from conversation history rather than from in-memory state.
type Continuation struct {
	ConversationID string    `json:"conversation_id"`
	IterationsUsed int       `json:"iterations_used"`
	Reason         string    `json:"reason"`
	PendingText    string    `json:"pending_text,omitempty"`
	IssuedAt       time.Time `json:"issued_at"`
}

// ReasonIterationLimit is the machine-readable continuation reason for
// an exhausted iteration budget.
const ReasonIterationLimit = "iteration_limit_reached"

// Token encodes the continuation as an opaque string.
func (c *Continuation) Token() (string, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode continuation: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodeContinuation parses a token produced by Token.
func DecodeContinuation(token string) (*Continuation, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("decode continuation token: %w", err)
	}
	var c Continuation
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("parse continuation token: %w", err)
	}
	return &c, nil
}
