package runloop

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// StoredMessage is one persisted conversation entry.
type StoredMessage struct {
	Role    string    `json:"role"` // "user" or "assistant"
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// Conversation holds the ordered message history for one chat. The
// optional max-length policy evicts only the oldest entries, never
// creating gaps. The loop appends to it and never deletes it.
type Conversation struct {
	id          string
	maxMessages int // 0 = unlimited

	mu       sync.Mutex
	messages []StoredMessage
}

// NewConversation creates a conversation. maxMessages of 0 disables
// eviction.
func NewConversation(maxMessages int) *Conversation {
	return &Conversation{
		id:          uuid.New().String(),
		maxMessages: maxMessages,
	}
}

// ID returns the conversation identifier.
func (c *Conversation) ID() string { return c.id }

// Append adds one message, evicting from the front when over the limit.
func (c *Conversation) Append(role, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, StoredMessage{
		Role:    role,
		Content: content,
		At:      time.Now(),
	})
	if c.maxMessages > 0 && len(c.messages) > c.maxMessages {
		c.messages = c.messages[len(c.messages)-c.maxMessages:]
	}
}

// Messages returns a copy of the history, insertion order preserved.
func (c *Conversation) Messages() []StoredMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]StoredMessage, len(c.messages))
	copy(out, c.messages)
	return out
}

// Len returns the number of stored messages.
func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}
