package concierge

import (
	"time"

	"github.com/google/uuid"
)

// Turn is one completed (user, assistant) exchange.
type Turn struct {
	User      string
	Assistant string
}

// Conversation is the append-only history of a single session. The pipeline
// owns appending; the router and generator only read windows of it. A
// Conversation is not safe for concurrent use — each session owns exactly one.
type Conversation struct {
	id        string
	startedAt time.Time
	turns     []Turn
}

// NewConversation creates an empty session history with a fresh session id.
func NewConversation() *Conversation {
	return &Conversation{
		id:        NewID(),
		startedAt: time.Now(),
	}
}

// ID returns the session id.
func (c *Conversation) ID() string { return c.id }

// Append records a completed turn.
func (c *Conversation) Append(user, assistant string) {
	c.turns = append(c.turns, Turn{User: user, Assistant: assistant})
}

// Len returns the number of completed turns.
func (c *Conversation) Len() int { return len(c.turns) }

// Reset clears all history and assigns a new session id.
func (c *Conversation) Reset() {
	c.turns = nil
	c.id = NewID()
	c.startedAt = time.Now()
}

// Window returns the most recent n turns as chat messages, oldest first.
// n <= 0 returns nil.
func (c *Conversation) Window(n int) []ChatMessage {
	if n <= 0 || len(c.turns) == 0 {
		return nil
	}
	start := len(c.turns) - n
	if start < 0 {
		start = 0
	}
	out := make([]ChatMessage, 0, 2*(len(c.turns)-start))
	for _, t := range c.turns[start:] {
		out = append(out, UserMessage(t.User), AssistantMessage(t.Assistant))
	}
	return out
}

// NewID generates a globally unique, time-sortable UUIDv7 (RFC 9562).
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}
