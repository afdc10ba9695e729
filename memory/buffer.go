package memory

import (
	"sync"
	"time"
)

// DefaultMaxTurns is the buffer size when none is given: ten user and
// assistant exchanges.
const DefaultMaxTurns = 20

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Turn is one entry of the conversation.
type Turn struct {
	Role Role      `json:"role"`
	Text string    `json:"text,omitempty"`
	Time time.Time `json:"time"`
	// Tool names the tool that produced a RoleTool turn.
	Tool string `json:"tool,omitempty"`
}

// Buffer is a FIFO of turns capped at Max.
type Buffer struct {
	mu    sync.Mutex
	max   int
	turns []Turn
}

// NewBuffer returns an empty buffer; max <= 0 selects DefaultMaxTurns.
func NewBuffer(max int) *Buffer {
	if max <= 0 {
		max = DefaultMaxTurns
	}
	return &Buffer{max: max}
}

// Append adds t, evicting the oldest turns while the buffer is full. A zero
// Time is set to now.
func (b *Buffer) Append(turns ...Turn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range turns {
		if t.Time.IsZero() {
			t.Time = time.Now().UTC()
		}
		b.turns = append(b.turns, t)
	}
	if over := len(b.turns) - b.max; over > 0 {
		b.turns = append([]Turn(nil), b.turns[over:]...)
	}
}

// Turns returns a copy of the history, oldest first.
func (b *Buffer) Turns() []Turn {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Turn(nil), b.turns...)
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.turns)
}

func (b *Buffer) Max() int { return b.max }

// Reset drops every turn.
func (b *Buffer) Reset() {
	b.mu.Lock()
	b.turns = nil
	b.mu.Unlock()
}
