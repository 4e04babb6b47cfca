// Package conversation holds per-session chat state: the bounded turn history
// and the pipeline that turns a question into a transport request.
package conversation

import "sync"

// DefaultMaxHistory is the number of turns kept per session.
const DefaultMaxHistory = 10

// Roles a turn can carry.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one message in a conversation.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// History is a bounded FIFO of turns. When full, appending evicts the oldest turn.
// It is safe for concurrent use.
type History struct {
	mu       sync.RWMutex
	turns    []Turn
	capacity int
	head     int // next write position
	count    int
}

// NewHistory creates a history holding at most capacity turns.
// A capacity of 0 or less uses DefaultMaxHistory.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultMaxHistory
	}
	return &History{
		turns:    make([]Turn, capacity),
		capacity: capacity,
	}
}

// Append adds a turn, evicting the oldest one when the history is full.
func (h *History) Append(role, content string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.turns[h.head] = Turn{Role: role, Content: content}
	h.head = (h.head + 1) % h.capacity
	if h.count < h.capacity {
		h.count++
	}
}

// Snapshot returns a copy of the turns, oldest first.
func (h *History) Snapshot() []Turn {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Turn, h.count)
	if h.count < h.capacity {
		copy(out, h.turns[:h.count])
		return out
	}
	n := copy(out, h.turns[h.head:])
	copy(out[n:], h.turns[:h.head])
	return out
}

// Len returns the number of stored turns.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Cap returns the maximum number of turns.
func (h *History) Cap() int {
	return h.capacity
}

// Clear drops every turn.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.head = 0
	h.count = 0
	clear(h.turns)
}
