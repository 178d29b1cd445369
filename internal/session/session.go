package session

import (
	"slices"
	"sync"
	"time"
)

// Roles for history entries.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// Session is one conversation. History is guarded by the session's own
// lock; subscribers and cleanup state belong to the owning Registry.
type Session struct {
	ID      string
	Created time.Time

	mu      sync.Mutex
	history []Message

	subscribers map[string]struct{}
	cleanup     stopper
	cleanupGen  uint64
}

func newSession(id string) *Session {
	return &Session{
		ID:          id,
		Created:     time.Now(),
		subscribers: make(map[string]struct{}),
	}
}

// Append adds a turn to the history.
func (s *Session) Append(role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, Message{Role: role, Content: content, At: time.Now()})
}

// History returns a copy of the conversation so far.
func (s *Session) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.history)
}

// Reset clears the history.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
}

func (s *Session) cancelCleanupLocked() {
	if s.cleanup != nil {
		s.cleanup.Stop()
		s.cleanup = nil
	}
}
