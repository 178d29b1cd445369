// Package session tracks conversation sessions and the transport
// connections subscribed to them.
package session

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultGrace is how long an unsubscribed session survives.
const DefaultGrace = 60 * time.Second

var (
	// ErrUnknownSession is returned for operations on a session the
	// registry does not hold.
	ErrUnknownSession = errors.New("unknown session")

	// ErrNotSubscribed is returned when a connection is not subscribed to
	// the session it tries to leave.
	ErrNotSubscribed = errors.New("connection not subscribed to session")
)

// stopper is the part of *time.Timer the registry uses.
type stopper interface {
	Stop() bool
}

// Registry maps session IDs to sessions and connections to the one
// session each is subscribed to. It is safe for concurrent use.
type Registry struct {
	grace  time.Duration
	logger *slog.Logger

	// afterFunc schedules cleanup; replaced in tests.
	afterFunc func(time.Duration, func()) stopper

	mu       sync.Mutex
	sessions map[string]*Session
	connSess map[string]*Session
	closed   bool
}

// NewRegistry creates a registry. A non-positive grace uses DefaultGrace.
func NewRegistry(grace time.Duration, logger *slog.Logger) *Registry {
	if grace <= 0 {
		grace = DefaultGrace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		grace:  grace,
		logger: logger,
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
		sessions: make(map[string]*Session),
		connSess: make(map[string]*Session),
	}
}

// Close cancels pending cleanups and drops every session.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		s.cancelCleanupLocked()
	}
	r.sessions = make(map[string]*Session)
	r.connSess = make(map[string]*Session)
	r.closed = true
}

// GetOrCreate returns the session with the given ID, creating it if needed.
// An empty ID creates a session with a fresh identifier. An existing session
// is returned unmodified.
func (r *Registry) GetOrCreate(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id != "" {
		if s, ok := r.sessions[id]; ok {
			return s
		}
	} else {
		id = uuid.NewString()
	}
	s := newSession(id)
	r.sessions[id] = s
	r.logger.Debug("session created", "session", id)
	return s
}

// Get returns the session with the given ID.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Subscribe attaches conn to s. A connection subscribed elsewhere is first
// moved out of its previous session, which is scheduled for cleanup if that
// leaves it empty. Any pending cleanup of s is cancelled.
func (r *Registry) Subscribe(s *Session, conn string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.connSess[conn]; ok && prev != s {
		delete(prev.subscribers, conn)
		if len(prev.subscribers) == 0 {
			r.scheduleCleanupLocked(prev)
		}
	}

	// A session that already expired is brought back under its old ID.
	if cur, ok := r.sessions[s.ID]; !ok || cur != s {
		r.sessions[s.ID] = s
	}
	s.cancelCleanupLocked()
	s.subscribers[conn] = struct{}{}
	r.connSess[conn] = s
}

// Unsubscribe detaches conn from s. It does not schedule cleanup; callers
// check HasSubscribers and call ScheduleCleanup.
func (r *Registry) Unsubscribe(s *Session, conn string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := s.subscribers[conn]; !ok {
		return ErrNotSubscribed
	}
	delete(s.subscribers, conn)
	if r.connSess[conn] == s {
		delete(r.connSess, conn)
	}
	return nil
}

// Disconnect removes conn from whatever session it belongs to and schedules
// that session's cleanup if it is now empty. It returns the session conn
// was subscribed to, or nil.
func (r *Registry) Disconnect(conn string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.connSess[conn]
	if !ok {
		return nil
	}
	delete(r.connSess, conn)
	delete(s.subscribers, conn)
	if len(s.subscribers) == 0 {
		r.scheduleCleanupLocked(s)
	}
	return s
}

// SessionOf returns the session conn is subscribed to.
func (r *Registry) SessionOf(conn string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.connSess[conn]
	return s, ok
}

// HasSubscribers reports whether any connection is subscribed to s.
func (r *Registry) HasSubscribers(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(s.subscribers) > 0
}

// Subscribers returns the connection IDs subscribed to s.
func (r *Registry) Subscribers(s *Session) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(s.subscribers))
	for c := range s.subscribers {
		out = append(out, c)
	}
	return out
}

// ScheduleCleanup starts the grace period for an empty session. It does
// nothing if s has subscribers or a cleanup is already pending. When the
// grace period elapses, s is removed if it is still empty.
func (r *Registry) ScheduleCleanup(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scheduleCleanupLocked(s)
}

func (r *Registry) scheduleCleanupLocked(s *Session) {
	if r.closed || len(s.subscribers) > 0 || s.cleanup != nil {
		return
	}
	gen := s.cleanupGen + 1
	s.cleanupGen = gen
	s.cleanup = r.afterFunc(r.grace, func() { r.expire(s, gen) })
	r.logger.Debug("session cleanup scheduled", "session", s.ID, "grace", r.grace)
}

func (r *Registry) expire(s *Session, gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Cancelled or superseded after the timer fired.
	if s.cleanup == nil || s.cleanupGen != gen {
		return
	}
	s.cleanup = nil
	if len(s.subscribers) > 0 {
		return
	}
	if r.sessions[s.ID] == s {
		delete(r.sessions, s.ID)
	}
	s.Reset()
	r.logger.Debug("session expired", "session", s.ID)
}
