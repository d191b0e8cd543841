package stream

import (
	"sync"

	"github.com/google/uuid"
)

// Session is the live state of one outstanding send: the optimistic assistant
// placeholder id, the backend-assigned message id once known, and every
// cleanup action opened for the turn (timers, subscriptions, cancel funcs).
//
// The send guard owns the Session for its lifetime and calls Dispose
// unconditionally on completion, error or abort. Registering cleanups here
// instead of tracking timers in scattered local variables is what makes the
// "no leaked timer on any exit path" guarantee checkable in one place.
type Session struct {
	// PlaceholderID is the client-generated id of the optimistic assistant
	// message. Immutable after creation.
	PlaceholderID uuid.UUID

	mu        sync.Mutex
	backendID string
	cleanups  []func()
	disposed  bool
}

// NewSession creates a session with a fresh placeholder id.
func NewSession() *Session {
	return &Session{PlaceholderID: uuid.New()}
}

// SetBackendID records the backend-assigned message id for this turn. It may
// differ from the placeholder id.
func (s *Session) SetBackendID(id string) {
	s.mu.Lock()
	s.backendID = id
	s.mu.Unlock()
}

// BackendID returns the backend-assigned message id, or "" if none arrived.
func (s *Session) BackendID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backendID
}

// MessageID returns the best id for querying persisted state: the backend id
// when known, otherwise the placeholder id.
func (s *Session) MessageID() string {
	if id := s.BackendID(); id != "" {
		return id
	}
	return s.PlaceholderID.String()
}

// OnDispose registers a cleanup action. If the session is already disposed
// the action runs immediately, so late registrations cannot leak.
func (s *Session) OnDispose(fn func()) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		fn()
		return
	}
	s.cleanups = append(s.cleanups, fn)
	s.mu.Unlock()
}

// Dispose runs all registered cleanups in reverse registration order, exactly
// once. Safe to call from any goroutine and on every exit path.
func (s *Session) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	cleanups := s.cleanups
	s.cleanups = nil
	s.mu.Unlock()

	for i := len(cleanups) - 1; i >= 0; i-- {
		cleanups[i]()
	}
}

// Disposed reports whether Dispose has run.
func (s *Session) Disposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}
