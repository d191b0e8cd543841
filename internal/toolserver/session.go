package toolserver

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"
)

const sessionFile = "tool_session"

// Slot is the process-wide current automation session id.
//
// It is a single mutable value with last-establish-wins semantics: a new
// browser_start overwrites it unconditionally. The value survives restarts by
// being written to a state file under the config directory; concurrent parley
// processes coordinate through a file lock. Components receive a *Slot
// explicitly so tests can substitute one backed by a temp dir.
type Slot struct {
	path string
	lock *flock.Flock

	mu sync.Mutex
	id string
}

// NewSlot creates a slot backed by dir, restoring any persisted session id.
func NewSlot(dir string) (*Slot, error) {
	path := filepath.Join(dir, sessionFile)
	s := &Slot{
		path: path,
		lock: flock.New(path + ".lock"),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read session state: %w", err)
	}
	s.id = strings.TrimSpace(string(data))
	return s, nil
}

// Get returns the current session id, or "" when none is established.
func (s *Slot) Get() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Set records a newly established session id and persists it.
func (s *Slot) Set(id string) error {
	s.mu.Lock()
	s.id = id
	s.mu.Unlock()
	return s.persist(id)
}

// Clear removes the session id, both in memory and on disk. Called on
// explicit logout or agent deletion. Idempotent.
func (s *Slot) Clear() error {
	s.mu.Lock()
	s.id = ""
	s.mu.Unlock()

	if err := s.withLock(func() error { return os.Remove(s.path) }); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear session state: %w", err)
	}
	return nil
}

func (s *Slot) persist(id string) error {
	err := s.withLock(func() error {
		return os.WriteFile(s.path, []byte(id), 0o600)
	})
	if err != nil {
		return fmt.Errorf("persist session state: %w", err)
	}
	return nil
}

func (s *Slot) withLock(fn func() error) error {
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("acquire session lock: %w", err)
	}
	defer func() { _ = s.lock.Unlock() }()
	return fn()
}
