package session

import (
	"context"
	"sync"
)

var _ Store = (*InMemoryStore)(nil)

// InMemoryStore is a process-local Store. It does not survive a restart and is meant for
// tests and single-run tools.
type InMemoryStore struct {
	mu      sync.RWMutex
	session *Session
	writes  int
	clears  int
}

// NewInMemoryStore creates an empty in-memory store
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

// Read returns a copy of the stored session
func (s *InMemoryStore) Read(_ context.Context) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.session == nil {
		return nil, ErrNoSession
	}
	return s.session.Clone(), nil
}

// Write stores a copy of the session to avoid external modifications
func (s *InMemoryStore) Write(_ context.Context, session *Session) error {
	if session == nil {
		return ErrNilSession
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.session = session.Clone()
	s.writes++
	return nil
}

// Clear drops the stored session
func (s *InMemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.session = nil
	s.clears++
	return nil
}

// Counts returns how many writes and clears the store has seen.
func (s *InMemoryStore) Counts() (writes, clears int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes, s.clears
}
