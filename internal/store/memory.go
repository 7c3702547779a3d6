package store

import (
	"context"
	"sync"

	"github.com/pavelanni/viva/internal/model"
)

// Memory is a map-backed Store. The map lock only guards membership; each
// session has its own mutex, so work on one session never waits on another.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]*entry
}

type entry struct {
	mu      sync.Mutex
	session *model.Session
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{sessions: make(map[string]*entry)}
}

func (m *Memory) lookup(id string) (*entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[id]
	return e, ok
}

// Create stores a copy of s.
func (m *Memory) Create(_ context.Context, s *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return ErrExists
	}
	m.sessions[s.ID] = &entry{session: s.Clone()}
	return nil
}

// Get returns a snapshot of the session.
func (m *Memory) Get(_ context.Context, id string) (*model.Session, error) {
	e, ok := m.lookup(id)
	if !ok {
		return nil, notFound(id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Clone(), nil
}

// Update applies fn to a working copy and keeps it only if fn succeeds.
func (m *Memory) Update(_ context.Context, id string, fn func(*model.Session) error) error {
	e, ok := m.lookup(id)
	if !ok {
		return notFound(id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	work := e.session.Clone()
	if err := fn(work); err != nil {
		return err
	}
	e.session = work
	return nil
}

// Count returns the number of stored sessions.
func (m *Memory) Count(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions), nil
}

// Close is a no-op.
func (m *Memory) Close() error {
	return nil
}
