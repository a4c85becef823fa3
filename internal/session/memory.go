package session

import (
	"context"
	"sync"
	"time"
)

// Memory implements Store with in-process concurrency safety. Sessions are
// lost on restart.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]Session
	now      func() time.Time
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{sessions: make(map[string]Session), now: time.Now}
}

func (m *Memory) Create(ctx context.Context, s Session) error {
	if err := validate(s); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prune()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = m.now().UTC()
	}
	m.sessions[s.ID] = s
	return nil
}

func (m *Memory) Get(ctx context.Context, id string) (Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok || s.Expired(m.now()) {
		return Session{}, ErrNotFound
	}
	return s, nil
}

func (m *Memory) Save(ctx context.Context, s Session) error {
	if err := validate(s); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; !ok {
		return ErrNotFound
	}
	m.sessions[s.ID] = s
	return nil
}

func (m *Memory) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *Memory) Ping(ctx context.Context) error { return ctx.Err() }

// Len returns the number of stored sessions, expired ones included.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// prune drops expired sessions. Callers hold mu.
func (m *Memory) prune() {
	now := m.now()
	for id, s := range m.sessions {
		if s.Expired(now) {
			delete(m.sessions, id)
		}
	}
}
