package session

import (
	"context"
	"sync"
	"time"
)

// memoryStore is an in-memory Store implementation for tests and development.
type memoryStore struct {
	mu     sync.RWMutex
	byPair map[string]*Session
	byID   map[string]string
}

// NewMemoryStore constructs an in-memory Store.
func NewMemoryStore() Store {
	return &memoryStore{
		byPair: make(map[string]*Session),
		byID:   make(map[string]string),
	}
}

// Load returns the session for a (chat, user) pair if it exists.
func (m *memoryStore) Load(_ context.Context, chatID, userID int64) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byPair[Key(chatID, userID)]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

// Save stores a deep copy of the session, replacing any previous state.
func (m *memoryStore) Save(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byPair[Key(s.ChatID, s.UserID)] = s.Clone()
	m.byID[s.ID] = Key(s.ChatID, s.UserID)
	return nil
}

// Delete removes a session by id.
func (m *memoryStore) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key, ok := m.byID[sessionID]
	if !ok {
		return nil
	}
	delete(m.byID, sessionID)
	delete(m.byPair, key)
	return nil
}

// ListExpired returns suspended sessions whose deadline passed.
func (m *memoryStore) ListExpired(_ context.Context, now time.Time) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Session
	for _, s := range m.byPair {
		if s.Suspended && !s.Deadline.IsZero() && !s.Deadline.After(now) {
			out = append(out, s.Clone())
		}
	}
	return out, nil
}

// Close is a no-op for the in-memory store.
func (m *memoryStore) Close() error { return nil }
