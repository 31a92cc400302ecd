package cache

import (
	"context"
	"sync"
	"time"

	"github.com/l88labs/paramanandha/errors"
)

type memoryEntry struct {
	payload   []byte
	expiresAt time.Time
}

// Memory is an in-process Cache with TTL expiry. A secondary session index
// makes Invalidate O(entries of that session).
type Memory struct {
	mu       sync.Mutex
	ttl      time.Duration
	entries  map[string]memoryEntry
	sessions map[string]map[string]struct{} // sessionID -> keys
	now      func() time.Time
}

// NewMemory creates an in-process cache with the given entry lifetime.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		ttl:      ttl,
		entries:  make(map[string]memoryEntry),
		sessions: make(map[string]map[string]struct{}),
		now:      time.Now,
	}
}

// Get implements Cache.
func (m *Memory) Get(_ context.Context, sessionID, query string) ([]byte, error) {
	key := Key(sessionID, query)

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		return nil, errors.ErrNotFound
	}
	if m.now().After(entry.expiresAt) {
		delete(m.entries, key)
		if keys := m.sessions[sessionID]; keys != nil {
			delete(keys, key)
		}
		return nil, errors.ErrNotFound
	}
	return entry.payload, nil
}

// Set implements Cache.
func (m *Memory) Set(_ context.Context, sessionID, query string, payload []byte) error {
	key := Key(sessionID, query)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = memoryEntry{
		payload:   payload,
		expiresAt: m.now().Add(m.ttl),
	}
	keys := m.sessions[sessionID]
	if keys == nil {
		keys = make(map[string]struct{})
		m.sessions[sessionID] = keys
	}
	keys[key] = struct{}{}
	return nil
}

// Invalidate implements Cache.
func (m *Memory) Invalidate(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key := range m.sessions[sessionID] {
		delete(m.entries, key)
	}
	delete(m.sessions, sessionID)
	return nil
}
