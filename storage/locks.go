package storage

import "sync"

// Locks hands out one RWMutex per corpus. Searches take the read side;
// ingestion and deletion take the write side, so a search never observes a
// half-rebuilt index.
type Locks struct {
	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

// NewLocks creates an empty lock registry.
func NewLocks() *Locks {
	return &Locks{locks: make(map[string]*sync.RWMutex)}
}

// Get returns the lock for a corpus key, creating it on first use. The same
// key always yields the same lock.
func (l *Locks) Get(key string) *sync.RWMutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock, ok := l.locks[key]
	if !ok {
		lock = &sync.RWMutex{}
		l.locks[key] = lock
	}
	return lock
}
