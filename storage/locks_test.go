package storage

import (
	"sync"
	"testing"
)

func TestLocksSameKeySameLock(t *testing.T) {
	l := NewLocks()
	if l.Get("a") != l.Get("a") {
		t.Error("same key returned different locks")
	}
	if l.Get("a") == l.Get("b") {
		t.Error("different keys share a lock")
	}
}

func TestLocksConcurrentGet(t *testing.T) {
	l := NewLocks()

	var wg sync.WaitGroup
	locks := make([]*sync.RWMutex, 50)
	for i := range locks {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			locks[i] = l.Get("shared")
		}(i)
	}
	wg.Wait()

	for i := 1; i < len(locks); i++ {
		if locks[i] != locks[0] {
			t.Fatal("concurrent Get returned different locks for one key")
		}
	}
}
