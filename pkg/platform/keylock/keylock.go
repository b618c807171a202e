// Package keylock provides mutual exclusion scoped to a string key.
package keylock

import "sync"

// Locker hands out one mutex per key. Entries are reference counted and
// removed when the last holder unlocks, so idle keys cost nothing.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

func New() *Locker {
	return &Locker{locks: make(map[string]*entry)}
}

// Lock blocks until key is free and returns the matching unlock func.
func (l *Locker) Lock(key string) (unlock func()) {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &entry{}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

// Len returns the number of keys currently held or waited on.
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
