package session

import "sync"

// Locks is an arena of per-session mutexes. The engine holds a session's
// lock for the whole of one inbound-event pass, so two events for the same
// conversation can never interleave step execution, while unrelated
// sessions proceed in parallel. Entries are reference counted and removed
// when the last holder releases, so the arena does not grow with the total
// number of conversations ever seen.
type Locks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// NewLocks creates an empty lock arena.
func NewLocks() *Locks {
	return &Locks{entries: make(map[string]*lockEntry)}
}

// Acquire blocks until the lock for key is held and returns its release
// function. Waiting events are queued in lock order, never dropped.
func (l *Locks) Acquire(key string) func() {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &lockEntry{}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			l.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(l.entries, key)
			}
			l.mu.Unlock()
		})
	}
}

// Len reports the number of keys currently tracked, for tests and metrics.
func (l *Locks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
