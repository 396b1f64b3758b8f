package actions

import (
	"context"
	"sync"
)

// Locks is a keyed mutual-exclusion map. Entries exist only while a holder or
// waiter references them.
type Locks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	sem  chan struct{}
	refs int
}

// NewLocks creates an empty lock map.
func NewLocks() *Locks {
	return &Locks{entries: make(map[string]*lockEntry)}
}

// Acquire blocks until the lock for key is held or ctx is done.
//
// Parameters:
//   - ctx: Context bounding the wait.
//   - key: Lock key.
//
// Returns:
//   - func(): Release function; safe to call more than once.
//   - error: ctx.Err() if the context ended before the lock was taken.
func (l *Locks) Acquire(ctx context.Context, key string) (func(), error) {
	entry := l.ref(key)

	select {
	case entry.sem <- struct{}{}:
		return l.releaser(key, entry), nil
	case <-ctx.Done():
		l.unref(key, entry)

		return nil, ctx.Err()
	}
}

// TryAcquire takes the lock for key without waiting, or returns ErrBusy.
func (l *Locks) TryAcquire(key string) (func(), error) {
	entry := l.ref(key)

	select {
	case entry.sem <- struct{}{}:
		return l.releaser(key, entry), nil
	default:
		l.unref(key, entry)

		return nil, ErrBusy
	}
}

// Len returns the number of live entries.
func (l *Locks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.entries)
}

func (l *Locks) ref(key string) *lockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[key]
	if !ok {
		entry = &lockEntry{sem: make(chan struct{}, 1)}
		l.entries[key] = entry
	}

	entry.refs++

	return entry
}

func (l *Locks) unref(key string, entry *lockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry.refs--
	if entry.refs == 0 {
		delete(l.entries, key)
	}
}

func (l *Locks) releaser(key string, entry *lockEntry) func() {
	var once sync.Once

	return func() {
		once.Do(func() {
			<-entry.sem
			l.unref(key, entry)
		})
	}
}
