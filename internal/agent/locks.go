package agent

import (
	"context"
	"sync"
)

// SessionLocks guarantees at most one in-flight turn per session id.
//
// Waiters re-race on release rather than queueing strictly FIFO; callers
// route concurrent messages through Queue, so practical contention on a
// single lock is at most one waiter. Idle entries are removed from the map
// so memory does not grow with the number of sessions ever seen.
type SessionLocks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	// refs counts the holder plus waiters; the entry is dropped at zero.
	refs int
	// sem holds one token while the lock is held.
	sem chan struct{}
}

// NewSessionLocks returns an empty lock table.
func NewSessionLocks() *SessionLocks {
	return &SessionLocks{entries: make(map[string]*lockEntry)}
}

// Acquire blocks until the session lock is held exclusively or ctx ends.
func (l *SessionLocks) Acquire(ctx context.Context, sessionID string) error {
	l.mu.Lock()
	entry, ok := l.entries[sessionID]
	if !ok {
		entry = &lockEntry{sem: make(chan struct{}, 1)}
		l.entries[sessionID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	select {
	case entry.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.drop(sessionID, entry)
		return ctx.Err()
	}
}

// Release frees the session lock. Releasing an id that is not held is a
// no-op so cleanup paths can release unconditionally.
func (l *SessionLocks) Release(sessionID string) {
	l.mu.Lock()
	entry, ok := l.entries[sessionID]
	l.mu.Unlock()
	if !ok {
		return
	}
	select {
	case <-entry.sem:
	default:
		return
	}
	l.drop(sessionID, entry)
}

func (l *SessionLocks) drop(sessionID string, entry *lockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry.refs--
	if entry.refs <= 0 {
		delete(l.entries, sessionID)
	}
}

// Held reports whether the session lock is currently held.
func (l *SessionLocks) Held(sessionID string) bool {
	l.mu.Lock()
	entry, ok := l.entries[sessionID]
	l.mu.Unlock()
	return ok && len(entry.sem) == 1
}
