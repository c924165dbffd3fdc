/*
lock.go - Per-consumer serialization

PURPOSE:
  Two events for the same consumer must be fully ordered while events for
  different consumers proceed in parallel. LockMap hands out one mutex per
  consumer, created lazily and reference-counted so a periodic sweep can
  drop entries for consumers that have gone idle.
*/
package loyalty

import (
	"sync"
	"time"
)

type LockMap struct {
	mu      sync.Mutex
	entries map[ConsumerID]*lockEntry
}

type lockEntry struct {
	mu       sync.Mutex
	refs     int
	idleFrom time.Time
}

func NewLockMap() *LockMap {
	return &LockMap{entries: make(map[ConsumerID]*lockEntry)}
}

// Lock acquires the consumer's mutex, creating it on first use. Holders
// and waiters both count as references, which keeps Sweep from removing an
// entry that a goroutine is blocked on.
func (l *LockMap) Lock(id ConsumerID) {
	l.mu.Lock()
	e, ok := l.entries[id]
	if !ok {
		e = &lockEntry{}
		l.entries[id] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
}

// Unlock releases the consumer's mutex.
func (l *LockMap) Unlock(id ConsumerID) {
	l.mu.Lock()
	e, ok := l.entries[id]
	if !ok {
		l.mu.Unlock()
		panic("loyalty: unlock of unheld consumer lock")
	}
	e.refs--
	e.idleFrom = time.Now()
	l.mu.Unlock()

	e.mu.Unlock()
}

// Sweep removes entries that have been idle for at least the given
// duration and reports how many were dropped. Entries with holders or
// waiters are never removed.
func (l *LockMap) Sweep(idleFor time.Duration) int {
	cutoff := time.Now().Add(-idleFor)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for id, e := range l.entries {
		if e.refs == 0 && e.idleFrom.Before(cutoff) {
			delete(l.entries, id)
			removed++
		}
	}
	return removed
}

// Len reports the number of live entries.
func (l *LockMap) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
