package lock

import (
	"context"
	"sync"
	"time"
)

type keyedEntry struct {
	sem  chan struct{}
	refs int
}

// KeyedLocker is the in-process Locker used when a single api-server owns the
// ledger. Entries are reference counted and dropped once nobody waits on them.
type KeyedLocker struct {
	mu      sync.Mutex
	entries map[string]*keyedEntry
	wait    time.Duration
}

func NewKeyedLocker(wait time.Duration) *KeyedLocker {
	return &KeyedLocker{
		entries: make(map[string]*keyedEntry),
		wait:    wait,
	}
}

func (l *KeyedLocker) WithSlotLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	entry := l.ref(key)
	defer l.unref(key)

	waitCtx, cancel := waitDeadline(ctx, l.wait)
	defer cancel()

	select {
	case entry.sem <- struct{}{}:
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrLockNotAcquired
	}
	defer func() { <-entry.sem }()

	return fn(ctx)
}

func (l *KeyedLocker) ref(key string) *keyedEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		e = &keyedEntry{sem: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	return e
}

func (l *KeyedLocker) unref(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.entries[key]
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}

// Len reports how many keys are currently held or awaited.
func (l *KeyedLocker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
