// Package lock serializes work on a single provider slot.
package lock

import (
	"context"
	"errors"
	"time"
)

var ErrLockNotAcquired = errors.New("slot lock not acquired")

// Locker runs fn while holding an exclusive lock on key. Implementations wait
// at most a bounded time for the lock and return ErrLockNotAcquired when it
// stays held. fn receives a context that expires with the lock.
type Locker interface {
	WithSlotLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

const retryInterval = 25 * time.Millisecond

// waitDeadline bounds a lock wait by both ctx and wait.
func waitDeadline(ctx context.Context, wait time.Duration) (context.Context, context.CancelFunc) {
	if wait <= 0 {
		wait = time.Second
	}
	return context.WithTimeout(ctx, wait)
}
