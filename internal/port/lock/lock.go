// Package lock defines the per-dispute mutual exclusion port.
package lock

import (
	"context"
	"errors"
)

// ErrHeld is returned when another holder owns the lock.
var ErrHeld = errors.New("lock held by another evaluator")

// Locker grants exclusive work on a key without waiting.
type Locker interface {
	// TryLock acquires key or returns ErrHeld. The returned release func is
	// safe to call more than once.
	TryLock(ctx context.Context, key string) (release func(), err error)
}
