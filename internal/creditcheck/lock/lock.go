// Package lock provides client-scoped mutual exclusion with a bounded
// acquisition wait, backed by Redis or by process memory.
package lock

import (
	"context"
	"fmt"
	"time"

	e "github.com/gartstein/creditcheck/internal/creditcheck/errors"
)

// DefaultWait is how long Obtain waits for a busy lock before giving up.
const DefaultWait = 60 * time.Second

// Lock is a held lock.
type Lock interface {
	Release(ctx context.Context) error
}

// Locker hands out exclusive locks by key.
type Locker interface {
	// Obtain blocks until the lock for key is held, wait elapses, or ctx is
	// done. A timeout is reported as errors.ErrLockTimeout.
	Obtain(ctx context.Context, key string, wait time.Duration) (Lock, error)
}

func timeoutError(key string, wait time.Duration) error {
	return fmt.Errorf("%w: %s after %s", e.ErrLockTimeout, key, wait)
}
