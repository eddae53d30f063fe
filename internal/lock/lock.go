// Package lock serializes work per key. The ledger uses it to give every
// asset a single writer for its alerting state.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrLockTimeout = errors.New("timed out acquiring lock")
	// ErrLockLost is the cancellation cause of a locked section whose lease
	// expired or was taken over before the section finished.
	ErrLockLost = errors.New("lock lease lost")
)

// Locker acquires an exclusive lock on key. The returned unlock must be
// called exactly once; calling it more than once is a no-op. lost is closed
// if the lock stops being held before unlock is called. Lockers whose hold
// cannot lapse return a nil channel.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), lost <-chan struct{}, err error)
	Ping(ctx context.Context) error
}

// Do acquires key, waiting at most acquireTimeout (zero leaves it to ctx),
// and runs fn while it is held. fn's context is cancelled with ErrLockLost as
// its cause if the lease lapses, so writes after that point fail instead of
// racing the next holder.
func Do(ctx context.Context, l Locker, key string, acquireTimeout time.Duration, fn func(ctx context.Context) error) error {
	acquireCtx := ctx
	if acquireTimeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, acquireTimeout)
		defer cancel()
	}

	unlock, lost, err := l.Lock(acquireCtx, key)
	if err != nil {
		return err
	}
	defer unlock()

	heldCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	if lost != nil {
		done := make(chan struct{})
		defer close(done)
		go func() {
			select {
			case <-lost:
				cancel(ErrLockLost)
			case <-done:
			}
		}()
	}

	err = fn(heldCtx)
	if err != nil && errors.Is(context.Cause(heldCtx), ErrLockLost) {
		return fmt.Errorf("%w on %q: %w", ErrLockLost, key, err)
	}
	return err
}
