/*
Package lock provides a lease-based mutual-exclusion primitive keyed by string.

PURPOSE:
  Serializes writers across service instances: one employee's compensation
  timeline, one (org, month) payroll batch, one (employee, month) run.

CONTRACT:
  Acquire  - atomic set-if-absent-with-expiry, retried MaxRetries times with
             RetryDelay between attempts. Exhausting the budget returns
             ErrLockNotAcquired (Conflict). A backend error fails closed:
             the caller gets an Unavailable error, never an unlocked run.
  Release  - compare-and-delete on the owner token. Returns false when the
             lease already expired or belongs to someone else. Never errors.
  Extend   - compare-and-pexpire on the owner token.
  Do       - acquire, run, release on every exit path. The function's own
             error is returned after release.

LEASES:
  A lock is only held for its TTL. Options.AutoExtend renews the lease every
  TTL/3 while the guarded function runs; if a renewal fails the function's
  context is cancelled with ErrLeaseLost.

IMPLEMENTATIONS:
  - redis.go:  SET NX PX + Lua compare-and-delete (production)
  - memory.go: in-process map (single instance, tests)

SEE ALSO:
  - keys.go: key builders
  - payroll/compensation.go, payroll/run.go: callers
*/
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/warp/payroll-engine/generic"
)

// =============================================================================
// OPTIONS
// =============================================================================

const (
	DefaultTTL        = 60 * time.Second
	DefaultRetryDelay = 100 * time.Millisecond
	DefaultMaxRetries = 10

	releaseTimeout = 5 * time.Second
)

// ErrLeaseLost cancels a guarded function whose lease could not be renewed.
var ErrLeaseLost = fmt.Errorf("lock lease lost: %w", generic.ErrConflict)

// Options controls a single acquisition.
type Options struct {
	TTL        time.Duration
	MaxRetries int
	RetryDelay time.Duration
	AutoExtend bool
}

// DefaultOptions mirrors the platform defaults: 60s lease, 10 retries, 100ms apart.
func DefaultOptions() Options {
	return Options{TTL: DefaultTTL, MaxRetries: DefaultMaxRetries, RetryDelay: DefaultRetryDelay}
}

func (o Options) normalized() Options {
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	return o
}

// =============================================================================
// LOCKER
// =============================================================================

// Locker is implemented by every lock backend.
type Locker interface {
	// Acquire returns the owner token on success.
	Acquire(ctx context.Context, key string, opts Options) (string, error)

	// Release deletes the lock only if token still owns it.
	Release(ctx context.Context, key, token string) bool

	// Extend resets the lease to ttl only if token still owns it.
	Extend(ctx context.Context, key, token string, ttl time.Duration) bool
}

// tryFunc makes one atomic set-if-absent attempt.
type tryFunc func(ctx context.Context) (bool, error)

// acquireWithRetry runs the bounded retry loop shared by all backends.
func acquireWithRetry(ctx context.Context, key string, opts Options, try tryFunc) error {
	for attempt := 0; ; attempt++ {
		ok, err := try(ctx)
		if err != nil {
			return generic.Unavailable("acquire lock "+key, err)
		}
		if ok {
			return nil
		}
		if attempt >= opts.MaxRetries {
			return fmt.Errorf("%s after %d retries: %w", key, opts.MaxRetries, generic.ErrLockNotAcquired)
		}

		timer := time.NewTimer(opts.RetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("acquire lock %s: %w", key, ctx.Err())
		case <-timer.C:
		}
	}
}

// =============================================================================
// GUARDED EXECUTION
// =============================================================================

// Do runs fn while holding key. If the lock is not acquired fn never runs.
func Do[T any](ctx context.Context, l Locker, key string, opts Options, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	opts = opts.normalized()

	token, err := l.Acquire(ctx, key, opts)
	if err != nil {
		return zero, err
	}
	defer func() {
		// Release even when ctx is already cancelled.
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		l.Release(relCtx, key, token)
	}()

	runCtx := ctx
	if opts.AutoExtend {
		var stop func()
		runCtx, stop = keepAlive(ctx, l, key, token, opts.TTL)
		defer stop()
	}

	return fn(runCtx)
}

// WithLock is Do for functions without a result.
func WithLock(ctx context.Context, l Locker, key string, opts Options, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, l, key, opts, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// keepAlive renews the lease until stop is called. The returned context is
// cancelled with ErrLeaseLost if a renewal is refused.
func keepAlive(parent context.Context, l Locker, key, token string, ttl time.Duration) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(parent)
	done := make(chan struct{})
	finished := make(chan struct{})

	go func() {
		defer close(finished)
		ticker := time.NewTicker(ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !l.Extend(ctx, key, token, ttl) {
					cancel(ErrLeaseLost)
					return
				}
			}
		}
	}()

	return ctx, func() {
		close(done)
		<-finished
		cancel(nil)
	}
}
