// Package leaserunner implements the Lease API + Lease runner described in
// SPEC_FULL.md §4.5: acquire-and-auto-renew an exclusive named lease, with
// cooperative cancellation when the lease is lost. All scheduling decisions
// are made against a monotonic clock.Clock; the wall clock is used only to
// compute the LeaseExpiresUtc value stored in the database row.
package leaserunner

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/oriys/relay/internal/clock"
	"github.com/oriys/relay/internal/logging"
	"github.com/oriys/relay/internal/store"
)

// Store is the persistence capability the runner needs; store.PostgresStore
// satisfies it directly.
type Store interface {
	AcquireLease(ctx context.Context, name, owner string, leaseDuration time.Duration) (*store.LeaseRow, error)
	RenewLease(ctx context.Context, name, owner string, fencing int64, leaseDuration time.Duration) (*store.LeaseRow, error)
	ReleaseLease(ctx context.Context, name, owner string, fencing int64) error
}

// DefaultGraceFraction bounds how long retries may continue past a failed
// renewal before the lease is declared lost, expressed as a fraction of
// leaseDuration (SPEC_FULL.md §4.5 step 4).
const DefaultGraceFraction = 0.5

// Runner coordinates a single named lease's renewal loop.
type Runner struct {
	name          string
	owner         string
	fencing       int64
	leaseDuration time.Duration
	renewPercent  float64
	graceFraction float64

	st    Store
	clk   clock.Clock
	timer *time.Timer

	mu                 sync.Mutex
	nextRenewMonotonic time.Time
	disposed           bool

	lost     chan struct{}
	lostOnce sync.Once
	lostErr  error

	wg sync.WaitGroup
}

// Acquire attempts one acquire of the named lease. It returns (nil, nil) —
// not an error — when another owner currently holds an unexpired lease,
// matching scenario 6 in SPEC_FULL.md §8 ("B's result is absent/null").
func Acquire(ctx context.Context, st Store, clk clock.Clock, name, owner string, leaseDuration time.Duration, renewPercent float64) (*Runner, error) {
	if renewPercent <= 0 || renewPercent >= 1 {
		renewPercent = 0.5
	}
	row, err := st.AcquireLease(ctx, name, owner, leaseDuration)
	if err != nil {
		return nil, fmt.Errorf("acquire lease %s: %w", name, err)
	}
	if row == nil {
		return nil, nil
	}

	r := &Runner{
		name:          name,
		owner:         owner,
		fencing:       row.Fencing,
		leaseDuration: leaseDuration,
		renewPercent:  renewPercent,
		graceFraction: DefaultGraceFraction,
		st:            st,
		clk:           clk,
		lost:          make(chan struct{}),
	}
	r.nextRenewMonotonic = clk.Now().Add(time.Duration(renewPercent * float64(leaseDuration)))
	r.scheduleNext()
	return r, nil
}

// Done returns a channel that closes when the lease is lost (renewal
// exhausted its grace window, or Dispose was called). This is the runner's
// cancellation signal; dispatcher Runs merge it with their own context.
func (r *Runner) Done() <-chan struct{} { return r.lost }

// ThrowIfLost raises if the lease has already been lost.
func (r *Runner) ThrowIfLost() error {
	select {
	case <-r.lost:
		return r.lostErr
	default:
		return nil
	}
}

// DebugNextRenewalMonotonicSeconds exposes the scheduled renewal time via a
// narrow test hook rather than reflection into private state (SPEC_FULL.md
// §9, "reflection access to internal fields").
func (r *Runner) DebugNextRenewalMonotonicSeconds() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextRenewMonotonic
}

// TryRenewNow performs a manual renewal attempt. Returns false if the
// runner has already been disposed or the lease has already been lost.
func (r *Runner) TryRenewNow(ctx context.Context) bool {
	if r.ThrowIfLost() != nil {
		return false
	}
	r.mu.Lock()
	disposed := r.disposed
	r.mu.Unlock()
	if disposed {
		return false
	}
	return r.renew(ctx)
}

// Dispose releases the lease best-effort and stops the renewal loop.
// Further renew attempts return false.
func (r *Runner) Dispose() {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return
	}
	r.disposed = true
	if r.timer != nil {
		r.timer.Stop()
	}
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.st.ReleaseLease(ctx, r.name, r.owner, r.fencing); err != nil {
		logging.Op().Warn("lease release failed", "lease", r.name, "owner", r.owner, "error", err)
	}
	r.markLost(errDisposed)
}

var errDisposed = errors.New("lease runner disposed")

// scheduleNext arms the production timer to fire at the next renewal point,
// computed in monotonic time but realized via a wall-clock time.Timer
// duration (the gap between two time.Now() monotonic readings is a regular
// Duration, safe to hand to time.NewTimer).
func (r *Runner) scheduleNext() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disposed {
		return
	}
	delay := r.nextRenewMonotonic.Sub(r.clk.Now())
	if delay < 0 {
		delay = 0
	}
	r.timer = time.AfterFunc(delay, r.onTick)
}

// onTick is the production timer callback. It must be reentrant-safe: if a
// renewal is already in flight or the schedule has not actually advanced
// (redundant tick from clock skew or a duplicate fire), it is a no-op
// (SPEC_FULL.md §4.5 step 5, §5 "Suspension points").
func (r *Runner) onTick() {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return
	}
	now := r.clk.Now()
	if now.Before(r.nextRenewMonotonic) {
		// No monotonic progress since the last schedule; redundant tick.
		r.mu.Unlock()
		r.scheduleNext()
		return
	}
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), r.leaseDuration)
	defer cancel()
	if !r.renewWithRetry(ctx) {
		return
	}
	r.scheduleNext()
}

// renew performs a single renewal attempt and, on success, advances
// nextRenewMonotonic strictly past its previous value.
func (r *Runner) renew(ctx context.Context) bool {
	row, err := r.st.RenewLease(ctx, r.name, r.owner, r.fencing, r.leaseDuration)
	if err != nil {
		logging.Op().Warn("lease renew failed", "lease", r.name, "owner", r.owner, "error", err)
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.fencing = row.Fencing
	next := r.clk.Now().Add(time.Duration(r.renewPercent * float64(r.leaseDuration)))
	if !next.After(r.nextRenewMonotonic) {
		// Monotonic clock must have advanced for a valid reschedule; if it
		// somehow hasn't, nudge forward by a nanosecond to preserve the
		// "strictly greater than the previous" guarantee from §8 scenario 7.
		next = r.nextRenewMonotonic.Add(time.Nanosecond)
	}
	r.nextRenewMonotonic = next
	return true
}

// renewWithRetry retries a failed renewal with jitter up to
// leaseDuration*graceFraction before declaring the lease lost.
func (r *Runner) renewWithRetry(ctx context.Context) bool {
	if r.renew(ctx) {
		return true
	}

	deadline := r.clk.Now().Add(time.Duration(r.graceFraction * float64(r.leaseDuration)))
	backoff := 50 * time.Millisecond
	for r.clk.Now().Before(deadline) {
		jitter := time.Duration(rand.Int63n(int64(backoff)))
		select {
		case <-ctx.Done():
			r.markLost(ctx.Err())
			return false
		case <-time.After(backoff/2 + jitter):
		}
		if r.renew(ctx) {
			return true
		}
		if backoff *= 2; backoff > time.Second {
			backoff = time.Second
		}
	}

	logging.Op().Error("lease lost", "lease", r.name, "owner", r.owner)
	r.markLost(fmt.Errorf("lease %s lost: renewal exhausted grace window", r.name))
	return false
}

func (r *Runner) markLost(err error) {
	r.lostOnce.Do(func() {
		r.lostErr = err
		close(r.lost)
	})
}
