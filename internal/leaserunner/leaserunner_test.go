package leaserunner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/oriys/relay/internal/clock"
	"github.com/oriys/relay/internal/store"
)

// fakeLeaseStore is a minimal in-memory Store for hermetic lease-runner
// tests, grounded on the joelhooks-agent-secrets in-memory TTL lease
// manager pattern noted in the corpus survey (single-owner map, fencing
// counter, no real database).
type fakeLeaseStore struct {
	mu      sync.Mutex
	owner   string
	fencing int64
	renews  int
	failNextRenew bool
}

func (f *fakeLeaseStore) AcquireLease(ctx context.Context, name, owner string, leaseDuration time.Duration) (*store.LeaseRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.owner != "" && f.owner != owner {
		return nil, nil
	}
	f.owner = owner
	f.fencing++
	return &store.LeaseRow{Name: name, Owner: owner, Fencing: f.fencing}, nil
}

func (f *fakeLeaseStore) RenewLease(ctx context.Context, name, owner string, fencing int64, leaseDuration time.Duration) (*store.LeaseRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNextRenew {
		f.failNextRenew = false
		return nil, errors.New("renew failed")
	}
	if f.owner != owner || fencing != f.fencing {
		return nil, store.ErrLeaseNotHeld
	}
	f.renews++
	return &store.LeaseRow{Name: name, Owner: owner, Fencing: f.fencing}, nil
}

func (f *fakeLeaseStore) ReleaseLease(ctx context.Context, name, owner string, fencing int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.owner == owner {
		f.owner = ""
	}
	return nil
}

func (f *fakeLeaseStore) renewCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.renews
}

// TestAcquire_UnavailableToSecondOwner covers SPEC_FULL.md §8 scenario 6:
// owner A acquires a named lease; owner B's Acquire attempt returns a nil
// runner rather than an error.
func TestAcquire_UnavailableToSecondOwner(t *testing.T) {
	fs := &fakeLeaseStore{}
	clk := clock.NewFake(time.Unix(10000, 0))

	runnerA, err := Acquire(context.Background(), fs, clk, "L", "owner-a", 20*time.Second, 0.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if runnerA == nil {
		t.Fatalf("expected owner A to acquire the lease")
	}
	defer runnerA.Dispose()

	runnerB, err := Acquire(context.Background(), fs, clk, "L", "owner-b", 20*time.Second, 0.5)
	if err != nil {
		t.Fatalf("unexpected error attempting second acquire: %v", err)
	}
	if runnerB != nil {
		t.Fatalf("expected owner B's acquire to fail (nil runner), got a runner")
	}
}

// TestMonotonicRenewalSchedule covers SPEC_FULL.md §8 scenario 7: initial
// schedule lands inside (t, t+leaseDuration); after advancing the fake
// monotonic clock and renewing, the new schedule is strictly greater than
// both the previous schedule and the current time; a redundant renewal
// invocation without further clock advancement leaves the schedule
// unchanged.
func TestMonotonicRenewalSchedule(t *testing.T) {
	start := time.Unix(10000, 0)
	clk := clock.NewFake(start)
	fs := &fakeLeaseStore{}

	r, err := Acquire(context.Background(), fs, clk, "L", "owner-a", 20*time.Second, 0.6)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r == nil {
		t.Fatalf("expected successful acquire")
	}
	defer r.Dispose()

	initial := r.DebugNextRenewalMonotonicSeconds()
	if !initial.After(start) || !initial.Before(start.Add(20*time.Second)) {
		t.Fatalf("expected initial schedule in (t, t+20s), got %v (start=%v)", initial, start)
	}

	clk.Advance(30 * time.Second)
	if !r.renew(context.Background()) {
		t.Fatalf("expected renew to succeed")
	}
	afterRenew := r.DebugNextRenewalMonotonicSeconds()
	if !afterRenew.After(initial) {
		t.Fatalf("expected new schedule strictly after previous schedule %v, got %v", initial, afterRenew)
	}
	if !afterRenew.After(clk.Now()) {
		t.Fatalf("expected new schedule strictly after current monotonic time %v, got %v", clk.Now(), afterRenew)
	}

	// Redundant invocation without clock advancement must not re-renew.
	renewsBefore := fs.renewCount()
	r.onTick()
	if fs.renewCount() != renewsBefore {
		t.Fatalf("expected redundant tick not to renew again; count went from %d to %d", renewsBefore, fs.renewCount())
	}
	if r.DebugNextRenewalMonotonicSeconds() != afterRenew {
		t.Fatalf("expected schedule unchanged by redundant tick, was %v now %v", afterRenew, r.DebugNextRenewalMonotonicSeconds())
	}
}

func TestTryRenewNow_FalseAfterDispose(t *testing.T) {
	clk := clock.NewFake(time.Unix(10000, 0))
	fs := &fakeLeaseStore{}
	r, err := Acquire(context.Background(), fs, clk, "L", "owner-a", 20*time.Second, 0.5)
	if err != nil || r == nil {
		t.Fatalf("expected successful acquire, err=%v", err)
	}
	r.Dispose()
	if r.TryRenewNow(context.Background()) {
		t.Fatalf("expected TryRenewNow to return false after Dispose")
	}
}

func TestThrowIfLost_NilUntilLost(t *testing.T) {
	clk := clock.NewFake(time.Unix(10000, 0))
	fs := &fakeLeaseStore{}
	r, err := Acquire(context.Background(), fs, clk, "L", "owner-a", 20*time.Second, 0.5)
	if err != nil || r == nil {
		t.Fatalf("expected successful acquire, err=%v", err)
	}
	if err := r.ThrowIfLost(); err != nil {
		t.Fatalf("expected no error before loss, got %v", err)
	}
	r.Dispose()
	if err := r.ThrowIfLost(); err == nil {
		t.Fatalf("expected ThrowIfLost to report the lease as lost after Dispose")
	}
	select {
	case <-r.Done():
	default:
		t.Fatalf("expected Done() to be closed after Dispose")
	}
}
