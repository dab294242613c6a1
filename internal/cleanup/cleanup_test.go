package cleanup

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeCleaner struct {
	id          string
	outboxCalls int32
	inboxCalls  int32
	outboxErr   error
	inboxErr    error
}

func (f *fakeCleaner) Identifier() string { return f.id }

func (f *fakeCleaner) CleanupOutbox(ctx context.Context, retention time.Duration) (int, error) {
	atomic.AddInt32(&f.outboxCalls, 1)
	if f.outboxErr != nil {
		return 0, f.outboxErr
	}
	return 3, nil
}

func (f *fakeCleaner) CleanupInbox(ctx context.Context, retention time.Duration) (int, error) {
	atomic.AddInt32(&f.inboxCalls, 1)
	if f.inboxErr != nil {
		return 0, f.inboxErr
	}
	return 2, nil
}

type fakeProvider struct {
	mu       sync.Mutex
	cleaners []Cleaner
}

func (p *fakeProvider) Current() []Cleaner {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cleaners
}

func TestWorker_TickCleansEveryStore(t *testing.T) {
	c1 := &fakeCleaner{id: "a"}
	c2 := &fakeCleaner{id: "b"}
	provider := &fakeProvider{cleaners: []Cleaner{c1, c2}}

	w := New(provider, time.Millisecond, time.Hour)
	w.tick(context.Background())

	if atomic.LoadInt32(&c1.outboxCalls) != 1 || atomic.LoadInt32(&c1.inboxCalls) != 1 {
		t.Fatalf("expected store a to be cleaned once per lane")
	}
	if atomic.LoadInt32(&c2.outboxCalls) != 1 || atomic.LoadInt32(&c2.inboxCalls) != 1 {
		t.Fatalf("expected store b to be cleaned once per lane")
	}
}

func TestWorker_ToleratesMissingRoutineError(t *testing.T) {
	c1 := &fakeCleaner{id: "a", outboxErr: errors.New(`relation "outbox" does not exist`)}
	provider := &fakeProvider{cleaners: []Cleaner{c1}}
	w := New(provider, time.Millisecond, time.Hour)

	// Should not panic and should still attempt the inbox lane.
	w.tick(context.Background())
	if atomic.LoadInt32(&c1.inboxCalls) != 1 {
		t.Fatalf("expected inbox cleanup to still run after outbox error")
	}
}

func TestWorker_StartStopLifecycle(t *testing.T) {
	provider := &fakeProvider{}
	w := New(provider, 5*time.Millisecond, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w.Start(ctx)
	w.Start(ctx) // second Start should be a no-op, not a second goroutine
	time.Sleep(20 * time.Millisecond)
	w.Stop()
	w.Stop() // second Stop should be a no-op
}

func TestIsMissingRoutine(t *testing.T) {
	if !isMissingRoutine(errors.New(`ERROR: relation "inbox" does not exist`)) {
		t.Fatal("expected does-not-exist error to be classified as missing routine")
	}
	if isMissingRoutine(errors.New("connection reset by peer")) {
		t.Fatal("expected unrelated error not to be classified as missing routine")
	}
}
