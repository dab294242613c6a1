package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oriys/relay/internal/router"
	"github.com/oriys/relay/internal/store"
)

type fakeOutbox struct {
	mu        sync.Mutex
	rows      []*store.OutboxRow
	dispatched []string
	rescheduled []string
	failed    []string
}

func (f *fakeOutbox) Enqueue(ctx context.Context, topic string, payload []byte, dueAt *time.Time, joinID *string) (string, error) {
	return "", errors.New("not implemented")
}

func (f *fakeOutbox) EnqueueTx(ctx context.Context, tx pgx.Tx, topic string, payload []byte, dueAt *time.Time, joinID *string) (string, error) {
	return "", errors.New("not implemented")
}

func (f *fakeOutbox) ClaimDue(ctx context.Context, batchSize int, owner string, leaseDuration time.Duration) ([]*store.OutboxRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := batchSize
	if n > len(f.rows) {
		n = len(f.rows)
	}
	claimed := f.rows[:n]
	f.rows = f.rows[n:]
	for _, r := range claimed {
		r.LeaseOwner = owner
	}
	return claimed, nil
}

func (f *fakeOutbox) MarkDispatched(ctx context.Context, id, owner string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatched = append(f.dispatched, id)
	return nil
}

func (f *fakeOutbox) Reschedule(ctx context.Context, id, owner string, delay time.Duration, lastError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rescheduled = append(f.rescheduled, id)
	return nil
}

func (f *fakeOutbox) Fail(ctx context.Context, id, owner, lastError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeOutbox) ReapExpired(ctx context.Context) (int, error) { return 0, nil }

func (f *fakeOutbox) Get(ctx context.Context, id string) (*store.OutboxRow, error) {
	return nil, store.ErrOutboxNotFound
}

func TestOutboxDispatcher_SuccessMarksDispatched(t *testing.T) {
	fo := &fakeOutbox{rows: []*store.OutboxRow{
		{ID: "1", Topic: "greet", RetryCount: 0},
	}}
	h := &router.Handle{Key: "store-a", Outbox: fo}
	r := router.NewFromHandles([]*router.Handle{h})

	resolver := NewResolver(NewHandlerFunc("greet", func(ctx context.Context, msg Message) error { return nil }))
	d := NewOutboxDispatcher(r, resolver, NewRoundRobin(), Config{
		BatchSize: 10, LeaseDuration: time.Second, MaxAttempts: 3, Backoff: ExponentialBackoff(time.Millisecond, time.Second),
	})

	n, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 processed, got %d", n)
	}
	if len(fo.dispatched) != 1 || fo.dispatched[0] != "1" {
		t.Fatalf("expected row 1 marked dispatched, got %v", fo.dispatched)
	}
}

func TestOutboxDispatcher_NoHandlerFails(t *testing.T) {
	fo := &fakeOutbox{rows: []*store.OutboxRow{{ID: "1", Topic: "unknown-topic"}}}
	h := &router.Handle{Key: "store-a", Outbox: fo}
	r := router.NewFromHandles([]*router.Handle{h})
	resolver := NewResolver()

	d := NewOutboxDispatcher(r, resolver, NewRoundRobin(), Config{
		BatchSize: 10, LeaseDuration: time.Second, MaxAttempts: 3, Backoff: ExponentialBackoff(time.Millisecond, time.Second),
	})

	n, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 processed, got %d", n)
	}
	if len(fo.failed) != 1 {
		t.Fatalf("expected row failed due to no handler, got failed=%v dispatched=%v", fo.failed, fo.dispatched)
	}
}

func TestOutboxDispatcher_HandlerErrorReschedulesUnderMaxAttempts(t *testing.T) {
	fo := &fakeOutbox{rows: []*store.OutboxRow{{ID: "1", Topic: "flaky", RetryCount: 0}}}
	h := &router.Handle{Key: "store-a", Outbox: fo}
	r := router.NewFromHandles([]*router.Handle{h})
	resolver := NewResolver(NewHandlerFunc("flaky", func(ctx context.Context, msg Message) error {
		return errors.New("boom")
	}))

	d := NewOutboxDispatcher(r, resolver, NewRoundRobin(), Config{
		BatchSize: 10, LeaseDuration: time.Second, MaxAttempts: 3, Backoff: ExponentialBackoff(time.Millisecond, time.Second),
	})

	if _, err := d.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fo.rescheduled) != 1 {
		t.Fatalf("expected row rescheduled, got failed=%v rescheduled=%v", fo.failed, fo.rescheduled)
	}
}

func TestOutboxDispatcher_HandlerErrorFailsBeyondMaxAttempts(t *testing.T) {
	fo := &fakeOutbox{rows: []*store.OutboxRow{{ID: "1", Topic: "flaky", RetryCount: 3}}}
	h := &router.Handle{Key: "store-a", Outbox: fo}
	r := router.NewFromHandles([]*router.Handle{h})
	resolver := NewResolver(NewHandlerFunc("flaky", func(ctx context.Context, msg Message) error {
		return errors.New("boom")
	}))

	d := NewOutboxDispatcher(r, resolver, NewRoundRobin(), Config{
		BatchSize: 10, LeaseDuration: time.Second, MaxAttempts: 3, Backoff: ExponentialBackoff(time.Millisecond, time.Second),
	})

	if _, err := d.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fo.failed) != 1 {
		t.Fatalf("expected row failed past MaxAttempts, got rescheduled=%v failed=%v", fo.rescheduled, fo.failed)
	}
}

func TestOutboxDispatcher_CancelledContextBeforeClaimReturnsZero(t *testing.T) {
	fo := &fakeOutbox{rows: []*store.OutboxRow{{ID: "1", Topic: "greet"}}}
	h := &router.Handle{Key: "store-a", Outbox: fo}
	r := router.NewFromHandles([]*router.Handle{h})
	resolver := NewResolver()

	d := NewOutboxDispatcher(r, resolver, NewRoundRobin(), Config{
		BatchSize: 10, LeaseDuration: time.Second, MaxAttempts: 3, Backoff: ExponentialBackoff(time.Millisecond, time.Second),
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n, err := d.Run(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 processed on pre-cancelled Run, got %d", n)
	}
}

type fakeJoinCompleter struct {
	mu        sync.Mutex
	completed []string
	failed    []bool
}

func (f *fakeJoinCompleter) CompleteJoinChild(ctx context.Context, joinID string, childFailed bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, joinID)
	f.failed = append(f.failed, childFailed)
	return nil
}

func TestOutboxDispatcher_SuccessNotifiesJoinCompleter(t *testing.T) {
	joinID := "join-1"
	fo := &fakeOutbox{rows: []*store.OutboxRow{
		{ID: "1", Topic: "greet", RetryCount: 0, JoinID: &joinID},
	}}
	jc := &fakeJoinCompleter{}
	h := &router.Handle{Key: "store-a", Outbox: fo, Raw: jc}
	r := router.NewFromHandles([]*router.Handle{h})

	resolver := NewResolver(NewHandlerFunc("greet", func(ctx context.Context, msg Message) error { return nil }))
	d := NewOutboxDispatcher(r, resolver, NewRoundRobin(), Config{
		BatchSize: 10, LeaseDuration: time.Second, MaxAttempts: 3, Backoff: ExponentialBackoff(time.Millisecond, time.Second),
	})

	if _, err := d.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(jc.completed) != 1 || jc.completed[0] != joinID || jc.failed[0] != false {
		t.Fatalf("expected join child completed(false), got %v/%v", jc.completed, jc.failed)
	}
}

func TestOutboxDispatcher_ExhaustedRetryNotifiesJoinCompleterFailed(t *testing.T) {
	joinID := "join-2"
	fo := &fakeOutbox{rows: []*store.OutboxRow{{ID: "1", Topic: "flaky", RetryCount: 3, JoinID: &joinID}}}
	jc := &fakeJoinCompleter{}
	h := &router.Handle{Key: "store-a", Outbox: fo, Raw: jc}
	r := router.NewFromHandles([]*router.Handle{h})
	resolver := NewResolver(NewHandlerFunc("flaky", func(ctx context.Context, msg Message) error {
		return errors.New("boom")
	}))

	d := NewOutboxDispatcher(r, resolver, NewRoundRobin(), Config{
		BatchSize: 10, LeaseDuration: time.Second, MaxAttempts: 3, Backoff: ExponentialBackoff(time.Millisecond, time.Second),
	})

	if _, err := d.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(jc.completed) != 1 || jc.completed[0] != joinID || jc.failed[0] != true {
		t.Fatalf("expected join child completed(true), got %v/%v", jc.completed, jc.failed)
	}
}

func TestOutboxDispatcher_RescheduleDoesNotNotifyJoinCompleter(t *testing.T) {
	joinID := "join-3"
	fo := &fakeOutbox{rows: []*store.OutboxRow{{ID: "1", Topic: "flaky", RetryCount: 0, JoinID: &joinID}}}
	jc := &fakeJoinCompleter{}
	h := &router.Handle{Key: "store-a", Outbox: fo, Raw: jc}
	r := router.NewFromHandles([]*router.Handle{h})
	resolver := NewResolver(NewHandlerFunc("flaky", func(ctx context.Context, msg Message) error {
		return errors.New("boom")
	}))

	d := NewOutboxDispatcher(r, resolver, NewRoundRobin(), Config{
		BatchSize: 10, LeaseDuration: time.Second, MaxAttempts: 3, Backoff: ExponentialBackoff(time.Millisecond, time.Second),
	})

	if _, err := d.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(jc.completed) != 0 {
		t.Fatalf("expected no join notification on reschedule, got %v", jc.completed)
	}
}

func TestOutboxDispatcher_NoStoresReturnsZero(t *testing.T) {
	r := router.NewFromHandles(nil)
	resolver := NewResolver()
	d := NewOutboxDispatcher(r, resolver, NewRoundRobin(), Config{BatchSize: 10, Backoff: ExponentialBackoff(time.Millisecond, time.Second)})
	n, err := d.Run(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("expected (0, nil), got (%d, %v)", n, err)
	}
}
