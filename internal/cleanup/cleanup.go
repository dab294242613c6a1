// Package cleanup runs the periodic retention worker described in
// SPEC_FULL.md §4.10: on a fixed interval, delete terminal Outbox/Inbox
// rows older than the configured retention window from every store the
// provider currently reports live. The worker follows the teacher's
// Start()/Stop() lifecycle idiom (a guarded boolean plus a done channel)
// rather than exposing a bare goroutine.
package cleanup

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/oriys/relay/internal/logging"
	"github.com/oriys/relay/internal/storeprovider"
)

// Cleaner is satisfied by store.PostgresStore; narrowed here so the
// worker can be tested against a fake.
type Cleaner interface {
	Identifier() string
	CleanupInbox(ctx context.Context, retention time.Duration) (int, error)
	CleanupOutbox(ctx context.Context, retention time.Duration) (int, error)
}

// Provider supplies the current set of cleaners, matching
// storeprovider.Provider's shape without requiring the concrete type.
type Provider interface {
	Current() []Cleaner
}

// storeProviderAdapter adapts a storeprovider.Provider (over concrete
// *store.PostgresStore) to Provider.
type storeProviderAdapter struct {
	inner storeprovider.Provider
}

// FromStoreProvider wraps a storeprovider.Provider for use by Worker,
// so cmd/corona's composition root doesn't need cleanup to depend on
// the concrete store package directly.
func FromStoreProvider(p storeprovider.Provider) Provider {
	return &storeProviderAdapter{inner: p}
}

func (a *storeProviderAdapter) Current() []Cleaner {
	stores := a.inner.Current()
	out := make([]Cleaner, 0, len(stores))
	for _, s := range stores {
		out = append(out, s)
	}
	return out
}

// Worker periodically invokes CleanupInbox/CleanupOutbox against every
// live store. A single failed store in one tick does not abort the
// tick for the others; errors are logged and retried on the next tick,
// tolerating a store whose schema migration hasn't completed yet
// ("missing routine") as a transient condition rather than a fatal one.
type Worker struct {
	provider  Provider
	interval  time.Duration
	retention time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New builds a Worker. provider is re-queried on every tick so it picks
// up stores added or removed by a DynamicProvider refresh without
// needing to be restarted.
func New(provider Provider, interval, retention time.Duration) *Worker {
	return &Worker{provider: provider, interval: interval, retention: retention}
}

// Start launches the background ticker loop. Calling Start twice
// without an intervening Stop is a no-op.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	go w.loop(ctx)
}

// Stop signals the loop to exit and waits for it to finish.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	doneCh := w.doneCh
	w.mu.Unlock()

	<-doneCh
}

func (w *Worker) loop(ctx context.Context) {
	defer close(w.doneCh)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	for _, c := range w.provider.Current() {
		if n, err := c.CleanupOutbox(ctx, w.retention); err != nil {
			logCleanupErr(c.Identifier(), "outbox", err)
		} else if n > 0 {
			logging.Op().Info("cleaned up outbox rows", "store", c.Identifier(), "deleted", n)
		}

		if n, err := c.CleanupInbox(ctx, w.retention); err != nil {
			logCleanupErr(c.Identifier(), "inbox", err)
		} else if n > 0 {
			logging.Op().Info("cleaned up inbox rows", "store", c.Identifier(), "deleted", n)
		}
	}
}

// isMissingRoutine reports whether err looks like the store hasn't
// finished deploying its schema yet (a half-migrated tenant bundle),
// which the worker treats as transient and simply retries next tick.
func isMissingRoutine(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "does not exist") || strings.Contains(msg, "undefined_table")
}

func logCleanupErr(storeName, table string, err error) {
	if isMissingRoutine(err) {
		logging.Op().Warn("cleanup routine unavailable, will retry", "store", storeName, "table", table, "error", err)
		return
	}
	logging.Op().Error("cleanup failed", "store", storeName, "table", table, "error", err)
}
