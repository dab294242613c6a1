package storeprovider

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oriys/relay/internal/clock"
	"github.com/oriys/relay/internal/config"
	"github.com/oriys/relay/internal/store"
)

type emptyDiscovery struct {
	calls int32
}

func (d *emptyDiscovery) Discover(ctx context.Context) ([]config.PostgresConfig, error) {
	atomic.AddInt32(&d.calls, 1)
	return nil, nil
}

func TestDynamicProvider_EmptyDiscoveryYieldsEmptyProvider(t *testing.T) {
	d := &emptyDiscovery{}
	p, err := NewDynamicProvider(context.Background(), d, time.Hour, clock.Real{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer p.Close()

	if got := len(p.Current()); got != 0 {
		t.Fatalf("expected 0 stores, got %d", got)
	}
	if atomic.LoadInt32(&d.calls) != 1 {
		t.Fatalf("expected exactly one synchronous discovery round at construction, got %d", d.calls)
	}
}

func TestDynamicProvider_OnChangeInvokedOnRefresh(t *testing.T) {
	d := &emptyDiscovery{}
	var notified int32
	onChange := func(stores []*store.PostgresStore) {
		atomic.AddInt32(&notified, 1)
	}
	p, err := NewDynamicProvider(context.Background(), d, 10*time.Millisecond, clock.Real{}, onChange)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer p.Close()

	if atomic.LoadInt32(&notified) != 1 {
		t.Fatalf("expected onChange to be invoked once for the initial synchronous discovery round, got %d", notified)
	}
}
