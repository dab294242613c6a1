// Package storeprovider resolves the set of live tenant stores the
// dispatcher and router operate over, per SPEC_FULL.md §4.7. Two
// implementations are provided: a ConfiguredProvider for a fixed,
// operator-supplied list, and a DynamicProvider that periodically
// re-resolves the list from an external Discovery source (e.g. tagged
// RDS/Aurora clusters) and diffs it against the stores currently open.
package storeprovider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oriys/relay/internal/clock"
	"github.com/oriys/relay/internal/config"
	"github.com/oriys/relay/internal/logging"
	"github.com/oriys/relay/internal/store"
)

// Provider exposes the current set of live stores. Implementations must
// be safe for concurrent use; Current may be called from the
// dispatcher's hot loop.
type Provider interface {
	Current() []*store.PostgresStore
	Close() error
}

// ConfiguredProvider serves a fixed list of stores opened once at
// startup, matching SPEC_FULL.md's "static list" mode (Discovery.UsesDiscovery = false).
type ConfiguredProvider struct {
	stores []*store.PostgresStore
}

// NewConfiguredProvider opens one PostgresStore per entry in cfgs.
func NewConfiguredProvider(ctx context.Context, cfgs []config.PostgresConfig) (*ConfiguredProvider, error) {
	stores := make([]*store.PostgresStore, 0, len(cfgs))
	for _, c := range cfgs {
		name := c.Name
		if name == "" {
			name = c.DSN
		}
		s, err := store.NewPostgresStore(ctx, c.DSN, name)
		if err != nil {
			for _, opened := range stores {
				_ = opened.Close()
			}
			return nil, fmt.Errorf("open configured store %s: %w", name, err)
		}
		stores = append(stores, s)
	}
	return &ConfiguredProvider{stores: stores}, nil
}

func (p *ConfiguredProvider) Current() []*store.PostgresStore { return p.stores }

func (p *ConfiguredProvider) Close() error {
	var firstErr error
	for _, s := range p.stores {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Discovery enumerates the tenant databases currently reported by an
// external source. Implementations must tolerate being called
// repeatedly on a timer.
type Discovery interface {
	Discover(ctx context.Context) ([]config.PostgresConfig, error)
}

// OnChange is invoked after every successful refresh with the full,
// newly-opened store set, letting the caller (typically a router.Router)
// swap its view atomically.
type OnChange func([]*store.PostgresStore)

// DynamicProvider re-resolves the live store set from a Discovery
// backend on a fixed interval, opening newly-seen databases and closing
// ones discovery stopped reporting. Results of the last successful
// discovery round are reused if a subsequent round errors, so a
// transient discovery outage degrades to a stale-but-serving view
// rather than an empty one.
type DynamicProvider struct {
	discovery       Discovery
	refreshInterval time.Duration
	clk             clock.Clock
	onChange        OnChange

	mu     sync.RWMutex
	byName map[string]*store.PostgresStore

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewDynamicProvider performs an initial synchronous discovery round
// (so the returned provider is immediately usable) and then starts a
// background refresh loop.
func NewDynamicProvider(ctx context.Context, discovery Discovery, refreshInterval time.Duration, clk clock.Clock, onChange OnChange) (*DynamicProvider, error) {
	if clk == nil {
		clk = clock.Real{}
	}
	p := &DynamicProvider{
		discovery:       discovery,
		refreshInterval: refreshInterval,
		clk:             clk,
		onChange:        onChange,
		byName:          make(map[string]*store.PostgresStore),
		stopCh:          make(chan struct{}),
		doneCh:          make(chan struct{}),
	}
	if err := p.refresh(ctx); err != nil {
		return nil, fmt.Errorf("initial store discovery: %w", err)
	}
	go p.loop(ctx)
	return p, nil
}

func (p *DynamicProvider) loop(ctx context.Context) {
	defer close(p.doneCh)
	ticker := time.NewTicker(p.refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			if err := p.refresh(ctx); err != nil {
				logging.Op().Error("store discovery refresh failed, keeping stale view", "error", err)
			}
		}
	}
}

func (p *DynamicProvider) refresh(ctx context.Context) error {
	cfgs, err := p.discovery.Discover(ctx)
	if err != nil {
		return err
	}

	p.mu.Lock()
	existing := p.byName
	next := make(map[string]*store.PostgresStore, len(cfgs))
	p.mu.Unlock()

	seen := make(map[string]bool, len(cfgs))
	for _, c := range cfgs {
		name := c.Name
		if name == "" {
			name = c.DSN
		}
		seen[name] = true
		if s, ok := existing[name]; ok {
			next[name] = s
			continue
		}
		s, err := store.NewPostgresStore(ctx, c.DSN, name)
		if err != nil {
			logging.Op().Warn("skipping newly discovered store that failed to open", "name", name, "error", err)
			continue
		}
		next[name] = s
	}

	var retired []*store.PostgresStore
	for name, s := range existing {
		if !seen[name] {
			retired = append(retired, s)
		}
	}

	p.mu.Lock()
	p.byName = next
	p.mu.Unlock()

	for _, s := range retired {
		_ = s.Close()
	}

	if p.onChange != nil {
		p.onChange(p.Current())
	}
	return nil
}

func (p *DynamicProvider) Current() []*store.PostgresStore {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*store.PostgresStore, 0, len(p.byName))
	for _, s := range p.byName {
		out = append(out, s)
	}
	return out
}

func (p *DynamicProvider) Close() error {
	close(p.stopCh)
	<-p.doneCh
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for _, s := range p.byName {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.byName = nil
	return firstErr
}
