package storeprovider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/oriys/relay/internal/cache"
	"github.com/oriys/relay/internal/config"
)

type flakyDiscovery struct {
	fail bool
	cfgs []config.PostgresConfig
}

func (d *flakyDiscovery) Discover(ctx context.Context) ([]config.PostgresConfig, error) {
	if d.fail {
		return nil, errors.New("discovery backend unreachable")
	}
	return d.cfgs, nil
}

func TestCachingDiscovery_FallsBackToLastSuccessfulRound(t *testing.T) {
	inner := &flakyDiscovery{cfgs: []config.PostgresConfig{{Name: "tenant-1", DSN: "postgres://tenant1"}}}
	c := cache.NewInMemoryCache()
	defer c.Close()
	d := NewCachingDiscovery(inner, c, "test-discovery", time.Minute)

	cfgs, err := d.Discover(context.Background())
	if err != nil {
		t.Fatalf("unexpected error on first round: %v", err)
	}
	if len(cfgs) != 1 || cfgs[0].Name != "tenant-1" {
		t.Fatalf("expected tenant-1, got %v", cfgs)
	}

	inner.fail = true
	cfgs, err = d.Discover(context.Background())
	if err != nil {
		t.Fatalf("expected fallback to cached round, got error: %v", err)
	}
	if len(cfgs) != 1 || cfgs[0].Name != "tenant-1" {
		t.Fatalf("expected cached tenant-1 on fallback, got %v", cfgs)
	}
}

func TestCachingDiscovery_NoCachedRoundSurfacesOriginalError(t *testing.T) {
	inner := &flakyDiscovery{fail: true}
	c := cache.NewInMemoryCache()
	defer c.Close()
	d := NewCachingDiscovery(inner, c, "test-discovery-empty", time.Minute)

	if _, err := d.Discover(context.Background()); err == nil {
		t.Fatalf("expected the original discovery error with no cached fallback")
	}
}
