package storeprovider

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oriys/relay/internal/cache"
	"github.com/oriys/relay/internal/config"
)

// CachingDiscovery wraps a Discovery backend with a shared cache.Cache
// (typically cache.NewRedisCache, per SPEC_FULL.md §6's
// DiscoveryConfig.CacheRedisAddr) that persists the last successful
// discovery round. A transient discovery outage (the RDS API erroring,
// or a network blip) then degrades to the last-known-good database list
// instead of an empty one, matching DynamicProvider.refresh's own
// stale-view tolerance one layer further out — this lets every process
// in a fleet share one last-known-good view instead of each holding only
// its own in-memory one.
type CachingDiscovery struct {
	inner Discovery
	c     cache.Cache
	key   string
	ttl   time.Duration
}

// NewCachingDiscovery builds a CachingDiscovery. key namespaces the cached
// list (so multiple discovery backends can share one Redis cache); ttl
// bounds how long a cached list is trusted even as a fallback.
func NewCachingDiscovery(inner Discovery, c cache.Cache, key string, ttl time.Duration) *CachingDiscovery {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &CachingDiscovery{inner: inner, c: c, key: key, ttl: ttl}
}

func (d *CachingDiscovery) Discover(ctx context.Context) ([]config.PostgresConfig, error) {
	cfgs, err := d.inner.Discover(ctx)
	if err == nil {
		if data, merr := json.Marshal(cfgs); merr == nil {
			_ = d.c.Set(ctx, d.key, data, d.ttl)
		}
		return cfgs, nil
	}

	data, cerr := d.c.Get(ctx, d.key)
	if cerr != nil {
		return nil, err
	}
	var cached []config.PostgresConfig
	if uerr := json.Unmarshal(data, &cached); uerr != nil {
		return nil, err
	}
	return cached, nil
}
