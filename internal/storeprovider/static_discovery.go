package storeprovider

import (
	"context"

	"github.com/oriys/relay/internal/config"
)

// StaticDiscovery adapts a fixed, operator-supplied database list to the
// Discovery interface, so a DynamicProvider can be used even when no
// external discovery backend (RDS, etc.) is configured — useful when the
// operator wants the refresh-and-diff machinery (new/retired store
// handling) without an actual discovery API behind it.
type StaticDiscovery struct {
	cfgs []config.PostgresConfig
}

func NewStaticDiscovery(cfgs []config.PostgresConfig) *StaticDiscovery {
	return &StaticDiscovery{cfgs: cfgs}
}

func (d *StaticDiscovery) Discover(ctx context.Context) ([]config.PostgresConfig, error) {
	return d.cfgs, nil
}
