// Package lifecycle validates the startup preconditions described in
// SPEC_FULL.md §4.9 before the daemon begins dispatching: a deployment
// that requires a database at startup must resolve at least one store (a
// discovery-backed deployment that does not require one may start empty),
// and a deployment with a control plane dependency must be able to reach it.
// The two failure modes are kept distinct (store.ErrStartupPrecondition
// vs store.ErrControlPlaneUnreachable) so operators and the
// administrative CLI can tell "nothing to do" from "can't talk to
// infrastructure".
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/oriys/relay/internal/config"
	"github.com/oriys/relay/internal/store"
	"github.com/oriys/relay/internal/storeprovider"
)

// Pinger is the minimal capability a resolved store needs for the
// startup check: an identity for error messages and a liveness probe.
// *store.PostgresStore satisfies this directly; tests substitute a
// fake.
type Pinger interface {
	Identifier() string
	Ping(ctx context.Context) error
}

// ControlPlaneChecker pings a control-plane dependency. Kept as an
// interface so tests can substitute a fake without a real network call.
type ControlPlaneChecker interface {
	Ping(ctx context.Context) error
}

// Validator runs the startup precondition checks for one daemon launch.
type Validator struct {
	Discovery    config.DiscoveryConfig
	ControlPlane ControlPlaneChecker // nil if no control plane is configured
	Timeout      time.Duration
}

// Validate runs all configured checks against the already-resolved
// store set (reflecting the first discovery round: both
// storeprovider.NewDynamicProvider and NewConfiguredProvider perform it
// synchronously before returning, so stores reflects that round via
// FromStoreProvider).
func (v *Validator) Validate(ctx context.Context, stores []Pinger) error {
	if v.Discovery.UsesDiscovery && v.Discovery.RequiresDatabaseAtStartup && len(stores) == 0 {
		return fmt.Errorf("%w: At least one database is required; discovery reported zero stores at startup", store.ErrStartupPrecondition)
	}
	if !v.Discovery.UsesDiscovery && v.Discovery.RequiresDatabaseAtStartup && len(stores) == 0 {
		return fmt.Errorf("%w: At least one database is required; no stores configured", store.ErrStartupPrecondition)
	}

	if v.ControlPlane != nil {
		timeout := v.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		cctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := v.ControlPlane.Ping(cctx); err != nil {
			return fmt.Errorf("%w: %v", store.ErrControlPlaneUnreachable, err)
		}
	}

	for _, s := range stores {
		if err := s.Ping(ctx); err != nil {
			return fmt.Errorf("%w: store %s unreachable: %v", store.ErrStartupPrecondition, s.Identifier(), err)
		}
	}

	return nil
}

// FromStoreProvider adapts a storeprovider.Provider's current store set
// to the []Pinger shape Validate expects.
func FromStoreProvider(p storeprovider.Provider) []Pinger {
	stores := p.Current()
	out := make([]Pinger, 0, len(stores))
	for _, s := range stores {
		out = append(out, s)
	}
	return out
}
