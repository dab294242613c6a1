package lifecycle

import (
	"context"
	"errors"
	"testing"

	"github.com/oriys/relay/internal/config"
	"github.com/oriys/relay/internal/store"
)

type fakePinger struct {
	id      string
	pingErr error
}

func (f *fakePinger) Identifier() string             { return f.id }
func (f *fakePinger) Ping(ctx context.Context) error { return f.pingErr }

type fakeControlPlane struct{ err error }

func (f *fakeControlPlane) Ping(ctx context.Context) error { return f.err }

func TestValidate_DiscoveryEmptyFails(t *testing.T) {
	v := &Validator{Discovery: config.DiscoveryConfig{UsesDiscovery: true, RequiresDatabaseAtStartup: true}}
	err := v.Validate(context.Background(), nil)
	if !errors.Is(err, store.ErrStartupPrecondition) {
		t.Fatalf("expected ErrStartupPrecondition, got %v", err)
	}
}

func TestValidate_DiscoveryEmptyAllowedWhenNotRequired(t *testing.T) {
	v := &Validator{Discovery: config.DiscoveryConfig{UsesDiscovery: true, RequiresDatabaseAtStartup: false}}
	if err := v.Validate(context.Background(), nil); err != nil {
		t.Fatalf("expected no error when database is not required at startup, got %v", err)
	}
}

func TestValidate_StaticListEmptyAndRequiredFails(t *testing.T) {
	v := &Validator{Discovery: config.DiscoveryConfig{UsesDiscovery: false, RequiresDatabaseAtStartup: true}}
	err := v.Validate(context.Background(), nil)
	if !errors.Is(err, store.ErrStartupPrecondition) {
		t.Fatalf("expected ErrStartupPrecondition, got %v", err)
	}
}

func TestValidate_ControlPlaneUnreachableFails(t *testing.T) {
	v := &Validator{
		Discovery:    config.DiscoveryConfig{UsesDiscovery: false, RequiresDatabaseAtStartup: false},
		ControlPlane: &fakeControlPlane{err: errors.New("dial tcp: timeout")},
	}
	err := v.Validate(context.Background(), nil)
	if !errors.Is(err, store.ErrControlPlaneUnreachable) {
		t.Fatalf("expected ErrControlPlaneUnreachable, got %v", err)
	}
}

func TestValidate_AllHealthySucceeds(t *testing.T) {
	v := &Validator{
		Discovery:    config.DiscoveryConfig{UsesDiscovery: false, RequiresDatabaseAtStartup: true},
		ControlPlane: &fakeControlPlane{},
	}
	stores := []Pinger{&fakePinger{id: "db-1"}, &fakePinger{id: "db-2"}}
	if err := v.Validate(context.Background(), stores); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_UnreachableStoreFails(t *testing.T) {
	v := &Validator{Discovery: config.DiscoveryConfig{UsesDiscovery: false, RequiresDatabaseAtStartup: true}}
	stores := []Pinger{&fakePinger{id: "db-1", pingErr: errors.New("connection refused")}}
	err := v.Validate(context.Background(), stores)
	if !errors.Is(err, store.ErrStartupPrecondition) {
		t.Fatalf("expected ErrStartupPrecondition for unreachable store, got %v", err)
	}
}
