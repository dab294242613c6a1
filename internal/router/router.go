// Package router resolves a logical store key to the Outbox/Inbox pair
// backing it, per SPEC_FULL.md §4.8. It is a thin, replaceable cache in
// front of whatever internal/storeprovider currently reports as live.
package router

import (
	"context"
	"fmt"
	"sync"

	"github.com/oriys/relay/internal/store"
)

// Handle bundles everything a caller needs to act against one tenant
// store: its Outbox/Inbox contracts plus its logical identifier.
type Handle struct {
	Key    string
	Outbox store.Outbox
	Inbox  store.Inbox
	Raw    store.JoinCompleter
}

// Router caches live store handles behind their logical key (§4.7's
// GetIdentifier). Keys must be non-empty; no other validation (such as
// IsValidTenantScopePart) is applied to them.
type Router struct {
	mu       sync.RWMutex
	handles  map[string]*Handle
}

// New builds a Router over an initial set of stores. The stores must
// each implement Identifier() to be addressable.
func New(stores []*store.PostgresStore) *Router {
	r := &Router{handles: make(map[string]*Handle, len(stores))}
	r.Replace(stores)
	return r
}

// NewFromHandles builds a Router directly from pre-built Handles,
// bypassing the *store.PostgresStore requirement. Used by tests that
// substitute fake Outbox/Inbox implementations.
func NewFromHandles(handles []*Handle) *Router {
	r := &Router{handles: make(map[string]*Handle, len(handles))}
	for _, h := range handles {
		if h == nil || h.Key == "" {
			continue
		}
		r.handles[h.Key] = h
	}
	return r
}

// Replace atomically swaps the full set of routed stores, used by a
// DynamicProvider refresh tick to apply newly discovered or retired
// stores without ever exposing a partially-updated view.
func (r *Router) Replace(stores []*store.PostgresStore) {
	next := make(map[string]*Handle, len(stores))
	for _, s := range stores {
		if s == nil {
			continue
		}
		key := s.Identifier()
		if key == "" {
			continue
		}
		next[key] = &Handle{Key: key, Outbox: s, Inbox: s, Raw: s}
	}
	r.mu.Lock()
	r.handles = next
	r.mu.Unlock()
}

// Get resolves key to its Handle. Returns store.ErrInvalidKey for an
// empty key and store.ErrUnknownKey when no store is registered under
// key.
func (r *Router) Get(ctx context.Context, key string) (*Handle, error) {
	if key == "" {
		return nil, store.ErrInvalidKey
	}
	r.mu.RLock()
	h, ok := r.handles[key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrUnknownKey, key)
	}
	_ = ctx
	return h, nil
}

// Keys returns the currently routed store keys, primarily for
// diagnostics and the administrative CLI's probe command.
func (r *Router) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.handles))
	for k := range r.handles {
		keys = append(keys, k)
	}
	return keys
}

// All returns every currently routed handle, used by the multi-store
// dispatcher to fan a single Run across all live stores.
func (r *Router) All() []*Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		out = append(out, h)
	}
	return out
}
