package router

import (
	"context"
	"errors"
	"testing"

	"github.com/oriys/relay/internal/store"
)

func TestRouter_GetUnknownKey(t *testing.T) {
	r := NewFromHandles(nil)
	_, err := r.Get(context.Background(), "missing")
	if !errors.Is(err, store.ErrUnknownKey) {
		t.Fatalf("expected ErrUnknownKey, got %v", err)
	}
}

func TestRouter_GetInvalidKey(t *testing.T) {
	r := NewFromHandles(nil)
	_, err := r.Get(context.Background(), "")
	if !errors.Is(err, store.ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestRouter_GetReturnsSameHandle(t *testing.T) {
	h := &Handle{Key: "tenant-a"}
	r := NewFromHandles([]*Handle{h})

	got, err := r.Get(context.Background(), "tenant-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != h {
		t.Fatalf("expected the same cached handle instance")
	}
}

func TestRouter_SwappedHandleSetDropsOldKeys(t *testing.T) {
	r := NewFromHandles([]*Handle{{Key: "a"}})
	if len(r.Keys()) != 1 {
		t.Fatalf("expected 1 key before replace")
	}

	r.handles = map[string]*Handle{"b": {Key: "b"}}
	if _, err := r.Get(context.Background(), "a"); !errors.Is(err, store.ErrUnknownKey) {
		t.Fatalf("expected old key to be gone after replace, got %v", err)
	}
	if _, err := r.Get(context.Background(), "b"); err != nil {
		t.Fatalf("expected new key to resolve: %v", err)
	}
}

func TestRouter_All(t *testing.T) {
	r := NewFromHandles([]*Handle{{Key: "a"}, {Key: "b"}})
	all := r.All()
	if len(all) != 2 {
		t.Fatalf("expected 2 handles, got %d", len(all))
	}
}
