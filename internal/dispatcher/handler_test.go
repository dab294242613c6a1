package dispatcher

import (
	"context"
	"testing"
)

func TestResolver_TryResolveFound(t *testing.T) {
	called := false
	h := NewHandlerFunc("greet", func(ctx context.Context, msg Message) error {
		called = true
		return nil
	})
	r := NewResolver(h)

	got, ok := r.TryResolve("greet")
	if !ok {
		t.Fatal("expected handler to be found")
	}
	if err := got.Handle(context.Background(), Message{Topic: "greet"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("expected handler function to be invoked")
	}
}

func TestResolver_TryResolveMissing(t *testing.T) {
	r := NewResolver()
	_, ok := r.TryResolve("missing")
	if ok {
		t.Fatal("expected no handler for unregistered topic")
	}
}

func TestResolver_RegisterReplacesExisting(t *testing.T) {
	r := NewResolver(NewHandlerFunc("t", func(ctx context.Context, msg Message) error { return nil }))
	replaced := false
	r.Register(NewHandlerFunc("t", func(ctx context.Context, msg Message) error {
		replaced = true
		return nil
	}))

	h, ok := r.TryResolve("t")
	if !ok {
		t.Fatal("expected handler present")
	}
	_ = h.Handle(context.Background(), Message{})
	if !replaced {
		t.Fatal("expected Register to replace the existing handler")
	}
}
