package dispatcher

import (
	"reflect"
	"testing"
)

func TestRoundRobin_RotatesStartIndex(t *testing.T) {
	rr := NewRoundRobin()
	keys := []string{"a", "b", "c"}

	first := rr.Order(keys)
	second := rr.Order(keys)
	third := rr.Order(keys)
	fourth := rr.Order(keys)

	if !reflect.DeepEqual(first, []string{"a", "b", "c"}) {
		t.Fatalf("unexpected first order: %v", first)
	}
	if !reflect.DeepEqual(second, []string{"b", "c", "a"}) {
		t.Fatalf("unexpected second order: %v", second)
	}
	if !reflect.DeepEqual(third, []string{"c", "a", "b"}) {
		t.Fatalf("unexpected third order: %v", third)
	}
	if !reflect.DeepEqual(fourth, first) {
		t.Fatalf("expected rotation to cycle back to the first order, got %v", fourth)
	}
}

func TestDrainFirst_StaysWithLastProductiveStore(t *testing.T) {
	df := NewDrainFirst()
	keys := []string{"a", "b", "c"}

	order := df.Order(keys)
	if !reflect.DeepEqual(order, keys) {
		t.Fatalf("expected initial order unchanged, got %v", order)
	}

	df.Record("b", true)
	order = df.Order(keys)
	if order[0] != "b" {
		t.Fatalf("expected b first after it returned a non-empty batch, got %v", order)
	}

	df.Record("b", false)
	order = df.Order(keys)
	if !reflect.DeepEqual(order, keys) {
		t.Fatalf("expected order to reset to input order once b runs dry, got %v", order)
	}
}
