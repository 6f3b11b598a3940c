package shutdown

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func TestRegistryExecutesInPriorityOrder(t *testing.T) {
	registry := NewShutdownRegistry()

	var order []string
	record := func(name string) func(context.Context) error {
		return func(ctx context.Context) error {
			order = append(order, name)
			return nil
		}
	}

	registry.Register("database", 30, record("database"))
	registry.Register("logger", 5, record("logger"))
	registry.Register("history-writer", 20, record("history-writer"))

	errs := registry.Shutdown(context.Background())
	if len(errs) != 0 {
		t.Fatalf("Shutdown() errors = %v, want none", errs)
	}

	want := []string{"logger", "history-writer", "database"}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("execution order = %v, want %v", order, want)
	}
}

func TestRegistryCollectsErrors(t *testing.T) {
	registry := NewShutdownRegistry()

	failErr := errors.New("close failed")
	registry.Register("ok", 1, func(ctx context.Context) error { return nil })
	registry.Register("fails", 2, func(ctx context.Context) error { return failErr })
	registry.Register("also-runs", 3, func(ctx context.Context) error { return nil })

	errs := registry.Shutdown(context.Background())
	if len(errs) != 1 {
		t.Fatalf("Shutdown() returned %d errors, want 1", len(errs))
	}
	if !errors.Is(errs[0], failErr) {
		t.Errorf("Shutdown() error = %v, want %v", errs[0], failErr)
	}
}

func TestRegistryShutdownIdempotent(t *testing.T) {
	registry := NewShutdownRegistry()

	calls := 0
	registry.Register("once", 1, func(ctx context.Context) error {
		calls++
		return nil
	})

	registry.Shutdown(context.Background())
	registry.Shutdown(context.Background())

	if calls != 1 {
		t.Errorf("handler ran %d times, want 1", calls)
	}
	if !registry.IsClosed() {
		t.Error("IsClosed() = false after Shutdown, want true")
	}

	// Registration after close is a no-op.
	registry.Register("late", 1, func(ctx context.Context) error { return nil })
	if registry.Count() != 1 {
		t.Errorf("Count() after late registration = %d, want 1", registry.Count())
	}
}

func TestRegistryNames(t *testing.T) {
	registry := NewShutdownRegistry()
	registry.Register("b", 20, func(ctx context.Context) error { return nil })
	registry.Register("a", 10, func(ctx context.Context) error { return nil })

	want := []string{"a", "b"}
	if got := registry.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
}
