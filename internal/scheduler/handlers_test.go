package scheduler

import (
	"context"
	"testing"
)

func TestHandlerRegistryResolve(t *testing.T) {
	reg := NewHandlerRegistry()

	if _, ok := reg.Resolve(KindPlanning); ok {
		t.Fatal("expected no handler for an empty registry")
	}

	reg.Register(KindPlanning, func(ctx context.Context, task Task) (any, error) {
		return "planned", nil
	})

	handler, ok := reg.Resolve(KindPlanning)
	if !ok {
		t.Fatal("expected handler after Register")
	}
	result, err := handler(context.Background(), Task{})
	if err != nil || result != "planned" {
		t.Errorf("expected (planned, nil), got (%v, %v)", result, err)
	}

	if _, ok := reg.Resolve(KindTesting); ok {
		t.Error("expected no handler for an unregistered kind")
	}
}

// Re-registering a kind silently replaces the previous handler. Last
// write wins; this is a policy, not an accident.
func TestHandlerRegistryLastWriteWins(t *testing.T) {
	reg := NewHandlerRegistry()

	reg.Register(KindDevelopment, func(ctx context.Context, task Task) (any, error) {
		return "first", nil
	})
	reg.Register(KindDevelopment, func(ctx context.Context, task Task) (any, error) {
		return "second", nil
	})

	handler, ok := reg.Resolve(KindDevelopment)
	if !ok {
		t.Fatal("expected handler")
	}
	result, _ := handler(context.Background(), Task{})
	if result != "second" {
		t.Errorf("expected the later registration to win, got %v", result)
	}
}
