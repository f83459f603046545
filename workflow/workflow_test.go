package workflow

import (
	"testing"
)

type orderWorkflow struct{}

func (orderWorkflow) Execute(ctx Context, input string) (string, error) {
	return input, nil
}

func TestNameOf(t *testing.T) {
	if name := NameOf(orderWorkflow{}); name != "orderWorkflow" {
		t.Errorf("expected orderWorkflow, got %s", name)
	}
	if name := NameOf(&orderWorkflow{}); name != "orderWorkflow" {
		t.Errorf("expected pointer handler to derive orderWorkflow, got %s", name)
	}

	fn := HandlerFunc(func(ctx Context, input string) (string, error) {
		return input, nil
	})
	if name := NameOf(fn); name != "anonymous" {
		t.Errorf("expected anonymous for func handlers, got %s", name)
	}
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()

	if err := r.Register("order-flow", orderWorkflow{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := r.Get("order-flow"); err != nil {
		t.Errorf("get: %v", err)
	}
	if _, err := r.Get("missing"); err == nil {
		t.Error("expected error for unknown name")
	}

	names := r.List()
	if len(names) != 1 || names[0] != "order-flow" {
		t.Errorf("unexpected names %v", names)
	}
}
