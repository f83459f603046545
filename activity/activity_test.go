package activity

import (
	"context"
	"testing"
)

type sumActivity struct{}

func (sumActivity) Execute(ctx context.Context, input string) (string, error) {
	return input, nil
}

func TestNameOf(t *testing.T) {
	if name := NameOf(sumActivity{}); name != "sumActivity" {
		t.Errorf("expected sumActivity, got %s", name)
	}
	if name := NameOf(&sumActivity{}); name != "sumActivity" {
		t.Errorf("expected pointer handler to derive sumActivity, got %s", name)
	}

	fn := HandlerFunc(func(ctx context.Context, input string) (string, error) {
		return input, nil
	})
	if name := NameOf(fn); name != "anonymous" {
		t.Errorf("expected anonymous for func handlers, got %s", name)
	}
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()

	if err := r.Register("sum", sumActivity{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := r.Get("sum"); err != nil {
		t.Errorf("get: %v", err)
	}
	if _, err := r.Get("missing"); err == nil {
		t.Error("expected error for unknown name")
	}
}

func TestRegistry_RegisterOverwrites(t *testing.T) {
	r := NewRegistry()

	first := HandlerFunc(func(ctx context.Context, input string) (string, error) {
		return "first", nil
	})
	second := HandlerFunc(func(ctx context.Context, input string) (string, error) {
		return "second", nil
	})
	if err := r.Register("sum", first); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register("sum", second); err != nil {
		t.Fatalf("re-register: %v", err)
	}

	h, err := r.Get("sum")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	out, _ := h.Execute(context.Background(), "")
	if out != "second" {
		t.Errorf("expected the later registration to win, got %q", out)
	}
}

func TestRegistry_RejectsEmptyNameAndNilHandler(t *testing.T) {
	r := NewRegistry()

	if err := r.Register("", sumActivity{}); err == nil {
		t.Error("expected error for empty name")
	}
	if err := r.Register("sum", nil); err == nil {
		t.Error("expected error for nil handler")
	}
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	if opts.RetryPolicy.MaxAttempts != 1 {
		t.Errorf("expected a single attempt by default, got %d", opts.RetryPolicy.MaxAttempts)
	}
}
