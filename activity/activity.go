// Package activity provides the handler interface for leaf units of
// effectful work invoked by workflows.
package activity

import (
	"context"
	"reflect"
)

// Handler is a unit of work invoked by name with a string input. Activities
// are the non-deterministic leaves of a workflow; they run on whichever
// worker claims them.
type Handler interface {
	Execute(ctx context.Context, input string) (string, error)
}

// HandlerFunc is a function-based activity implementation. Func-based
// handlers have no usable type name; register them with an explicit name.
type HandlerFunc func(ctx context.Context, input string) (string, error)

// Execute implements Handler
func (f HandlerFunc) Execute(ctx context.Context, input string) (string, error) {
	return f(ctx, input)
}

// NameOf derives a handler's registered name from the last segment of its
// type name. This is a convenience, not a protocol requirement; explicit
// names work too.
func NameOf(h Handler) string {
	t := reflect.TypeOf(h)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil {
		return "anonymous"
	}
	if name := t.Name(); name != "" && name != "HandlerFunc" {
		return name
	}
	return "anonymous"
}

// RetryPolicy configures how many attempts an activity run is allowed.
// The server records the budget on every event but does not schedule
// retries itself.
type RetryPolicy struct {
	MaxAttempts int64
}

// Options configure activity execution started from a workflow context.
type Options struct {
	RetryPolicy RetryPolicy
}

// DefaultOptions returns the default activity options: a single attempt.
func DefaultOptions() Options {
	return Options{RetryPolicy: RetryPolicy{MaxAttempts: 1}}
}
