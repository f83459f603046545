// Package workflow provides the coordinator-side handler interface and the
// context through which workflow code executes activities.
package workflow

import (
	"context"
	"reflect"

	"github.com/KamdynS/pacer/activity"
)

// Handler coordinates activities. It runs on the worker that claims the
// workflow run; every activity it executes goes back through the server so
// the run's history is durable.
type Handler interface {
	Execute(ctx Context, input string) (string, error)
}

// HandlerFunc is a function-based workflow implementation. Func-based
// handlers have no usable type name; register them with an explicit name.
type HandlerFunc func(ctx Context, input string) (string, error)

// Execute implements Handler
func (f HandlerFunc) Execute(ctx Context, input string) (string, error) {
	return f(ctx, input)
}

// Context is the handler-facing API of a running workflow. ExecuteActivity
// is logically sequential: the call returns only once the activity run is
// terminal.
type Context interface {
	context.Context

	// RunID returns this workflow run's id.
	RunID() string

	// WithActivityOptions configures subsequent ExecuteActivity calls.
	WithActivityOptions(opts activity.Options)

	// ExecuteActivity enqueues the handler's activity with the given input
	// and blocks until its run completes. A non-empty result returns
	// (result, nil); a non-empty error returns ("", error).
	ExecuteActivity(ctx context.Context, h activity.Handler, input string) (string, error)
}

// NameOf derives a handler's registered name from the last segment of its
// type name.
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
