package observability

import (
	"context"
)

// Hooks provides optional callbacks for logging, metrics, and tracing
// without introducing dependencies in the core library. All functions are
// optional.
type Hooks struct {
	// Logf logs a structured message with a severity level and key-value fields.
	Logf func(ctx context.Context, level string, msg string, fields map[string]any)

	// OnRegister is called when a workflow or activity name is registered.
	OnRegister func(ctx context.Context, kind string, name string)
	// OnEnqueue is called when a pending run is created.
	OnEnqueue func(ctx context.Context, kind string, name string, runID string)
	// OnDispatch is called when a poller claims a pending run.
	OnDispatch func(ctx context.Context, kind string, name string, runID string)
	// OnMemoized is called when an enqueued activity short-circuits to a
	// memoized success during a rerun.
	OnMemoized func(ctx context.Context, name string, runID string, pastRunID string)
	// OnComplete is called when a run reaches a terminal event.
	OnComplete func(ctx context.Context, kind string, runID string, failed bool)
	// OnRerun is called when a failed workflow run spawns a rerun.
	OnRerun func(ctx context.Context, oldRunID string, newRunID string)
}

// SafeLog logs if Logf is configured.
func (h *Hooks) SafeLog(ctx context.Context, level string, msg string, fields map[string]any) {
	if h != nil && h.Logf != nil {
		h.Logf(ctx, level, msg, fields)
	}
}

// SafeRegister invokes OnRegister if configured.
func (h *Hooks) SafeRegister(ctx context.Context, kind string, name string) {
	if h != nil && h.OnRegister != nil {
		h.OnRegister(ctx, kind, name)
	}
}

// SafeEnqueue invokes OnEnqueue if configured.
func (h *Hooks) SafeEnqueue(ctx context.Context, kind string, name string, runID string) {
	if h != nil && h.OnEnqueue != nil {
		h.OnEnqueue(ctx, kind, name, runID)
	}
}

// SafeDispatch invokes OnDispatch if configured.
func (h *Hooks) SafeDispatch(ctx context.Context, kind string, name string, runID string) {
	if h != nil && h.OnDispatch != nil {
		h.OnDispatch(ctx, kind, name, runID)
	}
}

// SafeMemoized invokes OnMemoized if configured.
func (h *Hooks) SafeMemoized(ctx context.Context, name string, runID string, pastRunID string) {
	if h != nil && h.OnMemoized != nil {
		h.OnMemoized(ctx, name, runID, pastRunID)
	}
}

// SafeComplete invokes OnComplete if configured.
func (h *Hooks) SafeComplete(ctx context.Context, kind string, runID string, failed bool) {
	if h != nil && h.OnComplete != nil {
		h.OnComplete(ctx, kind, runID, failed)
	}
}

// SafeRerun invokes OnRerun if configured.
func (h *Hooks) SafeRerun(ctx context.Context, oldRunID string, newRunID string) {
	if h != nil && h.OnRerun != nil {
		h.OnRerun(ctx, oldRunID, newRunID)
	}
}
