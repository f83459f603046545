package state

import (
	"context"
	"errors"
)

// ErrNotFound is returned by lookups that miss. Callers distinguish a miss
// from a backend failure with errors.Is.
var ErrNotFound = errors.New("not found")

// Store is the event store the orchestrator runs against. Entities are
// created lazily and never deleted; run histories are append-only.
//
// Mutations on a single run are serialized by the implementation. Readers
// must sort a run's events by CreatedAt before reasoning about "latest".
type Store interface {
	// AddWorkflow registers a workflow definition. Idempotent on name: a
	// second registration of the same name is a no-op and the originally
	// stored id remains.
	AddWorkflow(ctx context.Context, w *Workflow) error

	// AddActivity registers an activity definition, idempotent on name.
	AddActivity(ctx context.Context, a *Activity) error

	// GetWorkflowByName returns the workflow registered under name.
	GetWorkflowByName(ctx context.Context, name string) (*Workflow, error)

	// GetActivityByName returns the activity registered under name.
	GetActivityByName(ctx context.Context, name string) (*Activity, error)

	// GetWorkflowByID returns the workflow with the given id. Used to
	// resolve a run's workflow back to its name when spawning reruns.
	GetWorkflowByID(ctx context.Context, id string) (*Workflow, error)

	// AppendWorkflowEvent appends an event to its run's history, inserting
	// the run id into the workflow's run list if absent.
	AppendWorkflowEvent(ctx context.Context, e *WorkflowEvent) error

	// AppendActivityEvent appends an event to its run's history, inserting
	// the run id into the activity's run list if absent.
	AppendActivityEvent(ctx context.Context, e *ActivityEvent) error

	// LastWorkflowRunEvent returns the run's latest event by CreatedAt.
	LastWorkflowRunEvent(ctx context.Context, runID string) (*WorkflowEvent, error)

	// LastActivityRunEvent returns the run's latest event by CreatedAt.
	LastActivityRunEvent(ctx context.Context, runID string) (*ActivityEvent, error)

	// FirstWorkflowRunEvent returns the run's earliest event. Used to
	// recover the original input when a failed run is rerun.
	FirstWorkflowRunEvent(ctx context.Context, runID string) (*WorkflowEvent, error)

	// FirstPendingWorkflow iterates the named workflow's runs in insertion
	// order and returns the first whose latest event is pending.
	FirstPendingWorkflow(ctx context.Context, name string) (*WorkflowEvent, error)

	// FirstPendingActivity is the activity analogue of FirstPendingWorkflow.
	FirstPendingActivity(ctx context.Context, name string) (*ActivityEvent, error)

	// ClaimPendingWorkflowRun appends the Started event iff the run's
	// latest event is still pending. Returns false when another claimer won
	// or the run moved on.
	ClaimPendingWorkflowRun(ctx context.Context, started *WorkflowEvent) (bool, error)

	// ClaimPendingActivityRun appends the Started event iff the run's
	// latest event is still pending. The stored attempt number is taken
	// from the pending event when that pending is the run's first attempt
	// at that number, and incremented when the run was re-pended after a
	// start.
	ClaimPendingActivityRun(ctx context.Context, started *ActivityEvent) (bool, error)

	// FinishWorkflowRun appends the terminal event iff the run has no
	// terminal event yet. Returns false if the run was already terminal.
	FinishWorkflowRun(ctx context.Context, terminal *WorkflowEvent) (bool, error)

	// FinishActivityRun appends the terminal event iff the run has no
	// terminal event yet.
	FinishActivityRun(ctx context.Context, terminal *ActivityEvent) (bool, error)

	// CompletedWorkflow returns the run's Succeeded event if present, else
	// its Failed event, else ErrNotFound.
	CompletedWorkflow(ctx context.Context, runID string) (*WorkflowEvent, error)

	// CompletedActivity is the activity analogue of CompletedWorkflow.
	CompletedActivity(ctx context.Context, runID string) (*ActivityEvent, error)

	// MemoizedActivitySuccess scans the activity's runs in insertion order
	// for one that ran under pastWorkflowRunID with the given input and
	// reached Succeeded, and returns that Succeeded event. This is the
	// rerun short-circuit decision.
	MemoizedActivitySuccess(ctx context.Context, pastWorkflowRunID, activityID, input string) (*ActivityEvent, error)

	// ListWorkflowRunEvents returns the run's full history sorted by
	// CreatedAt ascending.
	ListWorkflowRunEvents(ctx context.Context, runID string) ([]*WorkflowEvent, error)

	// ListActivityRunEvents returns the run's full history sorted by
	// CreatedAt ascending.
	ListActivityRunEvents(ctx context.Context, runID string) ([]*ActivityEvent, error)
}
