// Package state provides the event-sourced store behind the orchestrator:
// workflows, activities, and their append-only per-run event logs.
package state

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents a lifecycle transition of a workflow or activity run.
type EventType string

const (
	EventPending   EventType = "pending"
	EventStarted   EventType = "started"
	EventSucceeded EventType = "succeeded"
	EventFailed    EventType = "failed"
)

// IsTerminal returns true if the event type ends a run.
func (t EventType) IsTerminal() bool {
	return t == EventSucceeded || t == EventFailed
}

// Workflow is a registered workflow definition. Created on first
// registration of its name, never mutated.
type Workflow struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Activity is a registered activity definition.
type Activity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// WorkflowEvent records one lifecycle transition of a workflow run.
// Events are append-only; a run's history is its event list ordered by
// CreatedAt.
type WorkflowEvent struct {
	WorkflowID string    `json:"workflow_id"`
	RunID      string    `json:"run_id"`
	Type       EventType `json:"event_type"`
	Payload    string    `json:"payload"`
	RerunOf    string    `json:"rerun_of,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// ActivityEvent records one lifecycle transition of an activity run.
type ActivityEvent struct {
	ActivityID    string    `json:"activity_id"`
	RunID         string    `json:"activity_run_id"`
	WorkflowRunID string    `json:"workflow_run_id"`
	Type          EventType `json:"event_type"`
	Payload       string    `json:"payload"`
	CreatedAt     time.Time `json:"created_at"`
	Attempt       int64     `json:"attempt_number"`
	MaxAttempts   int64     `json:"max_attempts"`
}

// NewWorkflow creates a workflow definition with a fresh id.
func NewWorkflow(name string) *Workflow {
	return &Workflow{ID: NewID(), Name: name}
}

// NewActivity creates an activity definition with a fresh id.
func NewActivity(name string) *Activity {
	return &Activity{ID: NewID(), Name: name}
}

// NewWorkflowEvent creates a workflow event stamped with the current time.
func NewWorkflowEvent(workflowID, runID string, t EventType, payload string) *WorkflowEvent {
	return &WorkflowEvent{
		WorkflowID: workflowID,
		RunID:      runID,
		Type:       t,
		Payload:    payload,
		CreatedAt:  time.Now().UTC(),
	}
}

// NewActivityEvent creates an activity event stamped with the current time.
func NewActivityEvent(activityID, runID, workflowRunID string, t EventType, payload string, attempt, maxAttempts int64) *ActivityEvent {
	return &ActivityEvent{
		ActivityID:    activityID,
		RunID:         runID,
		WorkflowRunID: workflowRunID,
		Type:          t,
		Payload:       payload,
		CreatedAt:     time.Now().UTC(),
		Attempt:       attempt,
		MaxAttempts:   maxAttempts,
	}
}

// NewID returns a fresh run/entity identifier in canonical UUIDv4 form.
func NewID() string {
	return uuid.NewString()
}
