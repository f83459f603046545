// Package protocol defines the wire envelopes exchanged between workers and
// the orchestrator server on /worker_event and /rerun_workflow.
//
// Both envelopes are tagged unions encoded as a single JSON object whose one
// key is the variant name. The legacy tag spellings "EnqueuWorkflow" and
// "EnqueuActivity" are part of the on-wire contract and are kept
// byte-compatible. The empty string is the on-wire marker for an absent
// result or error payload.
package protocol

import (
	"encoding/json"
	"fmt"
)

// RegisterWorkflow registers a workflow name with the server.
type RegisterWorkflow struct {
	Name string `json:"name"`
}

// RegisterActivity registers an activity name with the server.
type RegisterActivity struct {
	Name string `json:"name"`
}

// EnqueueWorkflow creates a pending workflow run.
type EnqueueWorkflow struct {
	Name          string `json:"name"`
	Input         string `json:"input"`
	WorkflowRunID string `json:"workflow_run_id"`
}

// EnqueueActivity creates a pending activity run under a workflow run.
type EnqueueActivity struct {
	Name          string `json:"name"`
	Input         string `json:"input"`
	ActivityRunID string `json:"activity_run_id"`
	WorkflowRunID string `json:"workflow_run_id"`
	MaxAttempts   int64  `json:"max_attempts"`
}

// CompleteWorkflow reports a workflow handler's outcome. Exactly one of
// Result/Error is expected to be non-empty.
type CompleteWorkflow struct {
	Result               string  `json:"result"`
	Error                string  `json:"error"`
	WorkflowID           string  `json:"workflow_id"`
	WorkflowRunID        string  `json:"workflow_run_id"`
	RerunOfWorkflowRunID *string `json:"rerun_of_workflow_run_id"`
}

// CompleteActivity reports an activity handler's outcome.
type CompleteActivity struct {
	Result        string `json:"result"`
	Error         string `json:"error"`
	ActivityID    string `json:"activity_id"`
	ActivityRunID string `json:"activity_run_id"`
	WorkflowRunID string `json:"workflow_run_id"`
	MaxAttempts   int64  `json:"max_attempts"`
	AttemptNumber int64  `json:"attempt_number"`
}

// PollWorkflow long-polls for a pending run of the named workflow.
type PollWorkflow struct {
	Name string `json:"name"`
}

// PollActivity long-polls for a pending run of the named activity.
type PollActivity struct {
	Name string `json:"name"`
}

// PollWorkflowCompletionRequest long-polls for a workflow run's terminal
// event.
type PollWorkflowCompletionRequest struct {
	WorkflowRunID string `json:"workflow_run_id"`
}

// PollActivityCompletionRequest long-polls for an activity run's terminal
// event.
type PollActivityCompletionRequest struct {
	ActivityRunID string `json:"activity_run_id"`
}

// WorkerEvent is the request envelope for /worker_event. Exactly one field
// is non-nil.
type WorkerEvent struct {
	RegisterWorkflow       *RegisterWorkflow              `json:"RegisterWorkflow,omitempty"`
	RegisterActivity       *RegisterActivity              `json:"RegisterActivity,omitempty"`
	EnqueueWorkflow        *EnqueueWorkflow               `json:"EnqueuWorkflow,omitempty"`
	EnqueueActivity        *EnqueueActivity               `json:"EnqueuActivity,omitempty"`
	CompleteWorkflow       *CompleteWorkflow              `json:"CompleteWorkflow,omitempty"`
	PollWorkflow           *PollWorkflow                  `json:"PollWorkflow,omitempty"`
	PollWorkflowCompletion *PollWorkflowCompletionRequest `json:"PollWorkflowCompletion,omitempty"`
	CompleteActivity       *CompleteActivity              `json:"CompleteActivity,omitempty"`
	PollActivity           *PollActivity                  `json:"PollActivity,omitempty"`
	PollActivityCompletion *PollActivityCompletionRequest `json:"PollActivityCompletion,omitempty"`
}

// Validate checks that exactly one variant is set.
func (e *WorkerEvent) Validate() error {
	n := 0
	for _, set := range []bool{
		e.RegisterWorkflow != nil,
		e.RegisterActivity != nil,
		e.EnqueueWorkflow != nil,
		e.EnqueueActivity != nil,
		e.CompleteWorkflow != nil,
		e.PollWorkflow != nil,
		e.PollWorkflowCompletion != nil,
		e.CompleteActivity != nil,
		e.PollActivity != nil,
		e.PollActivityCompletion != nil,
	} {
		if set {
			n++
		}
	}
	if n != 1 {
		return fmt.Errorf("worker event must carry exactly one variant, got %d", n)
	}
	return nil
}

// PollWorkflowResponse dispatches a claimed workflow run to a worker.
type PollWorkflowResponse struct {
	WorkflowRunID        string  `json:"workflow_run_id"`
	RerunOfWorkflowRunID *string `json:"rerun_of_workflow_run_id"`
	WorkflowID           string  `json:"workflow_id"`
	Name                 string  `json:"name"`
	Input                string  `json:"input"`
}

// PollActivityResponse dispatches a claimed activity run to a worker.
type PollActivityResponse struct {
	ActivityRunID string `json:"activity_run_id"`
	WorkflowRunID string `json:"workflow_run_id"`
	ActivityID    string `json:"activity_id"`
	Name          string `json:"name"`
	Input         string `json:"input"`
	MaxAttempts   int64  `json:"max_attempts"`
	AttemptNumber int64  `json:"attempt_number"`
}

// PollWorkflowCompletion reports a workflow run's terminal outcome. One of
// Result/Error holds the payload, the other is empty.
type PollWorkflowCompletion struct {
	WorkflowRunID string `json:"workflow_run_id"`
	Result        string `json:"result"`
	Error         string `json:"error"`
}

// PollActivityCompletion reports an activity run's terminal outcome.
type PollActivityCompletion struct {
	ActivityRunID string `json:"activity_run_id"`
	Result        string `json:"result"`
	Error         string `json:"error"`
}

// GeneralSuccess acknowledges an event that produces no payload.
type GeneralSuccess struct {
	Success bool `json:"success"`
}

// ServerEvent is the response envelope for /worker_event. Exactly one
// variant is set; NotFound is a unit variant encoded as the bare JSON
// string "NotFound".
type ServerEvent struct {
	PollWorkflowResponse   *PollWorkflowResponse   `json:"PollWorkflowResponse,omitempty"`
	PollActivityResponse   *PollActivityResponse   `json:"PollActivityResponse,omitempty"`
	PollWorkflowCompletion *PollWorkflowCompletion `json:"PollWorkflowCompletion,omitempty"`
	PollActivityCompletion *PollActivityCompletion `json:"PollActivityCompletion,omitempty"`
	GeneralSuccess         *GeneralSuccess         `json:"GeneralSuccess,omitempty"`
	NotFound               bool                    `json:"-"`
}

// serverEventAlias avoids recursing into the custom (un)marshalers.
type serverEventAlias ServerEvent

const notFoundTag = `"NotFound"`

// MarshalJSON implements json.Marshaler
func (e ServerEvent) MarshalJSON() ([]byte, error) {
	if e.NotFound {
		return []byte(notFoundTag), nil
	}
	return json.Marshal(serverEventAlias(e))
}

// UnmarshalJSON implements json.Unmarshaler
func (e *ServerEvent) UnmarshalJSON(data []byte) error {
	var tag string
	if err := json.Unmarshal(data, &tag); err == nil {
		if tag != "NotFound" {
			return fmt.Errorf("unknown server event tag %q", tag)
		}
		*e = ServerEvent{NotFound: true}
		return nil
	}
	var alias serverEventAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	*e = ServerEvent(alias)
	return nil
}

// RerunWorkflowRequest is the body of POST /rerun_workflow.
type RerunWorkflowRequest struct {
	WorkflowRunID string `json:"workflow_run_id"`
}

// RerunWorkflowResponse carries the new run id spawned from a failed run,
// or an error when the run is missing or not failed.
type RerunWorkflowResponse struct {
	NewWorkflowID string `json:"new_workflow_id,omitempty"`
	Error         string `json:"error,omitempty"`
}
