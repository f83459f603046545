// Package client provides the HTTP client workers and end users speak to
// the orchestrator server with.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/KamdynS/pacer/protocol"
)

// Client talks to the orchestrator's /worker_event and /rerun_workflow
// endpoints. Poll calls are server-held long polls, so the underlying HTTP
// client carries no timeout; cancel through the request context instead.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// New creates a client for the server at baseURL (e.g. "http://localhost:8080").
func New(baseURL string) *Client {
	return NewWithHTTPClient(baseURL, &http.Client{})
}

// NewWithHTTPClient creates a client using a caller-managed http.Client.
func NewWithHTTPClient(baseURL string, httpClient *http.Client) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
	}
}

// RegisterWorkflow registers a workflow name with the server.
func (c *Client) RegisterWorkflow(ctx context.Context, name string) error {
	_, err := c.postWorkerEvent(ctx, &protocol.WorkerEvent{
		RegisterWorkflow: &protocol.RegisterWorkflow{Name: name},
	})
	return err
}

// RegisterActivity registers an activity name with the server.
func (c *Client) RegisterActivity(ctx context.Context, name string) error {
	_, err := c.postWorkerEvent(ctx, &protocol.WorkerEvent{
		RegisterActivity: &protocol.RegisterActivity{Name: name},
	})
	return err
}

// EnqueueWorkflow creates a pending run of the named workflow and returns
// the generated run id.
func (c *Client) EnqueueWorkflow(ctx context.Context, name, input string) (string, error) {
	runID := uuid.NewString()
	_, err := c.postWorkerEvent(ctx, &protocol.WorkerEvent{
		EnqueueWorkflow: &protocol.EnqueueWorkflow{
			Name:          name,
			Input:         input,
			WorkflowRunID: runID,
		},
	})
	if err != nil {
		return "", err
	}
	return runID, nil
}

// EnqueueActivity creates a pending run of the named activity under the
// given workflow run and returns the generated activity run id.
func (c *Client) EnqueueActivity(ctx context.Context, workflowRunID, name, input string, maxAttempts int64) (string, error) {
	runID := uuid.NewString()
	resp, err := c.postWorkerEvent(ctx, &protocol.WorkerEvent{
		EnqueueActivity: &protocol.EnqueueActivity{
			Name:          name,
			Input:         input,
			ActivityRunID: runID,
			WorkflowRunID: workflowRunID,
			MaxAttempts:   maxAttempts,
		},
	})
	if err != nil {
		return "", err
	}
	if resp.NotFound {
		return "", fmt.Errorf("activity %s or workflow run %s not found", name, workflowRunID)
	}
	return runID, nil
}

// PollWorkflow long-polls for a pending run of the named workflow. Returns
// (nil, nil) if the server answered with something other than a dispatch.
func (c *Client) PollWorkflow(ctx context.Context, name string) (*protocol.PollWorkflowResponse, error) {
	resp, err := c.postWorkerEvent(ctx, &protocol.WorkerEvent{
		PollWorkflow: &protocol.PollWorkflow{Name: name},
	})
	if err != nil {
		return nil, err
	}
	return resp.PollWorkflowResponse, nil
}

// PollActivity long-polls for a pending run of the named activity.
func (c *Client) PollActivity(ctx context.Context, name string) (*protocol.PollActivityResponse, error) {
	resp, err := c.postWorkerEvent(ctx, &protocol.WorkerEvent{
		PollActivity: &protocol.PollActivity{Name: name},
	})
	if err != nil {
		return nil, err
	}
	return resp.PollActivityResponse, nil
}

// PollWorkflowCompletion long-polls for the run's terminal outcome.
func (c *Client) PollWorkflowCompletion(ctx context.Context, workflowRunID string) (*protocol.PollWorkflowCompletion, error) {
	resp, err := c.postWorkerEvent(ctx, &protocol.WorkerEvent{
		PollWorkflowCompletion: &protocol.PollWorkflowCompletionRequest{WorkflowRunID: workflowRunID},
	})
	if err != nil {
		return nil, err
	}
	return resp.PollWorkflowCompletion, nil
}

// PollActivityCompletion long-polls for the run's terminal outcome.
func (c *Client) PollActivityCompletion(ctx context.Context, activityRunID string) (*protocol.PollActivityCompletion, error) {
	resp, err := c.postWorkerEvent(ctx, &protocol.WorkerEvent{
		PollActivityCompletion: &protocol.PollActivityCompletionRequest{ActivityRunID: activityRunID},
	})
	if err != nil {
		return nil, err
	}
	return resp.PollActivityCompletion, nil
}

// CompleteWorkflow reports a workflow handler's outcome.
func (c *Client) CompleteWorkflow(ctx context.Context, complete *protocol.CompleteWorkflow) error {
	_, err := c.postWorkerEvent(ctx, &protocol.WorkerEvent{CompleteWorkflow: complete})
	return err
}

// CompleteActivity reports an activity handler's outcome.
func (c *Client) CompleteActivity(ctx context.Context, complete *protocol.CompleteActivity) error {
	_, err := c.postWorkerEvent(ctx, &protocol.WorkerEvent{CompleteActivity: complete})
	return err
}

// ExecuteWorkflow enqueues a run of the named workflow and blocks until it
// completes. A failed run surfaces as an error carrying the failure payload.
func (c *Client) ExecuteWorkflow(ctx context.Context, name, input string) (string, error) {
	runID, err := c.EnqueueWorkflow(ctx, name, input)
	if err != nil {
		return "", err
	}
	return c.AwaitWorkflow(ctx, runID)
}

// AwaitWorkflow blocks until the given workflow run completes.
func (c *Client) AwaitWorkflow(ctx context.Context, runID string) (string, error) {
	for {
		res, err := c.PollWorkflowCompletion(ctx, runID)
		if err != nil {
			return "", err
		}
		if res == nil {
			continue
		}
		if res.Result != "" {
			return res.Result, nil
		}
		if res.Error != "" {
			return "", fmt.Errorf("%s", res.Error)
		}
		// Both empty: a success with an empty payload.
		return "", nil
	}
}

// RerunWorkflow spawns a new run from a failed run, returning the new run
// id. Only runs whose latest event is failed can be rerun.
func (c *Client) RerunWorkflow(ctx context.Context, workflowRunID string) (string, error) {
	body, err := json.Marshal(protocol.RerunWorkflowRequest{WorkflowRunID: workflowRunID})
	if err != nil {
		return "", fmt.Errorf("marshal rerun request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rerun_workflow", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build rerun request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send rerun request: %w", err)
	}
	defer httpResp.Body.Close()

	var resp protocol.RerunWorkflowResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return "", fmt.Errorf("decode rerun response: %w", err)
	}
	if resp.Error != "" {
		return "", fmt.Errorf("%s", resp.Error)
	}
	return resp.NewWorkflowID, nil
}

// postWorkerEvent sends one tagged event and decodes the tagged response.
func (c *Client) postWorkerEvent(ctx context.Context, event *protocol.WorkerEvent) (*protocol.ServerEvent, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal worker event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/worker_event", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build worker event request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send worker event: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("worker event rejected: status %d", httpResp.StatusCode)
	}

	var resp protocol.ServerEvent
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode server event: %w", err)
	}
	return &resp, nil
}
