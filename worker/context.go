package worker

import (
	"context"
	"fmt"

	"github.com/KamdynS/pacer/activity"
	"github.com/KamdynS/pacer/client"
	"github.com/KamdynS/pacer/workflow"
)

// workflowContext is the workflow.Context handed to workflow handlers. It
// routes every ExecuteActivity call through the server so the activity run
// is recorded under this workflow run.
type workflowContext struct {
	context.Context

	client     *client.Client
	activities *activity.Registry
	runID      string
	opts       activity.Options

	// order counts ExecuteActivity calls within this run. Activities in a
	// workflow are sequential, so it doubles as the call's position.
	order int
}

func newWorkflowContext(ctx context.Context, c *client.Client, activities *activity.Registry, runID string) *workflowContext {
	return &workflowContext{
		Context:    ctx,
		client:     c,
		activities: activities,
		runID:      runID,
		opts:       activity.DefaultOptions(),
	}
}

// RunID implements workflow.Context
func (c *workflowContext) RunID() string {
	return c.runID
}

// WithActivityOptions implements workflow.Context
func (c *workflowContext) WithActivityOptions(opts activity.Options) {
	c.opts = opts
}

// ExecuteActivity implements workflow.Context. It enqueues the activity
// under this workflow run and blocks until the run is terminal.
func (c *workflowContext) ExecuteActivity(ctx context.Context, h activity.Handler, input string) (string, error) {
	name := activity.NameOf(h)
	if _, err := c.activities.Get(name); err != nil {
		return "", fmt.Errorf("execute activity: %w", err)
	}
	c.order++

	activityRunID, err := c.client.EnqueueActivity(ctx, c.runID, name, input, c.opts.RetryPolicy.MaxAttempts)
	if err != nil {
		return "", fmt.Errorf("enqueue activity %s: %w", name, err)
	}

	for {
		res, err := c.client.PollActivityCompletion(ctx, activityRunID)
		if err != nil {
			return "", fmt.Errorf("await activity %s: %w", name, err)
		}
		if res == nil {
			continue
		}
		if res.Error != "" {
			return "", fmt.Errorf("%s", res.Error)
		}
		return res.Result, nil
	}
}

var _ workflow.Context = (*workflowContext)(nil)
