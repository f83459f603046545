// Package worker provides the poll-execute-complete runtime that hosts
// workflow and activity handlers against an orchestrator server.
package worker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/KamdynS/pacer/activity"
	"github.com/KamdynS/pacer/client"
	"github.com/KamdynS/pacer/protocol"
	"github.com/KamdynS/pacer/workflow"
)

// Config holds worker configuration.
type Config struct {
	// Client speaks to the orchestrator server. Required.
	Client *client.Client
}

// Worker hosts handlers and runs one poll loop per registered name. Handler
// failures are reported to the server as failed completions, never as
// worker crashes.
type Worker struct {
	client     *client.Client
	workflows  *workflow.Registry
	activities *activity.Registry

	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a worker from cfg.
func New(cfg Config) (*Worker, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("worker config requires a client")
	}
	return &Worker{
		client:     cfg.Client,
		workflows:  workflow.NewRegistry(),
		activities: activity.NewRegistry(),
	}, nil
}

// RegisterWorkflow registers a workflow handler under its derived type name.
func (w *Worker) RegisterWorkflow(ctx context.Context, h workflow.Handler) error {
	return w.RegisterWorkflowWithName(ctx, workflow.NameOf(h), h)
}

// RegisterWorkflowWithName registers a workflow handler under an explicit
// name, locally and with the server.
func (w *Worker) RegisterWorkflowWithName(ctx context.Context, name string, h workflow.Handler) error {
	if err := w.workflows.Register(name, h); err != nil {
		return err
	}
	if err := w.client.RegisterWorkflow(ctx, name); err != nil {
		return fmt.Errorf("register workflow %s with server: %w", name, err)
	}
	return nil
}

// RegisterActivity registers an activity handler under its derived type name.
func (w *Worker) RegisterActivity(ctx context.Context, h activity.Handler) error {
	return w.RegisterActivityWithName(ctx, activity.NameOf(h), h)
}

// RegisterActivityWithName registers an activity handler under an explicit
// name, locally and with the server.
func (w *Worker) RegisterActivityWithName(ctx context.Context, name string, h activity.Handler) error {
	if err := w.activities.Register(name, h); err != nil {
		return err
	}
	if err := w.client.RegisterActivity(ctx, name); err != nil {
		return fmt.Errorf("register activity %s with server: %w", name, err)
	}
	return nil
}

// Start spawns one poll loop per registered workflow and activity name.
// Names registered after Start are not picked up. Canceling ctx stops the
// loops just like Stop does.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("worker already running")
	}
	w.running = true
	w.ctx, w.cancel = context.WithCancel(ctx)

	for _, name := range w.workflows.List() {
		w.wg.Add(1)
		go w.pollWorkflows(name)
	}
	for _, name := range w.activities.List() {
		w.wg.Add(1)
		go w.pollActivities(name)
	}
	log.Printf("[Worker] started: %d workflows, %d activities",
		len(w.workflows.List()), len(w.activities.List()))
	return nil
}

// Stop gracefully stops the worker, waiting for in-flight work to drain
// until ctx expires.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.cancel()
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Printf("[Worker] stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("worker stop timeout: %w", ctx.Err())
	}
}

// ExecuteWorkflow enqueues a run of the handler's workflow and blocks until
// it completes. The handler must already be registered.
func (w *Worker) ExecuteWorkflow(ctx context.Context, h workflow.Handler, input string) (string, error) {
	name := workflow.NameOf(h)
	if _, err := w.workflows.Get(name); err != nil {
		return "", err
	}
	return w.client.ExecuteWorkflow(ctx, name, input)
}

func (w *Worker) pollWorkflows(name string) {
	defer w.wg.Done()
	for {
		resp, err := w.client.PollWorkflow(w.ctx, name)
		if w.ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Printf("[Worker] poll workflow %s: %v", name, err)
			w.backoff()
			continue
		}
		if resp == nil {
			continue
		}
		w.runWorkflow(name, resp)
	}
}

func (w *Worker) pollActivities(name string) {
	defer w.wg.Done()
	for {
		resp, err := w.client.PollActivity(w.ctx, name)
		if w.ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Printf("[Worker] poll activity %s: %v", name, err)
			w.backoff()
			continue
		}
		if resp == nil {
			continue
		}
		w.runActivity(name, resp)
	}
}

// runWorkflow executes the handler and reports its outcome. The handler
// sees a workflow context bound to its run id, so activities it executes
// are recorded under the right run.
func (w *Worker) runWorkflow(name string, resp *protocol.PollWorkflowResponse) {
	handler, err := w.workflows.Get(name)
	if err != nil {
		log.Printf("[Worker] dispatched unknown workflow %s: %v", name, err)
		return
	}

	wctx := newWorkflowContext(w.ctx, w.client, w.activities, resp.WorkflowRunID)
	result, execErr := handler.Execute(wctx, resp.Input)

	complete := &protocol.CompleteWorkflow{
		WorkflowID:           resp.WorkflowID,
		WorkflowRunID:        resp.WorkflowRunID,
		RerunOfWorkflowRunID: resp.RerunOfWorkflowRunID,
	}
	if execErr != nil {
		complete.Error = execErr.Error()
		log.Printf("[Worker] workflow %s run %s failed: %v", name, resp.WorkflowRunID, execErr)
	} else {
		complete.Result = result
	}
	if err := w.client.CompleteWorkflow(w.ctx, complete); err != nil {
		log.Printf("[Worker] complete workflow run %s: %v", resp.WorkflowRunID, err)
	}
}

func (w *Worker) runActivity(name string, resp *protocol.PollActivityResponse) {
	handler, err := w.activities.Get(name)
	if err != nil {
		log.Printf("[Worker] dispatched unknown activity %s: %v", name, err)
		return
	}

	result, execErr := handler.Execute(w.ctx, resp.Input)

	complete := &protocol.CompleteActivity{
		ActivityID:    resp.ActivityID,
		ActivityRunID: resp.ActivityRunID,
		WorkflowRunID: resp.WorkflowRunID,
		MaxAttempts:   resp.MaxAttempts,
		AttemptNumber: resp.AttemptNumber,
	}
	if execErr != nil {
		complete.Error = execErr.Error()
		log.Printf("[Worker] activity %s run %s attempt %d failed: %v",
			name, resp.ActivityRunID, resp.AttemptNumber, execErr)
	} else {
		complete.Result = result
	}
	if err := w.client.CompleteActivity(w.ctx, complete); err != nil {
		log.Printf("[Worker] complete activity run %s: %v", resp.ActivityRunID, err)
	}
}

// backoff spaces out retries after a transport error so a down server does
// not spin the loop.
func (w *Worker) backoff() {
	timer := time.NewTimer(time.Second)
	defer timer.Stop()
	select {
	case <-w.ctx.Done():
	case <-timer.C:
	}
}
