package worker

import (
	"context"
	"fmt"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/KamdynS/pacer/activity"
	"github.com/KamdynS/pacer/client"
	"github.com/KamdynS/pacer/server"
	"github.com/KamdynS/pacer/state"
	"github.com/KamdynS/pacer/workflow"
)

func setupTestStack(t *testing.T) (*Worker, *client.Client) {
	t.Helper()

	srv, err := server.New(server.Config{
		Store:                  state.NewInMemoryStore(),
		WorkflowPollInterval:   5 * time.Millisecond,
		ActivityPollInterval:   5 * time.Millisecond,
		CompletionPollInterval: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	c := client.New(ts.URL)
	w, err := New(Config{Client: c})
	if err != nil {
		t.Fatalf("failed to create worker: %v", err)
	}
	return w, c
}

// addOneActivity parses its input as an integer and adds one.
type addOneActivity struct {
	calls *int32
}

func (a addOneActivity) Execute(ctx context.Context, input string) (string, error) {
	if a.calls != nil {
		atomic.AddInt32(a.calls, 1)
	}
	var n int
	if _, err := fmt.Sscanf(input, "%d", &n); err != nil {
		return "", fmt.Errorf("parse input %q: %w", input, err)
	}
	return fmt.Sprintf("%d", n+1), nil
}

// sadgeActivity always fails.
type sadgeActivity struct{}

func (sadgeActivity) Execute(ctx context.Context, input string) (string, error) {
	return "", fmt.Errorf("Sadge")
}

// flakyActivity fails on its first invocation and succeeds afterwards.
type flakyActivity struct {
	calls *int32
}

func (a flakyActivity) Execute(ctx context.Context, input string) (string, error) {
	if atomic.AddInt32(a.calls, 1) == 1 {
		return "", fmt.Errorf("Sadge")
	}
	return "done", nil
}

// sumTwiceWorkflow runs addOneActivity twice in sequence.
type sumTwiceWorkflow struct {
	addOne addOneActivity
}

func (w sumTwiceWorkflow) Execute(ctx workflow.Context, input string) (string, error) {
	res, err := ctx.ExecuteActivity(ctx, w.addOne, input)
	if err != nil {
		return "", err
	}
	res2, err := ctx.ExecuteActivity(ctx, w.addOne, res)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Processed %s, res_2 %s", res, res2), nil
}

// failingWorkflow sums once and then hits the failing activity.
type failingWorkflow struct {
	addOne addOneActivity
	sadge  sadgeActivity
}

func (w failingWorkflow) Execute(ctx workflow.Context, input string) (string, error) {
	res, err := ctx.ExecuteActivity(ctx, w.addOne, input)
	if err != nil {
		return "", err
	}
	return ctx.ExecuteActivity(ctx, w.sadge, res)
}

// flakyWorkflow sums once and then hits the flaky activity, so it fails on
// the first run and succeeds on a rerun.
type flakyWorkflow struct {
	addOne addOneActivity
	flaky  flakyActivity
}

func (w flakyWorkflow) Execute(ctx workflow.Context, input string) (string, error) {
	ctx.WithActivityOptions(activity.Options{
		RetryPolicy: activity.RetryPolicy{MaxAttempts: 3},
	})
	res, err := ctx.ExecuteActivity(ctx, w.addOne, input)
	if err != nil {
		return "", err
	}
	res2, err := ctx.ExecuteActivity(ctx, w.flaky, res)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%s", res, res2), nil
}

func TestWorker_HappyPath(t *testing.T) {
	w, _ := setupTestStack(t)
	ctx := context.Background()

	wf := sumTwiceWorkflow{}
	if err := w.RegisterWorkflow(ctx, wf); err != nil {
		t.Fatalf("register workflow: %v", err)
	}
	if err := w.RegisterActivity(ctx, wf.addOne); err != nil {
		t.Fatalf("register activity: %v", err)
	}
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer w.Stop(context.Background())

	result, err := w.ExecuteWorkflow(ctx, wf, "3")
	if err != nil {
		t.Fatalf("execute workflow: %v", err)
	}
	if result != "Processed 4, res_2 5" {
		t.Errorf("unexpected result %q", result)
	}
}

func TestWorker_FailurePropagates(t *testing.T) {
	w, _ := setupTestStack(t)
	ctx := context.Background()

	wf := failingWorkflow{}
	if err := w.RegisterWorkflow(ctx, wf); err != nil {
		t.Fatalf("register workflow: %v", err)
	}
	if err := w.RegisterActivity(ctx, wf.addOne); err != nil {
		t.Fatalf("register activity: %v", err)
	}
	if err := w.RegisterActivity(ctx, wf.sadge); err != nil {
		t.Fatalf("register activity: %v", err)
	}
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer w.Stop(context.Background())

	_, err := w.ExecuteWorkflow(ctx, wf, "3")
	if err == nil {
		t.Fatal("expected workflow failure")
	}
	if err.Error() != "Sadge" {
		t.Errorf("expected failure payload Sadge, got %q", err)
	}
}

func TestWorker_RerunMemoizesSucceededActivities(t *testing.T) {
	w, c := setupTestStack(t)
	ctx := context.Background()

	var sumCalls, flakyCalls int32
	wf := flakyWorkflow{
		addOne: addOneActivity{calls: &sumCalls},
		flaky:  flakyActivity{calls: &flakyCalls},
	}
	if err := w.RegisterWorkflow(ctx, wf); err != nil {
		t.Fatalf("register workflow: %v", err)
	}
	if err := w.RegisterActivity(ctx, wf.addOne); err != nil {
		t.Fatalf("register activity: %v", err)
	}
	if err := w.RegisterActivity(ctx, wf.flaky); err != nil {
		t.Fatalf("register activity: %v", err)
	}
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer w.Stop(context.Background())

	runID, err := c.EnqueueWorkflow(ctx, workflow.NameOf(wf), "3")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := c.AwaitWorkflow(ctx, runID); err == nil {
		t.Fatal("expected the first run to fail")
	}

	newRunID, err := c.RerunWorkflow(ctx, runID)
	if err != nil {
		t.Fatalf("rerun: %v", err)
	}
	result, err := c.AwaitWorkflow(ctx, newRunID)
	if err != nil {
		t.Fatalf("await rerun: %v", err)
	}
	if result != "4:done" {
		t.Errorf("unexpected rerun result %q", result)
	}

	// The sum result was memoized from the first run; only the flaky
	// activity executed again.
	if n := atomic.LoadInt32(&sumCalls); n != 1 {
		t.Errorf("expected addOneActivity to execute once, got %d", n)
	}
	if n := atomic.LoadInt32(&flakyCalls); n != 2 {
		t.Errorf("expected flakyActivity to execute twice, got %d", n)
	}
}

func TestWorker_StartTwiceFails(t *testing.T) {
	w, _ := setupTestStack(t)
	ctx := context.Background()

	if err := w.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer w.Stop(context.Background())
	if err := w.Start(ctx); err == nil {
		t.Error("expected second start to fail")
	}
}

func TestWorker_ExecuteUnregisteredWorkflowFails(t *testing.T) {
	w, _ := setupTestStack(t)

	if _, err := w.ExecuteWorkflow(context.Background(), sumTwiceWorkflow{}, "3"); err == nil {
		t.Error("expected error for unregistered workflow")
	}
}
