package queue

import (
	"context"
	"testing"
	"time"
)

func TestInMemoryQueue_EnqueueDequeue(t *testing.T) {
	q := NewInMemoryQueue()
	defer q.Close()
	ctx := context.Background()

	n := NewNotice(NoticeWorkflow, "order-flow", "run-1")
	if err := q.Enqueue(ctx, WorkflowQueue("order-flow"), n); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	got, err := q.DequeueWithTimeout(ctx, WorkflowQueue("order-flow"), time.Second)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if got == nil {
		t.Fatal("expected a notice")
	}
	if got.RunID != "run-1" || got.Kind != NoticeWorkflow {
		t.Errorf("unexpected notice %+v", got)
	}
}

func TestInMemoryQueue_TimeoutReturnsNil(t *testing.T) {
	q := NewInMemoryQueue()
	defer q.Close()

	got, err := q.DequeueWithTimeout(context.Background(), WorkflowQueue("idle"), 10*time.Millisecond)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil notice on timeout, got %+v", got)
	}
}

func TestInMemoryQueue_QueuesAreIsolated(t *testing.T) {
	q := NewInMemoryQueue()
	defer q.Close()
	ctx := context.Background()

	if err := q.Enqueue(ctx, ActivityQueue("sum"), NewNotice(NoticeActivity, "sum", "a1")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	got, err := q.DequeueWithTimeout(ctx, ActivityQueue("other"), 10*time.Millisecond)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if got != nil {
		t.Errorf("expected no notice on a different queue, got %+v", got)
	}
}

func TestInMemoryQueue_DropsWhenFull(t *testing.T) {
	q := NewInMemoryQueueWithBuffer(2)
	defer q.Close()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		// Must not block even past the buffer size.
		if err := q.Enqueue(ctx, WorkflowQueue("busy"), NewNotice(NoticeWorkflow, "busy", "run")); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}

	n, err := q.Len(ctx, WorkflowQueue("busy"))
	if err != nil {
		t.Fatalf("len: %v", err)
	}
	if n != 2 {
		t.Errorf("expected buffer to cap at 2, got %d", n)
	}
}

func TestInMemoryQueue_ContextCancel(t *testing.T) {
	q := NewInMemoryQueue()
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := q.DequeueWithTimeout(ctx, WorkflowQueue("idle"), time.Minute)
	if err == nil {
		t.Error("expected context error")
	}
}

func TestInMemoryQueue_ClosedQueueErrors(t *testing.T) {
	q := NewInMemoryQueue()
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := q.Enqueue(context.Background(), WorkflowQueue("x"), NewNotice(NoticeWorkflow, "x", "r")); err == nil {
		t.Error("expected error enqueueing on a closed queue")
	}
}
