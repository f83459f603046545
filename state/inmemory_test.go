package state

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestInMemoryStore_AddWorkflowIdempotent(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	first := NewWorkflow("order-flow")
	if err := s.AddWorkflow(ctx, first); err != nil {
		t.Fatalf("add workflow: %v", err)
	}
	if err := s.AddWorkflow(ctx, NewWorkflow("order-flow")); err != nil {
		t.Fatalf("re-add workflow: %v", err)
	}

	got, err := s.GetWorkflowByName(ctx, "order-flow")
	if err != nil {
		t.Fatalf("get workflow: %v", err)
	}
	if got.ID != first.ID {
		t.Errorf("expected original id %s to survive re-registration, got %s", first.ID, got.ID)
	}
}

func TestInMemoryStore_GetWorkflowByID(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	w := NewWorkflow("order-flow")
	if err := s.AddWorkflow(ctx, w); err != nil {
		t.Fatalf("add workflow: %v", err)
	}

	got, err := s.GetWorkflowByID(ctx, w.ID)
	if err != nil {
		t.Fatalf("get workflow by id: %v", err)
	}
	if got.Name != "order-flow" {
		t.Errorf("expected name order-flow, got %s", got.Name)
	}

	if _, err := s.GetWorkflowByID(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown id, got %v", err)
	}
}

func TestInMemoryStore_FirstPendingWorkflowOrder(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	w := NewWorkflow("order-flow")
	if err := s.AddWorkflow(ctx, w); err != nil {
		t.Fatalf("add workflow: %v", err)
	}

	runA := NewID()
	runB := NewID()
	if err := s.AppendWorkflowEvent(ctx, NewWorkflowEvent(w.ID, runA, EventPending, "a")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.AppendWorkflowEvent(ctx, NewWorkflowEvent(w.ID, runB, EventPending, "b")); err != nil {
		t.Fatalf("append: %v", err)
	}

	pending, err := s.FirstPendingWorkflow(ctx, "order-flow")
	if err != nil {
		t.Fatalf("first pending: %v", err)
	}
	if pending.RunID != runA {
		t.Errorf("expected first inserted run %s, got %s", runA, pending.RunID)
	}

	// Claiming the first run makes the second one first-pending.
	started := NewWorkflowEvent(w.ID, runA, EventStarted, "a")
	if ok, err := s.ClaimPendingWorkflowRun(ctx, started); err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}
	pending, err = s.FirstPendingWorkflow(ctx, "order-flow")
	if err != nil {
		t.Fatalf("first pending after claim: %v", err)
	}
	if pending.RunID != runB {
		t.Errorf("expected run %s, got %s", runB, pending.RunID)
	}
}

func TestInMemoryStore_ClaimPendingWorkflowRunOnce(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	w := NewWorkflow("order-flow")
	if err := s.AddWorkflow(ctx, w); err != nil {
		t.Fatalf("add workflow: %v", err)
	}
	runID := NewID()
	if err := s.AppendWorkflowEvent(ctx, NewWorkflowEvent(w.ID, runID, EventPending, "in")); err != nil {
		t.Fatalf("append: %v", err)
	}

	ok, err := s.ClaimPendingWorkflowRun(ctx, NewWorkflowEvent(w.ID, runID, EventStarted, "in"))
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if !ok {
		t.Fatal("expected first claim to win")
	}

	ok, err = s.ClaimPendingWorkflowRun(ctx, NewWorkflowEvent(w.ID, runID, EventStarted, "in"))
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if ok {
		t.Error("expected second claim to lose")
	}

	_, err = s.ClaimPendingWorkflowRun(ctx, NewWorkflowEvent(w.ID, "missing", EventStarted, "in"))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown run, got %v", err)
	}
}

func TestInMemoryStore_ClaimPendingActivityAttempts(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	a := NewActivity("sum")
	if err := s.AddActivity(ctx, a); err != nil {
		t.Fatalf("add activity: %v", err)
	}
	runID := NewID()
	wfRunID := NewID()

	// Brand-new pending keeps its attempt number.
	if err := s.AppendActivityEvent(ctx, NewActivityEvent(a.ID, runID, wfRunID, EventPending, "1", 1, 3)); err != nil {
		t.Fatalf("append pending: %v", err)
	}
	started := NewActivityEvent(a.ID, runID, wfRunID, EventStarted, "1", 1, 3)
	ok, err := s.ClaimPendingActivityRun(ctx, started)
	if err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}
	if started.Attempt != 1 {
		t.Errorf("expected attempt 1 on first claim, got %d", started.Attempt)
	}

	// Re-pended after a start moves to the next attempt.
	if err := s.AppendActivityEvent(ctx, NewActivityEvent(a.ID, runID, wfRunID, EventPending, "1", 1, 3)); err != nil {
		t.Fatalf("append re-pend: %v", err)
	}
	started = NewActivityEvent(a.ID, runID, wfRunID, EventStarted, "1", 1, 3)
	ok, err = s.ClaimPendingActivityRun(ctx, started)
	if err != nil || !ok {
		t.Fatalf("second claim: ok=%v err=%v", ok, err)
	}
	if started.Attempt != 2 {
		t.Errorf("expected attempt 2 after re-pend, got %d", started.Attempt)
	}
	if started.MaxAttempts != 3 {
		t.Errorf("expected max attempts 3, got %d", started.MaxAttempts)
	}
}

func TestInMemoryStore_FinishWorkflowRunOnce(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	w := NewWorkflow("order-flow")
	if err := s.AddWorkflow(ctx, w); err != nil {
		t.Fatalf("add workflow: %v", err)
	}
	runID := NewID()
	if err := s.AppendWorkflowEvent(ctx, NewWorkflowEvent(w.ID, runID, EventPending, "in")); err != nil {
		t.Fatalf("append: %v", err)
	}

	applied, err := s.FinishWorkflowRun(ctx, NewWorkflowEvent(w.ID, runID, EventSucceeded, "out"))
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if !applied {
		t.Fatal("expected first finish to apply")
	}

	applied, err = s.FinishWorkflowRun(ctx, NewWorkflowEvent(w.ID, runID, EventFailed, "boom"))
	if err != nil {
		t.Fatalf("second finish: %v", err)
	}
	if applied {
		t.Error("expected duplicate finish to be absorbed")
	}

	done, err := s.CompletedWorkflow(ctx, runID)
	if err != nil {
		t.Fatalf("completed: %v", err)
	}
	if done.Type != EventSucceeded || done.Payload != "out" {
		t.Errorf("expected succeeded/out, got %s/%s", done.Type, done.Payload)
	}
}

func TestInMemoryStore_CompletedNotFoundWhileRunning(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	w := NewWorkflow("order-flow")
	if err := s.AddWorkflow(ctx, w); err != nil {
		t.Fatalf("add workflow: %v", err)
	}
	runID := NewID()
	if err := s.AppendWorkflowEvent(ctx, NewWorkflowEvent(w.ID, runID, EventPending, "in")); err != nil {
		t.Fatalf("append: %v", err)
	}

	if _, err := s.CompletedWorkflow(ctx, runID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for running workflow, got %v", err)
	}
}

func TestInMemoryStore_FirstWorkflowRunEvent(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	w := NewWorkflow("order-flow")
	if err := s.AddWorkflow(ctx, w); err != nil {
		t.Fatalf("add workflow: %v", err)
	}
	runID := NewID()

	base := time.Now().UTC()
	pending := NewWorkflowEvent(w.ID, runID, EventPending, "original-input")
	pending.CreatedAt = base
	started := NewWorkflowEvent(w.ID, runID, EventStarted, "original-input")
	started.CreatedAt = base.Add(time.Millisecond)

	// Append out of order; readers sort by CreatedAt.
	if err := s.AppendWorkflowEvent(ctx, started); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.AppendWorkflowEvent(ctx, pending); err != nil {
		t.Fatalf("append: %v", err)
	}

	first, err := s.FirstWorkflowRunEvent(ctx, runID)
	if err != nil {
		t.Fatalf("first event: %v", err)
	}
	if first.Type != EventPending || first.Payload != "original-input" {
		t.Errorf("expected the pending event first, got %s/%s", first.Type, first.Payload)
	}

	last, err := s.LastWorkflowRunEvent(ctx, runID)
	if err != nil {
		t.Fatalf("last event: %v", err)
	}
	if last.Type != EventStarted {
		t.Errorf("expected started last, got %s", last.Type)
	}
}

func TestInMemoryStore_MemoizedActivitySuccess(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	a := NewActivity("sum")
	if err := s.AddActivity(ctx, a); err != nil {
		t.Fatalf("add activity: %v", err)
	}
	pastWfRun := NewID()
	runID := NewID()

	if err := s.AppendActivityEvent(ctx, NewActivityEvent(a.ID, runID, pastWfRun, EventPending, "3", 1, 1)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.AppendActivityEvent(ctx, NewActivityEvent(a.ID, runID, pastWfRun, EventStarted, "3", 1, 1)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.AppendActivityEvent(ctx, NewActivityEvent(a.ID, runID, pastWfRun, EventSucceeded, "4", 1, 1)); err != nil {
		t.Fatalf("append: %v", err)
	}

	memo, err := s.MemoizedActivitySuccess(ctx, pastWfRun, a.ID, "3")
	if err != nil {
		t.Fatalf("memoized lookup: %v", err)
	}
	if memo.Payload != "4" || memo.Type != EventSucceeded {
		t.Errorf("expected succeeded/4, got %s/%s", memo.Type, memo.Payload)
	}

	// Different input does not match.
	if _, err := s.MemoizedActivitySuccess(ctx, pastWfRun, a.ID, "5"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for different input, got %v", err)
	}
	// Different workflow run does not match.
	if _, err := s.MemoizedActivitySuccess(ctx, NewID(), a.ID, "3"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for different run, got %v", err)
	}
}

func TestInMemoryStore_MemoizedIgnoresFailedRuns(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	a := NewActivity("flaky")
	if err := s.AddActivity(ctx, a); err != nil {
		t.Fatalf("add activity: %v", err)
	}
	pastWfRun := NewID()
	runID := NewID()

	if err := s.AppendActivityEvent(ctx, NewActivityEvent(a.ID, runID, pastWfRun, EventPending, "3", 1, 1)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.AppendActivityEvent(ctx, NewActivityEvent(a.ID, runID, pastWfRun, EventFailed, "Sadge", 1, 1)); err != nil {
		t.Fatalf("append: %v", err)
	}

	if _, err := s.MemoizedActivitySuccess(ctx, pastWfRun, a.ID, "3"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for failed-only run, got %v", err)
	}
}

func TestInMemoryStore_ListWorkflowRunEventsSorted(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	w := NewWorkflow("order-flow")
	if err := s.AddWorkflow(ctx, w); err != nil {
		t.Fatalf("add workflow: %v", err)
	}
	runID := NewID()

	base := time.Now().UTC()
	types := []EventType{EventPending, EventStarted, EventSucceeded}
	// Append newest first; the listing must come back oldest first.
	for i := len(types) - 1; i >= 0; i-- {
		e := NewWorkflowEvent(w.ID, runID, types[i], "p")
		e.CreatedAt = base.Add(time.Duration(i) * time.Millisecond)
		if err := s.AppendWorkflowEvent(ctx, e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	events, err := s.ListWorkflowRunEvents(ctx, runID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != len(types) {
		t.Fatalf("expected %d events, got %d", len(types), len(events))
	}
	for i, e := range events {
		if e.Type != types[i] {
			t.Errorf("position %d: expected %s, got %s", i, types[i], e.Type)
		}
	}
}
