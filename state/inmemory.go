package state

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// InMemoryStore is the reference in-memory implementation of Store.
type InMemoryStore struct {
	mu             sync.RWMutex
	workflows      map[string]*Workflow // name -> workflow
	activities     map[string]*Activity // name -> activity
	workflowRuns   map[string][]string  // workflow id -> run ids, insertion order
	activityRuns   map[string][]string  // activity id -> run ids, insertion order
	workflowEvents map[string][]*WorkflowEvent // run id -> events
	activityEvents map[string][]*ActivityEvent // run id -> events
}

// NewInMemoryStore creates a new in-memory event store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		workflows:      make(map[string]*Workflow),
		activities:     make(map[string]*Activity),
		workflowRuns:   make(map[string][]string),
		activityRuns:   make(map[string][]string),
		workflowEvents: make(map[string][]*WorkflowEvent),
		activityEvents: make(map[string][]*ActivityEvent),
	}
}

// AddWorkflow implements Store
func (s *InMemoryStore) AddWorkflow(ctx context.Context, w *Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.workflows[w.Name]; exists {
		return nil
	}
	wCopy := *w
	s.workflows[w.Name] = &wCopy
	return nil
}

// AddActivity implements Store
func (s *InMemoryStore) AddActivity(ctx context.Context, a *Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.activities[a.Name]; exists {
		return nil
	}
	aCopy := *a
	s.activities[a.Name] = &aCopy
	return nil
}

// GetWorkflowByName implements Store
func (s *InMemoryStore) GetWorkflowByName(ctx context.Context, name string) (*Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, exists := s.workflows[name]
	if !exists {
		return nil, fmt.Errorf("workflow %s: %w", name, ErrNotFound)
	}
	wCopy := *w
	return &wCopy, nil
}

// GetActivityByName implements Store
func (s *InMemoryStore) GetActivityByName(ctx context.Context, name string) (*Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, exists := s.activities[name]
	if !exists {
		return nil, fmt.Errorf("activity %s: %w", name, ErrNotFound)
	}
	aCopy := *a
	return &aCopy, nil
}

// GetWorkflowByID implements Store
func (s *InMemoryStore) GetWorkflowByID(ctx context.Context, id string) (*Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, w := range s.workflows {
		if w.ID == id {
			wCopy := *w
			return &wCopy, nil
		}
	}
	return nil, fmt.Errorf("workflow id %s: %w", id, ErrNotFound)
}

// AppendWorkflowEvent implements Store
func (s *InMemoryStore) AppendWorkflowEvent(ctx context.Context, e *WorkflowEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.appendWorkflowEventLocked(e)
	return nil
}

// AppendActivityEvent implements Store
func (s *InMemoryStore) AppendActivityEvent(ctx context.Context, e *ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.appendActivityEventLocked(e)
	return nil
}

func (s *InMemoryStore) appendWorkflowEventLocked(e *WorkflowEvent) {
	eCopy := *e
	if eCopy.CreatedAt.IsZero() {
		eCopy.CreatedAt = time.Now().UTC()
	}

	runs := s.workflowRuns[e.WorkflowID]
	if !containsRun(runs, e.RunID) {
		s.workflowRuns[e.WorkflowID] = append(runs, e.RunID)
	}
	s.workflowEvents[e.RunID] = append(s.workflowEvents[e.RunID], &eCopy)
}

func (s *InMemoryStore) appendActivityEventLocked(e *ActivityEvent) {
	eCopy := *e
	if eCopy.CreatedAt.IsZero() {
		eCopy.CreatedAt = time.Now().UTC()
	}

	runs := s.activityRuns[e.ActivityID]
	if !containsRun(runs, e.RunID) {
		s.activityRuns[e.ActivityID] = append(runs, e.RunID)
	}
	s.activityEvents[e.RunID] = append(s.activityEvents[e.RunID], &eCopy)
}

// LastWorkflowRunEvent implements Store
func (s *InMemoryStore) LastWorkflowRunEvent(ctx context.Context, runID string) (*WorkflowEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e := s.lastWorkflowEventLocked(runID)
	if e == nil {
		return nil, fmt.Errorf("workflow run %s: %w", runID, ErrNotFound)
	}
	eCopy := *e
	return &eCopy, nil
}

// LastActivityRunEvent implements Store
func (s *InMemoryStore) LastActivityRunEvent(ctx context.Context, runID string) (*ActivityEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e := s.lastActivityEventLocked(runID)
	if e == nil {
		return nil, fmt.Errorf("activity run %s: %w", runID, ErrNotFound)
	}
	eCopy := *e
	return &eCopy, nil
}

// FirstWorkflowRunEvent implements Store
func (s *InMemoryStore) FirstWorkflowRunEvent(ctx context.Context, runID string) (*WorkflowEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := sortedWorkflowEvents(s.workflowEvents[runID])
	if len(events) == 0 {
		return nil, fmt.Errorf("workflow run %s: %w", runID, ErrNotFound)
	}
	eCopy := *events[0]
	return &eCopy, nil
}

// FirstPendingWorkflow implements Store
func (s *InMemoryStore) FirstPendingWorkflow(ctx context.Context, name string) (*WorkflowEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, exists := s.workflows[name]
	if !exists {
		return nil, fmt.Errorf("workflow %s: %w", name, ErrNotFound)
	}

	for _, runID := range s.workflowRuns[w.ID] {
		last := s.lastWorkflowEventLocked(runID)
		if last != nil && last.Type == EventPending {
			eCopy := *last
			return &eCopy, nil
		}
	}
	return nil, fmt.Errorf("no pending run for workflow %s: %w", name, ErrNotFound)
}

// FirstPendingActivity implements Store
func (s *InMemoryStore) FirstPendingActivity(ctx context.Context, name string) (*ActivityEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, exists := s.activities[name]
	if !exists {
		return nil, fmt.Errorf("activity %s: %w", name, ErrNotFound)
	}

	for _, runID := range s.activityRuns[a.ID] {
		last := s.lastActivityEventLocked(runID)
		if last != nil && last.Type == EventPending {
			eCopy := *last
			return &eCopy, nil
		}
	}
	return nil, fmt.Errorf("no pending run for activity %s: %w", name, ErrNotFound)
}

// ClaimPendingWorkflowRun implements Store
func (s *InMemoryStore) ClaimPendingWorkflowRun(ctx context.Context, started *WorkflowEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	last := s.lastWorkflowEventLocked(started.RunID)
	if last == nil {
		return false, fmt.Errorf("workflow run %s: %w", started.RunID, ErrNotFound)
	}
	if last.Type != EventPending {
		return false, nil
	}
	s.appendWorkflowEventLocked(started)
	return true, nil
}

// ClaimPendingActivityRun implements Store
func (s *InMemoryStore) ClaimPendingActivityRun(ctx context.Context, started *ActivityEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := s.activityEvents[started.RunID]
	if len(events) == 0 {
		return false, fmt.Errorf("activity run %s: %w", started.RunID, ErrNotFound)
	}
	last := s.lastActivityEventLocked(started.RunID)
	if last.Type != EventPending {
		return false, nil
	}

	// Attempt rule: a brand-new pending keeps its attempt number; a run
	// re-pended after a start moves to the next attempt.
	attempt := last.Attempt
	for _, e := range events {
		if e.Type == EventStarted && e.Attempt >= attempt {
			attempt = e.Attempt + 1
		}
	}
	started.Attempt = attempt
	started.MaxAttempts = last.MaxAttempts

	s.appendActivityEventLocked(started)
	return true, nil
}

// FinishWorkflowRun implements Store
func (s *InMemoryStore) FinishWorkflowRun(ctx context.Context, terminal *WorkflowEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := s.workflowEvents[terminal.RunID]
	if len(events) == 0 {
		return false, fmt.Errorf("workflow run %s: %w", terminal.RunID, ErrNotFound)
	}
	for _, e := range events {
		if e.Type.IsTerminal() {
			return false, nil
		}
	}
	s.appendWorkflowEventLocked(terminal)
	return true, nil
}

// FinishActivityRun implements Store
func (s *InMemoryStore) FinishActivityRun(ctx context.Context, terminal *ActivityEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := s.activityEvents[terminal.RunID]
	if len(events) == 0 {
		return false, fmt.Errorf("activity run %s: %w", terminal.RunID, ErrNotFound)
	}
	for _, e := range events {
		if e.Type.IsTerminal() {
			return false, nil
		}
	}
	s.appendActivityEventLocked(terminal)
	return true, nil
}

// CompletedWorkflow implements Store
func (s *InMemoryStore) CompletedWorkflow(ctx context.Context, runID string) (*WorkflowEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.workflowEvents[runID]
	for _, want := range []EventType{EventSucceeded, EventFailed} {
		for _, e := range events {
			if e.Type == want {
				eCopy := *e
				return &eCopy, nil
			}
		}
	}
	return nil, fmt.Errorf("workflow run %s not completed: %w", runID, ErrNotFound)
}

// CompletedActivity implements Store
func (s *InMemoryStore) CompletedActivity(ctx context.Context, runID string) (*ActivityEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.activityEvents[runID]
	for _, want := range []EventType{EventSucceeded, EventFailed} {
		for _, e := range events {
			if e.Type == want {
				eCopy := *e
				return &eCopy, nil
			}
		}
	}
	return nil, fmt.Errorf("activity run %s not completed: %w", runID, ErrNotFound)
}

// MemoizedActivitySuccess implements Store
func (s *InMemoryStore) MemoizedActivitySuccess(ctx context.Context, pastWorkflowRunID, activityID, input string) (*ActivityEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, runID := range s.activityRuns[activityID] {
		events := sortedActivityEvents(s.activityEvents[runID])
		if len(events) == 0 {
			continue
		}
		// The run must belong to the past workflow run and have been
		// invoked with the same input.
		if events[0].WorkflowRunID != pastWorkflowRunID || events[0].Payload != input {
			continue
		}
		for _, e := range events {
			if e.Type == EventSucceeded {
				eCopy := *e
				return &eCopy, nil
			}
		}
	}
	return nil, fmt.Errorf("no memoized success for activity %s under run %s: %w", activityID, pastWorkflowRunID, ErrNotFound)
}

// ListWorkflowRunEvents implements Store
func (s *InMemoryStore) ListWorkflowRunEvents(ctx context.Context, runID string) ([]*WorkflowEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := sortedWorkflowEvents(s.workflowEvents[runID])
	result := make([]*WorkflowEvent, len(events))
	for i, e := range events {
		eCopy := *e
		result[i] = &eCopy
	}
	return result, nil
}

// ListActivityRunEvents implements Store
func (s *InMemoryStore) ListActivityRunEvents(ctx context.Context, runID string) ([]*ActivityEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := sortedActivityEvents(s.activityEvents[runID])
	result := make([]*ActivityEvent, len(events))
	for i, e := range events {
		eCopy := *e
		result[i] = &eCopy
	}
	return result, nil
}

func (s *InMemoryStore) lastWorkflowEventLocked(runID string) *WorkflowEvent {
	events := sortedWorkflowEvents(s.workflowEvents[runID])
	if len(events) == 0 {
		return nil
	}
	return events[len(events)-1]
}

func (s *InMemoryStore) lastActivityEventLocked(runID string) *ActivityEvent {
	events := sortedActivityEvents(s.activityEvents[runID])
	if len(events) == 0 {
		return nil
	}
	return events[len(events)-1]
}

// sortedWorkflowEvents returns a copy of events sorted by CreatedAt
// ascending. The sort is stable so same-timestamp events keep append order.
func sortedWorkflowEvents(events []*WorkflowEvent) []*WorkflowEvent {
	sorted := make([]*WorkflowEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})
	return sorted
}

func sortedActivityEvents(events []*ActivityEvent) []*ActivityEvent {
	sorted := make([]*ActivityEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})
	return sorted
}

func containsRun(runs []string, runID string) bool {
	for _, r := range runs {
		if r == runID {
			return true
		}
	}
	return false
}
