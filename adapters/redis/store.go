package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/KamdynS/pacer/state"
)

// Ensure Store implements state.Store
var _ state.Store = (*Store)(nil)

// ---------- Key helpers ----------

func (s *Store) wfByNameKey(name string) string { return fmt.Sprintf("%s:wf:name:%s", s.prefix, name) }
func (s *Store) wfByIDKey(id string) string     { return fmt.Sprintf("%s:wf:id:%s", s.prefix, id) }
func (s *Store) actByNameKey(name string) string {
	return fmt.Sprintf("%s:act:name:%s", s.prefix, name)
}
func (s *Store) wfRunSetKey(wfID string) string  { return fmt.Sprintf("%s:wf:%s:runset", s.prefix, wfID) }
func (s *Store) wfRunListKey(wfID string) string { return fmt.Sprintf("%s:wf:%s:runs", s.prefix, wfID) }
func (s *Store) wfEventsKey(runID string) string {
	return fmt.Sprintf("%s:wfrun:%s:events", s.prefix, runID)
}
func (s *Store) actRunSetKey(actID string) string {
	return fmt.Sprintf("%s:act:%s:runset", s.prefix, actID)
}
func (s *Store) actRunListKey(actID string) string {
	return fmt.Sprintf("%s:act:%s:runs", s.prefix, actID)
}
func (s *Store) actEventsKey(runID string) string {
	return fmt.Sprintf("%s:actrun:%s:events", s.prefix, runID)
}

// ---------- Definitions ----------

// AddWorkflow implements state.Store. SETNX keeps the first registration's
// id when two servers race on the same name.
func (s *Store) AddWorkflow(ctx context.Context, w *state.Workflow) error {
	b, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("marshal workflow: %w", err)
	}
	created, err := s.rdb.SetNX(ctx, s.wfByNameKey(w.Name), b, 0).Result()
	if err != nil {
		return fmt.Errorf("redis setnx workflow: %w", err)
	}
	if created {
		if err := s.rdb.Set(ctx, s.wfByIDKey(w.ID), w.Name, 0).Err(); err != nil {
			return fmt.Errorf("redis set workflow id index: %w", err)
		}
	}
	return nil
}

// AddActivity implements state.Store
func (s *Store) AddActivity(ctx context.Context, a *state.Activity) error {
	b, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal activity: %w", err)
	}
	if err := s.rdb.SetNX(ctx, s.actByNameKey(a.Name), b, 0).Err(); err != nil {
		return fmt.Errorf("redis setnx activity: %w", err)
	}
	return nil
}

// GetWorkflowByName implements state.Store
func (s *Store) GetWorkflowByName(ctx context.Context, name string) (*state.Workflow, error) {
	v, err := s.rdb.Get(ctx, s.wfByNameKey(name)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("workflow %s: %w", name, state.ErrNotFound)
		}
		return nil, fmt.Errorf("redis get workflow: %w", err)
	}
	var w state.Workflow
	if err := json.Unmarshal(v, &w); err != nil {
		return nil, fmt.Errorf("unmarshal workflow: %w", err)
	}
	return &w, nil
}

// GetActivityByName implements state.Store
func (s *Store) GetActivityByName(ctx context.Context, name string) (*state.Activity, error) {
	v, err := s.rdb.Get(ctx, s.actByNameKey(name)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("activity %s: %w", name, state.ErrNotFound)
		}
		return nil, fmt.Errorf("redis get activity: %w", err)
	}
	var a state.Activity
	if err := json.Unmarshal(v, &a); err != nil {
		return nil, fmt.Errorf("unmarshal activity: %w", err)
	}
	return &a, nil
}

// GetWorkflowByID implements state.Store
func (s *Store) GetWorkflowByID(ctx context.Context, id string) (*state.Workflow, error) {
	name, err := s.rdb.Get(ctx, s.wfByIDKey(id)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("workflow id %s: %w", id, state.ErrNotFound)
		}
		return nil, fmt.Errorf("redis get workflow id index: %w", err)
	}
	return s.GetWorkflowByName(ctx, name)
}

// ---------- Appends ----------

// AppendWorkflowEvent implements state.Store
func (s *Store) AppendWorkflowEvent(ctx context.Context, e *state.WorkflowEvent) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal workflow event: %w", err)
	}
	keys := []string{s.wfRunSetKey(e.WorkflowID), s.wfRunListKey(e.WorkflowID), s.wfEventsKey(e.RunID)}
	if _, err := s.eval(ctx, s.appendSHA, luaAppendEvent, keys, e.RunID, string(b)); err != nil {
		return fmt.Errorf("redis append workflow event: %w", err)
	}
	return nil
}

// AppendActivityEvent implements state.Store
func (s *Store) AppendActivityEvent(ctx context.Context, e *state.ActivityEvent) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal activity event: %w", err)
	}
	keys := []string{s.actRunSetKey(e.ActivityID), s.actRunListKey(e.ActivityID), s.actEventsKey(e.RunID)}
	if _, err := s.eval(ctx, s.appendSHA, luaAppendEvent, keys, e.RunID, string(b)); err != nil {
		return fmt.Errorf("redis append activity event: %w", err)
	}
	return nil
}

// ---------- Claims and finishes ----------

// ClaimPendingWorkflowRun implements state.Store
func (s *Store) ClaimPendingWorkflowRun(ctx context.Context, started *state.WorkflowEvent) (bool, error) {
	b, err := json.Marshal(started)
	if err != nil {
		return false, fmt.Errorf("marshal started event: %w", err)
	}
	res, err := s.evalInt(ctx, s.claimSHA, luaClaimPending, []string{s.wfEventsKey(started.RunID)}, string(b))
	if err != nil {
		return false, fmt.Errorf("redis claim workflow run: %w", err)
	}
	if res == -1 {
		return false, fmt.Errorf("workflow run %s: %w", started.RunID, state.ErrNotFound)
	}
	return res > 0, nil
}

// ClaimPendingActivityRun implements state.Store. The script resolves the
// attempt number; it is echoed back onto started for the caller.
func (s *Store) ClaimPendingActivityRun(ctx context.Context, started *state.ActivityEvent) (bool, error) {
	b, err := json.Marshal(started)
	if err != nil {
		return false, fmt.Errorf("marshal started event: %w", err)
	}
	res, err := s.evalInt(ctx, s.claimSHA, luaClaimPending, []string{s.actEventsKey(started.RunID)}, string(b))
	if err != nil {
		return false, fmt.Errorf("redis claim activity run: %w", err)
	}
	if res == -1 {
		return false, fmt.Errorf("activity run %s: %w", started.RunID, state.ErrNotFound)
	}
	if res == 0 {
		return false, nil
	}
	started.Attempt = res
	return true, nil
}

// FinishWorkflowRun implements state.Store
func (s *Store) FinishWorkflowRun(ctx context.Context, terminal *state.WorkflowEvent) (bool, error) {
	b, err := json.Marshal(terminal)
	if err != nil {
		return false, fmt.Errorf("marshal terminal event: %w", err)
	}
	res, err := s.evalInt(ctx, s.finishSHA, luaFinishRun, []string{s.wfEventsKey(terminal.RunID)}, string(b))
	if err != nil {
		return false, fmt.Errorf("redis finish workflow run: %w", err)
	}
	if res == -1 {
		return false, fmt.Errorf("workflow run %s: %w", terminal.RunID, state.ErrNotFound)
	}
	return res == 1, nil
}

// FinishActivityRun implements state.Store
func (s *Store) FinishActivityRun(ctx context.Context, terminal *state.ActivityEvent) (bool, error) {
	b, err := json.Marshal(terminal)
	if err != nil {
		return false, fmt.Errorf("marshal terminal event: %w", err)
	}
	res, err := s.evalInt(ctx, s.finishSHA, luaFinishRun, []string{s.actEventsKey(terminal.RunID)}, string(b))
	if err != nil {
		return false, fmt.Errorf("redis finish activity run: %w", err)
	}
	if res == -1 {
		return false, fmt.Errorf("activity run %s: %w", terminal.RunID, state.ErrNotFound)
	}
	return res == 1, nil
}

// ---------- Reads ----------

// LastWorkflowRunEvent implements state.Store
func (s *Store) LastWorkflowRunEvent(ctx context.Context, runID string) (*state.WorkflowEvent, error) {
	events, err := s.workflowRunEvents(ctx, runID)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("workflow run %s: %w", runID, state.ErrNotFound)
	}
	return events[len(events)-1], nil
}

// LastActivityRunEvent implements state.Store
func (s *Store) LastActivityRunEvent(ctx context.Context, runID string) (*state.ActivityEvent, error) {
	events, err := s.activityRunEvents(ctx, runID)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("activity run %s: %w", runID, state.ErrNotFound)
	}
	return events[len(events)-1], nil
}

// FirstWorkflowRunEvent implements state.Store
func (s *Store) FirstWorkflowRunEvent(ctx context.Context, runID string) (*state.WorkflowEvent, error) {
	events, err := s.workflowRunEvents(ctx, runID)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("workflow run %s: %w", runID, state.ErrNotFound)
	}
	return events[0], nil
}

// FirstPendingWorkflow implements state.Store
func (s *Store) FirstPendingWorkflow(ctx context.Context, name string) (*state.WorkflowEvent, error) {
	w, err := s.GetWorkflowByName(ctx, name)
	if err != nil {
		return nil, err
	}
	runIDs, err := s.rdb.LRange(ctx, s.wfRunListKey(w.ID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange workflow runs: %w", err)
	}
	for _, runID := range runIDs {
		events, err := s.workflowRunEvents(ctx, runID)
		if err != nil {
			return nil, err
		}
		if len(events) == 0 {
			continue
		}
		if last := events[len(events)-1]; last.Type == state.EventPending {
			return last, nil
		}
	}
	return nil, fmt.Errorf("no pending run for workflow %s: %w", name, state.ErrNotFound)
}

// FirstPendingActivity implements state.Store
func (s *Store) FirstPendingActivity(ctx context.Context, name string) (*state.ActivityEvent, error) {
	a, err := s.GetActivityByName(ctx, name)
	if err != nil {
		return nil, err
	}
	runIDs, err := s.rdb.LRange(ctx, s.actRunListKey(a.ID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange activity runs: %w", err)
	}
	for _, runID := range runIDs {
		events, err := s.activityRunEvents(ctx, runID)
		if err != nil {
			return nil, err
		}
		if len(events) == 0 {
			continue
		}
		if last := events[len(events)-1]; last.Type == state.EventPending {
			return last, nil
		}
	}
	return nil, fmt.Errorf("no pending run for activity %s: %w", name, state.ErrNotFound)
}

// CompletedWorkflow implements state.Store
func (s *Store) CompletedWorkflow(ctx context.Context, runID string) (*state.WorkflowEvent, error) {
	events, err := s.workflowRunEvents(ctx, runID)
	if err != nil {
		return nil, err
	}
	for _, want := range []state.EventType{state.EventSucceeded, state.EventFailed} {
		for _, e := range events {
			if e.Type == want {
				return e, nil
			}
		}
	}
	return nil, fmt.Errorf("workflow run %s not completed: %w", runID, state.ErrNotFound)
}

// CompletedActivity implements state.Store
func (s *Store) CompletedActivity(ctx context.Context, runID string) (*state.ActivityEvent, error) {
	events, err := s.activityRunEvents(ctx, runID)
	if err != nil {
		return nil, err
	}
	for _, want := range []state.EventType{state.EventSucceeded, state.EventFailed} {
		for _, e := range events {
			if e.Type == want {
				return e, nil
			}
		}
	}
	return nil, fmt.Errorf("activity run %s not completed: %w", runID, state.ErrNotFound)
}

// MemoizedActivitySuccess implements state.Store
func (s *Store) MemoizedActivitySuccess(ctx context.Context, pastWorkflowRunID, activityID, input string) (*state.ActivityEvent, error) {
	runIDs, err := s.rdb.LRange(ctx, s.actRunListKey(activityID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange activity runs: %w", err)
	}
	for _, runID := range runIDs {
		events, err := s.activityRunEvents(ctx, runID)
		if err != nil {
			return nil, err
		}
		if len(events) == 0 {
			continue
		}
		if events[0].WorkflowRunID != pastWorkflowRunID || events[0].Payload != input {
			continue
		}
		for _, e := range events {
			if e.Type == state.EventSucceeded {
				return e, nil
			}
		}
	}
	return nil, fmt.Errorf("no memoized success for activity %s under run %s: %w", activityID, pastWorkflowRunID, state.ErrNotFound)
}

// ListWorkflowRunEvents implements state.Store
func (s *Store) ListWorkflowRunEvents(ctx context.Context, runID string) ([]*state.WorkflowEvent, error) {
	return s.workflowRunEvents(ctx, runID)
}

// ListActivityRunEvents implements state.Store
func (s *Store) ListActivityRunEvents(ctx context.Context, runID string) ([]*state.ActivityEvent, error) {
	return s.activityRunEvents(ctx, runID)
}

// workflowRunEvents loads a run's history sorted by CreatedAt. List order
// already matches append order; the sort guards against cross-server clock
// skew the same way every other reader does.
func (s *Store) workflowRunEvents(ctx context.Context, runID string) ([]*state.WorkflowEvent, error) {
	vals, err := s.rdb.LRange(ctx, s.wfEventsKey(runID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange workflow events: %w", err)
	}
	events := make([]*state.WorkflowEvent, 0, len(vals))
	for _, v := range vals {
		var e state.WorkflowEvent
		if uerr := json.Unmarshal([]byte(v), &e); uerr != nil {
			continue
		}
		events = append(events, &e)
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].CreatedAt.Before(events[j].CreatedAt)
	})
	return events, nil
}

func (s *Store) activityRunEvents(ctx context.Context, runID string) ([]*state.ActivityEvent, error) {
	vals, err := s.rdb.LRange(ctx, s.actEventsKey(runID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange activity events: %w", err)
	}
	events := make([]*state.ActivityEvent, 0, len(vals))
	for _, v := range vals {
		var e state.ActivityEvent
		if uerr := json.Unmarshal([]byte(v), &e); uerr != nil {
			continue
		}
		events = append(events, &e)
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].CreatedAt.Before(events[j].CreatedAt)
	})
	return events, nil
}

// ---------- Script helpers ----------

// eval runs a script by cached SHA, falling back to EVAL when the script
// cache was flushed.
func (s *Store) eval(ctx context.Context, sha, script string, keys []string, args ...interface{}) (interface{}, error) {
	if sha != "" {
		if res, err := s.rdb.EvalSha(ctx, sha, keys, args...).Result(); err == nil {
			return res, nil
		}
	}
	return s.rdb.Eval(ctx, script, keys, args...).Result()
}

func (s *Store) evalInt(ctx context.Context, sha, script string, keys []string, args ...interface{}) (int64, error) {
	res, err := s.eval(ctx, sha, script, keys, args...)
	if err != nil {
		return 0, err
	}
	n, ok := res.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected script result %T", res)
	}
	return n, nil
}
