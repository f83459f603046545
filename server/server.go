// Package server implements the orchestrator HTTP server: the
// /worker_event tagged-union endpoint, the /rerun_workflow endpoint, and
// the read-only run history endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/KamdynS/pacer/observability"
	"github.com/KamdynS/pacer/protocol"
	"github.com/KamdynS/pacer/queue"
	"github.com/KamdynS/pacer/state"
)

// Config holds server configuration.
type Config struct {
	// Store is the event store. Required.
	Store state.Store

	// Queue delivers wake hints to the long-poll loops. Defaults to an
	// in-memory queue.
	Queue queue.Queue

	// Port to listen on. Defaults to 8080.
	Port int

	// WorkflowPollInterval bounds how long a workflow poll waits between
	// store scans. Defaults to 10ms.
	WorkflowPollInterval time.Duration

	// ActivityPollInterval bounds how long an activity poll waits between
	// store scans. Defaults to 1s.
	ActivityPollInterval time.Duration

	// CompletionPollInterval bounds how long a completion poll waits
	// between store reads. Defaults to 1ms.
	CompletionPollInterval time.Duration

	// Hooks receives lifecycle callbacks. Optional.
	Hooks *observability.Hooks
}

// Server is the orchestrator HTTP server. All worker traffic flows through
// handleWorkerEvent; reruns and history reads have their own endpoints.
type Server struct {
	cfg        Config
	store      state.Store
	queue      queue.Queue
	hooks      *observability.Hooks
	mux        *http.ServeMux
	httpServer *http.Server
}

// New creates a server from cfg, backfilling defaults for zero values.
func New(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("server config requires a store")
	}
	if cfg.Queue == nil {
		cfg.Queue = queue.NewInMemoryQueue()
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.WorkflowPollInterval == 0 {
		cfg.WorkflowPollInterval = 10 * time.Millisecond
	}
	if cfg.ActivityPollInterval == 0 {
		cfg.ActivityPollInterval = time.Second
	}
	if cfg.CompletionPollInterval == 0 {
		cfg.CompletionPollInterval = time.Millisecond
	}

	s := &Server{
		cfg:   cfg,
		store: cfg.Store,
		queue: cfg.Queue,
		hooks: cfg.Hooks,
		mux:   http.NewServeMux(),
	}

	s.mux.HandleFunc("POST /worker_event", s.handleWorkerEvent)
	s.mux.HandleFunc("POST /rerun_workflow", s.handleRerunWorkflow)
	s.mux.HandleFunc("GET /workflow_runs/{id}/events", s.handleWorkflowRunEvents)
	s.mux.HandleFunc("GET /activity_runs/{id}/events", s.handleActivityRunEvents)
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: s.mux,
	}
	return s, nil
}

// Handler returns the server's routing handler. Useful for tests that mount
// it on an httptest server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start listens and serves until Stop is called. Blocking.
func (s *Server) Start() error {
	log.Printf("[Server] listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server listen: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	log.Printf("[Server] shutting down")
	return s.httpServer.Shutdown(ctx)
}

// handleWorkerEvent decodes one tagged worker event and dispatches on its
// variant. Every path answers with a tagged server event.
func (s *Server) handleWorkerEvent(w http.ResponseWriter, r *http.Request) {
	var event protocol.WorkerEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		s.sendError(w, http.StatusBadRequest, fmt.Sprintf("decode worker event: %v", err))
		return
	}
	if err := event.Validate(); err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	switch {
	case event.RegisterWorkflow != nil:
		s.registerWorkflow(ctx, w, event.RegisterWorkflow)
	case event.RegisterActivity != nil:
		s.registerActivity(ctx, w, event.RegisterActivity)
	case event.EnqueueWorkflow != nil:
		s.enqueueWorkflow(ctx, w, event.EnqueueWorkflow)
	case event.EnqueueActivity != nil:
		s.enqueueActivity(ctx, w, event.EnqueueActivity)
	case event.CompleteWorkflow != nil:
		s.completeWorkflow(ctx, w, event.CompleteWorkflow)
	case event.CompleteActivity != nil:
		s.completeActivity(ctx, w, event.CompleteActivity)
	case event.PollWorkflow != nil:
		s.pollWorkflow(ctx, w, event.PollWorkflow)
	case event.PollActivity != nil:
		s.pollActivity(ctx, w, event.PollActivity)
	case event.PollWorkflowCompletion != nil:
		s.pollWorkflowCompletion(ctx, w, event.PollWorkflowCompletion)
	case event.PollActivityCompletion != nil:
		s.pollActivityCompletion(ctx, w, event.PollActivityCompletion)
	}
}

func (s *Server) registerWorkflow(ctx context.Context, w http.ResponseWriter, req *protocol.RegisterWorkflow) {
	if err := s.store.AddWorkflow(ctx, state.NewWorkflow(req.Name)); err != nil {
		s.sendError(w, http.StatusInternalServerError, fmt.Sprintf("register workflow: %v", err))
		return
	}
	s.hooks.SafeRegister(ctx, "workflow", req.Name)
	s.sendSuccess(w)
}

func (s *Server) registerActivity(ctx context.Context, w http.ResponseWriter, req *protocol.RegisterActivity) {
	if err := s.store.AddActivity(ctx, state.NewActivity(req.Name)); err != nil {
		s.sendError(w, http.StatusInternalServerError, fmt.Sprintf("register activity: %v", err))
		return
	}
	s.hooks.SafeRegister(ctx, "activity", req.Name)
	s.sendSuccess(w)
}

// enqueueWorkflow creates a pending run of a registered workflow. Enqueues
// against an unregistered name are acknowledged and dropped: the caller's
// run id never enters the store.
func (s *Server) enqueueWorkflow(ctx context.Context, w http.ResponseWriter, req *protocol.EnqueueWorkflow) {
	wf, err := s.store.GetWorkflowByName(ctx, req.Name)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			log.Printf("[Server] dropping enqueue for unregistered workflow %q", req.Name)
			s.sendSuccess(w)
			return
		}
		s.sendError(w, http.StatusInternalServerError, fmt.Sprintf("enqueue workflow: %v", err))
		return
	}

	pending := state.NewWorkflowEvent(wf.ID, req.WorkflowRunID, state.EventPending, req.Input)
	if err := s.store.AppendWorkflowEvent(ctx, pending); err != nil {
		s.sendError(w, http.StatusInternalServerError, fmt.Sprintf("enqueue workflow: %v", err))
		return
	}
	s.publishHint(ctx, queue.NoticeWorkflow, req.Name, req.WorkflowRunID)
	s.hooks.SafeEnqueue(ctx, "workflow", req.Name, req.WorkflowRunID)
	s.sendSuccess(w)
}

// enqueueActivity creates a pending activity run under a workflow run.
// Unknown activity names and unloadable parent runs answer NotFound. When
// the parent run is a rerun, a matching past success short-circuits the run
// straight to succeeded.
func (s *Server) enqueueActivity(ctx context.Context, w http.ResponseWriter, req *protocol.EnqueueActivity) {
	act, err := s.store.GetActivityByName(ctx, req.Name)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			s.sendJSON(w, &protocol.ServerEvent{NotFound: true})
			return
		}
		s.sendError(w, http.StatusInternalServerError, fmt.Sprintf("enqueue activity: %v", err))
		return
	}

	parent, err := s.store.LastWorkflowRunEvent(ctx, req.WorkflowRunID)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			s.sendJSON(w, &protocol.ServerEvent{NotFound: true})
			return
		}
		s.sendError(w, http.StatusInternalServerError, fmt.Sprintf("enqueue activity: %v", err))
		return
	}

	if parent.RerunOf != "" {
		memo, err := s.store.MemoizedActivitySuccess(ctx, parent.RerunOf, act.ID, req.Input)
		if err != nil && !errors.Is(err, state.ErrNotFound) {
			s.sendError(w, http.StatusInternalServerError, fmt.Sprintf("enqueue activity: %v", err))
			return
		}
		if memo != nil {
			succeeded := state.NewActivityEvent(act.ID, req.ActivityRunID, req.WorkflowRunID,
				state.EventSucceeded, memo.Payload, 1, req.MaxAttempts)
			if err := s.store.AppendActivityEvent(ctx, succeeded); err != nil {
				s.sendError(w, http.StatusInternalServerError, fmt.Sprintf("enqueue activity: %v", err))
				return
			}
			log.Printf("[Server] activity %s run %s memoized from run %s", req.Name, req.ActivityRunID, memo.RunID)
			s.hooks.SafeMemoized(ctx, req.Name, req.ActivityRunID, memo.RunID)
			s.sendSuccess(w)
			return
		}
	}

	pending := state.NewActivityEvent(act.ID, req.ActivityRunID, req.WorkflowRunID,
		state.EventPending, req.Input, 1, req.MaxAttempts)
	if err := s.store.AppendActivityEvent(ctx, pending); err != nil {
		s.sendError(w, http.StatusInternalServerError, fmt.Sprintf("enqueue activity: %v", err))
		return
	}
	s.publishHint(ctx, queue.NoticeActivity, req.Name, req.ActivityRunID)
	s.hooks.SafeEnqueue(ctx, "activity", req.Name, req.ActivityRunID)
	s.sendSuccess(w)
}

// completeWorkflow appends the run's terminal event. A non-empty error means
// failed; otherwise succeeded. Duplicate completions are absorbed.
func (s *Server) completeWorkflow(ctx context.Context, w http.ResponseWriter, req *protocol.CompleteWorkflow) {
	eventType := state.EventSucceeded
	payload := req.Result
	if req.Error != "" {
		eventType = state.EventFailed
		payload = req.Error
	}

	terminal := state.NewWorkflowEvent(req.WorkflowID, req.WorkflowRunID, eventType, payload)
	if req.RerunOfWorkflowRunID != nil {
		terminal.RerunOf = *req.RerunOfWorkflowRunID
	}
	applied, err := s.store.FinishWorkflowRun(ctx, terminal)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, fmt.Sprintf("complete workflow: %v", err))
		return
	}
	if !applied {
		log.Printf("[Server] ignoring duplicate completion for workflow run %s", req.WorkflowRunID)
	} else {
		s.hooks.SafeComplete(ctx, "workflow", req.WorkflowRunID, eventType == state.EventFailed)
	}
	s.sendSuccess(w)
}

func (s *Server) completeActivity(ctx context.Context, w http.ResponseWriter, req *protocol.CompleteActivity) {
	eventType := state.EventSucceeded
	payload := req.Result
	if req.Error != "" {
		eventType = state.EventFailed
		payload = req.Error
	}

	terminal := state.NewActivityEvent(req.ActivityID, req.ActivityRunID, req.WorkflowRunID,
		eventType, payload, req.AttemptNumber, req.MaxAttempts)
	applied, err := s.store.FinishActivityRun(ctx, terminal)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, fmt.Sprintf("complete activity: %v", err))
		return
	}
	if !applied {
		log.Printf("[Server] ignoring duplicate completion for activity run %s", req.ActivityRunID)
	} else {
		s.hooks.SafeComplete(ctx, "activity", req.ActivityRunID, eventType == state.EventFailed)
	}
	s.sendSuccess(w)
}

// pollWorkflow holds the request open until a pending run of the named
// workflow is claimed. The claim is a compare-and-set on the run's latest
// event, so two pollers racing for the same run dispatch it exactly once.
func (s *Server) pollWorkflow(ctx context.Context, w http.ResponseWriter, req *protocol.PollWorkflow) {
	for {
		pending, err := s.store.FirstPendingWorkflow(ctx, req.Name)
		if err != nil && !errors.Is(err, state.ErrNotFound) {
			s.sendError(w, http.StatusInternalServerError, fmt.Sprintf("poll workflow: %v", err))
			return
		}
		if pending != nil {
			started := state.NewWorkflowEvent(pending.WorkflowID, pending.RunID, state.EventStarted, pending.Payload)
			started.RerunOf = pending.RerunOf
			claimed, err := s.store.ClaimPendingWorkflowRun(ctx, started)
			if err != nil {
				s.sendError(w, http.StatusInternalServerError, fmt.Sprintf("poll workflow: %v", err))
				return
			}
			if claimed {
				s.hooks.SafeDispatch(ctx, "workflow", req.Name, pending.RunID)
				resp := &protocol.PollWorkflowResponse{
					WorkflowRunID: pending.RunID,
					WorkflowID:    pending.WorkflowID,
					Name:          req.Name,
					Input:         pending.Payload,
				}
				if pending.RerunOf != "" {
					resp.RerunOfWorkflowRunID = &pending.RerunOf
				}
				s.sendJSON(w, &protocol.ServerEvent{PollWorkflowResponse: resp})
				return
			}
			// Lost the claim race; scan again.
			continue
		}
		if !s.waitForHint(ctx, queue.WorkflowQueue(req.Name), s.cfg.WorkflowPollInterval) {
			return
		}
	}
}

// pollActivity is the activity analogue of pollWorkflow. The attempt number
// echoed to the worker is the one the claim recorded, which accounts for
// re-pended runs.
func (s *Server) pollActivity(ctx context.Context, w http.ResponseWriter, req *protocol.PollActivity) {
	for {
		pending, err := s.store.FirstPendingActivity(ctx, req.Name)
		if err != nil && !errors.Is(err, state.ErrNotFound) {
			s.sendError(w, http.StatusInternalServerError, fmt.Sprintf("poll activity: %v", err))
			return
		}
		if pending != nil {
			started := state.NewActivityEvent(pending.ActivityID, pending.RunID, pending.WorkflowRunID,
				state.EventStarted, pending.Payload, pending.Attempt, pending.MaxAttempts)
			claimed, err := s.store.ClaimPendingActivityRun(ctx, started)
			if err != nil {
				s.sendError(w, http.StatusInternalServerError, fmt.Sprintf("poll activity: %v", err))
				return
			}
			if claimed {
				s.hooks.SafeDispatch(ctx, "activity", req.Name, pending.RunID)
				s.sendJSON(w, &protocol.ServerEvent{PollActivityResponse: &protocol.PollActivityResponse{
					ActivityRunID: pending.RunID,
					WorkflowRunID: pending.WorkflowRunID,
					ActivityID:    pending.ActivityID,
					Name:          req.Name,
					Input:         pending.Payload,
					MaxAttempts:   started.MaxAttempts,
					AttemptNumber: started.Attempt,
				}})
				return
			}
			continue
		}
		if !s.waitForHint(ctx, queue.ActivityQueue(req.Name), s.cfg.ActivityPollInterval) {
			return
		}
	}
}

// pollWorkflowCompletion holds the request open until the run has a terminal
// event. Succeeded carries the payload as result, failed as error.
func (s *Server) pollWorkflowCompletion(ctx context.Context, w http.ResponseWriter, req *protocol.PollWorkflowCompletionRequest) {
	for {
		done, err := s.store.CompletedWorkflow(ctx, req.WorkflowRunID)
		if err != nil && !errors.Is(err, state.ErrNotFound) {
			s.sendError(w, http.StatusInternalServerError, fmt.Sprintf("poll workflow completion: %v", err))
			return
		}
		if done != nil {
			resp := &protocol.PollWorkflowCompletion{WorkflowRunID: req.WorkflowRunID}
			if done.Type == state.EventSucceeded {
				resp.Result = done.Payload
			} else {
				resp.Error = done.Payload
			}
			s.sendJSON(w, &protocol.ServerEvent{PollWorkflowCompletion: resp})
			return
		}
		if !s.sleep(ctx, s.cfg.CompletionPollInterval) {
			return
		}
	}
}

func (s *Server) pollActivityCompletion(ctx context.Context, w http.ResponseWriter, req *protocol.PollActivityCompletionRequest) {
	for {
		done, err := s.store.CompletedActivity(ctx, req.ActivityRunID)
		if err != nil && !errors.Is(err, state.ErrNotFound) {
			s.sendError(w, http.StatusInternalServerError, fmt.Sprintf("poll activity completion: %v", err))
			return
		}
		if done != nil {
			resp := &protocol.PollActivityCompletion{ActivityRunID: req.ActivityRunID}
			if done.Type == state.EventSucceeded {
				resp.Result = done.Payload
			} else {
				resp.Error = done.Payload
			}
			s.sendJSON(w, &protocol.ServerEvent{PollActivityCompletion: resp})
			return
		}
		if !s.sleep(ctx, s.cfg.CompletionPollInterval) {
			return
		}
	}
}

// handleRerunWorkflow spawns a fresh pending run from a failed run, seeded
// with the failed run's original input and linked to it through rerun_of.
func (s *Server) handleRerunWorkflow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req protocol.RerunWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, fmt.Sprintf("decode rerun request: %v", err))
		return
	}

	last, err := s.store.LastWorkflowRunEvent(ctx, req.WorkflowRunID)
	if err != nil || last.Type != state.EventFailed {
		s.sendJSON(w, &protocol.RerunWorkflowResponse{Error: "workflow not found"})
		return
	}

	first, err := s.store.FirstWorkflowRunEvent(ctx, req.WorkflowRunID)
	if err != nil {
		s.sendJSON(w, &protocol.RerunWorkflowResponse{Error: "workflow not found"})
		return
	}

	newRunID := state.NewID()
	pending := state.NewWorkflowEvent(last.WorkflowID, newRunID, state.EventPending, first.Payload)
	pending.RerunOf = req.WorkflowRunID
	if err := s.store.AppendWorkflowEvent(ctx, pending); err != nil {
		s.sendError(w, http.StatusInternalServerError, fmt.Sprintf("rerun workflow: %v", err))
		return
	}

	wfName := ""
	if wf, err := s.store.GetWorkflowByID(ctx, last.WorkflowID); err == nil {
		wfName = wf.Name
	}
	s.publishHint(ctx, queue.NoticeWorkflow, wfName, newRunID)
	log.Printf("[Server] rerunning workflow run %s as %s", req.WorkflowRunID, newRunID)
	s.hooks.SafeRerun(ctx, req.WorkflowRunID, newRunID)
	s.sendJSON(w, &protocol.RerunWorkflowResponse{NewWorkflowID: newRunID})
}

// handleWorkflowRunEvents returns a run's full history, oldest first.
func (s *Server) handleWorkflowRunEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.store.ListWorkflowRunEvents(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			s.sendError(w, http.StatusNotFound, "workflow run not found")
			return
		}
		s.sendError(w, http.StatusInternalServerError, fmt.Sprintf("list workflow run events: %v", err))
		return
	}
	s.sendJSON(w, events)
}

// handleActivityRunEvents returns an activity run's full history.
func (s *Server) handleActivityRunEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.store.ListActivityRunEvents(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			s.sendError(w, http.StatusNotFound, "activity run not found")
			return
		}
		s.sendError(w, http.StatusInternalServerError, fmt.Sprintf("list activity run events: %v", err))
		return
	}
	s.sendJSON(w, events)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, map[string]string{"status": "ok"})
}

// publishHint drops a wake hint for the long-poll loops. Hint delivery is
// best effort; the store scan still finds the work on the next interval.
func (s *Server) publishHint(ctx context.Context, kind queue.NoticeKind, name, runID string) {
	queueName := queue.WorkflowQueue(name)
	if kind == queue.NoticeActivity {
		queueName = queue.ActivityQueue(name)
	}
	if err := s.queue.Enqueue(ctx, queueName, queue.NewNotice(kind, name, runID)); err != nil {
		log.Printf("[Server] dropping wake hint for %s: %v", queueName, err)
	}
}

// waitForHint blocks for up to interval, waking early if a hint arrives.
// Returns false when ctx is done and the long poll should be abandoned.
func (s *Server) waitForHint(ctx context.Context, queueName string, interval time.Duration) bool {
	if _, err := s.queue.DequeueWithTimeout(ctx, queueName, interval); err != nil {
		if ctx.Err() != nil {
			return false
		}
		// Hint transport is down; fall back to plain interval polling.
		return s.sleep(ctx, interval)
	}
	return ctx.Err() == nil
}

// sleep waits for d or until ctx is done, returning false on cancellation.
func (s *Server) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (s *Server) sendSuccess(w http.ResponseWriter) {
	s.sendJSON(w, &protocol.ServerEvent{GeneralSuccess: &protocol.GeneralSuccess{Success: true}})
}

func (s *Server) sendJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[Server] encode response: %v", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": msg}); err != nil {
		log.Printf("[Server] encode error response: %v", err)
	}
}
