// Package queue provides wake-hint delivery for the server's long-poll
// loops. A Notice is published whenever a pending run is created so that a
// waiting poller wakes immediately instead of sleeping out its poll
// interval. Hints are best-effort and at-most-once: the event store remains
// the authoritative source of pending work, and a lost hint only costs one
// poll interval.
package queue

import (
	"context"
	"time"
)

// NoticeKind distinguishes workflow hints from activity hints.
type NoticeKind string

const (
	NoticeWorkflow NoticeKind = "workflow"
	NoticeActivity NoticeKind = "activity"
)

// Notice is a wake hint that pending work exists for a name. It carries the
// run id for logging; consumers re-read the store rather than trusting it.
type Notice struct {
	Kind        NoticeKind `json:"kind"`
	Name        string     `json:"name"`
	RunID       string     `json:"run_id"`
	EnqueueTime time.Time  `json:"enqueue_time"`
}

// Queue delivers Notices between the enqueue path and the poll loops.
type Queue interface {
	// Enqueue publishes a hint. Implementations may drop it when full.
	Enqueue(ctx context.Context, queueName string, n *Notice) error

	// Dequeue blocks until a hint arrives or ctx is done.
	Dequeue(ctx context.Context, queueName string) (*Notice, error)

	// DequeueWithTimeout waits up to timeout for a hint. A timeout is not
	// an error; it returns (nil, nil).
	DequeueWithTimeout(ctx context.Context, queueName string, timeout time.Duration) (*Notice, error)

	// Len returns the number of buffered hints for the named queue.
	Len(ctx context.Context, queueName string) (int, error)

	// Close closes the queue and releases resources.
	Close() error
}

// WorkflowQueue returns the hint queue name for a workflow name.
func WorkflowQueue(name string) string {
	return "workflow:" + name
}

// ActivityQueue returns the hint queue name for an activity name.
func ActivityQueue(name string) string {
	return "activity:" + name
}

// NewNotice creates a hint stamped with the current time.
func NewNotice(kind NoticeKind, name, runID string) *Notice {
	return &Notice{
		Kind:        kind,
		Name:        name,
		RunID:       runID,
		EnqueueTime: time.Now().UTC(),
	}
}
