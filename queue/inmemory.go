package queue

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// InMemoryQueue is a channel-based in-memory hint queue.
type InMemoryQueue struct {
	mu     sync.RWMutex
	queues map[string]chan *Notice
	closed bool
	buffer int
}

// NewInMemoryQueue creates a new in-memory hint queue.
func NewInMemoryQueue() *InMemoryQueue {
	return NewInMemoryQueueWithBuffer(100)
}

// NewInMemoryQueueWithBuffer creates an in-memory hint queue with the given
// per-name buffer size.
func NewInMemoryQueueWithBuffer(buffer int) *InMemoryQueue {
	if buffer <= 0 {
		buffer = 100
	}
	return &InMemoryQueue{
		queues: make(map[string]chan *Notice),
		buffer: buffer,
	}
}

// getOrCreateQueue returns an existing queue channel or creates a new one
func (q *InMemoryQueue) getOrCreateQueue(queueName string) chan *Notice {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}

	ch, exists := q.queues[queueName]
	if !exists {
		ch = make(chan *Notice, q.buffer)
		q.queues[queueName] = ch
	}
	return ch
}

// Enqueue implements Queue. A full buffer drops the hint rather than
// blocking the enqueue path; the store scan picks the work up on the next
// poll interval.
func (q *InMemoryQueue) Enqueue(ctx context.Context, queueName string, n *Notice) error {
	ch := q.getOrCreateQueue(queueName)
	if ch == nil {
		return fmt.Errorf("queue is closed")
	}

	select {
	case ch <- n:
	default:
	}
	return nil
}

// Dequeue implements Queue
func (q *InMemoryQueue) Dequeue(ctx context.Context, queueName string) (*Notice, error) {
	return q.DequeueWithTimeout(ctx, queueName, 0)
}

// DequeueWithTimeout implements Queue
func (q *InMemoryQueue) DequeueWithTimeout(ctx context.Context, queueName string, timeout time.Duration) (*Notice, error) {
	ch := q.getOrCreateQueue(queueName)
	if ch == nil {
		return nil, fmt.Errorf("queue is closed")
	}

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case n := <-ch:
		return n, nil
	case <-timeoutCh:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len implements Queue
func (q *InMemoryQueue) Len(ctx context.Context, queueName string) (int, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	ch, exists := q.queues[queueName]
	if !exists {
		return 0, nil
	}
	return len(ch), nil
}

// Close implements Queue
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	for _, ch := range q.queues {
		close(ch)
	}
	q.queues = make(map[string]chan *Notice)
	return nil
}
