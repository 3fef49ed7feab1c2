// Package memory provides the bounded in-memory task queue feeding batch workers.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/imagefetch/internal/ingest"
)

// ErrClosed is returned by Dequeue once the queue is closed and drained.
var ErrClosed = errors.New("queue closed")

// Task is one URL of a batch together with its input position.
type Task struct {
	Index   int
	Request ingest.FetchRequest
}

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch      chan Task
	closeMu sync.Mutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		ch: make(chan Task, capacity),
	}
}

// Enqueue pushes a task into the queue or returns if the context ends.
// Enqueue must not be called after Close.
func (q *Queue) Enqueue(ctx context.Context, task Task) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("enqueue canceled: %w", err)
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- task:
		return nil
	}
}

// Dequeue pops the next task, respecting context cancellation. Buffered tasks
// remain available after Close; ErrClosed is returned once they are drained.
func (q *Queue) Dequeue(ctx context.Context) (Task, error) {
	if err := ctx.Err(); err != nil {
		return Task{}, fmt.Errorf("dequeue canceled: %w", err)
	}
	select {
	case <-ctx.Done():
		return Task{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case task, ok := <-q.ch:
		if !ok {
			return Task{}, ErrClosed
		}
		return task, nil
	}
}

// Drain removes and returns every buffered task without blocking.
func (q *Queue) Drain() []Task {
	var tasks []Task
	for {
		select {
		case task, ok := <-q.ch:
			if !ok {
				return tasks
			}
			tasks = append(tasks, task)
		default:
			return tasks
		}
	}
}

// Close closes the underlying channel for shutdown.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
