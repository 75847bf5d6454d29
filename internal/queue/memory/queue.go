// Package memory provides an in-process sweep queue.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/screenwatch/internal/screens"
)

// ErrClosed is returned by Dequeue and Enqueue after Close.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch      chan screens.QueueItem
	closeMu sync.RWMutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		ch: make(chan screens.QueueItem, capacity),
	}
}

// Enqueue pushes a sweep into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, item screens.QueueItem) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- item:
		return nil
	}
}

// Dequeue pops the next sweep, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (screens.QueueItem, error) {
	select {
	case <-ctx.Done():
		return screens.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item, ok := <-q.ch:
		if !ok {
			return screens.QueueItem{}, ErrClosed
		}
		return item, nil
	}
}

// Len reports how many sweeps are waiting.
func (q *Queue) Len() int {
	return len(q.ch)
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
