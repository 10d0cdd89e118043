// Package queue provides an unbounded FIFO handing work from one producer
// to many blocked consumers.
package queue

import (
	"container/list"
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Push after Close, and by Pop once the queue is
// closed and every pending item has been taken.
var ErrClosed = errors.New("queue: closed")

// Queue is a FIFO of T safe for concurrent use.
//
// The number of pending items is the number of Pop calls that can return
// without blocking; each item is returned by exactly one Pop.
type Queue[T any] struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   *list.List
	waiters int
	closed  bool
}

// New returns an empty, open queue.
func New[T any]() *Queue[T] {
	q := &Queue[T]{items: list.New()}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends item to the tail and wakes one blocked Pop.
func (q *Queue[T]) Push(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}

	q.items.PushBack(item)
	q.cond.Signal()
	return nil
}

// Pop removes and returns the head, blocking while the queue is empty.
//
// Items pushed before Close are still returned after it; ErrClosed is
// returned only once none remain. If ctx ends first, Pop returns ctx.Err().
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	var zero T

	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		q.cond.Broadcast()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			// Pass on a wakeup this goroutine may have consumed.
			if q.items.Len() > 0 {
				q.cond.Signal()
			}
			return zero, err
		}
		if q.items.Len() > 0 {
			break
		}
		if q.closed {
			return zero, ErrClosed
		}

		q.waiters++
		q.cond.Wait()
		q.waiters--
	}

	head := q.items.Front()
	q.items.Remove(head)
	return head.Value.(T), nil
}

// Len returns the number of pending items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Waiters returns the number of goroutines blocked in Pop.
func (q *Queue[T]) Waiters() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.waiters
}

// Close rejects further pushes and wakes every blocked Pop. Pending items
// stay available. Closing twice is a no-op.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.cond.Broadcast()
}

// Drain removes and returns every pending item in FIFO order. After Close
// it hands the caller everything no Pop will return.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	drained := make([]T, 0, q.items.Len())
	for e := q.items.Front(); e != nil; e = q.items.Front() {
		drained = append(drained, q.items.Remove(e).(T))
	}
	return drained
}
