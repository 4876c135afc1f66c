// Package taskqueue serializes access to rate-limited backends. Tasks
// run strictly one at a time in submission order, and the worker idles
// for a cooldown interval after each task settles so bursty callers
// cannot hammer a backend that penalizes rapid-fire requests.
package taskqueue

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned for submissions after Close.
var ErrClosed = errors.New("task queue closed")

type result[T any] struct {
	value T
	err   error
}

type task[T any] struct {
	ctx  context.Context
	run  func(context.Context) (T, error)
	done chan result[T]
}

// Queue is a FIFO, single-worker task queue with a post-task cooldown.
type Queue[T any] struct {
	cooldown time.Duration

	mu      sync.Mutex
	cond    *sync.Cond
	pending []task[T]
	closed  bool
	stopped chan struct{}
}

// New starts a queue whose worker waits cooldown between tasks.
func New[T any](cooldown time.Duration) *Queue[T] {
	q := &Queue[T]{
		cooldown: cooldown,
		stopped:  make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.work()
	return q
}

// Submit enqueues fn and blocks until it settles or ctx is done. The
// waiter is released the moment the task settles; the cooldown only
// delays the next dequeue, never the caller.
func (q *Queue[T]) Submit(ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	t := task[T]{ctx: ctx, run: fn, done: make(chan result[T], 1)}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return zero, ErrClosed
	}
	q.pending = append(q.pending, t)
	q.cond.Signal()
	q.mu.Unlock()

	select {
	case r := <-t.done:
		return r.value, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Close stops the worker after the current task, rejecting queued and
// future submissions.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.cond.Signal()
	q.mu.Unlock()
	<-q.stopped
}

// Len reports how many tasks are waiting (not counting one in flight).
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue[T]) work() {
	defer close(q.stopped)
	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.closed {
			// Reject anything still queued so no Submit blocks forever.
			for _, t := range q.pending {
				var zero T
				t.done <- result[T]{zero, ErrClosed}
			}
			q.pending = nil
			q.mu.Unlock()
			return
		}
		t := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		if err := t.ctx.Err(); err != nil {
			var zero T
			t.done <- result[T]{zero, err}
		} else {
			value, err := t.run(t.ctx)
			t.done <- result[T]{value, err}
		}

		if q.cooldown > 0 {
			time.Sleep(q.cooldown)
		}
	}
}
