// Package dispatch provides the FIFO execution context that serializes a
// controller's mutating work.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned when work is submitted to a closed queue.
var ErrClosed = errors.New("dispatch queue closed")

// DefaultBacklog is the default number of tasks that may wait in the queue.
const DefaultBacklog = 256

// Queue runs submitted functions one at a time, in submission order, on a
// single goroutine.
type Queue struct {
	tasks chan func()
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewQueue starts a queue with the given backlog (DefaultBacklog if <= 0).
func NewQueue(backlog int) *Queue {
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	q := &Queue{
		tasks: make(chan func(), backlog),
		done:  make(chan struct{}),
	}
	q.wg.Add(1)
	go q.loop()
	return q
}

func (q *Queue) loop() {
	defer q.wg.Done()
	for {
		select {
		case fn := <-q.tasks:
			fn()
		case <-q.done:
			// Drain what was accepted before Close.
			for {
				select {
				case fn := <-q.tasks:
					fn()
				default:
					return
				}
			}
		}
	}
}

// Post schedules fn without waiting for it to run.
func (q *Queue) Post(fn func()) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	q.tasks <- fn
	return nil
}

// Task states for Do.
const (
	taskQueued int32 = iota
	taskStarted
	taskAbandoned
)

// Do schedules fn and blocks until it has run. When ctx ends while fn is
// still queued, fn is dropped and ctx.Err() returned; once fn has started,
// Do waits for it. A nil error therefore always means fn ran.
func (q *Queue) Do(ctx context.Context, fn func()) error {
	var state atomic.Int32
	finished := make(chan struct{})
	task := func() {
		if !state.CompareAndSwap(taskQueued, taskStarted) {
			return
		}
		defer close(finished)
		fn()
	}

	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return ErrClosed
	}
	select {
	case q.tasks <- task:
	case <-ctx.Done():
		q.mu.RUnlock()
		return ctx.Err()
	}
	q.mu.RUnlock()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		if state.CompareAndSwap(taskQueued, taskAbandoned) {
			return ctx.Err()
		}
		<-finished
		return nil
	}
}

// Executor returns a function suitable for callback delivery that posts
// onto the queue and silently drops work after Close.
func (q *Queue) Executor() func(func()) {
	return func(fn func()) {
		_ = q.Post(fn)
	}
}

// Close stops accepting work, runs the accepted backlog and waits for the
// worker goroutine to exit. Close must not be called from a queued task.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.done)
	q.mu.Unlock()

	q.wg.Wait()
}
