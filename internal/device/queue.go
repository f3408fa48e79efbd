// Package device provides the asynchronous command queue that fused
// layers dispatch elementary kernels onto. A queue executes submitted
// work strictly in submission order, so producer-before-consumer
// ordering between kernels sharing a buffer needs no explicit barrier.
package device

import (
	"fmt"
	"sync"
)

// Error is a fault raised by a kernel while executing on the queue.
// Once a queue faults it drops all subsequently dequeued work; partial
// execution leaves shared buffers undefined, so the fault is terminal
// for the queue.
type Error struct {
	Kernel string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("device: kernel %s failed: %v", e.Kernel, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

type task struct {
	name string
	fn   func() error
}

// Queue is a serial asynchronous executor. Submit enqueues work and
// returns without waiting for completion; a single worker goroutine
// drains tasks in order. A Queue must not be shared by two fused-layer
// instances running concurrently.
type Queue struct {
	tasks chan task
	wg    sync.WaitGroup

	mu     sync.Mutex
	err    error
	closed bool
}

// NewQueue starts a queue with the given submission buffer depth.
func NewQueue(depth int) *Queue {
	if depth < 1 {
		depth = 64
	}
	q := &Queue{tasks: make(chan task, depth)}
	go q.worker()
	return q
}

func (q *Queue) worker() {
	for t := range q.tasks {
		if q.Err() == nil {
			if err := q.runTask(t); err != nil {
				q.mu.Lock()
				if q.err == nil {
					q.err = &Error{Kernel: t.name, Err: err}
				}
				q.mu.Unlock()
			}
		}
		q.wg.Done()
	}
}

func (q *Queue) runTask(t task) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			if recErr, ok := rec.(error); ok {
				err = fmt.Errorf("kernel panic: %w", recErr)
			} else {
				err = fmt.Errorf("kernel panic: %v", rec)
			}
		}
	}()
	return t.fn()
}

// Submit enqueues a named unit of work. It blocks only while the
// submission buffer is full and never waits for execution.
func (q *Queue) Submit(name string, fn func() error) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return fmt.Errorf("device: submit %q on closed queue", name)
	}
	q.wg.Add(1)
	q.mu.Unlock()
	q.tasks <- task{name: name, fn: fn}
	return nil
}

// Finish waits for every submitted task to drain and returns the
// queue's first fault, if any.
func (q *Queue) Finish() error {
	q.wg.Wait()
	return q.Err()
}

// Err returns the first fault observed by the queue, without waiting.
func (q *Queue) Err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.err
}

// Close drains outstanding work, stops the worker and returns the first
// fault. Further submissions fail.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return q.Err()
	}
	q.closed = true
	q.mu.Unlock()

	q.wg.Wait()
	close(q.tasks)
	return q.Err()
}
