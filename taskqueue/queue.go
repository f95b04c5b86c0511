// Package taskqueue provides a single-worker task queue: tasks run one at a
// time, in submission order, with no re-entrant overlap. Pending tasks can be
// dropped when a newer snapshot of work supersedes them; the task currently
// executing always runs to completion.
package taskqueue

import (
	"sync"
)

type Queue struct {
	mu      sync.Mutex
	tasks   []func()
	running bool

	wake   chan struct{}
	closed chan struct{}

	closeOnce sync.Once
}

func New() *Queue {
	q := &Queue{
		wake:   make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *Queue) run() {
	for {
		task := q.next()
		if task == nil {
			select {
			case <-q.wake:
				continue
			case <-q.closed:
				return
			}
		}

		task()

		q.mu.Lock()
		q.running = false
		q.mu.Unlock()
	}
}

func (q *Queue) next() func() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) == 0 {
		return nil
	}
	task := q.tasks[0]
	q.tasks = q.tasks[1:]
	q.running = true
	return task
}

func (q *Queue) Enqueue(task func()) {
	q.mu.Lock()
	q.tasks = append(q.tasks, task)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// CancelPending drops every task that has not started yet. Cancellation is
// best-effort: a task already executing completes normally.
func (q *Queue) CancelPending() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.tasks = nil
}

// Pending returns the number of tasks waiting to start, excluding the one
// currently executing.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.tasks)
}

func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.closed)
	})
}
