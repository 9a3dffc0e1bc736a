package dm

import (
	"sync"

	"github.com/moolen/depman/internal/logging"
)

// Executor runs tasks one at a time in submission order without owning a
// goroutine. The first caller that finds the executor idle drains the queue,
// including tasks appended by other goroutines while it is draining.
type Executor struct {
	mu       sync.Mutex
	queue    []func()
	draining bool
	logger   *logging.Logger
}

// NewExecutor returns an idle executor.
func NewExecutor() *Executor {
	return &Executor{
		logger: logging.GetLogger("dm.executor"),
	}
}

// Execute appends task. If no goroutine is draining, the caller drains the
// queue before returning; otherwise Execute returns immediately.
func (e *Executor) Execute(task func()) {
	e.mu.Lock()
	e.queue = append(e.queue, task)
	if e.draining {
		e.mu.Unlock()
		return
	}
	e.draining = true
	e.mu.Unlock()

	e.drain()
}

// Submit queues task like Execute but never runs it on the caller's
// goroutine. An idle executor is drained by a new goroutine.
func (e *Executor) Submit(task func()) {
	e.mu.Lock()
	e.queue = append(e.queue, task)
	if e.draining {
		e.mu.Unlock()
		return
	}
	e.draining = true
	e.mu.Unlock()

	go e.drain()
}

// Pending returns the number of queued tasks that have not started yet.
func (e *Executor) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// Idle reports whether no task is queued or running.
func (e *Executor) Idle() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.draining && len(e.queue) == 0
}

// drain releases the draining role only while holding the lock and seeing
// an empty queue, so a concurrent Execute either sees draining and leaves
// its task to us, or finds the executor idle and drains it itself.
func (e *Executor) drain() {
	for {
		e.mu.Lock()
		if len(e.queue) == 0 {
			e.draining = false
			e.mu.Unlock()
			return
		}
		task := e.queue[0]
		e.queue[0] = nil
		e.queue = e.queue[1:]
		e.mu.Unlock()

		e.run(task)
	}
}

func (e *Executor) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Task panicked: %v", r)
		}
	}()
	task()
}
