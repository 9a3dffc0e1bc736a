package framework

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/moolen/depman/internal/logging"
)

// ErrWaitInEventLoop is returned when a wait is issued from the event loop
// goroutine, which would otherwise wait for itself.
var ErrWaitInEventLoop = errors.New("cannot wait for events from the event loop")

// ErrEventLoopNotRunning is returned when waiting on a loop that has not
// been started or has already exited.
var ErrEventLoopNotRunning = errors.New("event loop is not running")

// eventLoop delivers service events on a single goroutine so that every
// tracker observes registry changes in the order they happened.
type eventLoop struct {
	mu       sync.Mutex
	cond     *sync.Cond
	queue    []func()
	started  bool
	stopping bool
	exited   bool
	done     chan struct{}
	goid     atomic.Int64
	logger   *logging.Logger
}

func newEventLoop() *eventLoop {
	l := &eventLoop{
		done:   make(chan struct{}),
		logger: logging.GetLogger("framework.events"),
	}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// start launches the loop goroutine. Events posted earlier are kept.
func (l *eventLoop) start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return
	}
	l.started = true
	go l.run()
}

// stop lets the loop drain everything queued, including events posted by
// the events themselves, and waits for the goroutine to exit.
func (l *eventLoop) stop() {
	l.mu.Lock()
	if !l.started {
		l.started = true
		l.exited = true
		l.queue = nil
		close(l.done)
		l.mu.Unlock()
		return
	}
	l.stopping = true
	l.cond.Broadcast()
	l.mu.Unlock()

	if !l.inLoop() {
		<-l.done
	}
}

// post queues fn and reports whether it was accepted.
func (l *eventLoop) post(fn func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.exited {
		return false
	}
	l.queue = append(l.queue, fn)
	l.cond.Signal()
	return true
}

func (l *eventLoop) inLoop() bool {
	return l.goid.Load() == goid()
}

// pending returns the number of queued events.
func (l *eventLoop) pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// wait blocks until the queue is empty. Barriers are re-posted until one
// runs with nothing queued behind it, so events posted while handling
// earlier events are covered as well.
func (l *eventLoop) wait(ctx context.Context) error {
	if l.inLoop() {
		return ErrWaitInEventLoop
	}
	l.mu.Lock()
	running := l.started && !l.exited
	l.mu.Unlock()
	if !running {
		return ErrEventLoopNotRunning
	}

	for {
		idle := make(chan bool, 1)
		if !l.post(func() { idle <- l.pending() == 0 }) {
			return nil
		}
		select {
		case empty := <-idle:
			if empty {
				return nil
			}
		case <-l.done:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("waiting for service events: %w", ctx.Err())
		}
	}
}

func (l *eventLoop) run() {
	l.goid.Store(goid())
	defer close(l.done)

	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !l.stopping {
			l.cond.Wait()
		}
		if len(l.queue) == 0 {
			l.exited = true
			l.mu.Unlock()
			return
		}
		fn := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		l.dispatch(fn)
	}
}

func (l *eventLoop) dispatch(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Service event handler panicked: %v", r)
		}
	}()
	fn()
}
