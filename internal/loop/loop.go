// Package loop runs the single event-processing goroutine that owns all
// navigation and presenter state.
//
// Anything that mutates presenter or coordinator state runs as a task on the
// loop. Blocking work (backend primitives, mounts) happens elsewhere and hands
// its result back with Post or Call.
package loop

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/justyntemme/waypoint/internal/debug"
)

// ErrClosed is returned by Call once the loop has stopped.
var ErrClosed = errors.New("event loop closed")

// DefaultPollInterval is the WaitIdle polling period used when none is given.
const DefaultPollInterval = 50 * time.Millisecond

// Loop is a FIFO task runner bound to one goroutine.
type Loop struct {
	mu      sync.Mutex
	cond    *sync.Cond
	tasks   []func()
	closed  bool
	done    chan struct{}
	running atomic.Bool

	pending atomic.Int64 // in-flight async work, see Begin/End
}

// New creates a loop. Call Run to start processing.
func New() *Loop {
	l := &Loop{done: make(chan struct{})}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Run processes tasks until ctx is cancelled or Close is called. Tasks still
// queued at that point are dropped.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return errors.New("event loop already running")
	}
	defer close(l.done)

	stop := context.AfterFunc(ctx, l.Close)
	defer stop()

	for {
		l.mu.Lock()
		for len(l.tasks) == 0 && !l.closed {
			l.cond.Wait()
		}
		if l.closed {
			l.tasks = nil
			l.mu.Unlock()
			debug.Log(debug.APP, "loop: stopped")
			return ctx.Err()
		}
		task := l.tasks[0]
		l.tasks[0] = nil
		l.tasks = l.tasks[1:]
		l.mu.Unlock()

		task()
	}
}

// Post schedules fn on the loop. It reports false if the loop is closed.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.tasks = append(l.tasks, fn)
	l.cond.Signal()
	return true
}

// Call runs fn on the loop and waits for it to return. It must not be called
// from a task already running on the loop.
func (l *Loop) Call(fn func()) error {
	ran := make(chan struct{})
	if !l.Post(func() {
		defer close(ran)
		fn()
	}) {
		return ErrClosed
	}
	select {
	case <-ran:
		return nil
	case <-l.done:
		// The loop may have run the task right before stopping.
		select {
		case <-ran:
			return nil
		default:
			return ErrClosed
		}
	}
}

// Close stops the loop. Safe to call more than once.
func (l *Loop) Close() {
	l.mu.Lock()
	l.closed = true
	l.cond.Broadcast()
	l.mu.Unlock()
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Begin marks one unit of async work as in flight.
func (l *Loop) Begin() {
	l.pending.Add(1)
}

// End marks one unit of async work as settled.
func (l *Loop) End() {
	if l.pending.Add(-1) < 0 {
		l.pending.Store(0)
	}
}

// Pending returns the number of in-flight async work units.
func (l *Loop) Pending() int64 {
	return l.pending.Load()
}

// WaitIdle polls until no async work is in flight. There is no upper bound
// other than ctx.
func (l *Loop) WaitIdle(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for l.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
