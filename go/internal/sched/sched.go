package sched

import (
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// Scheduler runs deferred continuations on a single logical thread.
// Every callback handed to After runs serially with every other callback
// of the same Scheduler, so state owned by those callbacks needs no locks.
type Scheduler interface {
	// Clock returns the clock the scheduler measures delays against.
	Clock() clockwork.Clock
	// Now is shorthand for Clock().Now().
	Now() time.Time
	// After schedules fn to run once d has elapsed.
	After(d time.Duration, fn func()) *Task
}

// Task is a cancellable deferred continuation returned by After.
type Task struct {
	cancelled atomic.Bool
	fired     atomic.Bool
	stop      func() bool
}

// Cancel prevents the task from running. It reports whether the task was
// still pending. Calling Cancel on a nil task is a no-op.
func (t *Task) Cancel() bool {
	if t == nil {
		return false
	}
	if t.fired.Load() {
		return false
	}
	if !t.cancelled.CompareAndSwap(false, true) {
		return false
	}
	if t.stop != nil {
		t.stop()
	}
	return true
}

// Pending reports whether the task has neither run nor been cancelled.
func (t *Task) Pending() bool {
	if t == nil {
		return false
	}
	return !t.fired.Load() && !t.cancelled.Load()
}

// claim marks the task as fired. It returns false if the task was cancelled
// first, in which case the continuation must not run.
func (t *Task) claim() bool {
	if t.cancelled.Load() {
		return false
	}
	return t.fired.CompareAndSwap(false, true)
}

// Every schedules fn repeatedly with the given interval until the returned
// stop function is called. The interval is re-read before each run so
// callers can adapt it.
func Every(s Scheduler, interval func() time.Duration, fn func()) (stop func()) {
	var current *Task
	stopped := false
	var tick func()
	tick = func() {
		if stopped {
			return
		}
		fn()
		if stopped {
			return
		}
		current = s.After(interval(), tick)
	}
	current = s.After(interval(), tick)
	return func() {
		stopped = true
		current.Cancel()
	}
}
