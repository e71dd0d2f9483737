package sched

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// ErrStopped is returned when work is handed to a loop that has exited.
var ErrStopped = errors.New("sched: loop stopped")

// Loop is the production Scheduler: a single goroutine draining an inbox
// of closures. Timers fire on clockwork's goroutines and post their
// continuation back into the inbox, so callbacks never overlap.
type Loop struct {
	clock clockwork.Clock
	inbox chan func()
	done  chan struct{}
}

// NewLoop creates a loop. Run must be called to start processing.
func NewLoop(clock clockwork.Clock, buffer int) *Loop {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if buffer <= 0 {
		buffer = 256
	}
	return &Loop{
		clock: clock,
		inbox: make(chan func(), buffer),
		done:  make(chan struct{}),
	}
}

// Clock implements Scheduler.
func (l *Loop) Clock() clockwork.Clock { return l.clock }

// Now implements Scheduler.
func (l *Loop) Now() time.Time { return l.clock.Now() }

// Run processes posted work until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-l.inbox:
			l.run(fn)
		}
	}
}

func (l *Loop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("scheduled task panicked")
		}
	}()
	fn()
}

// Post enqueues fn. It blocks while the inbox is full and returns
// ErrStopped once the loop has exited.
func (l *Loop) Post(fn func()) error {
	select {
	case <-l.done:
		return ErrStopped
	default:
	}
	select {
	case l.inbox <- fn:
		return nil
	case <-l.done:
		return ErrStopped
	}
}

// Call runs fn on the loop and waits for it to finish.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if err := l.Post(func() {
		defer close(finished)
		fn()
	}); err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrStopped
	}
}

// After implements Scheduler.
func (l *Loop) After(d time.Duration, fn func()) *Task {
	t := &Task{}
	timer := l.clock.AfterFunc(d, func() {
		_ = l.Post(func() {
			if t.claim() {
				fn()
			}
		})
	})
	t.stop = timer.Stop
	return t
}
