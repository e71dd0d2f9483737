package sched

import (
	"container/heap"
	"time"

	"github.com/jonboulle/clockwork"
)

// Virtual is a deterministic Scheduler for tests. Nothing runs until
// Advance is called; due tasks then run synchronously in deadline order
// with the fake clock moved to each task's deadline first.
type Virtual struct {
	clock *clockwork.FakeClock
	queue taskQueue
	seq   uint64
}

// NewVirtual returns a virtual scheduler whose clock starts at start.
func NewVirtual(start time.Time) *Virtual {
	return &Virtual{clock: clockwork.NewFakeClockAt(start)}
}

// Clock implements Scheduler.
func (v *Virtual) Clock() clockwork.Clock { return v.clock }

// FakeClock exposes the underlying fake clock.
func (v *Virtual) FakeClock() *clockwork.FakeClock { return v.clock }

// Now implements Scheduler.
func (v *Virtual) Now() time.Time { return v.clock.Now() }

// After implements Scheduler.
func (v *Virtual) After(d time.Duration, fn func()) *Task {
	if d < 0 {
		d = 0
	}
	t := &Task{}
	v.seq++
	heap.Push(&v.queue, &virtualTask{at: v.clock.Now().Add(d), seq: v.seq, task: t, fn: fn})
	return t
}

// Advance moves virtual time forward by d, running every task that comes
// due along the way, including tasks scheduled by those tasks.
func (v *Virtual) Advance(d time.Duration) {
	deadline := v.clock.Now().Add(d)
	for v.queue.Len() > 0 {
		next := v.queue[0]
		if next.at.After(deadline) {
			break
		}
		heap.Pop(&v.queue)
		if step := next.at.Sub(v.clock.Now()); step > 0 {
			v.clock.Advance(step)
		}
		if next.task.claim() {
			next.fn()
		}
	}
	if rest := deadline.Sub(v.clock.Now()); rest > 0 {
		v.clock.Advance(rest)
	}
}

// RunPending runs tasks that are already due without moving time.
func (v *Virtual) RunPending() { v.Advance(0) }

// Pending counts scheduled tasks that have not been cancelled.
func (v *Virtual) Pending() int {
	n := 0
	for _, t := range v.queue {
		if t.task.Pending() {
			n++
		}
	}
	return n
}

type virtualTask struct {
	at   time.Time
	seq  uint64
	task *Task
	fn   func()
}

type taskQueue []*virtualTask

func (q taskQueue) Len() int { return len(q) }
func (q taskQueue) Less(i, j int) bool {
	if q[i].at.Equal(q[j].at) {
		return q[i].seq < q[j].seq
	}
	return q[i].at.Before(q[j].at)
}
func (q taskQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *taskQueue) Push(x any)   { *q = append(*q, x.(*virtualTask)) }
func (q *taskQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}
