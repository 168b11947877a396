// Package loop provides the cooperative scheduler every session component
// runs on. Tasks never run concurrently with each other: the owner drains
// Tasks() from a single goroutine.
package loop

import (
	"sync/atomic"
	"time"
)

// Timer is a scheduled task that can still be withdrawn.
type Timer interface {
	// Stop reports whether the task was withdrawn before it ran.
	Stop() bool
}

// Scheduler runs continuations later on the owner's goroutine.
type Scheduler interface {
	AfterFunc(d time.Duration, task func()) Timer
	Now() time.Time
}

// Loop is the production Scheduler. Timer expirations are posted back as
// tasks, so a scheduled function only ever runs inside the loop.
type Loop struct {
	tasks chan func()
	done  chan struct{}
	once  atomic.Bool
}

func New() *Loop {
	return &Loop{
		tasks: make(chan func(), 1024),
		done:  make(chan struct{}),
	}
}

// Tasks is drained by the owning goroutine.
func (l *Loop) Tasks() <-chan func() {
	return l.tasks
}

// Post queues task; it reports false once the loop is stopped.
func (l *Loop) Post(task func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}

	select {
	case l.tasks <- task:
		return true
	case <-l.done:
		return false
	}
}

func (l *Loop) Now() time.Time {
	return time.Now()
}

func (l *Loop) AfterFunc(d time.Duration, task func()) Timer {
	t := &loopTimer{}
	t.timer = time.AfterFunc(d, func() {
		l.Post(func() {
			if t.stopped.Load() {
				return
			}
			t.fired.Store(true)
			task()
		})
	})
	return t
}

// Stop releases goroutines blocked in Post. Pending tasks are dropped.
func (l *Loop) Stop() {
	if l.once.CompareAndSwap(false, true) {
		close(l.done)
	}
}

type loopTimer struct {
	timer   *time.Timer
	stopped atomic.Bool
	fired   atomic.Bool
}

func (t *loopTimer) Stop() bool {
	if t.fired.Load() {
		return false
	}
	if !t.stopped.CompareAndSwap(false, true) {
		return false
	}
	t.timer.Stop()
	return true
}
