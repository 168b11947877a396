package loop

import (
	"testing"
	"time"
)

func TestManualRunsInTimestampOrder(t *testing.T) {
	m := NewManual()
	var order []int

	m.AfterFunc(30*time.Millisecond, func() { order = append(order, 3) })
	m.AfterFunc(10*time.Millisecond, func() { order = append(order, 1) })
	m.AfterFunc(20*time.Millisecond, func() { order = append(order, 2) })

	m.Advance(25 * time.Millisecond)
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("expected [1 2], got %v", order)
	}

	m.Advance(10 * time.Millisecond)
	if len(order) != 3 || order[2] != 3 {
		t.Fatalf("expected [1 2 3], got %v", order)
	}
}

func TestManualChainedTasks(t *testing.T) {
	m := NewManual()
	ticks := 0

	var tick func()
	tick = func() {
		ticks++
		if ticks < 5 {
			m.AfterFunc(time.Millisecond, tick)
		}
	}
	m.AfterFunc(time.Millisecond, tick)

	m.Advance(time.Second)
	if ticks != 5 {
		t.Errorf("expected 5 ticks, got %d", ticks)
	}
	if m.Pending() != 0 {
		t.Errorf("expected no pending tasks, got %d", m.Pending())
	}
}

func TestManualStop(t *testing.T) {
	m := NewManual()
	ran := false

	timer := m.AfterFunc(time.Millisecond, func() { ran = true })
	if !timer.Stop() {
		t.Error("expected Stop to withdraw the task")
	}

	m.Advance(time.Second)
	if ran {
		t.Error("stopped task ran")
	}
	if timer.Stop() {
		t.Error("second Stop should report false")
	}
}

func TestLoopPostsTimersAsTasks(t *testing.T) {
	l := New()
	defer l.Stop()

	ran := make(chan struct{})
	l.AfterFunc(time.Millisecond, func() { close(ran) })

	select {
	case task := <-l.Tasks():
		task()
	case <-time.After(time.Second):
		t.Fatal("timer task was never posted")
	}

	select {
	case <-ran:
	default:
		t.Fatal("task did not run when drained")
	}
}

func TestLoopStoppedTimerDoesNotRun(t *testing.T) {
	l := New()
	defer l.Stop()

	ran := false
	timer := l.AfterFunc(time.Hour, func() { ran = true })
	if !timer.Stop() {
		t.Fatal("expected Stop to succeed")
	}
	if ran {
		t.Error("stopped timer ran")
	}
}

func TestPostAfterStop(t *testing.T) {
	l := New()
	l.Stop()

	if l.Post(func() {}) {
		t.Error("expected Post to fail after Stop")
	}
}
