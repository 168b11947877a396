package loop

import (
	"sort"
	"time"
)

// Manual is a virtual-time Scheduler. Nothing runs until Advance is called,
// which makes pacing and polling logic deterministic under test.
type Manual struct {
	now    time.Time
	seq    int
	queued []*manualTimer
}

func NewManual() *Manual {
	return &Manual{now: time.Unix(1_700_000_000, 0)}
}

func (m *Manual) Now() time.Time {
	return m.now
}

func (m *Manual) AfterFunc(d time.Duration, task func()) Timer {
	if d < 0 {
		d = 0
	}
	m.seq++
	t := &manualTimer{at: m.now.Add(d), seq: m.seq, task: task}
	m.queued = append(m.queued, t)
	return t
}

// Advance moves the clock forward by d, running every task that falls due
// in timestamp order. Tasks scheduled while advancing run too if they fall
// inside the window.
func (m *Manual) Advance(d time.Duration) {
	deadline := m.now.Add(d)
	for {
		next := m.popDue(deadline)
		if next == nil {
			break
		}
		if next.at.After(m.now) {
			m.now = next.at
		}
		next.fired = true
		next.task()
	}
	m.now = deadline
}

// Pending counts tasks that have neither run nor been stopped.
func (m *Manual) Pending() int {
	n := 0
	for _, t := range m.queued {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

func (m *Manual) popDue(deadline time.Time) *manualTimer {
	live := m.queued[:0]
	for _, t := range m.queued {
		if !t.stopped && !t.fired {
			live = append(live, t)
		}
	}
	m.queued = live

	sort.SliceStable(m.queued, func(i, j int) bool {
		if m.queued[i].at.Equal(m.queued[j].at) {
			return m.queued[i].seq < m.queued[j].seq
		}
		return m.queued[i].at.Before(m.queued[j].at)
	})

	if len(m.queued) == 0 || m.queued[0].at.After(deadline) {
		return nil
	}
	next := m.queued[0]
	m.queued = m.queued[1:]
	return next
}

type manualTimer struct {
	at      time.Time
	seq     int
	task    func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}
