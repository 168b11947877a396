// Package liveness keeps idle links warm with periodic heartbeats. It never
// declares a peer dead; link close and error events do that.
package liveness

import (
	"time"

	"github.com/rudransh-shrivastava/peer-mesh/internal/loop"
	"github.com/rudransh-shrivastava/peer-mesh/internal/protocol"
)

// Sender sends on every open link and reports how many were reached.
type Sender interface {
	SendOpen(msg protocol.Message) int
}

type Monitor struct {
	sender   Sender
	sched    loop.Scheduler
	interval time.Duration
	timer    loop.Timer
	beats    int
}

func New(sender Sender, sched loop.Scheduler, interval time.Duration) *Monitor {
	return &Monitor{sender: sender, sched: sched, interval: interval}
}

// Update starts the heartbeat with the first open link and stops it once
// none remain.
func (m *Monitor) Update(openLinks int) {
	switch {
	case openLinks > 0 && m.timer == nil:
		m.schedule()
	case openLinks == 0 && m.timer != nil:
		m.Stop()
	}
}

func (m *Monitor) Running() bool {
	return m.timer != nil
}

// Beats counts heartbeat rounds sent so far.
func (m *Monitor) Beats() int {
	return m.beats
}

func (m *Monitor) Stop() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Monitor) schedule() {
	m.timer = m.sched.AfterFunc(m.interval, m.beat)
}

func (m *Monitor) beat() {
	m.timer = nil
	if m.sender.SendOpen(&protocol.Heartbeat{Time: m.sched.Now().UnixMilli()}) == 0 {
		return
	}
	m.beats++
	m.schedule()
}
