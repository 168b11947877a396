package transport

import "sync"

// Mailbox is an unbounded event queue drained through a channel. Producers
// never block, so two peers sending to each other cannot deadlock on full
// buffers.
type Mailbox struct {
	mu     sync.Mutex
	queue  []Event
	notify chan struct{}
	out    chan Event
	done   chan struct{}
	once   sync.Once
}

func NewMailbox() *Mailbox {
	m := &Mailbox{
		notify: make(chan struct{}, 1),
		out:    make(chan Event),
		done:   make(chan struct{}),
	}
	go m.pump()
	return m
}

func (m *Mailbox) Push(ev Event) {
	m.mu.Lock()
	select {
	case <-m.done:
		m.mu.Unlock()
		return
	default:
	}
	m.queue = append(m.queue, ev)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *Mailbox) Events() <-chan Event {
	return m.out
}

func (m *Mailbox) Close() {
	m.once.Do(func() {
		m.mu.Lock()
		close(m.done)
		m.queue = nil
		m.mu.Unlock()
	})
}

func (m *Mailbox) pump() {
	defer close(m.out)
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.mu.Unlock()
			select {
			case <-m.notify:
				continue
			case <-m.done:
				return
			}
		}
		ev := m.queue[0]
		m.queue[0] = Event{}
		m.queue = m.queue[1:]
		m.mu.Unlock()

		select {
		case m.out <- ev:
		case <-m.done:
			return
		}
	}
}
