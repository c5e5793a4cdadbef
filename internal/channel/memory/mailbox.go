package memory

import (
	"sync"

	"drawing-board/internal/protocol"
)

// mailbox is an unbounded FIFO in front of a member's event stream, so a
// slow reader never blocks the sender.
type mailbox struct {
	mu     sync.Mutex
	queue  []protocol.Event
	closed bool
	wake   chan struct{}
	stop   chan struct{}
	out    chan protocol.Event
}

func newMailbox() *mailbox {
	m := &mailbox{
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		out:  make(chan protocol.Event),
	}
	go m.pump()
	return m
}

func (m *mailbox) put(ev protocol.Event) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.queue = append(m.queue, ev)
	m.mu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *mailbox) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.stop)
}

func (m *mailbox) pump() {
	defer close(m.out)
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.mu.Unlock()
			select {
			case <-m.wake:
				continue
			case <-m.stop:
				return
			}
		}
		ev := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()

		select {
		case m.out <- ev:
		case <-m.stop:
			return
		}
	}
}
