package application

import "sync"

// mailbox is an unbounded FIFO feeding a session's event loop. Producers
// never block, so adapter callbacks may post from inside Connect or Start.
type mailbox struct {
	mu     sync.Mutex
	items  []signal
	wake   chan struct{}
	closed bool
}

func newMailbox() *mailbox {
	return &mailbox{wake: make(chan struct{}, 1)}
}

func (m *mailbox) post(sig signal) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.items = append(m.items, sig)
	select {
	case m.wake <- struct{}{}:
	default:
	}
	m.mu.Unlock()

	return true
}

// next blocks until a signal is available. It returns false once the
// mailbox is closed; pending signals are discarded at that point.
func (m *mailbox) next() (signal, bool) {
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, false
		}
		if len(m.items) > 0 {
			sig := m.items[0]
			m.items[0] = nil
			m.items = m.items[1:]
			m.mu.Unlock()
			return sig, true
		}
		m.mu.Unlock()

		<-m.wake
	}
}

func (m *mailbox) close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	m.items = nil
	close(m.wake)
}
