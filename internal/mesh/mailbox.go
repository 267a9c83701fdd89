package mesh

import "sync"

// mailbox is an unbounded event queue. Posting never blocks, so pion
// callbacks fired from inside link.Close cannot deadlock the loop.
type mailbox struct {
	mu     sync.Mutex
	items  []event
	ready  chan struct{}
	closed bool
}

func newMailbox() *mailbox {
	return &mailbox{ready: make(chan struct{}, 1)}
}

// post reports false once the mailbox is closed and ev was discarded.
func (m *mailbox) post(ev event) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.items = append(m.items, ev)
	m.mu.Unlock()
	select {
	case m.ready <- struct{}{}:
	default:
	}
	return true
}

func (m *mailbox) drain() []event {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.items
	m.items = nil
	return items
}

func (m *mailbox) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.items = nil
}
