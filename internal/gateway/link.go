package gateway

import (
	"sync"

	"github.com/dkeye/Meet/internal/core"
)

// link is one transport connection and the transactions waiting on it.
type link struct {
	conn core.SignalConnection
	done chan struct{}

	mu      sync.Mutex
	pending map[string]chan *Envelope
	closed  bool
}

func newLink(conn core.SignalConnection) *link {
	return &link{
		conn:    conn,
		done:    make(chan struct{}),
		pending: make(map[string]chan *Envelope),
	}
}

func (l *link) register(tx string) (chan *Envelope, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}
	ch := make(chan *Envelope, 1)
	l.pending[tx] = ch
	return ch, nil
}

func (l *link) unregister(tx string) {
	l.mu.Lock()
	delete(l.pending, tx)
	l.mu.Unlock()
}

// resolve hands a reply to the waiting caller, if any.
func (l *link) resolve(tx string, env *Envelope) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.pending[tx]
	if !ok {
		return false
	}
	delete(l.pending, tx)
	ch <- env
	return true
}

// close fails every pending transaction and releases the transport. Safe to call twice.
func (l *link) close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	for tx, ch := range l.pending {
		close(ch)
		delete(l.pending, tx)
	}
	close(l.done)
	l.mu.Unlock()
	l.conn.Close()
}
