// Package signal carries gateway frames over a websocket.
package signal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/Meet/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

const (
	writeWait   = 5 * time.Second
	sendBuffer  = 64
	recvBuffer  = 256
	readLimit   = 1 << 20
	handshake   = 10 * time.Second
	closeReason = "client closing"
)

// WsSignalConn is a gateway connection backed by a websocket.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame
	recv chan core.Frame

	mu     sync.RWMutex
	closed bool
	cancel context.CancelFunc
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Frames() <-chan core.Frame { return c.recv }

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.cancel()
	_ = c.conn.Close()
	c.mu.Unlock()
}

// Dialer opens websocket connections to the gateway.
type Dialer struct {
	URL    string
	Header http.Header
	ws     *websocket.Dialer
}

func NewDialer(url string) *Dialer {
	return &Dialer{
		URL: url,
		ws: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshake,
			Subprotocols:     []string{"janus-protocol"},
		},
	}
}

func (d *Dialer) Dial(ctx context.Context) (core.SignalConnection, error) {
	ws, resp, err := d.ws.DialContext(ctx, d.URL, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", d.URL, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", d.URL, err)
	}
	ws.SetReadLimit(readLimit)

	// The pumps live until Close, not until the dial context ends.
	life, cancel := context.WithCancel(context.Background())
	c := &WsSignalConn{
		conn:   ws,
		send:   make(chan core.Frame, sendBuffer),
		recv:   make(chan core.Frame, recvBuffer),
		cancel: cancel,
	}
	log.Info().Str("module", "signal").Str("url", d.URL).Str("subprotocol", ws.Subprotocol()).Msg("gateway connected")

	go c.writePump(life)
	go c.readPump(life)
	return c, nil
}
