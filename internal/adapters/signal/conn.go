// Package signal is the relay's websocket endpoint for signaling channels.
package signal

import (
	"sync"

	"github.com/gorilla/websocket"

	"github.com/ovident/telecall/internal/core"
)

type wsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func newWSSignalConn(conn *websocket.Conn) *wsSignalConn {
	return &wsSignalConn{
		conn: conn,
		send: make(chan core.Frame, 32),
	}
}

func (c *wsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrBackpressure
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *wsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}
