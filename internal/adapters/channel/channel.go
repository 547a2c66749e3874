// Package channel implements the client side of the signaling channel over
// a websocket to the relay.
package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/ovident/telecall/internal/core"
	"github.com/ovident/telecall/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxBackoff     = 30 * time.Second
	initialBackoff = time.Second
)

// WSChannel keeps one authenticated websocket to the relay and reconnects
// with capped backoff when it drops. Reconnection re-binds identity but
// replays nothing: whatever was in flight is gone, and the call logic is
// told through the status callback.
type WSChannel struct {
	url   string
	token string

	mu      sync.Mutex
	conn    *websocket.Conn
	status  core.ChannelStatus
	closed  bool
	onMsg   func(domain.Envelope)
	onState func(core.ChannelStatus)
	done    chan struct{}
}

func New(url, token string) *WSChannel {
	return &WSChannel{
		url:    url,
		token:  token,
		status: core.ChannelDisconnected,
		done:   make(chan struct{}),
	}
}

func (c *WSChannel) OnMessage(fn func(domain.Envelope)) {
	c.mu.Lock()
	c.onMsg = fn
	c.mu.Unlock()
}

func (c *WSChannel) OnStatus(fn func(core.ChannelStatus)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

func (c *WSChannel) Status() core.ChannelStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Connect performs the first dial synchronously, then keeps the channel
// alive in the background until Close.
func (c *WSChannel) Connect(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	c.adopt(conn)
	go c.run(conn)
	return nil
}

func (c *WSChannel) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, err
}

func (c *WSChannel) adopt(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.setStatus(core.ChannelConnected)
}

// run owns the read side of the current conn and the reconnect loop.
func (c *WSChannel) run(conn *websocket.Conn) {
	backoff := initialBackoff
	for {
		c.readLoop(conn)
		c.dropConn(conn)

		if c.isClosed() {
			c.setStatus(core.ChannelDisconnected)
			return
		}
		c.setStatus(core.ChannelReconnecting)

		var err error
		for {
			select {
			case <-c.done:
				c.setStatus(core.ChannelDisconnected)
				return
			case <-time.After(backoff):
			}
			conn, err = c.dial(context.Background())
			if err == nil {
				break
			}
			log.Warn().Err(err).Str("module", "channel").Msg("redial failed")
			backoff = min(backoff*2, maxBackoff)
		}
		backoff = initialBackoff
		c.adopt(conn)
	}
}

func (c *WSChannel) readLoop(conn *websocket.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	stopPing := make(chan struct{})
	go c.pingLoop(conn, stopPing)
	defer close(stopPing)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("module", "channel").Msg("read error")
			}
			return
		}
		env, err := domain.DecodeEnvelope(data)
		if err != nil {
			log.Warn().Err(err).Str("module", "channel").Msg("bad frame")
			continue
		}
		c.mu.Lock()
		handler := c.onMsg
		c.mu.Unlock()
		if handler != nil {
			handler(env)
		}
	}
}

func (c *WSChannel) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			err := conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err == nil {
				err = conn.WriteMessage(websocket.PingMessage, nil)
			}
			c.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// Send writes one envelope. Single-writer ordering holds while connected;
// across a disconnect there is no guarantee, per the channel contract.
func (c *WSChannel) Send(env domain.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != core.ChannelConnected || c.conn == nil {
		return core.ErrChannelDown
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *WSChannel) dropConn(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close()
}

func (c *WSChannel) setStatus(st core.ChannelStatus) {
	c.mu.Lock()
	if c.status == st {
		c.mu.Unlock()
		return
	}
	c.status = st
	handler := c.onState
	c.mu.Unlock()
	log.Info().Str("module", "channel").Str("status", string(st)).Msg("channel status")
	if handler != nil {
		handler(st)
	}
}

func (c *WSChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *WSChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	close(c.done)
	c.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		return conn.Close()
	}
	return nil
}

var _ core.Channel = (*WSChannel)(nil)
