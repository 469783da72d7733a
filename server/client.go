package server

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket timeout constants following Gorilla best practices
// See: https://github.com/gorilla/websocket/blob/master/examples/chat/client.go
const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Clients only send control frames
	maxMessageSize = 4096

	// Buffered events per client before broadcasts start dropping
	sendBufferSize = 256
)

// Client is one websocket subscriber to batch events
type Client struct {
	server    *Server
	conn      *websocket.Conn
	sendMsg   chan interface{}
	id        string
	closeOnce sync.Once
	closed    chan struct{}
}

func newClient(s *Server, conn *websocket.Conn, id string) *Client {
	return &Client{
		server:  s,
		conn:    conn,
		sendMsg: make(chan interface{}, sendBufferSize),
		id:      id,
		closed:  make(chan struct{}),
	}
}

// trySend queues msg without blocking. False means the client is slow or gone.
func (c *Client) trySend(msg interface{}) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.sendMsg <- msg:
		return true
	default:
		return false
	}
}

// close stops the write pump; safe to call more than once
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
}

// readPump discards client frames and notices disconnects
func (c *Client) readPump() {
	defer func() {
		select {
		case c.server.unregister <- c:
		case <-c.server.ctx.Done():
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.server.logger.Debugw("WebSocket connection closed unexpectedly",
					"client_id", c.id,
					"error", err)
			}
			return
		}
	}
}

// writePump sends queued events and keeps the connection alive with pings
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.server.ctx.Done():
			return
		case <-c.closed:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case msg := <-c.sendMsg:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.server.logger.Debugw("Event write error",
					"client_id", c.id,
					"error", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
