package ws

import (
	"sync/atomic"
	"time"

	"github.com/gofiber/websocket/v2"
)

// Client is one downstream UI connection.
type Client struct {
	conn   *websocket.Conn
	send   chan []byte
	closed int32
}

func NewClient(conn *websocket.Conn) *Client {
	return &Client{
		conn: conn,
		send: make(chan []byte, 256),
	}
}

// WritePump drains the send channel to the socket and keeps the connection
// alive with pings. Returns when the connection dies or the channel closes.
func (c *Client) WritePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				return
			}
		}
	}
}

// ReadPump discards inbound frames; the downstream channel is push-only.
// Returns on disconnect.
func (c *Client) ReadPump() {
	c.conn.SetReadLimit(4 * 1024)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) close() {
	if atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		close(c.send)
	}
}
