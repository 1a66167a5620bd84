package ws

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Client is a websocket event subscriber. Writes from the hub and the
// keepalive loop share one mutex; gorilla allows a single concurrent writer.
type Client struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	log    *slog.Logger
	done   chan struct{}
	closed sync.Once
}

// NewClient wraps an upgraded connection.
func NewClient(conn *websocket.Conn, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{conn: conn, log: logger, done: make(chan struct{})}
}

// Send writes one event frame.
func (c *Client) Send(payload []byte) error {
	if err := c.write(websocket.TextMessage, payload); err != nil {
		c.log.Warn("websocket send failed", "error", err)
		c.Close()
		return err
	}
	return nil
}

// Serve pings the peer and drains inbound frames until the connection drops,
// then runs onClose. Subscribers never send anything meaningful.
func (c *Client) Serve(onClose func()) {
	defer func() {
		if onClose != nil {
			onClose()
		}
		c.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go c.keepalive()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("websocket subscriber dropped", "error", err)
			}
			return
		}
	}
}

// Done is closed once the connection is torn down.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close terminates the connection. Safe to call more than once.
func (c *Client) Close() {
	c.closed.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *Client) keepalive() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}

func (c *Client) write(messageType int, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, payload)
}
