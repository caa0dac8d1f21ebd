// Package registry owns every authenticated socket: it is the only
// component that reads or writes a gorilla/websocket connection directly.
// Other services address users by id and never touch a socket.
package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/chesshub/chessd/internal/domain"
	"github.com/chesshub/chessd/internal/metrics"
	"github.com/gorilla/websocket"
)

// wsConnection is the subset of *websocket.Conn the client needs, seamed
// out for tests.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
}

// InboundHandler processes one decoded inbound frame for a user.
type InboundHandler func(ctx context.Context, userID domain.UserID, data []byte)

// Client is a single connected user's socket and outbound mailbox.
type Client struct {
	conn   wsConnection
	userID domain.UserID

	send chan []byte

	mu        sync.Mutex
	closeOnce sync.Once
	closed    bool

	onInbound  InboundHandler
	onDisconnect func(domain.UserID)
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 64
)

func newClient(conn wsConnection, userID domain.UserID, onInbound InboundHandler, onDisconnect func(domain.UserID)) *Client {
	return &Client{
		conn:         conn,
		userID:       userID,
		send:         make(chan []byte, sendBuffer),
		onInbound:    onInbound,
		onDisconnect: onDisconnect,
	}
}

// Send enqueues a frame for delivery; it never blocks the caller - a full
// mailbox drops the message and logs, rather than stalling the service
// goroutine that is broadcasting to many clients.
func (c *Client) Send(data []byte) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	select {
	case c.send <- data:
	default:
		slog.Warn("client send buffer full, dropping message", "userId", c.userID)
	}
}

// Close closes the outbound mailbox exactly once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.send)
	})
}

func (c *Client) readPump() {
	defer func() {
		c.conn.Close()
		if c.onDisconnect != nil {
			c.onDisconnect(c.userID)
		}
		metrics.DecConnection()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if c.onInbound != nil {
			c.onInbound(context.Background(), c.userID, data)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
