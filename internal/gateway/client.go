package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/salesclaw/pkg/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 256
)

// Client is one dashboard WebSocket connection. It only receives events;
// anything the peer sends is read and discarded to keep pings flowing.
type Client struct {
	id      string
	channel string // empty = every channel
	conn    *websocket.Conn
	send    chan []byte
	seq     atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
}

// NewClient wraps conn. channel filters events to one fan-out channel.
func NewClient(conn *websocket.Conn, channel string) *Client {
	return &Client{
		id:      uuid.NewString(),
		channel: channel,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		done:    make(chan struct{}),
	}
}

// ID returns the connection id.
func (c *Client) ID() string { return c.id }

// Wants reports whether an event on channel should reach this client.
// Events without a channel go to everyone.
func (c *Client) Wants(channel string) bool {
	return c.channel == "" || channel == "" || c.channel == channel
}

// SendEvent queues frame for the writer. A slow client drops events instead
// of stalling the broadcaster.
func (c *Client) SendEvent(frame protocol.EventFrame) {
	frame.Seq = c.seq.Add(1)
	data, err := json.Marshal(frame)
	if err != nil {
		slog.Warn("gateway: marshal event", "event", frame.Name, "error", err)
		return
	}
	select {
	case <-c.done:
	case c.send <- data:
	default:
		slog.Warn("gateway: client send buffer full, dropping event", "client", c.id, "event", frame.Name)
	}
}

// Run pumps frames until the peer disconnects or ctx is cancelled.
func (c *Client) Run(ctx context.Context) {
	go c.writePump(ctx)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("gateway: client read error", "client", c.id, "error", err)
			}
			return
		}
	}
}

func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		case <-c.done:
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close closes the connection once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}
