package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/kpmajid/chat-app/internal/metrics"
)

// Envelope is the frame format in both directions: a type tag, an optional
// client-chosen correlation id (echoed back on acks), and a payload.
type Envelope struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type outEnvelope struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// Client wraps one websocket connection. Push never blocks: frames are
// queued on a buffered channel drained by the write pump, and a full buffer
// drops the frame (the client recovers on its next fetch).
type Client struct {
	conn   *websocket.Conn
	userID string
	connID string
	send   chan []byte
	log    *zap.SugaredLogger

	mu     sync.Mutex
	closed bool
}

const sendBuffer = 256

func NewClient(conn *websocket.Conn, userID, connID string, log *zap.SugaredLogger) *Client {
	return &Client{
		conn:   conn,
		userID: userID,
		connID: connID,
		send:   make(chan []byte, sendBuffer),
		log:    log,
	}
}

// Push implements presence.Pusher.
func (c *Client) Push(event string, payload any) {
	c.enqueue(outEnvelope{Type: event, Payload: payload})
}

// Ack answers a client request frame, correlated by the client's id.
func (c *Client) Ack(id string, payload any) {
	c.enqueue(outEnvelope{Type: "ack", ID: id, Payload: payload})
}

func (c *Client) enqueue(env outEnvelope) {
	b, err := json.Marshal(env)
	if err != nil {
		c.log.Warnw("marshal ws frame", "type", env.Type, "err", err)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- b:
	default:
		metrics.EventsDropped.Inc()
		c.log.Warnw("dropping ws frame, send buffer full", "user_id", c.userID, "type", env.Type)
	}
}

// writePump owns all writes on the connection: queued frames plus keepalive
// pings. Runs until the send channel closes or a write fails.
func (c *Client) writePump(pingInterval, writeDeadline time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case b, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
}
