package room

import (
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/jerome244/code-graph-explorer/internal/domain"
)

// Client is one WebSocket connection inside a room. The peer identity
// and role are resolved once at connect time and never change, except
// for the display name which a hello event may update.
type Client struct {
	ID     string
	Peer   domain.PeerInfo
	Role   domain.Role
	writer *clientWriter
}

// NewClient wraps an upgraded connection with its writer goroutine. The
// caller owns the read loop; all writes go through the returned client.
func NewClient(conn *websocket.Conn, clock clockwork.Clock, peer domain.PeerInfo, role domain.Role) *Client {
	return &Client{
		ID:     uuid.NewString(),
		Peer:   peer,
		Role:   role,
		writer: newClientWriter(conn, clock),
	}
}

// Send queues a frame without blocking. Returns false when the outbound
// buffer is full.
func (c *Client) Send(data []byte) bool {
	if data == nil {
		return true
	}
	select {
	case c.writer.send <- data:
		return true
	default:
		return false
	}
}

// MarkActive resets the idle clock. Called from the read loop on every
// inbound frame.
func (c *Client) MarkActive() {
	c.writer.recordActivity()
}

// Close tears the connection down without a close frame.
func (c *Client) Close() {
	c.writer.stop()
}

// CloseWithCode sends a close frame with the given code before closing.
func (c *Client) CloseWithCode(code int, reason string) {
	c.writer.stopWithCode(code, reason)
}
