package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/coder/websocket"
)

// WebSocket delivers events as JSON text frames over an accepted WebSocket
// connection. The terminal sentinel is sent as a bare text frame so clients
// can share the detection logic with the SSE transport.
type WebSocket struct {
	conn   *websocket.Conn
	ctx    context.Context
	broken bool
}

// NewWebSocket wraps an accepted connection. ctx bounds every write; it is
// normally the request context so a dropped connection cancels pending
// writes.
func NewWebSocket(ctx context.Context, conn *websocket.Conn) *WebSocket {
	return &WebSocket{conn: conn, ctx: ctx}
}

// Send writes one event frame. Like the SSE sink, writes to a gone client
// are swallowed after a debug log.
func (s *WebSocket) Send(event Event) error {
	if s.broken {
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	if err := s.conn.Write(s.ctx, websocket.MessageText, payload); err != nil {
		slog.Debug("websocket write failed, client likely disconnected", "error", err)
		s.broken = true
	}
	return nil
}

// Close sends the terminal sentinel and closes the connection normally.
func (s *WebSocket) Close() error {
	if !s.broken {
		if err := s.conn.Write(s.ctx, websocket.MessageText, []byte(Terminal)); err != nil {
			slog.Debug("websocket terminal write failed", "error", err)
		}
	}
	return s.conn.Close(websocket.StatusNormalClosure, "")
}
