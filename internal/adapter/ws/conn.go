// Package ws implements the WebSocket adapter: per-task progress
// streams, batch multiplexing and proactive alert delivery.
package ws

import (
	"context"
	"time"

	"github.com/coder/websocket"
)

// sender is the minimal outbound surface the registry and stream loops
// need from a connection. *Conn implements it; tests use fakes.
type sender interface {
	Send(ctx context.Context, data []byte) error
}

// Conn wraps a WebSocket connection with a bounded write timeout so one
// slow client cannot stall a broadcast.
type Conn struct {
	ws          *websocket.Conn
	sendTimeout time.Duration
}

func newConn(ws *websocket.Conn, sendTimeout time.Duration) *Conn {
	return &Conn{ws: ws, sendTimeout: sendTimeout}
}

// Send writes one text frame, bounded by the configured send timeout.
func (c *Conn) Send(ctx context.Context, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, c.sendTimeout)
	defer cancel()
	return c.ws.Write(ctx, websocket.MessageText, data)
}
