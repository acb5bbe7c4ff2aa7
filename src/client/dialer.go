package client

import (
	"context"

	"github.com/fasthttp/websocket"

	"github.com/drawspace/relay/src/types"
)

// Dialer opens a connection to the relay. It is an interface so tests can
// inject a fake transport.
type Dialer interface {
	Dial(ctx context.Context, url string) (types.Conn, error)
}

// WebSocketDialer dials the relay over a real WebSocket.
type WebSocketDialer struct {
	dialer *websocket.Dialer
}

// NewWebSocketDialer returns a dialer using the default WebSocket transport.
func NewWebSocketDialer() *WebSocketDialer {
	return &WebSocketDialer{dialer: websocket.DefaultDialer}
}

func (d *WebSocketDialer) Dial(ctx context.Context, url string) (types.Conn, error) {
	conn, resp, err := d.dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}
