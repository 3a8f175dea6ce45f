package client

import (
	"context"

	"github.com/gorilla/websocket"

	wsproto "github.com/attendancy/attendancy-server/pkg/http/ws"
)

// WebSocketTransport dials the server's /ws/sessions endpoint.
type WebSocketTransport struct {
	// URL is the full WebSocket endpoint, e.g. ws://host:8080/ws/sessions.
	URL    string
	Dialer *websocket.Dialer
}

// NewWebSocketTransport creates a transport with the default dialer.
func NewWebSocketTransport(url string) *WebSocketTransport {
	return &WebSocketTransport{URL: url, Dialer: websocket.DefaultDialer}
}

// Dial opens a new connection. Joining happens via the joinSession intent
// sent by the session context, not via query parameters.
func (t *WebSocketTransport) Dial(ctx context.Context) (Conn, error) {
	dialer := t.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	sock, _, err := dialer.DialContext(ctx, t.URL, nil)
	if err != nil {
		return nil, err
	}
	return &wsConn{sock: sock}, nil
}

type wsConn struct {
	sock *websocket.Conn
}

func (c *wsConn) Send(env wsproto.Envelope) error {
	return c.sock.WriteJSON(env)
}

func (c *wsConn) Receive() (wsproto.Envelope, error) {
	var env wsproto.Envelope
	err := c.sock.ReadJSON(&env)
	return env, err
}

func (c *wsConn) Close() error {
	return c.sock.Close()
}
