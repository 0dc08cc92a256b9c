package channel

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"client_go/internal/protocol"
)

// WebSocketTransport dials the server's /ws endpoint. Authentication uses
// the bearer subprotocol the server accepts alongside the Authorization
// header: Sec-WebSocket-Protocol: bearer, <token>.
type WebSocketTransport struct {
	url   string
	token string
}

func NewWebSocketTransport(url, token string) *WebSocketTransport {
	return &WebSocketTransport{url: url, token: token}
}

func (t *WebSocketTransport) Dial(ctx context.Context) (Conn, error) {
	dialer := websocket.Dialer{
		Subprotocols:     []string{"bearer", t.token},
		HandshakeTimeout: 10 * time.Second,
	}
	conn, resp, err := dialer.DialContext(ctx, t.url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return &wsConn{conn: conn}, nil
}

// wsConn adapts a websocket connection to the framed Conn interface.
// Writes are serialized; gorilla allows only one concurrent writer.
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsConn) ReadFrame() (*protocol.Frame, error) {
	var frame protocol.Frame
	if err := c.conn.ReadJSON(&frame); err != nil {
		return nil, err
	}
	return &frame, nil
}

func (c *wsConn) WriteFrame(f *protocol.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(f)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
