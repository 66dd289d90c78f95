package netio

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// WSConn wraps a gorilla/websocket connection for the event loop: the
// handshake, fragmentation and ping/pong handling the spec calls for are
// exactly what gorilla/websocket already implements, so the daemon keeps
// depending on it rather than hand-rolling RFC 6455 framing (spec §4.1).
type WSConn struct {
	conn *websocket.Conn
}

// DialWS performs the WebSocket handshake against rawurl.
func DialWS(ctx context.Context, rawurl string) (*WSConn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, rawurl, http.Header{})
	if err != nil {
		return nil, fmt.Errorf("netio: websocket dial: %w", err)
	}
	conn.SetPingHandler(func(appData string) error {
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})
	return &WSConn{conn: conn}, nil
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// AcceptWS upgrades an incoming HTTP request to a WebSocket connection,
// for the daemon's own local listener (spec §4.1/§6.3) rather than a
// connection it dials out.
func AcceptWS(w http.ResponseWriter, r *http.Request) (*WSConn, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("netio: websocket upgrade: %w", err)
	}
	conn.SetPingHandler(func(appData string) error {
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})
	return &WSConn{conn: conn}, nil
}

// Send writes one text (JSON) message.
func (w *WSConn) Send(b []byte) error {
	return w.conn.WriteMessage(websocket.TextMessage, b)
}

// Recv blocks for the next complete text message. gorilla/websocket has no
// non-blocking read, so rpcclient calls Recv from a read-loop goroutine of
// its own and dispatches each message from there (see rpcclient.Client).
func (w *WSConn) Recv() ([]byte, error) {
	_, data, err := w.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("netio: websocket read: %w", err)
	}
	return data, nil
}

// Close closes the underlying connection.
func (w *WSConn) Close() error { return w.conn.Close() }

// RemoteAddr exposes the underlying connection's remote address.
func (w *WSConn) RemoteAddr() net.Addr { return w.conn.RemoteAddr() }
