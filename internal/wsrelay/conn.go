package wsrelay

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 1 * time.Second

// peerConn adapts a gorilla websocket connection to session.Conn.
//
// The relay writes to a socket from several goroutines: the connection's own
// handler (ready, peer-absent errors), the peer's read loop (forwarded
// frames, disconnect advisories) and the sweeper (expiry close). A single
// write mutex serializes them so frames never interleave.
type peerConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func newPeerConn(ws *websocket.Conn) *peerConn {
	return &peerConn{ws: ws}
}

func (c *peerConn) writeLocked(messageType int, payload []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(messageType, payload)
}

// Send writes one relay-originated JSON text frame.
func (c *peerConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeLocked(websocket.TextMessage, payload)
}

// SendRaw forwards a peer frame verbatim, preserving the message type.
func (c *peerConn) SendRaw(messageType int, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeLocked(messageType, payload)
}

// Close sends a close frame and tears the socket down. The connection's read
// loop observes the closure and unwinds.
func (c *peerConn) Close(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	_ = c.ws.Close()
}
