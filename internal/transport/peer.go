package transport

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Peer adapts a server-side gorilla websocket connection to the Sender
// interface. Writes are serialized; gorilla connections do not allow
// concurrent writers.
type Peer struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	writeMu  sync.Mutex
	accepted atomic.Bool
}

// NewPeer wraps an upgraded websocket connection.
func NewPeer(conn *websocket.Conn, writeTimeout time.Duration) *Peer {
	return &Peer{
		conn:         conn,
		writeTimeout: writeTimeout,
	}
}

// Accept marks the handshake complete. Sends before Accept fail so a
// half-open connection can never receive traffic.
func (p *Peer) Accept() error {
	p.accepted.Store(true)
	return nil
}

// Send writes one text message to the socket.
func (p *Peer) Send(data []byte) error {
	if !p.accepted.Load() {
		return ErrNotAccepted
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if p.writeTimeout > 0 {
		if err := p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout)); err != nil {
			return err
		}
	}
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame and tears down the underlying connection.
func (p *Peer) Close(code int, reason string) error {
	p.writeMu.Lock()
	_ = p.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(time.Second),
	)
	p.writeMu.Unlock()
	return p.conn.Close()
}
