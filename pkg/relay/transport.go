package relay

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/campusvoice/campusvoice/pkg/wire"
)

// clientTransport serializes writes to the client WebSocket. Envelopes go
// out as text frames, assistant audio as binary frames. Writes after Close
// are silently dropped.
type clientTransport struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	closed bool
}

func newClientTransport(conn *websocket.Conn) *clientTransport {
	return &clientTransport{conn: conn}
}

func (t *clientTransport) SendMessage(msg wire.ServerMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *clientTransport) SendBinary(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	return t.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (t *clientTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.conn.Close()
}
