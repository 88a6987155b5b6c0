package upstream

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// DefaultURL is the realtime endpoint; overridable for tests.
	DefaultURL = "wss://api.openai.com/v1/realtime"

	// DefaultHandshakeTimeout bounds the wait for session confirmation.
	DefaultHandshakeTimeout = 10 * time.Second

	// keepaliveSizeThreshold separates upstream keepalive frames from
	// binary payloads worth logging.
	keepaliveSizeThreshold = 100

	// maxPendingEvents bounds the events buffered between handshake
	// confirmation and OnEvent registration.
	maxPendingEvents = 64
)

// State is the connection state of a Client.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAwaitingHandshake
	StateReady
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAwaitingHandshake:
		return "awaiting_handshake"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Config holds the settings for a Client.
type Config struct {
	APIKey string
	Model  string

	// URL overrides the realtime endpoint. Empty means DefaultURL.
	URL string

	// HandshakeTimeout bounds Connect's wait for session confirmation.
	// Zero means DefaultHandshakeTimeout.
	HandshakeTimeout time.Duration
}

// Client owns exactly one upstream realtime connection. It is created
// disconnected; Connect opens the socket, performs the session-configuration
// handshake and does not return until the upstream confirms the session.
// Audio may only be sent once the handshake is confirmed.
//
// A Client has at most one event subscriber: events are delivered in arrival
// order on a single goroutine.
type Client struct {
	cfg Config

	mu           sync.Mutex
	conn         *websocket.Conn
	state        State
	handler      func(ServerEvent)
	onDisconnect func(error)

	// pending holds events that arrive before OnEvent is called; they are
	// replayed to the subscriber in arrival order.
	pending []ServerEvent

	writeMu    sync.Mutex
	dispatchMu sync.Mutex
}

// NewClient creates a disconnected client.
func NewClient(cfg Config) *Client {
	return &Client{cfg: cfg}
}

// Connect opens the upstream connection, sends the session-configuration
// handshake and blocks until the upstream confirms the session with a
// session.created or session.updated event. It does NOT return on mere
// socket-open: audio sent before confirmation would be dropped upstream.
func (c *Client) Connect(ctx context.Context, session SessionConfig) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		log.Printf("[upstream] connect while %s, closing previous connection", c.state)
		c.closeConnLocked()
	}
	c.state = StateConnecting
	c.mu.Unlock()

	u := c.cfg.URL
	if u == "" {
		u = DefaultURL
	}
	if c.cfg.Model != "" {
		u += "?model=" + c.cfg.Model
	}

	header := http.Header{}
	if c.cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		header.Set("OpenAI-Beta", "realtime=v1")
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, u, header)
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		if resp != nil {
			return &ConnectionError{Message: "dial failed: " + resp.Status, Cause: err}
		}
		return &ConnectionError{Message: "dial failed", Cause: err}
	}

	readyCh := make(chan struct{})
	fatalCh := make(chan error, 1)

	c.mu.Lock()
	c.conn = conn
	c.state = StateAwaitingHandshake
	c.pending = nil
	c.mu.Unlock()

	go c.readLoop(conn, readyCh, fatalCh)

	if err := c.write(conn, NewSessionUpdateEvent(session)); err != nil {
		c.Close()
		return &ConnectionError{Message: "send session.update", Cause: err}
	}

	timeout := c.cfg.HandshakeTimeout
	if timeout == 0 {
		timeout = DefaultHandshakeTimeout
	}

	select {
	case <-readyCh:
		log.Printf("[upstream] session confirmed")
		return nil
	case err := <-fatalCh:
		c.Close()
		return &ConnectionError{Message: "closed before session confirmation", Cause: err}
	case <-ctx.Done():
		c.Close()
		return &ConnectionError{Message: "canceled awaiting session confirmation", Cause: ctx.Err()}
	case <-time.After(timeout):
		c.Close()
		return &ConnectionError{Message: "timed out awaiting session confirmation"}
	}
}

// OnEvent registers the single event subscriber. Events are delivered in
// arrival order; no two invocations run concurrently for one client. Events
// that arrived before registration are replayed first, still in order.
func (c *Client) OnEvent(handler func(ServerEvent)) {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()

	c.mu.Lock()
	c.handler = handler
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	if handler == nil {
		return
	}
	for _, event := range pending {
		handler(event)
	}
}

// OnDisconnect registers a callback invoked once when the connection drops
// unexpectedly. An explicit Close does not trigger it.
func (c *Client) OnDisconnect(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnect = fn
}

// Send serializes and transmits a structured event. It fails with a
// ConnectionError unless the session handshake has been confirmed.
func (c *Client) Send(event ClientEvent) error {
	c.mu.Lock()
	conn := c.conn
	ready := c.state == StateReady && conn != nil
	c.mu.Unlock()

	if !ready {
		return &ConnectionError{Message: "session not ready"}
	}
	return c.write(conn, event)
}

// SendAudioChunk transmits an append-audio event. Audio sent before the
// handshake is confirmed is rejected, never queued.
func (c *Client) SendAudioChunk(base64Audio string) error {
	return c.Send(NewInputAudioBufferAppendEvent(base64Audio))
}

// Ready reports whether the socket is open and the handshake confirmed.
func (c *Client) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateReady && c.conn != nil
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close closes the connection and clears the subscribers. It is idempotent
// and safe to call at any time.
func (c *Client) Close() error {
	c.mu.Lock()
	c.handler = nil
	c.onDisconnect = nil
	c.pending = nil
	c.closeConnLocked()
	c.mu.Unlock()
	return nil
}

func (c *Client) closeConnLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.state = StateDisconnected
}

func (c *Client) write(conn *websocket.Conn, event ClientEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return &ConnectionError{Message: "write " + string(event.ClientEventType()), Cause: err}
	}
	return nil
}

// readLoop reads frames for one connection until it fails or is replaced.
// Upstream frames may arrive as text JSON or binary-encoded JSON; binary
// frames that do not parse are raw payloads (audio, keepalives), not errors.
func (c *Client) readLoop(conn *websocket.Conn, readyCh chan struct{}, fatalCh chan error) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			c.handleReadError(conn, err, fatalCh)
			return
		}

		event, perr := ParseServerEvent(data)
		if perr != nil {
			if msgType == websocket.BinaryMessage {
				if len(data) > keepaliveSizeThreshold {
					log.Printf("[upstream] non-JSON binary frame (%d bytes)", len(data))
				}
				continue
			}
			log.Printf("[upstream] dropping unparseable frame: %v", perr)
			continue
		}

		switch event.ServerEventType() {
		case ServerEventTypeSessionCreated, ServerEventTypeSessionUpdated:
			c.mu.Lock()
			if c.conn == conn && c.state == StateAwaitingHandshake {
				c.state = StateReady
				close(readyCh)
			}
			c.mu.Unlock()
		}

		c.dispatch(conn, event)
	}
}

// dispatch delivers one event to the subscriber, buffering while none is
// registered. The dispatch lock keeps replayed and live events from
// interleaving out of order.
func (c *Client) dispatch(conn *websocket.Conn, event ServerEvent) {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()

	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	handler := c.handler
	if handler == nil {
		if len(c.pending) < maxPendingEvents {
			c.pending = append(c.pending, event)
		} else {
			log.Printf("[upstream] pending event buffer full, dropping %s", event.ServerEventType())
		}
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	handler(event)
}

func (c *Client) handleReadError(conn *websocket.Conn, err error, fatalCh chan error) {
	c.mu.Lock()
	current := c.conn == conn
	var onDisconnect func(error)
	if current {
		c.closeConnLocked()
		onDisconnect = c.onDisconnect
	}
	c.mu.Unlock()

	select {
	case fatalCh <- err:
	default:
	}

	if current {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			log.Printf("[upstream] connection dropped: %v", err)
		}
		if onDisconnect != nil {
			onDisconnect(err)
		}
	}
}
