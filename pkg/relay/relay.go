// Package relay bridges one client WebSocket connection to one upstream
// realtime session: it creates the session, translates traffic in both
// directions, applies reconnect and rate-limit policy, and runs document
// search on tool-call events.
package relay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"

	"github.com/campusvoice/campusvoice/pkg/agent"
	"github.com/campusvoice/campusvoice/pkg/retrieval"
	"github.com/campusvoice/campusvoice/pkg/trace"
	"github.com/campusvoice/campusvoice/pkg/upstream"
	"github.com/campusvoice/campusvoice/pkg/wire"
)

// UpstreamSession is the slice of the upstream client the relay drives.
// *upstream.Client implements it.
type UpstreamSession interface {
	OnEvent(func(upstream.ServerEvent))
	OnDisconnect(func(error))
	Send(upstream.ClientEvent) error
	SendAudioChunk(base64Audio string) error
	Ready() bool
	Close() error
}

// SessionFactory builds connected upstream sessions.
type SessionFactory interface {
	CreateSession(ctx context.Context, agentCfg agent.Config) (UpstreamSession, error)
}

// SessionFactoryFunc adapts a function to the SessionFactory interface.
type SessionFactoryFunc func(ctx context.Context, agentCfg agent.Config) (UpstreamSession, error)

func (f SessionFactoryFunc) CreateSession(ctx context.Context, agentCfg agent.Config) (UpstreamSession, error) {
	return f(ctx, agentCfg)
}

// Config tunes the relay policy.
type Config struct {
	// MinAudioBytes rejects client binary frames below this size as noise.
	MinAudioBytes int

	// MaxReconnectAttempts caps one reconnect sequence.
	MaxReconnectAttempts int

	// ReconnectBaseDelay is multiplied by the attempt number for backoff.
	ReconnectBaseDelay time.Duration

	// LivenessInterval is the period of the session liveness check.
	LivenessInterval time.Duration

	// RateLimitFallback is the wait used when the upstream's rate-limit
	// message carries no parseable duration.
	RateLimitFallback time.Duration

	// ToolCallTimeout bounds one retrieval invocation.
	ToolCallTimeout time.Duration
}

// DefaultConfig returns the default relay policy.
func DefaultConfig() Config {
	return Config{
		MinAudioBytes:        128,
		MaxReconnectAttempts: 5,
		ReconnectBaseDelay:   time.Second,
		LivenessInterval:     5 * time.Second,
		RateLimitFallback:    DefaultRateLimitWait,
		ToolCallTimeout:      10 * time.Second,
	}
}

// Relay owns one client connection and its upstream session. One instance
// per connection; instances are fully independent of each other.
type Relay struct {
	id        string
	cfg       Config
	agentCfg  agent.Config
	factory   SessionFactory
	retriever retrieval.Searcher

	conn *websocket.Conn
	out  *clientTransport

	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	client         UpstreamSession
	reconnecting   bool
	exhausted      bool
	rateLimitTimer *time.Timer
	closed         bool
}

// New creates a relay for one accepted client connection.
func New(conn *websocket.Conn, factory SessionFactory, agentCfg agent.Config, retriever retrieval.Searcher, cfg Config) *Relay {
	if retriever == nil {
		retriever = retrieval.Noop{}
	}
	return &Relay{
		id:        uuid.New().String()[:8],
		cfg:       cfg,
		agentCfg:  agentCfg,
		factory:   factory,
		retriever: retriever,
		conn:      conn,
		out:       newClientTransport(conn),
	}
}

// Run drives the relay until the client disconnects. It blocks; the caller
// owns the goroutine.
func (r *Relay) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.ctx = ctx
	r.cancel = cancel
	defer r.teardown()

	log.Printf("[relay %s] client connected", r.id)

	if err := r.initializeSession(ctx); err != nil {
		log.Printf("[relay %s] session init failed: %v", r.id, err)
		r.sendError("Failed to initialize the realtime session")
		// Stay available: the client may retry with reset_session.
	}

	go r.livenessLoop(ctx)

	for {
		msgType, data, err := r.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[relay %s] client read error: %v", r.id, err)
			}
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			r.handleAudioFrame(data)
		case websocket.TextMessage:
			r.handleEnvelope(ctx, data)
		}
	}
}

// initializeSession creates an upstream session and announces readiness to
// the client. On failure no session is retained.
func (r *Relay) initializeSession(ctx context.Context) error {
	ctx, span := trace.StartSpan(ctx, "relay.create_session")
	defer span.End()
	span.SetAttributes(attribute.String("relay.id", r.id))

	client, err := r.factory.CreateSession(ctx, r.agentCfg)
	if err != nil {
		trace.RecordError(span, err)
		return err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		client.Close()
		return nil
	}
	// Session creation can race: a reset from the client, the rate-limit
	// timer and a reconnect attempt may all be in flight at once. Whoever
	// assigns last wins; the displaced session must be closed or its event
	// handler would keep forwarding into this relay.
	displaced := r.client
	r.client = client
	r.exhausted = false
	r.mu.Unlock()

	if displaced != nil {
		displaced.Close()
	}

	client.OnEvent(r.handleUpstreamEvent)
	client.OnDisconnect(func(err error) {
		r.triggerReconnect(fmt.Sprintf("upstream disconnect: %v", err))
	})

	if err := r.out.SendMessage(wire.NewReadyMessage()); err != nil {
		log.Printf("[relay %s] failed to send ready: %v", r.id, err)
	}
	log.Printf("[relay %s] session ready", r.id)
	return nil
}

// handleAudioFrame relays one client audio frame upstream. Frames below the
// noise threshold and frames arriving while the session is not ready are
// dropped, never queued: stale audio must not replay into a new session.
func (r *Relay) handleAudioFrame(data []byte) {
	if len(data) < r.cfg.MinAudioBytes {
		return
	}

	r.mu.Lock()
	client := r.client
	r.mu.Unlock()

	if client == nil || !client.Ready() {
		log.Printf("[relay %s] dropping %d byte audio frame, session not ready", r.id, len(data))
		return
	}

	if err := client.SendAudioChunk(base64.StdEncoding.EncodeToString(data)); err != nil {
		log.Printf("[relay %s] audio send failed: %v", r.id, err)
	}
}

// handleEnvelope processes one client JSON envelope. Unrecognized envelopes
// produce a single non-fatal error envelope and leave relay state unchanged.
func (r *Relay) handleEnvelope(ctx context.Context, data []byte) {
	msg, err := wire.ParseClientMessage(data)
	if err != nil {
		log.Printf("[relay %s] %v", r.id, err)
		r.sendError("Invalid message format")
		return
	}

	switch msg.Type {
	case wire.ClientMessageTypeStartConversation:
		// The session is created on connect; nothing to start here.
		log.Printf("[relay %s] conversation start requested", r.id)

	case wire.ClientMessageTypeUserAudioEnd:
		if r.agentCfg.TurnDetection {
			// Server-side VAD owns end-of-turn detection.
			return
		}
		r.mu.Lock()
		client := r.client
		r.mu.Unlock()
		if client != nil && client.Ready() {
			if err := client.Send(upstream.NewInputAudioBufferCommitEvent()); err != nil {
				log.Printf("[relay %s] audio commit failed: %v", r.id, err)
			}
		}

	case wire.ClientMessageTypeResetSession:
		log.Printf("[relay %s] session reset requested", r.id)
		r.resetSession(ctx)
	}
}

// resetSession tears down the current session immediately, regardless of any
// in-flight response, and re-runs initialization.
func (r *Relay) resetSession(ctx context.Context) {
	r.mu.Lock()
	old := r.client
	r.client = nil
	r.exhausted = false
	if r.rateLimitTimer != nil {
		r.rateLimitTimer.Stop()
		r.rateLimitTimer = nil
	}
	r.mu.Unlock()

	if old != nil {
		old.Close()
	}

	if err := r.initializeSession(ctx); err != nil {
		log.Printf("[relay %s] session reset failed: %v", r.id, err)
		r.sendError("Failed to re-initialize the realtime session")
	}
}

// handleUpstreamEvent translates one upstream event for the client. It runs
// on the upstream client's dispatch goroutine, in arrival order.
func (r *Relay) handleUpstreamEvent(event upstream.ServerEvent) {
	switch ev := event.(type) {
	case *upstream.ResponseAudioTranscriptDeltaEvent:
		if err := r.out.SendMessage(wire.NewTranscriptDeltaMessage(ev.Delta)); err != nil {
			log.Printf("[relay %s] transcript send failed: %v", r.id, err)
		}

	case *upstream.ResponseAudioDeltaEvent:
		audio, err := base64.StdEncoding.DecodeString(ev.Delta)
		if err != nil {
			log.Printf("[relay %s] bad audio delta: %v", r.id, err)
			return
		}
		if err := r.out.SendBinary(audio); err != nil {
			log.Printf("[relay %s] audio send to client failed: %v", r.id, err)
		}

	case *upstream.ResponseAudioDoneEvent:
		if err := r.out.SendMessage(wire.NewBotAudioEndMessage()); err != nil {
			log.Printf("[relay %s] bot_audio_end send failed: %v", r.id, err)
		}

	case *upstream.ResponseDoneEvent:
		if ev.Response.Status == upstream.ResponseStatusFailed {
			var detail *upstream.ErrorDetail
			if ev.Response.StatusDetails != nil {
				detail = ev.Response.StatusDetails.Error
			}
			r.handleUpstreamFailure(detail, false)
		}

	case *upstream.ResponseFunctionCallArgumentsDoneEvent:
		if ev.Name == agent.SearchToolName {
			go r.runToolCall(ev.CallID, ev.Arguments)
		} else {
			log.Printf("[relay %s] ignoring unknown tool call %q", r.id, ev.Name)
		}

	case *upstream.ErrorEvent:
		r.handleUpstreamFailure(&ev.Error, isConnectionFailure(&ev.Error))
	}
}

// handleUpstreamFailure classifies an upstream failure. Rate limits schedule
// exactly one automatic reset after the reported wait; connection-class
// failures additionally trigger reconnection; everything else is reported
// without changing relay state.
func (r *Relay) handleUpstreamFailure(detail *upstream.ErrorDetail, connection bool) {
	message := "unknown error"
	if detail != nil && detail.Message != "" {
		message = detail.Message
	}

	if isRateLimit(detail) {
		wait := retryDelay(detail, r.cfg.RateLimitFallback)
		log.Printf("[relay %s] upstream rate limited, resetting in %s: %s", r.id, wait, message)
		r.sendError(fmt.Sprintf("The speech service is rate limited; retrying in %.1fs", wait.Seconds()))
		r.scheduleRateLimitReset(wait)
		return
	}

	log.Printf("[relay %s] upstream error: %s", r.id, message)
	r.sendError("Speech service error: " + message)

	if connection {
		r.triggerReconnect("upstream error: " + message)
	}
}

// isConnectionFailure reports whether an upstream error indicates a broken
// or expired connection rather than a request problem.
func isConnectionFailure(detail *upstream.ErrorDetail) bool {
	if detail == nil {
		return false
	}
	if detail.Type == "server_error" || detail.Code == "session_expired" {
		return true
	}
	return strings.Contains(strings.ToLower(detail.Message), "connection")
}

// scheduleRateLimitReset arms the automatic post-rate-limit session reset.
// A newer rate limit replaces a pending reset; there is never more than one.
func (r *Relay) scheduleRateLimitReset(wait time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	if r.rateLimitTimer != nil {
		r.rateLimitTimer.Stop()
	}
	r.rateLimitTimer = time.AfterFunc(wait, func() {
		r.mu.Lock()
		r.rateLimitTimer = nil
		closed := r.closed
		r.mu.Unlock()
		if closed {
			return
		}
		log.Printf("[relay %s] rate-limit wait elapsed, resetting session", r.id)
		r.resetSession(r.ctx)
	})
}

// runToolCall executes a document search and injects the result upstream as
// a new conversation turn. Failures are logged and swallowed: a tool error
// must never close the client connection or abort the in-flight response.
func (r *Relay) runToolCall(callID, arguments string) {
	ctx, cancel := context.WithTimeout(r.ctx, r.cfg.ToolCallTimeout)
	defer cancel()
	ctx, span := trace.StartSpan(ctx, "relay.tool_call")
	defer span.End()

	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(arguments), &args); err != nil || strings.TrimSpace(args.Query) == "" {
		log.Printf("[relay %s] tool call %s: invalid arguments %q", r.id, callID, arguments)
		return
	}
	span.SetAttributes(attribute.String("tool.query", args.Query))

	result, err := r.retriever.Search(ctx, args.Query)
	if err != nil {
		trace.RecordError(span, err)
		log.Printf("[relay %s] tool call %s failed: %v", r.id, callID, err)
		return
	}
	if result == "" {
		result = "No relevant documents found."
	}

	r.mu.Lock()
	client := r.client
	r.mu.Unlock()
	if client == nil {
		return
	}

	if err := client.Send(upstream.NewFunctionCallOutputEvent(callID, result)); err != nil {
		log.Printf("[relay %s] tool output send failed: %v", r.id, err)
		return
	}
	if err := client.Send(upstream.NewResponseCreateEvent()); err != nil {
		log.Printf("[relay %s] response.create after tool call failed: %v", r.id, err)
	}
}

// triggerReconnect starts a reconnect sequence unless one is already in
// flight: concurrent triggers from an error event and the liveness timer
// collapse into a single sequence.
func (r *Relay) triggerReconnect(reason string) {
	r.mu.Lock()
	if r.closed || r.reconnecting || r.exhausted {
		r.mu.Unlock()
		return
	}
	r.reconnecting = true
	r.mu.Unlock()

	log.Printf("[relay %s] reconnecting: %s", r.id, reason)
	go r.reconnectLoop()
}

// reconnectLoop retries session creation with a delay growing linearly with
// the attempt number. On exhaustion it emits a single terminal error; the
// client must then restart explicitly via reset_session.
func (r *Relay) reconnectLoop() {
	ctx, span := trace.StartSpan(r.ctx, "relay.reconnect")
	defer span.End()

	for attempt := 1; attempt <= r.cfg.MaxReconnectAttempts; attempt++ {
		delay := time.Duration(attempt) * r.cfg.ReconnectBaseDelay
		log.Printf("[relay %s] reconnect attempt %d/%d in %s", r.id, attempt, r.cfg.MaxReconnectAttempts, delay)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		r.mu.Lock()
		old := r.client
		r.client = nil
		r.mu.Unlock()
		if old != nil {
			old.Close()
		}

		if err := r.initializeSession(ctx); err != nil {
			log.Printf("[relay %s] reconnect attempt %d failed: %v", r.id, attempt, err)
			continue
		}

		r.mu.Lock()
		r.reconnecting = false
		r.mu.Unlock()
		log.Printf("[relay %s] reconnected after %d attempt(s)", r.id, attempt)
		return
	}

	r.mu.Lock()
	r.reconnecting = false
	r.exhausted = true
	closed := r.closed
	r.mu.Unlock()

	if !closed {
		log.Printf("[relay %s] reconnect attempts exhausted", r.id)
		trace.RecordError(span, fmt.Errorf("reconnect attempts exhausted"))
		r.sendError("Connection to the speech service was lost; please restart the conversation.")
	}
}

// livenessLoop polls session readiness to catch silent upstream drops that
// never produce a close event.
func (r *Relay) livenessLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.LivenessInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.mu.Lock()
			client := r.client
			skip := r.closed || r.reconnecting || r.exhausted
			r.mu.Unlock()

			if skip || client == nil {
				continue
			}
			if !client.Ready() {
				log.Printf("[relay %s] liveness check: session not ready", r.id)
				r.triggerReconnect("liveness check failed")
			}
		}
	}
}

// Close tears the relay down from outside, unblocking Run. Safe to call
// more than once.
func (r *Relay) Close() {
	r.teardown()
}

func (r *Relay) sendError(message string) {
	if err := r.out.SendMessage(wire.NewErrorMessage(message)); err != nil {
		log.Printf("[relay %s] error envelope send failed: %v", r.id, err)
	}
}

// teardown cancels all in-flight relay activity: timers are stopped so they
// cannot fire against a torn-down session.
func (r *Relay) teardown() {
	if r.cancel != nil {
		r.cancel()
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	client := r.client
	r.client = nil
	if r.rateLimitTimer != nil {
		r.rateLimitTimer.Stop()
		r.rateLimitTimer = nil
	}
	r.mu.Unlock()

	if client != nil {
		client.Close()
	}
	r.out.Close()
	log.Printf("[relay %s] closed", r.id)
}
