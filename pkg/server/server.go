// Package server exposes the backend over HTTP: the realtime WebSocket
// endpoint plus a small JSON API for health, document search and ephemeral
// session tokens.
package server

import (
	"context"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/campusvoice/campusvoice/pkg/agent"
	"github.com/campusvoice/campusvoice/pkg/relay"
	"github.com/campusvoice/campusvoice/pkg/retrieval"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Addr is the address to listen on (e.g., ":8080").
	Addr string

	// WSPath is the realtime WebSocket endpoint path.
	WSPath string

	// ReadBufferSize is the WebSocket read buffer size.
	ReadBufferSize int

	// WriteBufferSize is the WebSocket write buffer size.
	WriteBufferSize int

	// APIKey authenticates the ephemeral token mint against the upstream.
	APIKey string

	// RealtimeModel is reported to clients requesting an ephemeral token.
	RealtimeModel string
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Addr:            ":8080",
		WSPath:          "/ws/realtime",
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}
}

// Server serves the WebSocket relay endpoint and the JSON API. Each accepted
// WebSocket connection gets its own relay; relays share nothing but the
// session factory and the retriever.
type Server struct {
	cfg       *Config
	factory   relay.SessionFactory
	agentCfg  agent.Config
	retriever retrieval.Searcher
	relayCfg  relay.Config

	mux        *http.ServeMux
	httpServer *http.Server
	upgrader   websocket.Upgrader

	relaysMu sync.RWMutex
	relays   map[*relay.Relay]struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a server. A nil retriever disables document search.
func New(cfg *Config, factory relay.SessionFactory, agentCfg agent.Config, retriever retrieval.Searcher, relayCfg relay.Config) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if retriever == nil {
		retriever = retrieval.Noop{}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		cfg:       cfg,
		factory:   factory,
		agentCfg:  agentCfg,
		retriever: retriever,
		relayCfg:  relayCfg,
		mux:       http.NewServeMux(),
		relays:    make(map[*relay.Relay]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins; customize for production
			},
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start starts the server. It returns once the listener is up or has failed.
func (s *Server) Start(ctx context.Context) error {
	s.mux.HandleFunc(s.cfg.WSPath, s.handleWebSocket)
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/search", s.handleSearch)
	s.mux.HandleFunc("/api/session", s.handleSessionToken)

	s.httpServer = &http.Server{
		Addr:    s.cfg.Addr,
		Handler: s.mux,
	}

	log.Printf("[server] starting on %s%s", s.cfg.Addr, s.cfg.WSPath)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Stop stops the server gracefully, closing all active relays.
func (s *Server) Stop(ctx context.Context) error {
	s.cancel()

	s.relaysMu.Lock()
	for rl := range s.relays {
		rl.Close()
	}
	s.relaysMu.Unlock()

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// RelayCount returns the number of active relays.
func (s *Server) RelayCount() int {
	s.relaysMu.RLock()
	defer s.relaysMu.RUnlock()
	return len(s.relays)
}

// handleWebSocket upgrades the connection and runs a relay on it until the
// client disconnects.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[server] WebSocket upgrade failed: %v", err)
		return
	}

	clientIP := getClientIP(r)
	log.Printf("[server] WebSocket connection from %s", clientIP)

	rl := relay.New(conn, s.factory, s.agentCfg, s.retriever, s.relayCfg)

	s.relaysMu.Lock()
	s.relays[rl] = struct{}{}
	s.relaysMu.Unlock()

	rl.Run(s.ctx)

	s.relaysMu.Lock()
	delete(s.relays, rl)
	s.relaysMu.Unlock()

	log.Printf("[server] WebSocket connection from %s closed", clientIP)
}

func getClientIP(r *http.Request) string {
	xff := r.Header.Get("X-Forwarded-For")
	if xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}

	xri := r.Header.Get("X-Real-IP")
	if xri != "" {
		return xri
	}

	return strings.Split(r.RemoteAddr, ":")[0]
}
