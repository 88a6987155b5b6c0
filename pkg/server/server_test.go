package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusvoice/campusvoice/pkg/agent"
	"github.com/campusvoice/campusvoice/pkg/relay"
	"github.com/campusvoice/campusvoice/pkg/upstream"
	"github.com/campusvoice/campusvoice/pkg/wire"
)

// stubSession is a minimal upstream session double.
type stubSession struct{}

func (s *stubSession) OnEvent(func(upstream.ServerEvent)) {}
func (s *stubSession) OnDisconnect(func(error))           {}
func (s *stubSession) Send(upstream.ClientEvent) error    { return nil }
func (s *stubSession) SendAudioChunk(string) error        { return nil }
func (s *stubSession) Ready() bool                        { return true }
func (s *stubSession) Close() error                       { return nil }

type stubSearcher struct {
	result string
	err    error
}

func (s *stubSearcher) Search(ctx context.Context, query string) (string, error) {
	return s.result, s.err
}

func newTestServer(t *testing.T, searcher *stubSearcher) (*Server, *httptest.Server) {
	t.Helper()

	factory := relay.SessionFactoryFunc(func(ctx context.Context, agentCfg agent.Config) (relay.UpstreamSession, error) {
		return &stubSession{}, nil
	})

	cfg := DefaultConfig()
	srv := New(cfg, factory, agent.Config{Name: "test", Voice: "alloy", TurnDetection: true}, searcher, relay.DefaultConfig())

	srv.mux.HandleFunc(cfg.WSPath, srv.handleWebSocket)
	srv.mux.HandleFunc("/health", srv.handleHealth)
	srv.mux.HandleFunc("/api/search", srv.handleSearch)

	testServer := httptest.NewServer(srv.mux)
	t.Cleanup(testServer.Close)
	return srv, testServer
}

func TestServer_Health(t *testing.T) {
	_, testServer := newTestServer(t, &stubSearcher{})

	resp, err := http.Get(testServer.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(0), body["sessions"])
}

func TestServer_Search(t *testing.T) {
	_, testServer := newTestServer(t, &stubSearcher{result: "Campus gym opens at 7am."})

	resp, err := http.Post(testServer.URL+"/api/search", "application/json",
		strings.NewReader(`{"query":"gym hours"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "Campus gym opens at 7am.", body["context"])
}

func TestServer_SearchRejectsEmptyQuery(t *testing.T) {
	_, testServer := newTestServer(t, &stubSearcher{})

	resp, err := http.Post(testServer.URL+"/api/search", "application/json",
		strings.NewReader(`{"query":"  "}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_SearchFailure(t *testing.T) {
	_, testServer := newTestServer(t, &stubSearcher{err: fmt.Errorf("store down")})

	resp, err := http.Post(testServer.URL+"/api/search", "application/json",
		strings.NewReader(`{"query":"anything"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestServer_WebSocketRelay(t *testing.T) {
	srv, testServer := newTestServer(t, &stubSearcher{})

	wsURL := "ws" + strings.TrimPrefix(testServer.URL, "http") + srv.cfg.WSPath
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg wire.ServerMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, wire.ServerMessageTypeReady, msg.Type)

	assert.Eventually(t, func() bool {
		return srv.RelayCount() == 1
	}, time.Second, 10*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool {
		return srv.RelayCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}
