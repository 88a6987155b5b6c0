package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusvoice/campusvoice/pkg/agent"
	"github.com/campusvoice/campusvoice/pkg/config"
	"github.com/campusvoice/campusvoice/pkg/upstream"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// startConfirmingUpstream runs a fake realtime endpoint that records the
// session.update payload and confirms the session.
func startConfirmingUpstream(t *testing.T, confirm bool) (string, <-chan upstream.SessionConfig) {
	t.Helper()

	received := make(chan upstream.SessionConfig, 1)
	testServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}

			var update upstream.SessionUpdateEvent
			if json.Unmarshal(data, &update) != nil || update.Type != upstream.ClientEventTypeSessionUpdate {
				continue
			}

			select {
			case received <- update.Session:
			default:
			}

			if confirm {
				conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"session.created","session":{}}`))
			}
		}
	}))
	t.Cleanup(testServer.Close)

	return "ws" + strings.TrimPrefix(testServer.URL, "http"), received
}

func testManager(url string) *Manager {
	m := NewManager(&config.Config{
		OpenAIAPIKey:  "test-key",
		RealtimeModel: "test-model",
		RealtimeURL:   url,
	})
	m.SetHandshakeTimeout(500 * time.Millisecond)
	return m
}

func testAgentConfig() agent.Config {
	return agent.Config{
		Name:              "test-assistant",
		Instructions:      "answer campus questions",
		Voice:             "alloy",
		Modalities:        []string{"text", "audio"},
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
		TurnDetection:     true,
	}
}

func TestManager_CreateSession(t *testing.T) {
	url, received := startConfirmingUpstream(t, true)
	m := testManager(url)

	client, err := m.CreateSession(context.Background(), testAgentConfig())
	require.NoError(t, err)
	defer client.Close()

	assert.True(t, client.Ready(), "CreateSession must return a confirmed session")

	select {
	case cfg := <-received:
		assert.Equal(t, "alloy", cfg.Voice)
		assert.Equal(t, "answer campus questions", cfg.Instructions)
		require.Len(t, cfg.Tools, 1)
		assert.Equal(t, agent.SearchToolName, cfg.Tools[0].Name)
		require.NotNil(t, cfg.TurnDetection)
		assert.Equal(t, upstream.TurnDetectionTypeServerVAD, cfg.TurnDetection.Type)
	case <-time.After(time.Second):
		t.Fatal("the upstream never received session.update")
	}
}

func TestManager_CreateSessionWithoutVAD(t *testing.T) {
	url, received := startConfirmingUpstream(t, true)
	m := testManager(url)

	agentCfg := testAgentConfig()
	agentCfg.TurnDetection = false

	client, err := m.CreateSession(context.Background(), agentCfg)
	require.NoError(t, err)
	defer client.Close()

	cfg := <-received
	require.NotNil(t, cfg.TurnDetection)
	assert.Equal(t, upstream.TurnDetectionTypeNone, cfg.TurnDetection.Type)
}

func TestManager_CreateSessionFailure(t *testing.T) {
	url, _ := startConfirmingUpstream(t, false)
	m := testManager(url)

	client, err := m.CreateSession(context.Background(), testAgentConfig())
	require.Error(t, err)
	assert.Nil(t, client, "no half-connected client may escape")

	var sessErr *Error
	assert.True(t, errors.As(err, &sessErr))
}

func TestManager_CreateSessionDialFailure(t *testing.T) {
	m := testManager("ws://127.0.0.1:1")

	client, err := m.CreateSession(context.Background(), testAgentConfig())
	require.Error(t, err)
	assert.Nil(t, client)

	var sessErr *Error
	require.True(t, errors.As(err, &sessErr))

	var connErr *upstream.ConnectionError
	assert.True(t, errors.As(err, &connErr), "the underlying cause stays unwrappable")
}
