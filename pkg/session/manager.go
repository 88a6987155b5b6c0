// Package session builds upstream realtime sessions from agent
// configurations.
package session

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/campusvoice/campusvoice/pkg/agent"
	"github.com/campusvoice/campusvoice/pkg/config"
	"github.com/campusvoice/campusvoice/pkg/upstream"
)

// Error reports a session handshake or configuration failure.
type Error struct {
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("session: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("session: %s", e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Manager is a factory for connected upstream session clients. It is
// stateless and safe for concurrent use from multiple relays.
type Manager struct {
	apiKey           string
	model            string
	url              string
	handshakeTimeout time.Duration
}

// NewManager creates a session manager from process configuration.
func NewManager(cfg *config.Config) *Manager {
	return &Manager{
		apiKey: cfg.OpenAIAPIKey,
		model:  cfg.RealtimeModel,
		url:    cfg.RealtimeURL,
	}
}

// SetHandshakeTimeout overrides the session-confirmation timeout. Zero keeps
// the client default.
func (m *Manager) SetHandshakeTimeout(d time.Duration) {
	m.handshakeTimeout = d
}

// CreateSession builds a session configuration from the agent settings,
// connects a new upstream client and returns it once the upstream confirms
// the session. On failure the partially-built client is closed before the
// error propagates; a half-connected client is never returned.
func (m *Manager) CreateSession(ctx context.Context, agentCfg agent.Config) (*upstream.Client, error) {
	client := upstream.NewClient(upstream.Config{
		APIKey:           m.apiKey,
		Model:            m.model,
		URL:              m.url,
		HandshakeTimeout: m.handshakeTimeout,
	})

	if err := client.Connect(ctx, sessionConfig(agentCfg)); err != nil {
		client.Close()
		return nil, &Error{Message: "create realtime session", Cause: err}
	}

	log.Printf("[session] created for agent %q (voice %s)", agentCfg.Name, agentCfg.Voice)
	return client, nil
}

// sessionConfig merges the agent settings into an upstream session
// configuration, including the document search tool declaration.
func sessionConfig(agentCfg agent.Config) upstream.SessionConfig {
	modalities := make([]upstream.Modality, 0, len(agentCfg.Modalities))
	for _, m := range agentCfg.Modalities {
		modalities = append(modalities, upstream.Modality(m))
	}

	cfg := upstream.SessionConfig{
		Modalities:        modalities,
		Voice:             agentCfg.Voice,
		Instructions:      agentCfg.Instructions,
		InputAudioFormat:  upstream.AudioFormat(agentCfg.InputAudioFormat),
		OutputAudioFormat: upstream.AudioFormat(agentCfg.OutputAudioFormat),
		Tools: []upstream.Tool{
			{
				Type:        "function",
				Name:        agent.SearchToolName,
				Description: agent.SearchToolDescription,
				Parameters: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"query": map[string]interface{}{
							"type":        "string",
							"description": "The user's question, rephrased as a search query.",
						},
					},
					"required": []string{"query"},
				},
			},
		},
	}

	if agentCfg.TurnDetection {
		cfg.TurnDetection = &upstream.TurnDetection{
			Type:              upstream.TurnDetectionTypeServerVAD,
			Threshold:         0.5,
			PrefixPaddingMs:   300,
			SilenceDurationMs: 500,
		}
	} else {
		cfg.TurnDetection = &upstream.TurnDetection{Type: upstream.TurnDetectionTypeNone}
	}

	return cfg
}
