// Package wire defines the JSON message contracts between the browser
// frontend and the relay. Binary frames (raw PCM16 audio) are out-of-band
// and never carry one of these envelopes.
package wire

import (
	"encoding/json"
	"fmt"
)

// ClientMessageType is the type tag of a frontend-to-backend envelope.
type ClientMessageType string

const (
	ClientMessageTypeStartConversation ClientMessageType = "start_conversation"
	ClientMessageTypeUserAudioEnd      ClientMessageType = "user_audio_end"
	ClientMessageTypeResetSession      ClientMessageType = "reset_session"
)

// ServerMessageType is the type tag of a backend-to-frontend envelope.
type ServerMessageType string

const (
	ServerMessageTypeReady           ServerMessageType = "ready"
	ServerMessageTypeBotAudioEnd     ServerMessageType = "bot_audio_end"
	ServerMessageTypeTranscriptDelta ServerMessageType = "transcript_delta"
	ServerMessageTypeError           ServerMessageType = "error"
)

// ClientMessage is a parsed frontend envelope. The set of valid types is
// closed; ParseClientMessage rejects anything else.
type ClientMessage struct {
	Type ClientMessageType `json:"type"`
}

// ServerMessage is a backend envelope sent to the frontend.
type ServerMessage struct {
	Type    ServerMessageType `json:"type"`
	Text    string            `json:"text,omitempty"`
	Message string            `json:"message,omitempty"`
}

// InvalidMessageError reports a frontend envelope that is not part of the
// protocol. It is surfaced to the client as a non-fatal error envelope.
type InvalidMessageError struct {
	Reason string
}

func (e *InvalidMessageError) Error() string {
	return fmt.Sprintf("invalid client message: %s", e.Reason)
}

// ParseClientMessage validates and parses a frontend JSON envelope.
func ParseClientMessage(data []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, &InvalidMessageError{Reason: "malformed JSON"}
	}

	switch msg.Type {
	case ClientMessageTypeStartConversation,
		ClientMessageTypeUserAudioEnd,
		ClientMessageTypeResetSession:
		return &msg, nil
	case "":
		return nil, &InvalidMessageError{Reason: "missing type field"}
	default:
		return nil, &InvalidMessageError{Reason: fmt.Sprintf("unknown type %q", msg.Type)}
	}
}

// NewReadyMessage signals that the upstream session is ready for audio.
func NewReadyMessage() ServerMessage {
	return ServerMessage{Type: ServerMessageTypeReady}
}

// NewBotAudioEndMessage signals the end of an assistant audio turn.
func NewBotAudioEndMessage() ServerMessage {
	return ServerMessage{Type: ServerMessageTypeBotAudioEnd}
}

// NewTranscriptDeltaMessage carries an incremental assistant transcript.
func NewTranscriptDeltaMessage(text string) ServerMessage {
	return ServerMessage{Type: ServerMessageTypeTranscriptDelta, Text: text}
}

// NewErrorMessage carries a human-readable error to the frontend.
func NewErrorMessage(message string) ServerMessage {
	return ServerMessage{Type: ServerMessageTypeError, Message: message}
}
