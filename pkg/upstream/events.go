// Package upstream implements the client side of the OpenAI Realtime API
// wire protocol: the event vocabulary and a session client that owns one
// outbound streaming connection.
package upstream

import (
	"encoding/json"
	"fmt"
)

// Modality represents the supported modalities for the session.
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityAudio Modality = "audio"
)

// AudioFormat represents the supported audio formats.
type AudioFormat string

const (
	AudioFormatPCM16    AudioFormat = "pcm16"
	AudioFormatG711ULaw AudioFormat = "g711_ulaw"
	AudioFormatG711ALaw AudioFormat = "g711_alaw"
)

// TurnDetectionType represents the type of turn detection.
type TurnDetectionType string

const (
	TurnDetectionTypeServerVAD TurnDetectionType = "server_vad"
	TurnDetectionTypeNone      TurnDetectionType = "none"
)

// TurnDetection configures upstream end-of-speech detection.
type TurnDetection struct {
	Type              TurnDetectionType `json:"type"`
	Threshold         float64           `json:"threshold,omitempty"`
	PrefixPaddingMs   int               `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs int               `json:"silence_duration_ms,omitempty"`
	CreateResponse    *bool             `json:"create_response,omitempty"`
}

// Tool declares a function the assistant may call during a session.
type Tool struct {
	Type        string      `json:"type"` // "function"
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Parameters  interface{} `json:"parameters,omitempty"`
}

// SessionConfig is the session-configuration handshake payload sent in a
// session.update event immediately after the connection opens.
type SessionConfig struct {
	Modalities        []Modality     `json:"modalities,omitempty"`
	Voice             string         `json:"voice,omitempty"`
	Instructions      string         `json:"instructions,omitempty"`
	InputAudioFormat  AudioFormat    `json:"input_audio_format,omitempty"`
	OutputAudioFormat AudioFormat    `json:"output_audio_format,omitempty"`
	TurnDetection     *TurnDetection `json:"turn_detection,omitempty"`
	Tools             []Tool         `json:"tools,omitempty"`
	ToolChoice        string         `json:"tool_choice,omitempty"`
	Temperature       float64        `json:"temperature,omitempty"`
	MaxOutputTokens   int            `json:"max_output_tokens,omitempty"`
}

// ErrorDetail carries structured error information from the upstream.
type ErrorDetail struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`

	// Seconds is the structured retry wait some rate-limit errors carry.
	// Most carry the wait only inside Message.
	Seconds float64 `json:"seconds,omitempty"`
}

// ResponseStatus represents the terminal status of a response.
type ResponseStatus string

const (
	ResponseStatusInProgress ResponseStatus = "in_progress"
	ResponseStatusCompleted  ResponseStatus = "completed"
	ResponseStatusCancelled  ResponseStatus = "cancelled"
	ResponseStatusFailed     ResponseStatus = "failed"
)

// StatusDetails explains why a response reached its terminal status.
type StatusDetails struct {
	Type   string       `json:"type,omitempty"`
	Reason string       `json:"reason,omitempty"`
	Error  *ErrorDetail `json:"error,omitempty"`
}

// Response is the response object embedded in response.done events.
type Response struct {
	ID            string         `json:"id"`
	Status        ResponseStatus `json:"status"`
	StatusDetails *StatusDetails `json:"status_details,omitempty"`
}

// Client events (sent to the upstream)

// ClientEventType represents the type of event sent to the upstream.
type ClientEventType string

const (
	ClientEventTypeSessionUpdate          ClientEventType = "session.update"
	ClientEventTypeInputAudioBufferAppend ClientEventType = "input_audio_buffer.append"
	ClientEventTypeInputAudioBufferCommit ClientEventType = "input_audio_buffer.commit"
	ClientEventTypeConversationItemCreate ClientEventType = "conversation.item.create"
	ClientEventTypeResponseCreate         ClientEventType = "response.create"
)

// ClientEvent is the interface for all events sent to the upstream.
type ClientEvent interface {
	ClientEventType() ClientEventType
}

// BaseClientEvent contains the type tag shared by all client events.
type BaseClientEvent struct {
	Type ClientEventType `json:"type"`
}

func (e BaseClientEvent) ClientEventType() ClientEventType {
	return e.Type
}

// SessionUpdateEvent carries the session-configuration handshake.
type SessionUpdateEvent struct {
	BaseClientEvent
	Session SessionConfig `json:"session"`
}

func NewSessionUpdateEvent(session SessionConfig) SessionUpdateEvent {
	return SessionUpdateEvent{
		BaseClientEvent: BaseClientEvent{Type: ClientEventTypeSessionUpdate},
		Session:         session,
	}
}

// InputAudioBufferAppendEvent appends base64 audio to the input buffer.
type InputAudioBufferAppendEvent struct {
	BaseClientEvent
	Audio string `json:"audio"`
}

func NewInputAudioBufferAppendEvent(audio string) InputAudioBufferAppendEvent {
	return InputAudioBufferAppendEvent{
		BaseClientEvent: BaseClientEvent{Type: ClientEventTypeInputAudioBufferAppend},
		Audio:           audio,
	}
}

// InputAudioBufferCommitEvent commits the input audio buffer. Only used when
// server-side turn detection is disabled.
type InputAudioBufferCommitEvent struct {
	BaseClientEvent
}

func NewInputAudioBufferCommitEvent() InputAudioBufferCommitEvent {
	return InputAudioBufferCommitEvent{
		BaseClientEvent: BaseClientEvent{Type: ClientEventTypeInputAudioBufferCommit},
	}
}

// ConversationItem is the item payload of conversation.item.create.
type ConversationItem struct {
	Type   string `json:"type"` // "message", "function_call_output"
	Role   string `json:"role,omitempty"`
	CallID string `json:"call_id,omitempty"`
	Output string `json:"output,omitempty"`
}

// ConversationItemCreateEvent injects a new conversation item, e.g. the
// output of a completed tool call.
type ConversationItemCreateEvent struct {
	BaseClientEvent
	Item ConversationItem `json:"item"`
}

func NewFunctionCallOutputEvent(callID, output string) ConversationItemCreateEvent {
	return ConversationItemCreateEvent{
		BaseClientEvent: BaseClientEvent{Type: ClientEventTypeConversationItemCreate},
		Item: ConversationItem{
			Type:   "function_call_output",
			CallID: callID,
			Output: output,
		},
	}
}

// ResponseCreateEvent asks the upstream to produce a response.
type ResponseCreateEvent struct {
	BaseClientEvent
}

func NewResponseCreateEvent() ResponseCreateEvent {
	return ResponseCreateEvent{
		BaseClientEvent: BaseClientEvent{Type: ClientEventTypeResponseCreate},
	}
}

// Server events (received from the upstream)

// ServerEventType represents the type of event received from the upstream.
type ServerEventType string

const (
	ServerEventTypeError                             ServerEventType = "error"
	ServerEventTypeSessionCreated                    ServerEventType = "session.created"
	ServerEventTypeSessionUpdated                    ServerEventType = "session.updated"
	ServerEventTypeInputAudioBufferSpeechStarted     ServerEventType = "input_audio_buffer.speech_started"
	ServerEventTypeInputAudioBufferSpeechStopped     ServerEventType = "input_audio_buffer.speech_stopped"
	ServerEventTypeResponseAudioTranscriptDelta      ServerEventType = "response.audio_transcript.delta"
	ServerEventTypeResponseAudioTranscriptDone       ServerEventType = "response.audio_transcript.done"
	ServerEventTypeResponseAudioDelta                ServerEventType = "response.audio.delta"
	ServerEventTypeResponseAudioDone                 ServerEventType = "response.audio.done"
	ServerEventTypeResponseDone                      ServerEventType = "response.done"
	ServerEventTypeResponseFunctionCallArgumentsDone ServerEventType = "response.function_call_arguments.done"
)

// ServerEvent is the interface for all events received from the upstream.
type ServerEvent interface {
	ServerEventType() ServerEventType
}

// BaseServerEvent contains the fields shared by all server events.
type BaseServerEvent struct {
	EventID string          `json:"event_id,omitempty"`
	Type    ServerEventType `json:"type"`
}

func (e BaseServerEvent) ServerEventType() ServerEventType {
	return e.Type
}

// ErrorEvent is a protocol-level error from the upstream.
type ErrorEvent struct {
	BaseServerEvent
	Error ErrorDetail `json:"error"`
}

// SessionCreatedEvent confirms that the session was accepted. Receiving it
// (or SessionUpdatedEvent) is the handshake confirmation that gates audio.
type SessionCreatedEvent struct {
	BaseServerEvent
	Session json.RawMessage `json:"session,omitempty"`
}

// SessionUpdatedEvent acknowledges a session.update.
type SessionUpdatedEvent struct {
	BaseServerEvent
	Session json.RawMessage `json:"session,omitempty"`
}

// ResponseAudioTranscriptDeltaEvent carries an incremental transcript of the
// assistant audio.
type ResponseAudioTranscriptDeltaEvent struct {
	BaseServerEvent
	ResponseID string `json:"response_id,omitempty"`
	Delta      string `json:"delta"`
}

// ResponseAudioDeltaEvent carries a base64-encoded chunk of assistant audio.
type ResponseAudioDeltaEvent struct {
	BaseServerEvent
	ResponseID string `json:"response_id,omitempty"`
	Delta      string `json:"delta"`
}

// ResponseAudioDoneEvent signals the end of the assistant audio.
type ResponseAudioDoneEvent struct {
	BaseServerEvent
	ResponseID string `json:"response_id,omitempty"`
}

// ResponseDoneEvent carries the terminal status of a response.
type ResponseDoneEvent struct {
	BaseServerEvent
	Response Response `json:"response"`
}

// ResponseFunctionCallArgumentsDoneEvent signals a completed tool-call
// request with its full arguments.
type ResponseFunctionCallArgumentsDoneEvent struct {
	BaseServerEvent
	ResponseID string `json:"response_id,omitempty"`
	ItemID     string `json:"item_id,omitempty"`
	CallID     string `json:"call_id"`
	Name       string `json:"name"`
	Arguments  string `json:"arguments"`
}

// InputAudioBufferSpeechStartedEvent signals server-VAD speech onset.
type InputAudioBufferSpeechStartedEvent struct {
	BaseServerEvent
}

// InputAudioBufferSpeechStoppedEvent signals server-VAD speech end.
type InputAudioBufferSpeechStoppedEvent struct {
	BaseServerEvent
}

// GenericEvent holds any upstream event type the client does not model.
// Unknown events are delivered, not rejected; the relay ignores them.
type GenericEvent struct {
	BaseServerEvent
	Raw json.RawMessage `json:"-"`
}

// ParseServerEvent parses a JSON frame into a ServerEvent. Event types the
// client does not model parse into a GenericEvent rather than an error.
func ParseServerEvent(data []byte) (ServerEvent, error) {
	var base BaseServerEvent
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("parse event type: %w", err)
	}
	if base.Type == "" {
		return nil, fmt.Errorf("event without type field")
	}

	var event ServerEvent
	var err error

	switch base.Type {
	case ServerEventTypeError:
		var e ErrorEvent
		err = json.Unmarshal(data, &e)
		event = &e

	case ServerEventTypeSessionCreated:
		var e SessionCreatedEvent
		err = json.Unmarshal(data, &e)
		event = &e

	case ServerEventTypeSessionUpdated:
		var e SessionUpdatedEvent
		err = json.Unmarshal(data, &e)
		event = &e

	case ServerEventTypeInputAudioBufferSpeechStarted:
		var e InputAudioBufferSpeechStartedEvent
		err = json.Unmarshal(data, &e)
		event = &e

	case ServerEventTypeInputAudioBufferSpeechStopped:
		var e InputAudioBufferSpeechStoppedEvent
		err = json.Unmarshal(data, &e)
		event = &e

	case ServerEventTypeResponseAudioTranscriptDelta:
		var e ResponseAudioTranscriptDeltaEvent
		err = json.Unmarshal(data, &e)
		event = &e

	case ServerEventTypeResponseAudioDelta:
		var e ResponseAudioDeltaEvent
		err = json.Unmarshal(data, &e)
		event = &e

	case ServerEventTypeResponseAudioDone:
		var e ResponseAudioDoneEvent
		err = json.Unmarshal(data, &e)
		event = &e

	case ServerEventTypeResponseDone:
		var e ResponseDoneEvent
		err = json.Unmarshal(data, &e)
		event = &e

	case ServerEventTypeResponseFunctionCallArgumentsDone:
		var e ResponseFunctionCallArgumentsDoneEvent
		err = json.Unmarshal(data, &e)
		event = &e

	default:
		return &GenericEvent{BaseServerEvent: base, Raw: data}, nil
	}

	if err != nil {
		return nil, fmt.Errorf("parse %s event: %w", base.Type, err)
	}

	return event, nil
}
