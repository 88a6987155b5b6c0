// Package agent defines the voice-agent configuration: instructions, voice,
// audio formats and the tools the agent may call.
package agent

import "github.com/campusvoice/campusvoice/pkg/config"

// SearchToolName is the function name the upstream uses to request a
// document search.
const SearchToolName = "search_documents"

// SearchToolDescription tells the model when to call the search tool.
const SearchToolDescription = "Search the campus knowledge base (brochures, " +
	"student guides, internship records) for information relevant to the " +
	"user's question. Call this whenever the answer may depend on campus-" +
	"specific facts."

// Config describes a voice agent. Immutable once built; a fresh session
// configuration is derived from it on every session (re)creation.
type Config struct {
	Name              string
	Instructions      string
	Voice             string
	InputAudioFormat  string
	OutputAudioFormat string
	Modalities        []string

	// TurnDetection enables upstream server-VAD end-of-turn detection.
	// When enabled, the client-side user_audio_end signal is a no-op.
	TurnDetection bool
}

// FromConfig builds the default agent from process configuration.
func FromConfig(cfg *config.Config) Config {
	return Config{
		Name:              "campus-assistant",
		Instructions:      cfg.Instructions,
		Voice:             cfg.Voice,
		InputAudioFormat:  cfg.InputAudioFormat,
		OutputAudioFormat: cfg.OutputAudioFormat,
		Modalities:        []string{"text", "audio"},
		TurnDetection:     true,
	}
}
