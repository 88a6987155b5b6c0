// Package config loads and validates process configuration from the
// environment. Values are read once at startup and treated as read-only.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the process-wide configuration.
type Config struct {
	// Addr is the HTTP listen address (e.g. ":8080").
	Addr string

	// WSPath is the client WebSocket endpoint path.
	WSPath string

	// Environment is the deployment environment (development, production).
	Environment string

	OpenAIAPIKey  string
	RealtimeModel string

	// RealtimeURL overrides the upstream realtime endpoint. Empty means the
	// production endpoint.
	RealtimeURL string

	Instructions      string
	Voice             string
	InputAudioFormat  string
	OutputAudioFormat string

	// DatabaseURL is the Postgres connection string for the document store.
	// Empty disables retrieval.
	DatabaseURL string

	EmbeddingModel string

	TraceExporter string
	OTLPEndpoint  string
}

// Load reads the configuration from the environment and validates the
// required variables.
func Load() (*Config, error) {
	cfg := &Config{
		Addr:              ":" + GetEnv("PORT", "8080"),
		WSPath:            GetEnv("WS_PATH", "/ws/realtime"),
		Environment:       GetEnv("ENVIRONMENT", "development"),
		OpenAIAPIKey:      os.Getenv("OPENAI_API_KEY"),
		RealtimeModel:     GetEnv("OPENAI_REALTIME_MODEL", "gpt-4o-realtime-preview"),
		RealtimeURL:       os.Getenv("OPENAI_REALTIME_URL"),
		Instructions:      os.Getenv("ASSISTANT_INSTRUCTIONS"),
		Voice:             GetEnv("ASSISTANT_VOICE", "alloy"),
		InputAudioFormat:  GetEnv("ASSISTANT_INPUT_AUDIO_FORMAT", "pcm16"),
		OutputAudioFormat: GetEnv("ASSISTANT_OUTPUT_AUDIO_FORMAT", "pcm16"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		EmbeddingModel:    GetEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
		TraceExporter:     GetEnv("TRACE_EXPORTER", "none"),
		OTLPEndpoint:      GetEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
	}

	if cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	if cfg.Instructions == "" {
		return nil, fmt.Errorf("ASSISTANT_INSTRUCTIONS is required")
	}

	return cfg, nil
}

// GetEnv gets an environment variable with a default value.
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvInt gets an integer environment variable with a default value.
func GetEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// GetEnvDuration gets a duration environment variable with a default value.
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
