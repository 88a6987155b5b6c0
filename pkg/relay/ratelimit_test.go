package relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/campusvoice/campusvoice/pkg/upstream"
)

func TestParseRetryDelay(t *testing.T) {
	fallback := 5 * time.Second

	tests := []struct {
		name     string
		message  string
		expected time.Duration
	}{
		{"seconds with unit", "Rate limit reached. Please try again in 2s.", 2 * time.Second},
		{"fractional seconds", "Please try again in 2.5s.", 2500 * time.Millisecond},
		{"milliseconds", "Please try again in 350ms.", 350 * time.Millisecond},
		{"spelled out seconds", "Rate limit reached, try again in 30 seconds.", 30 * time.Second},
		{"retry after phrasing", "Too many requests, retry after 12s", 12 * time.Second},
		{"retrying in phrasing", "retrying in 1.5 seconds", 1500 * time.Millisecond},
		{"bare number defaults to seconds", "try again in 4", 4 * time.Second},
		{"no duration", "Rate limit reached.", fallback},
		{"empty message", "", fallback},
		{"zero duration", "try again in 0s", fallback},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseRetryDelay(tt.message, fallback))
		})
	}
}

func TestRetryDelay_PrefersStructuredSeconds(t *testing.T) {
	fallback := 5 * time.Second

	detail := &upstream.ErrorDetail{
		Code:    "rate_limit_exceeded",
		Message: "Please try again in 30s.",
		Seconds: 2.5,
	}
	assert.Equal(t, 2500*time.Millisecond, retryDelay(detail, fallback))

	detail.Seconds = 0
	assert.Equal(t, 30*time.Second, retryDelay(detail, fallback))

	assert.Equal(t, fallback, retryDelay(nil, fallback))
}

func TestIsRateLimit(t *testing.T) {
	tests := []struct {
		name     string
		detail   *upstream.ErrorDetail
		expected bool
	}{
		{"nil detail", nil, false},
		{"rate limit code", &upstream.ErrorDetail{Code: "rate_limit_exceeded"}, true},
		{"rate limit type", &upstream.ErrorDetail{Type: "rate_limit_error"}, true},
		{"message mention", &upstream.ErrorDetail{Message: "You hit the rate limit"}, true},
		{"mixed case message", &upstream.ErrorDetail{Message: "Rate Limit reached"}, true},
		{"unrelated error", &upstream.ErrorDetail{Code: "invalid_request", Message: "bad params"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isRateLimit(tt.detail))
		})
	}
}

func TestIsConnectionFailure(t *testing.T) {
	assert.False(t, isConnectionFailure(nil))
	assert.True(t, isConnectionFailure(&upstream.ErrorDetail{Type: "server_error"}))
	assert.True(t, isConnectionFailure(&upstream.ErrorDetail{Code: "session_expired"}))
	assert.True(t, isConnectionFailure(&upstream.ErrorDetail{Message: "Connection closed unexpectedly"}))
	assert.False(t, isConnectionFailure(&upstream.ErrorDetail{Message: "invalid audio format"}))
}
