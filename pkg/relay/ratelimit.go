package relay

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/campusvoice/campusvoice/pkg/upstream"
)

// DefaultRateLimitWait is the fallback when the upstream's error text does
// not carry a parseable wait duration.
const DefaultRateLimitWait = 5 * time.Second

// retryDelayPatterns match the known phrasings of upstream rate-limit
// messages, e.g. "Please try again in 2.5s" or "retry after 30 seconds".
var retryDelayPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)try again in\s+([0-9]*\.?[0-9]+)\s*(ms|s|sec|second|seconds)?`),
	regexp.MustCompile(`(?i)retry(?:ing)?\s+(?:after|in)\s+([0-9]*\.?[0-9]+)\s*(ms|s|sec|second|seconds)?`),
}

// isRateLimit classifies an upstream error detail as a rate limit.
func isRateLimit(detail *upstream.ErrorDetail) bool {
	if detail == nil {
		return false
	}
	if detail.Code == "rate_limit_exceeded" || detail.Type == "rate_limit_error" {
		return true
	}
	return strings.Contains(strings.ToLower(detail.Message), "rate limit")
}

// retryDelay picks the wait before retrying after a rate limit: the
// structured seconds field when the upstream sent one, otherwise whatever
// parses out of the message text, otherwise the fallback.
func retryDelay(detail *upstream.ErrorDetail, fallback time.Duration) time.Duration {
	if detail == nil {
		return fallback
	}
	if detail.Seconds > 0 {
		return time.Duration(detail.Seconds * float64(time.Second))
	}
	return parseRetryDelay(detail.Message, fallback)
}

// parseRetryDelay extracts a wait duration from free-text rate-limit
// messages. This is best-effort by design: the upstream reports the wait
// only inside human-readable text, so unparseable messages fall back to the
// given default.
func parseRetryDelay(message string, fallback time.Duration) time.Duration {
	for _, pattern := range retryDelayPatterns {
		m := pattern.FindStringSubmatch(message)
		if m == nil {
			continue
		}
		value, err := strconv.ParseFloat(m[1], 64)
		if err != nil || value <= 0 {
			continue
		}
		if strings.EqualFold(m[2], "ms") {
			return time.Duration(value * float64(time.Millisecond))
		}
		return time.Duration(value * float64(time.Second))
	}
	return fallback
}
