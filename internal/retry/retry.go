// Package retry classifies retryable responses and computes wait schedules.
package retry

import (
	"net/http"
	"strconv"
	"time"
)

// ShouldRetry returns true if the HTTP status code indicates a retryable error.
// Retryable errors include:
//   - 429 (Too Many Requests) - rate limit exceeded
//   - 5xx (Server Errors) - temporary server-side issues, e.g. a controller restarting
func ShouldRetry(statusCode int) bool {
	return statusCode >= http.StatusInternalServerError || statusCode == http.StatusTooManyRequests
}

// IsUnauthenticated reports whether the controller rejected the request because
// the session cookie is missing or expired. Such responses are never retried
// as-is; the caller must re-login first.
func IsUnauthenticated(statusCode int) bool {
	return statusCode == http.StatusUnauthorized
}

// ParseRetryAfter parses the Retry-After HTTP header and returns the duration to wait.
// The Retry-After header can contain either:
//   - Number of seconds (e.g., "120")
//   - HTTP-date (not currently supported, returns 0)
//
// Returns 0 if the header is empty or cannot be parsed.
func ParseRetryAfter(retryAfterHeader string) time.Duration {
	if retryAfterHeader == "" {
		return 0
	}

	seconds, err := strconv.Atoi(retryAfterHeader)
	if err == nil {
		return time.Duration(seconds) * time.Second
	}

	return 0
}

// Backoff computes the wait before retry number attempt (zero-based).
type Backoff interface {
	Next(attempt int) time.Duration
}

// Fixed waits the same delay before every attempt.
type Fixed time.Duration

// Next returns the fixed delay regardless of attempt.
func (f Fixed) Next(int) time.Duration {
	return time.Duration(f)
}

// Exponential doubles Initial on every attempt: Initial * 2^attempt, capped at Max when Max is set.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// Next returns the exponential delay for the given attempt.
func (e Exponential) Next(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// Guard the shift against overflow on absurd attempt counts.
	const maxShift = 30
	if attempt > maxShift {
		attempt = maxShift
	}

	wait := e.Initial * time.Duration(1<<attempt)
	if e.Max > 0 && (wait > e.Max || wait <= 0) {
		return e.Max
	}
	return wait
}
