// Package ratelimit builds token-bucket limiters for controller REST calls.
package ratelimit

import "golang.org/x/time/rate"

// NewRateLimiter creates a new rate limiter with specified requests per minute.
// Tokens are replenished continuously at requestsPerMinute/60 per second with a
// burst capacity equal to requestsPerMinute.
//
// A non-positive requestsPerMinute disables limiting and returns nil, which the
// rate limit middleware treats as "pass through".
func NewRateLimiter(requestsPerMinute int) *rate.Limiter {
	if requestsPerMinute <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), requestsPerMinute)
}
