package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"

	"github.com/lexfrei/go-unifi-events/observability"
)

// RateLimiterSelector chooses which rate limiter to use for a given request.
// Returns the rate limiter and a descriptive name for logging/metrics.
// A nil limiter lets the request through without waiting.
type RateLimiterSelector func(*http.Request) (*rate.Limiter, string)

// RateLimitConfig configures the rate limit middleware.
type RateLimitConfig struct {
	Limiter  *rate.Limiter       // Single limiter (used if Selector is nil)
	Selector RateLimiterSelector // Optional: select limiter based on request
	Logger   observability.Logger
	Metrics  observability.MetricsRecorder
}

// LoginSelector sends login requests through loginLimiter and everything else
// through restLimiter. UniFi OS consoles lock out clients that hammer the
// login endpoint, so logins get their own, slower bucket.
func LoginSelector(loginLimiter, restLimiter *rate.Limiter) RateLimiterSelector {
	return func(req *http.Request) (*rate.Limiter, string) {
		if strings.HasSuffix(req.URL.Path, "/api/login") || strings.HasSuffix(req.URL.Path, "/api/auth/login") {
			return loginLimiter, "login"
		}
		return restLimiter, "rest"
	}
}

// RateLimit returns a middleware that applies rate limiting to requests.
//
// Two modes of operation:
// 1. Single limiter: Set cfg.Limiter for uniform rate limiting
// 2. Selector mode: Set cfg.Selector to choose limiter per request (e.g., login vs REST)
func RateLimit(cfg RateLimitConfig) func(http.RoundTripper) http.RoundTripper {
	if cfg.Logger == nil {
		cfg.Logger = observability.NoopLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NoopMetricsRecorder()
	}

	return func(next http.RoundTripper) http.RoundTripper {
		return &rateLimitTransport{
			next:     next,
			limiter:  cfg.Limiter,
			selector: cfg.Selector,
			logger:   cfg.Logger,
			metrics:  cfg.Metrics,
		}
	}
}

type rateLimitTransport struct {
	next     http.RoundTripper
	limiter  *rate.Limiter
	selector RateLimiterSelector
	logger   observability.Logger
	metrics  observability.MetricsRecorder
}

func (t *rateLimitTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	limiter := t.limiter
	endpoint := "default"

	if t.selector != nil {
		limiter, endpoint = t.selector(req)
	}

	if limiter != nil {
		err := t.wait(req.Context(), limiter, endpoint, req.URL.Path)
		if err != nil {
			return nil, err
		}
	}

	//nolint:wrapcheck // Middleware passes through errors from next handler in chain
	return t.next.RoundTrip(req)
}

func (t *rateLimitTransport) wait(ctx context.Context, limiter *rate.Limiter, endpoint, path string) error {
	reservation := limiter.Reserve()
	if !reservation.OK() {
		return errors.New("rate limit reservation failed")
	}

	delay := reservation.Delay()
	if delay <= 0 {
		return nil
	}

	t.logger.Debug("rate limit delay",
		observability.F("endpoint", endpoint),
		observability.F("delay", delay),
		observability.F("path", normalizePath(path)),
	)

	t.metrics.RecordRateLimit(endpoint, delay)

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		reservation.Cancel()
		return errors.Wrap(ctx.Err(), "context canceled during rate limit wait")
	}
}
