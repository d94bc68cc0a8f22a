package middleware

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/lexfrei/go-unifi-events/internal/retry"
	"github.com/lexfrei/go-unifi-events/observability"
)

// RetryConfig configures the retry middleware.
type RetryConfig struct {
	MaxRetries  int
	InitialWait time.Duration
	MaxWait     time.Duration
	Logger      observability.Logger
	Metrics     observability.MetricsRecorder
}

// Retry returns a middleware that retries failed requests with exponential backoff.
// It retries on:
// - Network errors (connection failures, timeouts).
// - 5xx server errors (a controller that is still booting answers 502/503).
// - 429 rate limit errors (respects Retry-After header).
//
// It does NOT retry on:
// - 4xx client errors (except 429). A 401 is handled by re-login, not by replay.
// - Successful responses (2xx, 3xx).
func Retry(cfg RetryConfig) func(http.RoundTripper) http.RoundTripper {
	if cfg.Logger == nil {
		cfg.Logger = observability.NoopLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NoopMetricsRecorder()
	}

	return func(next http.RoundTripper) http.RoundTripper {
		return &retryTransport{
			next:       next,
			maxRetries: cfg.MaxRetries,
			backoff:    retry.Exponential{Initial: cfg.InitialWait, Max: cfg.MaxWait},
			logger:     cfg.Logger,
			metrics:    cfg.Metrics,
		}
	}
}

type retryTransport struct {
	next       http.RoundTripper
	maxRetries int
	backoff    retry.Backoff
	logger     observability.Logger
	metrics    observability.MetricsRecorder
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	// Buffer the body so it can be replayed.
	var bodyBytes []byte
	if req.Body != nil && req.Body != http.NoBody {
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, errors.Wrap(err, "failed to read request body")
		}
	}

	var lastErr error
	var lastResp *http.Response

	for attempt := 0; attempt <= t.maxRetries; attempt++ {
		if bodyBytes != nil {
			req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}

		resp, err := t.next.RoundTrip(req)

		if err == nil && !retry.ShouldRetry(resp.StatusCode) {
			return resp, nil
		}

		lastErr = err
		lastResp = resp

		if attempt == t.maxRetries {
			break
		}

		path := normalizePath(req.URL.Path)
		t.logger.Warn("retrying request",
			observability.F("attempt", attempt+1),
			observability.F("max_retries", t.maxRetries),
			observability.F("path", path),
			observability.F("method", req.Method),
		)

		t.metrics.RecordRetry(attempt+1, path)

		waitTime := t.calculateWait(attempt, resp)

		select {
		case <-time.After(waitTime):
		case <-ctx.Done():
			if resp != nil {
				resp.Body.Close()
			}
			return nil, errors.Wrap(ctx.Err(), "context canceled during retry wait")
		}

		if resp != nil {
			resp.Body.Close()
		}
	}

	// All retries exhausted
	if lastResp != nil {
		return lastResp, nil
	}

	return nil, errors.Wrapf(lastErr, "request failed after %d retries", t.maxRetries)
}

// calculateWait honours Retry-After on 429 responses and falls back to the backoff schedule.
func (t *retryTransport) calculateWait(attempt int, resp *http.Response) time.Duration {
	if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
		if wait := retry.ParseRetryAfter(resp.Header.Get("Retry-After")); wait > 0 {
			t.logger.Debug("using Retry-After header", observability.F("wait", wait))
			return wait
		}
	}

	return t.backoff.Next(attempt)
}
