package middleware

import (
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/lexfrei/go-unifi-events/observability"
)

// Observability returns a middleware that logs and records metrics for HTTP requests.
// Request bodies are never logged: the login call carries the password.
func Observability(logger observability.Logger, metrics observability.MetricsRecorder) func(http.RoundTripper) http.RoundTripper {
	if logger == nil {
		logger = observability.NoopLogger()
	}
	if metrics == nil {
		metrics = observability.NoopMetricsRecorder()
	}

	return func(next http.RoundTripper) http.RoundTripper {
		return &observabilityTransport{
			next:    next,
			logger:  logger,
			metrics: metrics,
		}
	}
}

type observabilityTransport struct {
	next    http.RoundTripper
	logger  observability.Logger
	metrics observability.MetricsRecorder
}

func (t *observabilityTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	path := normalizePath(req.URL.Path)

	t.logger.Debug("http request started",
		observability.F("method", req.Method),
		observability.F("path", path),
	)

	resp, err := t.next.RoundTrip(req)

	duration := time.Since(start)

	if err != nil {
		t.logger.Warn("http request failed",
			observability.F("method", req.Method),
			observability.F("path", path),
			observability.F("duration", duration),
			observability.Err(err),
		)

		t.metrics.RecordError("http_request", "NetworkError")

		//nolint:wrapcheck // Observability middleware logs error but passes it through unchanged
		return nil, err
	}

	fields := []observability.Field{
		observability.F("method", req.Method),
		observability.F("path", path),
		observability.F("status", resp.StatusCode),
		observability.F("duration", duration),
	}

	if resp.StatusCode >= http.StatusBadRequest {
		t.logger.Warn("http request completed with error", fields...)
	} else {
		t.logger.Debug("http request completed", fields...)
	}

	t.metrics.RecordHTTPRequest(req.Method, path, resp.StatusCode, duration)

	return resp, nil
}

var (
	// idPattern matches MAC addresses and 24-char ObjectIDs used by the controller.
	idPattern = regexp.MustCompile(`(?i)([0-9a-f]{2}:){5}[0-9a-f]{2}|[0-9a-f]{24}`)
	// sitePattern matches site names in paths: /api/s/{site}/ → /api/s/:site/.
	sitePattern = regexp.MustCompile(`/(api|wss)/s/[^/]+(/|$)`)

	// normalizedPathCache caches normalized paths; controllers expose a small fixed set of endpoints.
	normalizedPathCache sync.Map
)

// normalizePath replaces site names, MAC addresses and ObjectIDs with
// placeholders so metrics labels stay bounded.
//
// Examples:
//   - /api/s/default/stat/device/f0:9f:c2:11:22:33 → /api/s/:site/stat/device/:id
//   - /proxy/network/api/s/office/rest/user/5f1e2d3c4b5a697887766554 → /proxy/network/api/s/:site/rest/user/:id
func normalizePath(path string) string {
	if cached, ok := normalizedPathCache.Load(path); ok {
		//nolint:forcetypeassert // Cache only stores strings, type assertion is safe
		return cached.(string)
	}

	normalized := idPattern.ReplaceAllString(path, ":id")
	normalized = sitePattern.ReplaceAllString(normalized, "/$1/s/:site$2")

	normalizedPathCache.Store(path, normalized)

	return normalized
}
