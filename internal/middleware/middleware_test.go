package middleware_test

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexfrei/go-unifi-events/internal/middleware"
	"github.com/lexfrei/go-unifi-events/observability"
)

func TestCSRF(t *testing.T) {
	t.Parallel()

	var got atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.Header.Get(middleware.CSRFHeader))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	var token atomic.Value
	token.Store("token-1")
	transport := middleware.CSRF(func() string { return token.Load().(string) })(http.DefaultTransport)

	req, _ := http.NewRequest(http.MethodPost, server.URL, http.NoBody)
	resp, err := transport.RoundTrip(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "token-1", got.Load())
	assert.Empty(t, req.Header.Get(middleware.CSRFHeader), "original request must not be modified")

	// The value is read per request, so a rotated token is picked up.
	token.Store("token-2")
	req, _ = http.NewRequest(http.MethodPost, server.URL, http.NoBody)
	resp, err = transport.RoundTrip(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "token-2", got.Load())
}

func TestHeaderEmptyValueSkipped(t *testing.T) {
	t.Parallel()

	var present atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok := r.Header["X-Custom"]
		present.Store(ok)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	transport := middleware.Header("X-Custom", func() string { return "" })(http.DefaultTransport)

	req, _ := http.NewRequest(http.MethodGet, server.URL, http.NoBody)
	resp, err := transport.RoundTrip(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.False(t, present.Load())
}

func TestTLSConfig(t *testing.T) {
	t.Parallel()

	config := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	transport := middleware.TLSConfig(config)(http.DefaultTransport)

	httpTransport, ok := transport.(*http.Transport)
	require.True(t, ok, "transport is not *http.Transport")
	require.NotNil(t, httpTransport.TLSClientConfig)

	assert.Equal(t, uint16(tls.VersionTLS12), httpTransport.TLSClientConfig.MinVersion)
	assert.NotSame(t, http.DefaultTransport, transport, "default transport must be cloned")
}

func TestClientTLSConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		insecure bool
	}{
		{name: "verified", insecure: false},
		{name: "self-signed controller", insecure: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			config := middleware.ClientTLSConfig(tt.insecure)
			require.NotNil(t, config)

			assert.Equal(t, tt.insecure, config.InsecureSkipVerify)
			assert.Equal(t, uint16(tls.VersionTLS12), config.MinVersion)
		})
	}
}

func TestObservability(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	logger := observability.NoopLogger()
	metrics := observability.NoopMetricsRecorder()

	transport := middleware.Observability(logger, metrics)(http.DefaultTransport)

	req, _ := http.NewRequest(http.MethodGet, server.URL, http.NoBody)
	resp, err := transport.RoundTrip(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestObservabilityWithNilParams(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	// Should use no-op implementations
	transport := middleware.Observability(nil, nil)(http.DefaultTransport)

	req, _ := http.NewRequest(http.MethodGet, server.URL, http.NoBody)
	resp, err := transport.RoundTrip(req)
	require.NoError(t, err)
	defer resp.Body.Close()
}
