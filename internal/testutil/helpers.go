// Package testutil provides common testing utilities and helpers.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// NewMockServer creates a test HTTP server with predefined response.
// It validates the request path, then returns the specified response.
func NewMockServer(t *testing.T, expectedPath, responseBody string, statusCode int) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, expectedPath, r.URL.Path, "Request path should match expected")

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		_, err := w.Write([]byte(responseBody))
		assert.NoError(t, err, "Failed to write response body")
	}))
}

// Eventually waits for cond with the tick and deadline used across the event tests.
func Eventually(t *testing.T, cond func() bool, msgAndArgs ...any) {
	t.Helper()
	require.Eventually(t, cond, EventuallyTimeout, EventuallyTick, msgAndArgs...)
}
