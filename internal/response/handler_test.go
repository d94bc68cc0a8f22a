package response_test

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexfrei/go-unifi-events/internal/response"
)

func newResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestDecode(t *testing.T) {
	t.Parallel()

	t.Run("envelope data", func(t *testing.T) {
		t.Parallel()

		var out []map[string]any
		err := response.Decode(newResponse(http.StatusOK,
			`{"meta":{"rc":"ok"},"data":[{"mac":"aa:bb:cc:dd:ee:ff"},{"mac":"11:22:33:44:55:66"}]}`), &out)
		require.NoError(t, err)

		require.Len(t, out, 2)
		assert.Equal(t, "aa:bb:cc:dd:ee:ff", out[0]["mac"])
	})

	t.Run("raw messages", func(t *testing.T) {
		t.Parallel()

		var out []json.RawMessage
		err := response.Decode(newResponse(http.StatusOK, `{"meta":{"rc":"ok"},"data":[{"name":"default"}]}`), &out)
		require.NoError(t, err)

		require.Len(t, out, 1)
		assert.JSONEq(t, `{"name":"default"}`, string(out[0]))
	})

	t.Run("plain body without envelope", func(t *testing.T) {
		t.Parallel()

		var out struct {
			Username string `json:"username"`
		}
		err := response.Decode(newResponse(http.StatusOK, `{"username":"admin"}`), &out)
		require.NoError(t, err)

		assert.Equal(t, "admin", out.Username)
	})

	t.Run("rc error with 200", func(t *testing.T) {
		t.Parallel()

		err := response.Decode(newResponse(http.StatusOK, `{"meta":{"rc":"error","msg":"api.err.NoSiteContext"},"data":[]}`), nil)
		require.Error(t, err)

		var apiErr *response.APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, "api.err.NoSiteContext", apiErr.Msg)
		assert.NotErrorIs(t, err, response.ErrUnauthenticated)
	})

	t.Run("login required envelope", func(t *testing.T) {
		t.Parallel()

		err := response.Decode(newResponse(http.StatusOK, `{"meta":{"rc":"error","msg":"api.err.LoginRequired"},"data":[]}`), nil)
		require.ErrorIs(t, err, response.ErrUnauthenticated)
	})

	t.Run("missing data", func(t *testing.T) {
		t.Parallel()

		var out []any
		err := response.Decode(newResponse(http.StatusOK, `{"meta":{"rc":"ok"}}`), &out)
		require.ErrorIs(t, err, response.ErrEmptyResponse)
	})

	t.Run("malformed data", func(t *testing.T) {
		t.Parallel()

		var out []string
		err := response.Decode(newResponse(http.StatusOK, `{"meta":{"rc":"ok"},"data":[1,2]}`), &out)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to decode response")
	})
}

func TestCheck(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name            string
		status          int
		body            string
		wantErr         bool
		unauthenticated bool
	}{
		{name: "ok", status: http.StatusOK, body: `{"meta":{"rc":"ok"},"data":[]}`},
		{name: "empty 204", status: http.StatusNoContent, body: ``},
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{"meta":{"rc":"error","msg":"api.err.LoginRequired"}}`, wantErr: true, unauthenticated: true},
		{name: "unauthorized without body", status: http.StatusUnauthorized, body: ``, wantErr: true, unauthenticated: true},
		{name: "forbidden", status: http.StatusForbidden, body: ``, wantErr: true},
		{name: "server error", status: http.StatusInternalServerError, body: `oops`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := response.Check(newResponse(tt.status, tt.body))
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.Equal(t, tt.unauthenticated, errors.Is(err, response.ErrUnauthenticated))
		})
	}
}

func TestIsOK(t *testing.T) {
	t.Parallel()

	assert.True(t, response.IsOK([]byte(`{"meta":{"rc":"ok"}}`)))
	assert.True(t, response.IsOK([]byte(`{"unique_id":"x"}`)))
	assert.False(t, response.IsOK([]byte(`{"meta":{"rc":"error"}}`)))
}
