// Package response decodes the controller's JSON envelope and classifies status codes.
//
// Network application endpoints wrap their payload as
//
//	{"meta":{"rc":"ok"},"data":[...]}
//
// and report failures with "rc":"error" plus a message code such as
// "api.err.LoginRequired", sometimes alongside a 200 status.
package response

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/tidwall/gjson"

	"github.com/lexfrei/go-unifi-events/internal/retry"
)

// maxBodySize bounds how much of a response body is read into memory.
const maxBodySize = 16 << 20

const (
	rcOK = "ok"

	// msgLoginRequired is the envelope code for an expired or missing session.
	msgLoginRequired = "api.err.LoginRequired"
)

var (
	// ErrUnauthenticated matches responses rejected for a missing or expired session.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrEmptyResponse is returned when a body was expected but none arrived.
	ErrEmptyResponse = errors.New("empty response from API")
)

// APIError is a non-success answer from the controller.
type APIError struct {
	StatusCode int
	// Msg is the envelope's meta.msg, when present.
	Msg string
}

func (e *APIError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("API error: status=%d msg=%s", e.StatusCode, e.Msg)
	}
	return fmt.Sprintf("API error: status=%d", e.StatusCode)
}

// Is lets errors.Is(err, ErrUnauthenticated) match session rejections.
func (e *APIError) Is(target error) bool {
	//nolint:errorlint // Sentinel comparison
	return target == ErrUnauthenticated && e.Unauthenticated()
}

// Unauthenticated reports whether the controller rejected the session.
func (e *APIError) Unauthenticated() bool {
	return retry.IsUnauthenticated(e.StatusCode) || e.Msg == msgLoginRequired
}

// Decode reads resp, checks the status code and the envelope's meta.rc, and
// unmarshals the "data" field into out. Bodies without an envelope (UniFi OS
// endpoints such as /api/users/self) are unmarshalled whole. A nil out only
// validates. The body is always closed.
func Decode(resp *http.Response, out any) error {
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return errors.Wrap(err, "failed to read response body")
	}

	meta := gjson.GetBytes(body, "meta")
	msg := meta.Get("msg").String()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return &APIError{StatusCode: resp.StatusCode, Msg: msg}
	}

	if !IsOK(body) {
		status := resp.StatusCode
		if msg == msgLoginRequired {
			status = http.StatusUnauthorized
		}
		return &APIError{StatusCode: status, Msg: msg}
	}

	if out == nil {
		return nil
	}

	if len(body) == 0 {
		return ErrEmptyResponse
	}

	payload := body
	if meta.Exists() {
		data := gjson.GetBytes(body, "data")
		if !data.Exists() {
			return ErrEmptyResponse
		}
		payload = []byte(data.Raw)
	}

	return errors.Wrap(json.Unmarshal(payload, out), "failed to decode response")
}

// Check validates resp like Decode without reading a payload.
func Check(resp *http.Response) error {
	return Decode(resp, nil)
}

// IsOK reports whether an envelope body declares success. Bodies without an
// envelope count as success.
func IsOK(body []byte) bool {
	rc := gjson.GetBytes(body, "meta.rc")
	return !rc.Exists() || rc.String() == rcOK
}
