package events

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// ErrClosed is returned by operations on a client whose stream has been closed.
var ErrClosed = errors.New("event stream closed")

// Authentication failures. Every *AuthError matches ErrAuth and its kind.
var (
	ErrAuth               = errors.New("authentication failed")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnreachable        = errors.New("controller unreachable")
	ErrUnexpectedResponse = errors.New("unexpected login response")
)

// Stream failures. They never surface as return values; they are reported on
// the status channel. Every *StreamError matches ErrStream and its kind.
var (
	ErrStream          = errors.New("event stream failure")
	ErrHandshake       = errors.New("websocket handshake failed")
	ErrUnexpectedClose = errors.New("websocket closed unexpectedly")
	ErrMalformedFrame  = errors.New("too many malformed frames")
)

// Protocol failures for a single frame. Every *ProtocolError matches
// ErrProtocol and its kind.
var (
	ErrProtocol             = errors.New("protocol error")
	ErrUnparseablePayload   = errors.New("unparseable payload")
	ErrNonConformingPayload = errors.New("payload has no data array")
)

// AuthError describes a failed login or session probe.
type AuthError struct {
	// Kind is one of ErrInvalidCredentials, ErrUnreachable or ErrUnexpectedResponse.
	Kind error
	// StatusCode is the HTTP status, zero when no response arrived.
	StatusCode int
	Err        error
}

func (e *AuthError) Error() string {
	msg := e.Kind.Error()
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthError) Unwrap() error { return e.Err }

// Is matches ErrAuth and the error's kind.
func (e *AuthError) Is(target error) bool {
	//nolint:errorlint // Sentinel comparison
	return target == ErrAuth || target == e.Kind
}

// StreamError describes why an event connection was lost.
type StreamError struct {
	// Kind is one of ErrHandshake, ErrUnexpectedClose or ErrMalformedFrame.
	Kind       error
	StatusCode int
	Err        error
}

func (e *StreamError) Error() string {
	msg := e.Kind.Error()
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StreamError) Unwrap() error { return e.Err }

// Is matches ErrStream and the error's kind.
func (e *StreamError) Is(target error) bool {
	//nolint:errorlint // Sentinel comparison
	return target == ErrStream || target == e.Kind
}

// ProtocolError describes a frame that could not be turned into events.
type ProtocolError struct {
	// Kind is ErrUnparseablePayload or ErrNonConformingPayload.
	Kind error
	// Payload is the offending frame, truncated for logging.
	Payload string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %q", e.Kind.Error(), e.Payload)
}

// Is matches ErrProtocol and the error's kind.
func (e *ProtocolError) Is(target error) bool {
	//nolint:errorlint // Sentinel comparison
	return target == ErrProtocol || target == e.Kind
}

const maxPayloadInError = 256

func newProtocolError(kind error, payload []byte) *ProtocolError {
	if len(payload) > maxPayloadInError {
		payload = payload[:maxPayloadInError]
	}
	return &ProtocolError{Kind: kind, Payload: string(payload)}
}
