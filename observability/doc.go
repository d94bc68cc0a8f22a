// Package observability provides interfaces for logging and metrics collection
// in the go-unifi-events library.
//
// This package defines standard interfaces that allow users to integrate their
// own logging and metrics implementations with the event stream client.
//
// # Logger Interface
//
// The Logger interface supports structured logging with key-value pairs:
//
//	logger := myCustomLogger{} // implements observability.Logger
//	client, err := events.NewWithConfig(&events.ClientConfig{
//		Host:     "unifi.local",
//		Username: "admin",
//		Password: "secret",
//		Logger:   logger,
//	})
//
// A zerolog-backed implementation is available via NewZerologLogger.
//
// Supported log levels:
//   - Debug: Detailed diagnostic information (frames, HTTP round trips)
//   - Info: Connection lifecycle (connected, reconnecting, closed)
//   - Warn: Recoverable failures (login retried, malformed frames)
//   - Error: Failures the stream cannot recover from on its own
//
// # MetricsRecorder Interface
//
// The MetricsRecorder interface tracks client metrics:
//   - HTTP request count, status codes, and duration
//   - Retry attempts and rate limiting waits for REST calls
//   - Login attempts and their outcome
//   - Reconnect attempts of the event stream
//   - Dispatched events by name
//
// # Default Behavior
//
// If no logger or metrics recorder is provided, the client uses no-op
// implementations that discard all events.
package observability
