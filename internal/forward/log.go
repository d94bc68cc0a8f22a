package forward

import (
	"context"

	"github.com/lexfrei/go-unifi-events/api/events"
	"github.com/lexfrei/go-unifi-events/observability"
)

// LogSink writes each event to a logger. The CLI uses it when no other sink
// is configured.
type LogSink struct {
	logger observability.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger observability.Logger) *LogSink {
	if logger == nil {
		logger = observability.NoopLogger()
	}
	return &LogSink{logger: logger}
}

// Name implements Sink.
func (s *LogSink) Name() string { return "log" }

// Send implements Sink.
func (s *LogSink) Send(_ context.Context, ev events.Event) error {
	s.logger.Info(FormatText(ev),
		observability.F("event", ev.Name),
		observability.F("key", ev.Key),
	)
	return nil
}

// Close implements Sink.
func (s *LogSink) Close() error { return nil }
