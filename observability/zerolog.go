package observability

import "github.com/rs/zerolog"

// zerologLogger adapts a zerolog.Logger to the Logger interface.
type zerologLogger struct {
	logger zerolog.Logger
}

// NewZerologLogger wraps a zerolog logger so it can be passed as a Logger.
//
//nolint:ireturn // Factory function must return interface for dependency injection pattern
func NewZerologLogger(logger zerolog.Logger) Logger {
	return &zerologLogger{logger: logger}
}

func (l *zerologLogger) Debug(msg string, fields ...Field) {
	l.write(l.logger.Debug(), msg, fields)
}

func (l *zerologLogger) Info(msg string, fields ...Field) {
	l.write(l.logger.Info(), msg, fields)
}

func (l *zerologLogger) Warn(msg string, fields ...Field) {
	l.write(l.logger.Warn(), msg, fields)
}

func (l *zerologLogger) Error(msg string, fields ...Field) {
	l.write(l.logger.Error(), msg, fields)
}

//nolint:ireturn // Method must return interface to satisfy Logger interface
func (l *zerologLogger) With(fields ...Field) Logger {
	ctx := l.logger.With()
	for _, f := range fields {
		ctx = ctx.Interface(f.Key, f.Value)
	}
	return &zerologLogger{logger: ctx.Logger()}
}

func (l *zerologLogger) write(event *zerolog.Event, msg string, fields []Field) {
	// Disabled levels return a nil event.
	if event == nil {
		return
	}
	for _, f := range fields {
		event = event.Interface(f.Key, f.Value)
	}
	event.Msg(msg)
}
