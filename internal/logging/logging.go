// Package logging builds the CLI's zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/lexfrei/go-unifi-events/internal/config"
)

// New creates a logger from cfg. The returned closer releases the log file
// when output is "file" and is a no-op otherwise.
func New(cfg config.LoggingConfig) (zerolog.Logger, io.Closer) {
	level := ParseLevel(cfg.Level)
	output, closer := writer(cfg)

	logger := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Logger()

	if level <= zerolog.DebugLevel {
		logger = logger.With().Caller().Logger()
	}

	return logger, closer
}

func writer(cfg config.LoggingConfig) (io.Writer, io.Closer) {
	var (
		output   io.Writer
		closer   io.Closer = nopCloser{}
		terminal bool
	)

	switch strings.ToLower(cfg.Output) {
	case "stdout":
		output = os.Stdout
		terminal = isatty.IsTerminal(os.Stdout.Fd())
	case "discard", "none":
		output = io.Discard
	case "file":
		rotating := &lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    cfg.File.MaxSize,
			MaxBackups: cfg.File.MaxBackups,
			MaxAge:     cfg.File.MaxAge,
			Compress:   cfg.File.Compress,
		}
		output = rotating
		closer = rotating
	default:
		output = os.Stderr
		terminal = isatty.IsTerminal(os.Stderr.Fd())
	}

	format := strings.ToLower(cfg.Format)
	if format == "auto" || format == "" {
		format = "json"
		if terminal {
			format = "console"
		}
	}

	if format == "console" || format == "pretty" {
		return zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.Kitchen,
			NoColor:    os.Getenv("NO_COLOR") != "",
		}, closer
	}

	return output, closer
}

// ParseLevel parses a log level name, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "warning":
		return zerolog.WarnLevel
	case "none", "off":
		return zerolog.Disabled
	case "":
		return zerolog.InfoLevel
	}

	l, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.InfoLevel
	}
	return l
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
