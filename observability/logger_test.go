package observability_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexfrei/go-unifi-events/observability"
)

func TestNoopLogger(t *testing.T) {
	t.Parallel()

	logger := observability.NoopLogger()

	// All methods should execute without panicking
	logger.Debug("test debug")
	logger.Info("test info")
	logger.Warn("test warn")
	logger.Error("test error")

	newLogger := logger.With(observability.F("key", "value"))
	require.NotNil(t, newLogger)

	newLogger.Info("test with logger")
}

func TestFieldHelpers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		field observability.Field
		key   string
		value any
	}{
		{
			name:  "string value",
			field: observability.F("name", "test"),
			key:   "name",
			value: "test",
		},
		{
			name:  "int value",
			field: observability.F("count", 42),
			key:   "count",
			value: 42,
		},
		{
			name:  "error value",
			field: observability.Err(errors.New("boom")),
			key:   "error",
			value: "boom",
		},
		{
			name:  "nil error",
			field: observability.Err(nil),
			key:   "error",
			value: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.key, tt.field.Key)
			assert.Equal(t, tt.value, tt.field.Value)
		})
	}
}

func TestZerologLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	base := zerolog.New(&buf).Level(zerolog.InfoLevel)

	logger := observability.NewZerologLogger(base).With(observability.F("component", "stream"))
	logger.Debug("hidden")
	logger.Info("connected", observability.F("site", "default"), observability.F("attempt", 2))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1, "debug line must be filtered by level")

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))

	assert.Equal(t, "connected", entry["message"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "stream", entry["component"])
	assert.Equal(t, "default", entry["site"])
	assert.InDelta(t, 2, entry["attempt"], 0)
}

// BenchmarkNoopLogger measures the overhead of noop logger calls.
func BenchmarkNoopLogger(b *testing.B) {
	logger := observability.NoopLogger()

	b.Run("Info", func(b *testing.B) {
		for range b.N {
			logger.Info("test message")
		}
	})

	b.Run("InfoWithFields", func(b *testing.B) {
		fields := []observability.Field{
			{Key: "key1", Value: "value1"},
			{Key: "key2", Value: 42},
		}

		for range b.N {
			logger.Info("test message", fields...)
		}
	})
}
