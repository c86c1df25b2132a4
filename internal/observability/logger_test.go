package observability

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glenfinch/river-snap-service/internal/config"
)

func TestHandlerLevelGating(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		wantDebug bool
		wantInfo  bool
	}{
		{name: "debug passes everything", level: "debug", wantDebug: true, wantInfo: true},
		{name: "info suppresses debug", level: "info", wantDebug: false, wantInfo: true},
		{name: "error suppresses info", level: "error", wantDebug: false, wantInfo: false},
		{name: "unknown falls back to info", level: "loud", wantDebug: false, wantInfo: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(newHandler(&buf, tt.level, "json"))

			logger.Debug("debug line")
			logger.Info("info line")

			out := buf.String()
			assert.Equal(t, tt.wantDebug, strings.Contains(out, "debug line"))
			assert.Equal(t, tt.wantInfo, strings.Contains(out, "info line"))
		})
	}
}

func TestHandlerFormats(t *testing.T) {
	var buf bytes.Buffer

	slog.New(newHandler(&buf, "info", "json")).Info("hello")
	assert.True(t, strings.HasPrefix(buf.String(), "{"))

	buf.Reset()
	slog.New(newHandler(&buf, "info", "text")).Info("hello")
	assert.Contains(t, buf.String(), "level=INFO")

	buf.Reset()
	slog.New(newHandler(&buf, "info", "yaml")).Info("hello")
	assert.True(t, strings.HasPrefix(buf.String(), "{"), "unknown format should fall back to JSON")
}

func TestNewLogger(t *testing.T) {
	logger := NewLogger(&config.Config{LogLevel: "debug", LogFormat: "text"})
	require.NotNil(t, logger)
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))

	logger = NewLogger(&config.Config{LogLevel: "warn", LogFormat: "json"})
	assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
}
