package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "INFO", want: slog.LevelInfo},
		{in: "warn", want: slog.LevelWarn},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "", want: slog.LevelInfo},
		{in: "verbose", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestNew(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	t.Run("JSON形式", func(t *testing.T) {
		var buf bytes.Buffer
		l := New(Config{Level: slog.LevelInfo, Format: "json", Output: &buf})

		l.Debug("hidden")
		l.Info("index loaded", "chunks", 3)

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		require.Len(t, lines, 1)

		var record map[string]any
		require.NoError(t, json.Unmarshal([]byte(lines[0]), &record))
		assert.Equal(t, "index loaded", record["msg"])
		assert.EqualValues(t, 3, record["chunks"])
		assert.Same(t, l, slog.Default())
	})

	t.Run("テキスト形式", func(t *testing.T) {
		var buf bytes.Buffer
		l := New(Config{Level: slog.LevelDebug, Format: "text", Output: &buf})

		l.Debug("prompt built", "contexts", 2)
		assert.Contains(t, buf.String(), "msg=\"prompt built\"")
		assert.Contains(t, buf.String(), "contexts=2")
	})
}
