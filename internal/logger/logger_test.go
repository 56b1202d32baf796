package logger

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_FormatAutoDetection(t *testing.T) {
	tests := []struct {
		name        string
		environment string
		wantJSON    bool
	}{
		{name: "production uses json", environment: "production", wantJSON: true},
		{name: "development uses console", environment: "development"},
		{name: "staging uses console", environment: "staging"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			log := New(Config{Level: slog.LevelInfo, Environment: tt.environment, Writer: &buf})
			log.Info("hello peer")

			if tt.wantJSON {
				assert.Contains(t, buf.String(), `"msg":"hello peer"`)
			} else {
				assert.Contains(t, buf.String(), "hello peer")
				assert.Contains(t, buf.String(), "INF")
			}
		})
	}
}

func TestNew_ExplicitFormatWins(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: slog.LevelInfo, Format: "json", Environment: "development", Writer: &buf})
	log.Info("test")

	assert.Contains(t, buf.String(), `"msg":"test"`)
}

func TestNew_RotatingFileReceivesJSON(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "sync.log")

	log := New(Config{
		Level:       slog.LevelInfo,
		Environment: "development",
		Writer:      &console,
		File:        FileConfig{Path: path},
	})
	log.Info("transfer complete", "added", 3)
	require.NoError(t, log.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"transfer complete"`)
	assert.Contains(t, string(data), `"added":3`)
	assert.Contains(t, console.String(), "added=3")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.input))
		})
	}
}

func TestConsoleHandler_Enabled(t *testing.T) {
	h := NewConsoleHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelInfo})

	assert.False(t, h.Enabled(context.Background(), slog.LevelDebug))
	assert.True(t, h.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, h.Enabled(context.Background(), slog.LevelError))
}

func TestConsoleHandler_Handle(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewConsoleHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	log.Info("chunk sent", "seq", 4, "peer", "Living Room")

	out := buf.String()
	assert.Contains(t, out, "chunk sent")
	assert.Contains(t, out, "seq=4")
	assert.Contains(t, out, `peer="Living Room"`)
}

func TestConsoleHandler_GroupsPrefixKeys(t *testing.T) {
	var buf bytes.Buffer
	h := NewConsoleHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})
	log := slog.New(h.WithGroup("session").WithAttrs([]slog.Attr{slog.String("id", "ses-1")}))
	log.Info("state changed", "state", "handshaking")

	out := buf.String()
	assert.Contains(t, out, "session.id=ses-1")
	assert.Contains(t, out, "session.state=handshaking")

	assert.Same(t, h, h.WithGroup(""))
}

func TestConsoleHandler_GroupValue(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewConsoleHandler(&buf, nil))
	log.Info("done", slog.Group("stats", slog.Int("added", 1), slog.Int("matched", 2)))

	assert.Contains(t, buf.String(), "stats.added=1 stats.matched=2")
}

func TestConsoleHandler_WithSource(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewConsoleHandler(&buf, &slog.HandlerOptions{AddSource: true}))
	log.Info("test message")

	assert.Contains(t, buf.String(), "logger_test.go:")
}

func TestFormatLevel(t *testing.T) {
	str, color := formatLevel(slog.LevelWarn)
	assert.Equal(t, "WRN", str)
	assert.Equal(t, colorYellow, color)

	str, _ = formatLevel(slog.LevelError)
	assert.Equal(t, "ERR", str)
}

func TestFormatValue(t *testing.T) {
	now := time.Now()

	assert.Equal(t, "plain", formatValue(slog.StringValue("plain")))
	assert.Equal(t, `"two words"`, formatValue(slog.StringValue("two words")))
	assert.Equal(t, now.Format(time.RFC3339), formatValue(slog.TimeValue(now)))
	assert.Equal(t, "15s", formatValue(slog.DurationValue(15*time.Second)))
	assert.Equal(t, "42", formatValue(slog.IntValue(42)))
}

func TestLogger_Helpers(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: slog.LevelInfo, Format: "json", Writer: &buf})

	log.WithError(errors.New("boom")).
		WithField("peer_id", "dev-2").
		WithFields(map[string]any{"group": "G"}).
		Info("sync failed")

	out := buf.String()
	assert.Contains(t, out, `"error":"boom"`)
	assert.Contains(t, out, `"peer_id":"dev-2"`)
	assert.Contains(t, out, `"group":"G"`)
}

func TestOrDiscard(t *testing.T) {
	assert.NotNil(t, OrDiscard(nil))

	l := slog.Default()
	assert.Same(t, l, OrDiscard(l))
}
