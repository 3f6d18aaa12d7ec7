package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_CustomWriter(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{
		Level:  slog.LevelInfo,
		Format: "json",
		Writer: &buf,
	}

	logger := New(cfg)
	logger.Info("test message")

	assert.Contains(t, buf.String(), "test message")
	assert.Contains(t, buf.String(), "\"level\":\"INFO\"")
}

func TestNew_FormatAutoDetection(t *testing.T) {
	tests := []struct {
		name        string
		environment string
		wantJSON    bool
	}{
		{"production uses json", "production", true},
		{"development uses pretty", "development", false},
		{"empty uses pretty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := New(Config{
				Environment: tt.environment,
				Writer:      &buf,
			})
			logger.Info("probe")

			isJSON := strings.HasPrefix(strings.TrimSpace(buf.String()), "{")
			assert.Equal(t, tt.wantJSON, isJSON)
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.input), "input %q", tt.input)
	}
}

func TestPrettyHandler_Enabled(t *testing.T) {
	warnLevel := slog.LevelWarn
	h := NewPrettyHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: warnLevel})

	assert.False(t, h.Enabled(context.Background(), slog.LevelDebug))
	assert.False(t, h.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, h.Enabled(context.Background(), slog.LevelWarn))
	assert.True(t, h.Enabled(context.Background(), slog.LevelError))
}

func TestPrettyHandler_Handle(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Format: "pretty", Writer: &buf})

	logger.Info("starting up", slog.String("component", "resolver"))

	out := buf.String()
	require.NotEmpty(t, out)
	assert.Contains(t, out, "starting up")
	assert.Contains(t, out, "component=resolver")
	assert.Contains(t, out, "INF")
}

func TestPrettyHandler_WithAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Format: "pretty", Writer: &buf})

	scoped := logger.With(slog.String("job_id", "job-abc"))
	scoped.Info("progress")

	assert.Contains(t, buf.String(), "job_id=job-abc")
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{
		Level:  slog.LevelWarn,
		Format: "json",
		Writer: &buf,
	})

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")

	out := buf.String()
	assert.NotContains(t, out, "debug message")
	assert.NotContains(t, out, "info message")
	assert.Contains(t, out, "warn message")
}
