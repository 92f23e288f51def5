package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &m), "line: %s", line)
		out = append(out, m)
	}
	return out
}

func TestLoggerLevels(t *testing.T) {
	tests := []struct {
		name      string
		minLevel  Level
		logLevel  Level
		shouldLog bool
	}{
		{"debug allowed at debug", LevelDebug, LevelDebug, true},
		{"info allowed at debug", LevelDebug, LevelInfo, true},
		{"debug blocked at info", LevelInfo, LevelDebug, false},
		{"warn allowed at info", LevelInfo, LevelWarn, true},
		{"info blocked at warn", LevelWarn, LevelInfo, false},
		{"error allowed at warn", LevelWarn, LevelError, true},
		{"warn blocked at error", LevelError, LevelWarn, false},
		{"error allowed at error", LevelError, LevelError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := New()
			logger.SetLevel(tt.minLevel)
			logger.SetOutput(&buf)

			switch tt.logLevel {
			case LevelDebug:
				logger.Debug("test message")
			case LevelInfo:
				logger.Info("test message")
			case LevelWarn:
				logger.Warn("test message")
			case LevelError:
				logger.Error("test message")
			}

			if tt.shouldLog {
				lines := decodeLines(t, &buf)
				require.Len(t, lines, 1)
				assert.Equal(t, "test message", lines[0]["message"])
				assert.Equal(t, strings.ToLower(tt.logLevel.String()), lines[0]["level"])
			} else {
				assert.Empty(t, buf.String(), "expected no log output")
			}
		})
	}
}

func TestLoggerWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetLevel(LevelDebug)
	logger.SetOutput(&buf)

	child := logger.WithFields(map[string]interface{}{
		"milestone": 2,
		"phase":     "lint",
	})
	child.Error("phase failed")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "phase failed", lines[0]["message"])
	assert.Equal(t, float64(2), lines[0]["milestone"])
	assert.Equal(t, "lint", lines[0]["phase"])
}

func TestLoggerInlineKeyVals(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetLevel(LevelDebug)
	logger.SetOutput(&buf)

	logger.Warn("agent retry", "error", errors.New("timeout"), "attempt", 3, "elapsed", 2*time.Second)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "timeout", lines[0]["error"])
	assert.Equal(t, float64(3), lines[0]["attempt"])
	assert.Equal(t, "2s", lines[0]["elapsed"])
}

func TestLoggerChainingPreservesFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetLevel(LevelDebug)
	logger.SetOutput(&buf)

	runLogger := logger.With("run", "abc123")
	phaseLogger := runLogger.With("phase", "test")
	phaseLogger.Info("starting")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "abc123", lines[0]["run"])
	assert.Equal(t, "test", lines[0]["phase"])

	buf.Reset()
	runLogger.Info("parent only")
	lines = decodeLines(t, &buf)
	require.Len(t, lines, 1)
	_, hasPhase := lines[0]["phase"]
	assert.False(t, hasPhase, "child fields must not leak into parent")
}

func TestLoggerOddKeyValsIgnored(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)

	logger.Warn("odd", "dangling")
	logger.Warn("non-string key", 42, "value")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	_, has := lines[0]["dangling"]
	assert.False(t, has)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"warning", LevelWarn, false},
		{" error ", LevelError, false},
		{"", LevelInfo, false},
		{"loud", LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPackageLevelDefault(t *testing.T) {
	var buf bytes.Buffer
	prev := Default()
	t.Cleanup(func() { SetDefault(prev) })

	l := New()
	l.SetOutput(&buf)
	SetDefault(l)
	SetLevel(LevelInfo)

	Debug("hidden")
	Info("shown", "k", "v")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "shown", lines[0]["message"])
}
