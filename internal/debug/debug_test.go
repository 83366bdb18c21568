package debug

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// reset restores the package switches after a test.
func reset(t *testing.T) {
	t.Helper()
	oldEnabled, oldVerbose, oldQuiet, oldOutput := enabled, verboseMode, quietMode, output
	t.Cleanup(func() {
		enabled, verboseMode, quietMode, output = oldEnabled, oldVerbose, oldQuiet, oldOutput
	})
	enabled, verboseMode, quietMode = false, false, false
}

func TestLogf(t *testing.T) {
	tests := []struct {
		name       string
		enabled    bool
		verbose    bool
		wantOutput string
	}{
		{"outputs when enabled", true, false, "test message: hello\n"},
		{"outputs when verbose", false, true, "test message: hello\n"},
		{"no output when disabled", false, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reset(t)
			var buf bytes.Buffer
			output = &buf
			enabled = tt.enabled
			SetVerbose(tt.verbose)

			Logf("test message: %s\n", "hello")
			assert.Equal(t, tt.wantOutput, buf.String())
		})
	}
}

func TestSetVerbose(t *testing.T) {
	reset(t)
	assert.False(t, Enabled())
	SetVerbose(true)
	assert.True(t, Enabled())
	SetVerbose(false)
	assert.False(t, Enabled())
}

func TestSetQuiet(t *testing.T) {
	reset(t)
	assert.False(t, IsQuiet())
	SetQuiet(true)
	assert.True(t, IsQuiet())
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{" warn ", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
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

func TestNewLogger(t *testing.T) {
	reset(t)

	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelWarn, true)
	logger.Info("dropped")
	logger.Warn("kept", "task", "t-1")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec), "exactly one JSON record")
	assert.Equal(t, "kept", rec["msg"])
	assert.Equal(t, "t-1", rec["task"])

	buf.Reset()
	SetVerbose(true)
	NewLogger(&buf, slog.LevelError, false).Debug("shown in verbose mode")
	assert.Contains(t, buf.String(), "level=DEBUG")
	assert.Contains(t, buf.String(), `msg="shown in verbose mode"`)
}
