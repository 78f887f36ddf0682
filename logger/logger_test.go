package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	require := require.New(t)

	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", DebugLevel},
		{"", InfoLevel},
		{"INFO", InfoLevel},
		{"warning", WarnLevel},
		{" error ", ErrorLevel},
		{"fatal", FatalLevel},
	}
	for _, tt := range tests {
		lv, err := ParseLevel(tt.in)
		require.NoError(err, tt.in)
		require.Equal(tt.want, lv, tt.in)
	}

	_, err := ParseLevel("verbose")
	require.Error(err)
}

func TestSlogLogger_LevelAndWith(t *testing.T) {
	require := require.New(t)
	t.Setenv("ENV", "")

	var buf bytes.Buffer
	l := NewSlogWriter(&buf, InfoLevel, false)
	require.Equal(InfoLevel, l.Level())

	l.Debug("hidden")
	require.Zero(buf.Len())

	child := l.With("session_id", "abc")
	child.Info("connected", "host", "10.0.0.2")

	var rec map[string]any
	require.NoError(json.Unmarshal(buf.Bytes(), &rec))
	require.Equal("connected", rec["msg"])
	require.Equal("abc", rec["session_id"])
	require.Equal("10.0.0.2", rec["host"])
	require.Contains(rec, "ts")

	// child shares the parent level
	l.SetLevel(DebugLevel)
	require.Equal(DebugLevel, child.Level())
}
