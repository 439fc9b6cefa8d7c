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
		name  string
		level LogLevel
	}{
		{"debug", DebugLevel},
		{"INFO", InfoLevel},
		{"", InfoLevel},
		{"warning", WarnLevel},
		{" error ", ErrorLevel},
		{"fatal", FatalLevel},
	}
	for _, tt := range tests {
		lv, err := ParseLevel(tt.name)
		require.NoError(err, tt.name)
		require.Equal(tt.level, lv, tt.name)
	}

	_, err := ParseLevel("verbose")
	require.Error(err)
}

func TestSlogLogger(t *testing.T) {
	require := require.New(t)
	t.Setenv("ENV", "")

	var buf bytes.Buffer
	l := NewSlogWriter(&buf, InfoLevel, false)
	require.Equal(InfoLevel, l.Level())

	l.Debug("hidden")
	require.Zero(buf.Len())

	child := l.With("task", 3)
	child.Info("initialized", "serial", 401)

	var rec map[string]any
	require.NoError(json.Unmarshal(buf.Bytes(), &rec))
	require.Equal("initialized", rec["msg"])
	require.EqualValues(3, rec["task"])
	require.EqualValues(401, rec["serial"])
	require.Contains(rec, "ts")

	// level is shared between parent and child
	child.SetLevel(DebugLevel)
	require.Equal(DebugLevel, l.Level())
}
