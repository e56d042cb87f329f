package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{in: "trace", want: zerolog.TraceLevel},
		{in: "DEBUG", want: zerolog.DebugLevel},
		{in: "", want: zerolog.InfoLevel},
		{in: "warning", want: zerolog.WarnLevel},
		{in: "error", want: zerolog.ErrorLevel},
		{in: "loud", want: zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.in))
		})
	}
}

func TestInit_JSONWriter(t *testing.T) {
	var buf bytes.Buffer
	closer, err := Init(Config{Writer: &buf, Format: "json", Level: "info"})
	require.NoError(t, err)
	defer closer()

	zlog.Debug().Msg("hidden")
	zlog.Info().Msgf("track started: chat_id=%d", 42)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "track started: chat_id=42", entry["message"])
	assert.Contains(t, entry, "time")
	assert.NotContains(t, entry, "caller")
}

func TestInit_DebugAddsCaller(t *testing.T) {
	var buf bytes.Buffer
	closer, err := Init(Config{Writer: &buf, Format: "json", Level: "debug"})
	require.NoError(t, err)
	defer closer()

	zlog.Debug().Msg("visible")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Contains(t, entry["caller"], "logger/logger_test.go")
}

func TestInit_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")
	closer, err := Init(Config{Output: "file", File: path, Level: "info"})
	require.NoError(t, err)

	zlog.Info().Msg("to file")
	require.NoError(t, closer())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"to file"`)
}

func TestInit_FileRequiresPath(t *testing.T) {
	_, err := Init(Config{Output: "file"})
	assert.Error(t, err)
}
