package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcatullo/talazo-kg/internal/config"
)

func TestNew_FileOutputJSON(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "talazo.log")
	logger, closeFn, err := New(config.LoggingConfig{Level: "warn", Format: "json", Output: path})
	require.NoError(t, err)

	logger.Info().Msg("dropped")
	logger.Warn().Int("seq", 3).Msg("kept")
	require.NoError(t, closeFn())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var event map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &event))
	assert.Equal(t, "kept", event["message"])
	assert.Equal(t, "warn", event["level"])
	assert.EqualValues(t, 3, event["seq"])
	assert.Contains(t, event, "time")
}

func TestNew_BadOutputPath(t *testing.T) {
	t.Parallel()

	_, _, err := New(config.LoggingConfig{Output: filepath.Join(t.TempDir(), "missing", "x.log")})
	require.Error(t, err)
}

func TestNew_StderrCloseIsNoop(t *testing.T) {
	t.Parallel()

	_, closeFn, err := New(config.LoggingConfig{Format: "json"})
	require.NoError(t, err)
	require.NoError(t, closeFn())
}

func TestWithRunID(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, runID := WithRunID(zerolog.New(&buf))
	require.NotEmpty(t, runID)

	logger.Info().Msg("hello")
	assert.Contains(t, buf.String(), `"run_id":"`+runID+`"`)

	_, other := WithRunID(zerolog.Nop())
	assert.NotEqual(t, runID, other)
}

func TestShouldUsePretty(t *testing.T) {
	t.Parallel()

	assert.True(t, shouldUsePretty(config.LoggingConfig{Pretty: true, Format: "json"}, nil))
	assert.True(t, shouldUsePretty(config.LoggingConfig{Format: "pretty"}, nil))
	assert.False(t, shouldUsePretty(config.LoggingConfig{Format: "json"}, os.Stderr))
	assert.False(t, shouldUsePretty(config.LoggingConfig{Format: "console"}, nil))
}

func TestFormatters(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "\033[31mERR\033[0m", formatLevel("error"))
	assert.Equal(t, "trace", formatLevel("trace"))
	assert.Empty(t, formatLevel(42))
	assert.Equal(t, "-> done", formatMessage("done"))
	assert.Empty(t, formatMessage(nil))
	assert.Equal(t, "\033[2mseq=\033[0m", formatFieldName("seq"))
}
