package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel(" error "))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestFormatLog(t *testing.T) {
	assert.Equal(t, "[Cloud] token fetched", FormatLog("Cloud", "token fetched"))
	assert.Equal(t, "[HTTP] already tagged", FormatLog("Cloud", "[HTTP] already tagged"))
	assert.Equal(t, "plain", FormatLog("", " plain "))
}

func TestLoggerFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "info")

	logger.Debug("hidden %d", 1)
	logger.Info("visible %d", 2)
	logger.WarnTag("Cache", "fill partial for %s", "AA:BB")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "visible 2")
	assert.Contains(t, out, "fill partial for AA:BB")
	assert.Contains(t, out, "[Cache]")
}

func TestLoggerArgsWithoutVerbs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "debug")

	logger.Info("devices", 3)

	assert.Contains(t, buf.String(), "devices 3")
	assert.NotContains(t, buf.String(), "EXTRA")
}

func TestTaggedLogger(t *testing.T) {
	var buf bytes.Buffer
	tagged := NewWithWriter(&buf, "debug").Tagged("Resolver")

	tagged.Error("lookup failed: %v", "boom")

	assert.True(t, strings.Contains(buf.String(), "[Resolver]"))
	assert.Contains(t, buf.String(), "lookup failed: boom")
}

func TestNewWritesJSONFile(t *testing.T) {
	dir := t.TempDir()
	logger, err := New(Config{Level: "info", Dir: dir, Filename: "test.log"})
	require.NoError(t, err)

	logger.Info("hello %s", "file")
	require.NoError(t, logger.Close())
	require.NoError(t, logger.Close())

	raw, err := os.ReadFile(filepath.Join(dir, "test.log"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"msg":"hello file"`)
}
