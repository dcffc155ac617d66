package observability

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T, enabled bool) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	shutdown, err := Setup(context.Background(), Config{Enabled: enabled}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = shutdown(context.Background()) })
	buf.Reset()
	return &buf
}

func TestSpanAndMetricWhenEnabled(t *testing.T) {
	buf := setup(t, true)
	assert.True(t, Enabled())

	_, end := StartSpan(context.Background(), "resolver", "resolve")
	end(errors.New("boom"))
	RecordMetric(context.Background(), "http_requests", 1, map[string]string{"status": "200", "path": "/api/regions"})

	out := buf.String()
	assert.Contains(t, out, "span start")
	assert.Contains(t, out, "operation=resolve")
	assert.Contains(t, out, "error=boom")
	assert.Contains(t, out, "metric=http_requests")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("path=")), bytes.Index(buf.Bytes(), []byte("status=")))
}

func TestDisabledIsSilent(t *testing.T) {
	buf := setup(t, false)
	assert.False(t, Enabled())

	_, end := StartSpan(context.Background(), "resolver", "resolve")
	end(nil)
	RecordMetric(context.Background(), "x", 1, nil)
	assert.Empty(t, buf.String())
}
