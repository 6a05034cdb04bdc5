package logger

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(buf *bytes.Buffer, level slog.Level) *slog.Logger {
	return slog.New(NewPrettyHandler(buf, &slog.HandlerOptions{Level: level}).WithoutColor())
}

func TestPrettyHandlerRedactsSensitiveKeys(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := newTestLogger(&buf, slog.LevelInfo)

	log.Info("login",
		"token", "eyJhbGciOiJIUzI1NiJ9.payload.signature",
		"Password", "hunter2",
		slog.Group("req", slog.String("authorization", "Bearer abc")),
		"user", "40123456",
	)

	out := buf.String()
	assert.NotContains(t, out, "eyJhbGciOiJIUzI1NiJ9")
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "Bearer abc")
	assert.Contains(t, out, "token="+Redacted)
	assert.Contains(t, out, "req.authorization="+Redacted)
	assert.Contains(t, out, "user=40123456")
}

func TestPrettyHandlerGroupsAndAttrs(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := newTestLogger(&buf, slog.LevelInfo).
		With("component", "guard").
		WithGroup("run").
		With("id", "r-1")

	log.Info("transition", "to", "CLEARING")

	out := buf.String()
	assert.Contains(t, out, "INFO  transition")
	assert.Contains(t, out, " component=guard")
	assert.Contains(t, out, " run.id=r-1")
	assert.Contains(t, out, " run.to=CLEARING")
}

func TestPrettyHandlerLevelFilter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := newTestLogger(&buf, slog.LevelWarn)

	log.Info("hidden")
	log.Warn("shown")

	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), "shown")
}

func TestIsSensitive(t *testing.T) {
	t.Parallel()

	assert.True(t, IsSensitive("Authorization"))
	assert.True(t, IsSensitive("accessToken"))
	assert.False(t, IsSensitive("token_fp"))
}
