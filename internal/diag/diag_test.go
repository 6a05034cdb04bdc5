package diag

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"session-guard/internal/event"
	"session-guard/internal/logger"
)

type panicReporter struct{}

func (panicReporter) Report(context.Context, Level, string, Fields) {
	panic("reporter exploded")
}

type captureReporter struct {
	messages []string
}

func (c *captureReporter) Report(_ context.Context, _ Level, message string, _ Fields) {
	c.messages = append(c.messages, message)
}

func TestSafeSwallowsPanics(t *testing.T) {
	t.Parallel()

	require.NotPanics(t, func() {
		Safe(panicReporter{}).Report(context.Background(), LevelError, "boom", nil)
	})
	require.NotPanics(t, func() {
		Safe(nil).Report(context.Background(), LevelInfo, "nothing", nil)
	})
}

func TestMultiContinuesPastPanickingReporter(t *testing.T) {
	t.Parallel()

	capture := &captureReporter{}
	Multi{panicReporter{}, capture}.Report(context.Background(), LevelInfo, "state detected", nil)

	require.Equal(t, []string{"state detected"}, capture.messages)
}

func TestSlogReporterMapsLevelsAndRunID(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(logger.NewPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}).WithoutColor())
	reporter := NewSlogReporter(log)

	ctx := WithRunID(context.Background(), "run-42")
	reporter.Report(ctx, LevelWarn, "profile unreadable", Fields{"token": "secret-value", "state": "VALID"})

	out := buf.String()
	assert.Contains(t, out, "WARN  profile unreadable")
	assert.Contains(t, out, "run_id=run-42")
	assert.Contains(t, out, "state=VALID")
	assert.NotContains(t, out, "secret-value")
}

func TestBusReporterPublishesRedactedDiagnostic(t *testing.T) {
	t.Parallel()

	bus := event.NewBus()
	ch, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	reporter := NewBusReporter(bus)
	reporter.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	ctx := WithRunID(context.Background(), "run-7")
	reporter.Report(ctx, LevelInfo, "token obtained", Fields{"token": "abc", "token_fp": "0011"})

	got := <-ch
	assert.Equal(t, event.TypeDiagnostic, got.Type)
	assert.Equal(t, "info", got.Level)
	assert.Equal(t, "token obtained", got.Message)
	assert.Equal(t, "run-7", got.RunID)

	payload, ok := got.Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, logger.Redacted, payload["token"])
	assert.Equal(t, "0011", payload["token_fp"])
}
