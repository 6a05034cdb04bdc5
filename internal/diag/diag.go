// Package diag carries human-readable progress of inspections and repairs to
// the operator. Reporting is observational only: a reporter can never fail or
// stall the caller.
package diag

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"time"

	"session-guard/internal/event"
)

type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

func (l Level) slog() slog.Level {
	switch l {
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type Fields map[string]any

type Reporter interface {
	Report(ctx context.Context, level Level, message string, fields Fields)
}

type runIDKey struct{}

// WithRunID tags ctx so every report made under it carries the run ID.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

func RunID(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// Safe wraps r so a panicking reporter is logged and ignored. A nil r
// reports nothing.
func Safe(r Reporter) Reporter {
	if r == nil {
		return Nop{}
	}
	if _, ok := r.(safe); ok {
		return r
	}
	return safe{inner: r}
}

type safe struct {
	inner Reporter
}

func (s safe) Report(ctx context.Context, level Level, message string, fields Fields) {
	defer func() {
		if recovered := recover(); recovered != nil {
			slog.Error("diagnostic reporter panicked",
				"error", fmt.Sprintf("%v", recovered),
				"stack", string(debug.Stack()),
			)
		}
	}()
	s.inner.Report(ctx, level, message, fields)
}

type Nop struct{}

func (Nop) Report(context.Context, Level, string, Fields) {}

// Multi fans a report out to every reporter; one failing member does not
// starve the others.
type Multi []Reporter

func (m Multi) Report(ctx context.Context, level Level, message string, fields Fields) {
	for _, r := range m {
		Safe(r).Report(ctx, level, message, fields)
	}
}

type SlogReporter struct {
	logger *slog.Logger
}

func NewSlogReporter(logger *slog.Logger) *SlogReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogReporter{logger: logger}
}

func (r *SlogReporter) Report(ctx context.Context, level Level, message string, fields Fields) {
	attrs := make([]any, 0, 2*len(fields)+2)
	if runID := RunID(ctx); runID != "" {
		attrs = append(attrs, "run_id", runID)
	}
	for _, key := range sortedKeys(fields) {
		attrs = append(attrs, key, fields[key])
	}
	r.logger.Log(ctx, level.slog(), message, attrs...)
}

// BusReporter publishes reports as diagnostic events for live subscribers
// such as the operator event stream.
type BusReporter struct {
	bus event.Bus
	now func() time.Time
}

func NewBusReporter(bus event.Bus) *BusReporter {
	return &BusReporter{bus: bus, now: time.Now}
}

func (r *BusReporter) Report(ctx context.Context, level Level, message string, fields Fields) {
	payload := make(map[string]any, len(fields))
	for k, v := range fields {
		payload[k] = v
	}

	r.bus.Publish(event.Event{
		Type:      event.TypeDiagnostic,
		Level:     string(level),
		Message:   message,
		Payload:   redact(payload),
		Timestamp: r.now().UTC(),
		RunID:     RunID(ctx),
	})
}

func sortedKeys(fields Fields) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
