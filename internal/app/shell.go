package app

import (
	"context"
	"log/slog"

	"session-guard/internal/guard"
)

// LogShell stands in for the application shell when the guard runs headless.
// It records what the shell would have been asked to do.
type LogShell struct {
	logger *slog.Logger
}

func NewLogShell(logger *slog.Logger) *LogShell {
	return &LogShell{logger: logger.With("component", "shell")}
}

func (s *LogShell) Reload(ctx context.Context, outcome guard.Outcome) {
	s.logger.InfoContext(ctx, "session repaired; reload requested",
		"run_id", outcome.RunID,
		"trigger", outcome.Trigger,
		"attempts", outcome.Attempts,
	)
}

func (s *LogShell) RequireLogin(ctx context.Context, reason string, outcome guard.Outcome) {
	s.logger.WarnContext(ctx, "manual login required",
		"run_id", outcome.RunID,
		"trigger", outcome.Trigger,
		"reason", reason,
	)
}
