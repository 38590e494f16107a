package telemetry

import (
	"context"
	"log/slog"
)

// LevelTrace sits below slog.LevelDebug and carries high-volume diagnostics
// such as dropped stale events.
const LevelTrace = slog.Level(-8)

// Recorder centralises telemetry for the pipeline. It only emits structured
// logs via slog.
type Recorder struct {
	logger *slog.Logger
}

// NewRecorder constructs a telemetry recorder using the provided slog.Logger.
func NewRecorder(logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{logger: logger}
}

// Logger returns the underlying slog.Logger for direct use.
func (r *Recorder) Logger() *slog.Logger {
	return r.logger
}

// Event logs a named pipeline event at info level.
func (r *Recorder) Event(name string, args ...any) {
	r.logger.Info(name, args...)
}

// Stale logs an event that was dropped because it belonged to a superseded
// session.
func (r *Recorder) Stale(kind, session, current string) {
	r.logger.Log(context.Background(), LevelTrace, "stale event dropped",
		"kind", kind,
		"session", session,
		"current_session", current,
	)
}

// ParseLevel maps a configured level name to a slog.Level. Unknown names
// fall back to info.
func ParseLevel(value string) slog.Level {
	switch value {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
