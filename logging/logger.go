// Package logging provides the structured JSON logger used across the
// hashledger client: a leveled slog.Logger tagged with service/version
// fields, plus a helper that logs a sync/append operation's outcome and
// duration as a single structured event.
package logging

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Environment identifies the running process in every emitted log line.
type Environment struct {
	Service string
	Version string
}

// NewJSONLogger builds a slog.Logger writing newline-delimited JSON to
// stdout at the given level ("debug", "info", "warn", "error"; unrecognized
// values default to info), tagged with env's fields.
func NewJSONLogger(level string, env Environment) *slog.Logger {
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(level)})
	return slog.New(h).With(
		slog.String("service", env.Service),
		slog.String("version", env.Version),
	)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogOperation runs fn and emits a single structured event recording op's
// name, duration, and outcome.
func LogOperation(ctx context.Context, logger *slog.Logger, op string, fn func() error) error {
	start := time.Now()
	err := fn()
	durationMS := time.Since(start).Milliseconds()

	if err != nil {
		logger.ErrorContext(ctx, "operation_failed",
			slog.String("op", op),
			slog.Int64("duration_ms", durationMS),
			slog.String("error", err.Error()),
		)
		return err
	}
	logger.InfoContext(ctx, "operation_completed",
		slog.String("op", op),
		slog.Int64("duration_ms", durationMS),
	)
	return nil
}
