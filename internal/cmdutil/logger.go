// Package cmdutil holds small helpers shared by cmd/orchestrator's
// subcommands, mirroring the teacher's internal/cmdutil package.
package cmdutil

import (
	"log/slog"
	"os"
)

// SetupLogger builds a structured JSON logger at levelStr ("debug",
// "info", "warn", "error"; anything else falls back to info).
func SetupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}
