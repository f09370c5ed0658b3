package logging

import (
	"log/slog"
	"os"
	"strings"
)

// New creates a stderr slog.Logger for the given level; stdout is left to command output.
func New(level string) *slog.Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: ParseLevel(level),
	})
	return slog.New(handler)
}

// ParseLevel accepts slog level names ("warn", "info+2") and "warning".
// Empty or unknown values fall back to info.
func ParseLevel(value string) slog.Level {
	value = strings.TrimSpace(value)
	if strings.EqualFold(value, "warning") {
		return slog.LevelWarn
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(value)); err != nil {
		return slog.LevelInfo
	}
	return level
}
