package logger

import (
	"fmt"
	"log/slog"
	"strings"
)

// Badger adapts a slog.Logger to badger's printf-style Logger interface.
type Badger struct {
	logger *slog.Logger
}

// NewBadger wraps logger; nil falls back to slog.Default().
func NewBadger(logger *slog.Logger) *Badger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Badger{logger: logger}
}

func (b *Badger) Errorf(format string, args ...any) {
	b.logger.Error(line(format, args...))
}

func (b *Badger) Warningf(format string, args ...any) {
	b.logger.Warn(line(format, args...))
}

// Infof is demoted to debug; badger is chatty at info level.
func (b *Badger) Infof(format string, args ...any) {
	b.logger.Debug(line(format, args...))
}

func (b *Badger) Debugf(format string, args ...any) {
	b.logger.Debug(line(format, args...))
}

func line(format string, args ...any) string {
	return strings.TrimRight(fmt.Sprintf(format, args...), "\n")
}
