package whatsapp

import (
	"context"
	"fmt"
	"log/slog"

	waLog "go.mau.fi/whatsmeow/util/log"
)

// slogLogger routes the library's printf-style logging into slog.
type slogLogger struct {
	logger *slog.Logger
}

var _ waLog.Logger = slogLogger{}

func newLogger(logger *slog.Logger) waLog.Logger {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return slogLogger{logger: logger}
}

func (l slogLogger) Errorf(msg string, args ...interface{}) {
	l.log(slog.LevelError, msg, args)
}

func (l slogLogger) Warnf(msg string, args ...interface{}) {
	l.log(slog.LevelWarn, msg, args)
}

// Infof is demoted to debug: the library reports every frame it handles at
// info level.
func (l slogLogger) Infof(msg string, args ...interface{}) {
	l.log(slog.LevelDebug, msg, args)
}

func (l slogLogger) Debugf(msg string, args ...interface{}) {
	l.log(slog.LevelDebug, msg, args)
}

func (l slogLogger) Sub(module string) waLog.Logger {
	return slogLogger{logger: l.logger.With("module", module)}
}

func (l slogLogger) log(level slog.Level, msg string, args []interface{}) {
	ctx := context.Background()
	if !l.logger.Enabled(ctx, level) {
		return
	}

	l.logger.Log(ctx, level, fmt.Sprintf(msg, args...))
}
