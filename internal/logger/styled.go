// internal/logger/styled.go
package logger

import (
	"log/slog"

	"github.com/thushan/llmrelay/internal/core/domain"
	"github.com/thushan/llmrelay/theme"
)

// LogContext splits a log call's arguments into what the CLI-facing logger
// shows and what only goes to the detailed file log, per the teacher's
// dual-channel logging style (emit-immediately + buffered-for-failure).
type LogContext struct {
	UserArgs     []any
	DetailedArgs []any
}

// StyledLogger is the theme-aware logging surface used throughout the relay.
// PrettyStyledLogger renders pterm-coloured terminal output; PlainStyledLogger
// is the non-TTY / JSON-friendly fallback. Both wrap the same *slog.Logger.
type StyledLogger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	InfoWithCount(msg string, count int, args ...any)
	InfoWithEndpoint(msg string, endpoint string, args ...any)
	InfoWithHealthCheck(msg string, endpoint string, args ...any)
	InfoWithNumbers(msg string, numbers ...int64)
	WarnWithEndpoint(msg string, endpoint string, args ...any)
	ErrorWithEndpoint(msg string, endpoint string, args ...any)
	InfoHealthy(msg string, endpoint string, args ...any)
	InfoHealthStatus(msg string, name string, status domain.EntryStatus, args ...any)

	InfoWithContext(msg string, endpoint string, ctx LogContext)
	WarnWithContext(msg string, endpoint string, ctx LogContext)
	ErrorWithContext(msg string, endpoint string, ctx LogContext)

	InfoConfigChange(oldName, newName string)

	GetUnderlying() *slog.Logger
	WithRequestID(requestID string) StyledLogger
	WithAttrs(attrs ...slog.Attr) StyledLogger
	With(args ...any) StyledLogger
}

// NewWithTheme creates the underlying slog.Logger plus a StyledLogger
// implementation chosen by whether we're attached to a terminal: pretty
// pterm output on a TTY, plain JSON-friendly output otherwise.
func NewWithTheme(cfg *Config) (*slog.Logger, StyledLogger, func(), error) {
	logger, cleanup, err := New(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	if cfg.PrettyLogs {
		appTheme := theme.GetTheme(cfg.Theme)
		return logger, NewPrettyStyledLogger(logger, appTheme), cleanup, nil
	}

	return logger, NewPlainStyledLogger(logger), cleanup, nil
}
