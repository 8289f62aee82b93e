package logger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/thushan/llmrelay/internal/core/domain"
	"github.com/thushan/llmrelay/theme"
)

// PrettyStyledLogger implements StyledLogger with pterm formatting for a TTY.
type PrettyStyledLogger struct {
	logger *slog.Logger
	Theme  *theme.Theme
}

func NewPrettyStyledLogger(logger *slog.Logger, t *theme.Theme) *PrettyStyledLogger {
	return &PrettyStyledLogger{logger: logger, Theme: t}
}

func (sl *PrettyStyledLogger) Debug(msg string, args ...any) { sl.logger.Debug(msg, args...) }
func (sl *PrettyStyledLogger) Info(msg string, args ...any)  { sl.logger.Info(msg, args...) }
func (sl *PrettyStyledLogger) Warn(msg string, args ...any)  { sl.logger.Warn(msg, args...) }
func (sl *PrettyStyledLogger) Error(msg string, args ...any) { sl.logger.Error(msg, args...) }

// InfoWithStatus prints a `[ STATUS ] message` line, used for startup checks.
func (sl *PrettyStyledLogger) InfoWithStatus(msg string, status string, args ...any) {
	sl.logger.Info(fmt.Sprintf("[ %s ] %s", sl.Theme.Good.Sprint(status), msg), args...)
}

// ResetLine erases the previous terminal line, used by progress-style output.
func (sl *PrettyStyledLogger) ResetLine() {
	fmt.Print("\033[1A\033[2K")
}

func (sl *PrettyStyledLogger) InfoWithCount(msg string, count int, args ...any) {
	sl.logger.Info(fmt.Sprintf("%s %s", msg, sl.Theme.Highlight.Sprint("(", count, ")")), args...)
}

func (sl *PrettyStyledLogger) InfoWithEndpoint(msg string, endpoint string, args ...any) {
	sl.logger.Info(fmt.Sprintf("%s %s", msg, sl.Theme.Accent.Sprint(endpoint)), args...)
}

func (sl *PrettyStyledLogger) InfoWithHealthCheck(msg string, endpoint string, args ...any) {
	sl.logger.Info(fmt.Sprintf("%s %s", msg, sl.Theme.Accent.Sprint(endpoint)), args...)
}

func (sl *PrettyStyledLogger) InfoWithNumbers(msg string, numbers ...int64) {
	formatted := make([]string, len(numbers))
	for i, num := range numbers {
		formatted[i] = sl.Theme.Highlight.Sprint(num)
	}
	sl.logger.Info(fmt.Sprintf(msg, toInterfaceSlice(formatted)...))
}

func (sl *PrettyStyledLogger) WarnWithEndpoint(msg string, endpoint string, args ...any) {
	sl.logger.Warn(fmt.Sprintf("%s %s", msg, sl.Theme.Accent.Sprint(endpoint)), args...)
}

func (sl *PrettyStyledLogger) ErrorWithEndpoint(msg string, endpoint string, args ...any) {
	sl.logger.Error(fmt.Sprintf("%s %s", msg, sl.Theme.Accent.Sprint(endpoint)), args...)
}

func (sl *PrettyStyledLogger) InfoHealthy(msg string, endpoint string, args ...any) {
	sl.logger.Info(fmt.Sprintf("%s %s", msg, sl.Theme.Success.Sprint(endpoint)), args...)
}

func (sl *PrettyStyledLogger) InfoHealthStatus(msg string, name string, status domain.EntryStatus, args ...any) {
	style := sl.Theme.Success
	statusText := "normal"
	if status == domain.StatusWarning {
		style = sl.Theme.Warn
		statusText = "warning"
	}

	styledMsg := fmt.Sprintf("%s %s is %s", msg, sl.Theme.Accent.Sprint(name), style.Sprint(statusText))
	sl.logger.Info(styledMsg, args...)
}

func (sl *PrettyStyledLogger) GetUnderlying() *slog.Logger { return sl.logger }

func (sl *PrettyStyledLogger) WithRequestID(requestID string) StyledLogger {
	return sl.With("request_id", requestID)
}

func (sl *PrettyStyledLogger) InfoConfigChange(oldName, newName string) {
	sl.logger.Info(fmt.Sprintf("Upstream configuration changed for %s to: %s",
		sl.Theme.Accent.Sprint(oldName), sl.Theme.Accent.Sprint(newName)))
}

func (sl *PrettyStyledLogger) WithAttrs(attrs ...slog.Attr) StyledLogger {
	args := make([]any, 0, len(attrs)*2)
	for _, attr := range attrs {
		args = append(args, attr.Key, attr.Value)
	}
	return &PrettyStyledLogger{logger: sl.logger.With(args...), Theme: sl.Theme}
}

func (sl *PrettyStyledLogger) With(args ...any) StyledLogger {
	return &PrettyStyledLogger{logger: sl.logger.With(args...), Theme: sl.Theme}
}

func (sl *PrettyStyledLogger) InfoWithContext(msg string, endpoint string, ctx LogContext) {
	sl.logWithContext(LogLevelInfo, msg, endpoint, ctx)
}

func (sl *PrettyStyledLogger) WarnWithContext(msg string, endpoint string, ctx LogContext) {
	sl.logWithContext(LogLevelWarn, msg, endpoint, ctx)
}

func (sl *PrettyStyledLogger) ErrorWithContext(msg string, endpoint string, ctx LogContext) {
	sl.logWithContext(LogLevelError, msg, endpoint, ctx)
}

func (sl *PrettyStyledLogger) logWithContext(level string, msg string, endpoint string, ctx LogContext) {
	styledMsg := fmt.Sprintf("%s %s", msg, sl.Theme.Accent.Sprint(endpoint))

	switch level {
	case LogLevelInfo:
		sl.logger.Info(styledMsg, ctx.UserArgs...)
	case LogLevelWarn:
		sl.logger.Warn(styledMsg, ctx.UserArgs...)
	case LogLevelError:
		sl.logger.Error(styledMsg, ctx.UserArgs...)
	}

	if len(ctx.DetailedArgs) > 0 {
		allArgs := make([]any, 0, len(ctx.UserArgs)+len(ctx.DetailedArgs)+2)
		allArgs = append(allArgs, "endpoint_name", endpoint)
		allArgs = append(allArgs, ctx.UserArgs...)
		allArgs = append(allArgs, ctx.DetailedArgs...)

		detailedCtx := context.WithValue(context.Background(), DefaultDetailedCookie, true)

		switch level {
		case LogLevelInfo:
			sl.logger.InfoContext(detailedCtx, msg, allArgs...)
		case LogLevelWarn:
			sl.logger.WarnContext(detailedCtx, msg, allArgs...)
		case LogLevelError:
			sl.logger.ErrorContext(detailedCtx, msg, allArgs...)
		}
	}
}
