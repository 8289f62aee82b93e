package logger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/thushan/llmrelay/internal/core/domain"
)

// PlainStyledLogger implements StyledLogger without pterm formatting, for
// non-TTY / JSON log consumers.
type PlainStyledLogger struct {
	logger *slog.Logger
}

func NewPlainStyledLogger(logger *slog.Logger) *PlainStyledLogger {
	return &PlainStyledLogger{logger: logger}
}

func (sl *PlainStyledLogger) Debug(msg string, args ...any) { sl.logger.Debug(msg, args...) }
func (sl *PlainStyledLogger) Info(msg string, args ...any)  { sl.logger.Info(msg, args...) }
func (sl *PlainStyledLogger) Warn(msg string, args ...any)  { sl.logger.Warn(msg, args...) }
func (sl *PlainStyledLogger) Error(msg string, args ...any) { sl.logger.Error(msg, args...) }

func (sl *PlainStyledLogger) InfoWithCount(msg string, count int, args ...any) {
	sl.logger.Info(fmt.Sprintf("%s (%d)", msg, count), args...)
}

func (sl *PlainStyledLogger) InfoWithEndpoint(msg string, endpoint string, args ...any) {
	sl.logger.Info(fmt.Sprintf("%s %s", msg, endpoint), args...)
}

func (sl *PlainStyledLogger) InfoWithHealthCheck(msg string, endpoint string, args ...any) {
	sl.logger.Info(fmt.Sprintf("%s %s", msg, endpoint), args...)
}

func (sl *PlainStyledLogger) InfoWithNumbers(msg string, numbers ...int64) {
	formatted := make([]string, len(numbers))
	for i, num := range numbers {
		formatted[i] = fmt.Sprintf("%d", num)
	}
	sl.logger.Info(fmt.Sprintf(msg, toInterfaceSlice(formatted)...))
}

func (sl *PlainStyledLogger) WarnWithEndpoint(msg string, endpoint string, args ...any) {
	sl.logger.Warn(fmt.Sprintf("%s %s", msg, endpoint), args...)
}

func (sl *PlainStyledLogger) ErrorWithEndpoint(msg string, endpoint string, args ...any) {
	sl.logger.Error(fmt.Sprintf("%s %s", msg, endpoint), args...)
}

func (sl *PlainStyledLogger) InfoHealthy(msg string, endpoint string, args ...any) {
	sl.logger.Info(fmt.Sprintf("%s %s", msg, endpoint), args...)
}

func (sl *PlainStyledLogger) InfoHealthStatus(msg string, name string, status domain.EntryStatus, args ...any) {
	statusText := "normal"
	if status == domain.StatusWarning {
		statusText = "warning"
	}
	sl.logger.Info(fmt.Sprintf("%s %s is %s", msg, name, statusText), args...)
}

func (sl *PlainStyledLogger) GetUnderlying() *slog.Logger { return sl.logger }

func (sl *PlainStyledLogger) WithRequestID(requestID string) StyledLogger {
	return sl.With("request_id", requestID)
}

func (sl *PlainStyledLogger) InfoConfigChange(oldName, newName string) {
	sl.logger.Info(fmt.Sprintf("Upstream configuration changed for %s to: %s", oldName, newName))
}

func (sl *PlainStyledLogger) WithAttrs(attrs ...slog.Attr) StyledLogger {
	args := make([]any, 0, len(attrs)*2)
	for _, attr := range attrs {
		args = append(args, attr.Key, attr.Value)
	}
	return &PlainStyledLogger{logger: sl.logger.With(args...)}
}

func (sl *PlainStyledLogger) With(args ...any) StyledLogger {
	return &PlainStyledLogger{logger: sl.logger.With(args...)}
}

func (sl *PlainStyledLogger) InfoWithContext(msg string, endpoint string, ctx LogContext) {
	sl.logWithContext(LogLevelInfo, msg, endpoint, ctx)
}

func (sl *PlainStyledLogger) WarnWithContext(msg string, endpoint string, ctx LogContext) {
	sl.logWithContext(LogLevelWarn, msg, endpoint, ctx)
}

func (sl *PlainStyledLogger) ErrorWithContext(msg string, endpoint string, ctx LogContext) {
	sl.logWithContext(LogLevelError, msg, endpoint, ctx)
}

// logWithContext emits the user-facing message immediately and, if present,
// also emits the detailed args to the file-only channel.
func (sl *PlainStyledLogger) logWithContext(level string, msg string, endpoint string, ctx LogContext) {
	styledMsg := fmt.Sprintf("%s %s", msg, endpoint)

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

func toInterfaceSlice(strs []string) []interface{} {
	result := make([]interface{}, len(strs))
	for i, s := range strs {
		result[i] = s
	}
	return result
}
