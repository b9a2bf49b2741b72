package errors

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Proton-105/himera-fsm/pkg/logger"
)

// Handler logs storage failures. High and critical errors are logged at
// error level, which the logger's Sentry sink reports; lower severities stay
// at warn and never reach Sentry.
type Handler struct {
	log *slog.Logger
}

func NewHandler(log *slog.Logger) *Handler {
	return &Handler{log: log}
}

// Handle records err and reports whether the failed operation may be retried.
func (h *Handler) Handle(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}

	if ctx == nil {
		ctx = context.Background()
	}

	log := slog.Default()
	if h != nil && h.log != nil {
		log = h.log
	}

	var appErr *AppError
	if errors.As(err, &appErr) && appErr != nil {
		attrs := []slog.Attr{
			slog.String("code", appErr.Code),
			slog.String("message", appErr.Message),
			slog.String("severity", string(appErr.Severity)),
			slog.Bool("retryable", appErr.Retryable),
			slog.Any("error", err),
			slog.Group("tags",
				slog.String("code", appErr.Code),
				slog.String("severity", string(appErr.Severity)),
			),
		}

		if correlationID := logger.CorrelationIDFromContext(ctx); correlationID != "" {
			attrs = append(attrs, slog.String("correlation_id", correlationID))
		}

		level := slog.LevelWarn
		if appErr.Severity == SeverityCritical || appErr.Severity == SeverityHigh {
			level = slog.LevelError
		}
		log.LogAttrs(ctx, level, "fsm storage error", attrs...)

		return appErr.Retryable
	}

	attrs := []slog.Attr{
		slog.String("severity", string(SeverityHigh)),
		slog.Bool("retryable", false),
		slog.Any("error", err),
	}

	if correlationID := logger.CorrelationIDFromContext(ctx); correlationID != "" {
		attrs = append(attrs, slog.String("correlation_id", correlationID))
	}

	log.LogAttrs(ctx, slog.LevelError, "unknown error", attrs...)

	return false
}
