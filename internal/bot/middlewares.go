package bot

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/himera-fsm/internal/bot/handlers"
	errs "github.com/Proton-105/himera-fsm/internal/errors"
)

const genericErrorMessage = "⚠️ Something went wrong. Please try again later."

// RecoveryMiddleware catches panics, reports them via the centralized handler, and notifies the user.
func RecoveryMiddleware(log *slog.Logger, errHandler *errs.Handler) handlers.Middleware {
	if log == nil {
		log = slog.Default()
	}

	return func(next handlers.Handler) handlers.Handler {
		if next == nil {
			return nil
		}

		return func(c telebot.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("panic recovered in handler", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))

					if errHandler != nil {
						errHandler.Handle(context.Background(), fmt.Errorf("panic recovered: %v", r))
					}

					if c != nil {
						if sendErr := c.Send(genericErrorMessage); sendErr != nil {
							log.Error("failed to notify user about panic", slog.Any("error", sendErr))
						}
					}

					err = nil
				}
			}()

			return next(c)
		}
	}
}

// ErrorHandlingMiddleware centralizes error reporting and user messaging for handler failures.
func ErrorHandlingMiddleware(errHandler *errs.Handler) handlers.Middleware {
	return func(next handlers.Handler) handlers.Handler {
		if next == nil {
			return nil
		}

		return func(c telebot.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}

			if errHandler != nil {
				errHandler.Handle(context.Background(), err)
			}

			if c != nil {
				_ = c.Send(genericErrorMessage)
			}

			return nil
		}
	}
}

// LoggingMiddleware logs basic telemetry about incoming updates.
func LoggingMiddleware(log *slog.Logger) handlers.Middleware {
	if log == nil {
		log = slog.Default()
	}

	return func(next handlers.Handler) handlers.Handler {
		if next == nil {
			return nil
		}

		return func(c telebot.Context) error {
			start := time.Now()

			attrs := []slog.Attr{}
			if fc := handlers.FSM(c); fc != nil {
				attrs = append(attrs, slog.String("key", fc.Key().String()))
			}

			action := ""
			if c != nil {
				if cb := c.Callback(); cb != nil {
					action = cb.Data
				} else {
					action = c.Text()
				}
			}
			attrs = append(attrs, slog.String("action", action))

			log.LogAttrs(context.Background(), slog.LevelDebug, "handling update", attrs...)
			err := next(c)
			log.LogAttrs(context.Background(), slog.LevelInfo, "handled update",
				append(attrs,
					slog.Duration("duration", time.Since(start)),
					slog.Any("error", err),
				)...,
			)

			return err
		}
	}
}
