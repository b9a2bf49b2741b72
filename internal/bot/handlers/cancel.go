package handlers

import (
	"log/slog"

	telebot "gopkg.in/telebot.v3"
)

// NewCancelHandler clears the session and ends the current dialog.
func NewCancelHandler(log *slog.Logger) Handler {
	if log == nil {
		log = slog.Default()
	}

	return func(c telebot.Context) error {
		fc := FSM(c)
		if fc == nil {
			log.Warn("cancel handler invoked without session")
			return nil
		}

		ctx := RequestContext()
		if c.Callback() != nil {
			_ = c.Respond()
		}

		if fc.State(ctx) == "" {
			return c.Send("Nothing to cancel.", &telebot.ReplyMarkup{RemoveKeyboard: true})
		}

		if res := fc.Clear(ctx); res.Failed() {
			return res.Err()
		}

		log.Info("dialog cancelled", slog.String("key", fc.Key().String()))

		return c.Send("Cancelled.", &telebot.ReplyMarkup{RemoveKeyboard: true})
	}
}
