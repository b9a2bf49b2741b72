package keyboard

import (
	"log/slog"

	telebot "gopkg.in/telebot.v3"
)

// Callback identifiers of the dialog buttons.
const (
	CallbackCancel      = "cancel"
	CallbackFormConfirm = "form_confirm"
	CallbackFormRestart = "form_restart"
)

// Builder creates the inline keyboards shown during a dialog.
type Builder struct {
	log *slog.Logger
}

// NewBuilder returns a new Builder instance.
func NewBuilder(log *slog.Logger) *Builder {
	if log == nil {
		log = slog.Default()
	}

	return &Builder{log: log}
}

// CancelButton builds a single cancel button.
func (b *Builder) CancelButton() *telebot.ReplyMarkup {
	return b.build(NewInlineKeyboard().AddRow(
		InlineButton{Text: "Cancel ❌", Unique: CallbackCancel},
	))
}

// ConfirmButtons builds the confirm and restart buttons of the form summary.
func (b *Builder) ConfirmButtons() *telebot.ReplyMarkup {
	return b.build(NewInlineKeyboard().
		AddRow(
			InlineButton{Text: "Confirm ✅", Unique: CallbackFormConfirm},
			InlineButton{Text: "Start over 🔁", Unique: CallbackFormRestart},
		).
		AddRow(InlineButton{Text: "Cancel ❌", Unique: CallbackCancel}),
	)
}

func (b *Builder) build(kb *InlineKeyboardBuilder) *telebot.ReplyMarkup {
	markup, err := kb.Build()
	if err != nil {
		b.log.Error("failed to build keyboard", slog.Any("error", err))
		return &telebot.ReplyMarkup{}
	}

	return markup
}
