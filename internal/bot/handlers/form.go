package handlers

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/himera-fsm/internal/bot/keyboard"
	"github.com/Proton-105/himera-fsm/internal/state"
)

const (
	maxNameLength = 64
	minAge        = 1
	maxAge        = 150
)

// Form walks a user through name and age, keeping the answers in the session payload.
type Form struct {
	kb  *keyboard.Builder
	log *slog.Logger
}

// NewForm builds the registration dialog handlers.
func NewForm(kb *keyboard.Builder, log *slog.Logger) *Form {
	if log == nil {
		log = slog.Default()
	}

	return &Form{kb: kb, log: log}
}

// Start resets the session and asks for the name.
func (f *Form) Start(c telebot.Context) error {
	fc := FSM(c)
	if fc == nil {
		f.log.Warn("start handler invoked without session")
		return nil
	}

	ctx := RequestContext()
	if c.Callback() != nil {
		_ = c.Respond()
	}

	if res := fc.Clear(ctx); res.Failed() {
		return res.Err()
	}
	if res := fc.SetState(ctx, StateFormName); res.Failed() {
		return res.Err()
	}

	return c.Send("Hi! What is your name?", f.kb.CancelButton())
}

// Name stores the name and asks for the age.
func (f *Form) Name(c telebot.Context) error {
	fc := FSM(c)
	if fc == nil {
		return nil
	}

	name := strings.TrimSpace(c.Text())
	if name == "" || len(name) > maxNameLength {
		return c.Send(fmt.Sprintf("Please send a name of 1 to %d characters.", maxNameLength), f.kb.CancelButton())
	}

	ctx := RequestContext()
	if _, res := fc.UpdateData(ctx, state.Data{"name": name}); res.Failed() {
		return res.Err()
	}
	if res := fc.SetState(ctx, StateFormAge); res.Failed() {
		return res.Err()
	}

	return c.Send(fmt.Sprintf("Nice to meet you, %s. How old are you?", name), f.kb.CancelButton())
}

// Age stores the age and asks for confirmation.
func (f *Form) Age(c telebot.Context) error {
	fc := FSM(c)
	if fc == nil {
		return nil
	}

	age, err := strconv.Atoi(strings.TrimSpace(c.Text()))
	if err != nil || age < minAge || age > maxAge {
		return c.Send("Please send your age as a number.", f.kb.CancelButton())
	}

	ctx := RequestContext()
	data, res := fc.UpdateData(ctx, state.Data{"age": age})
	if res.Failed() {
		return res.Err()
	}
	if res := fc.SetState(ctx, StateFormConfirm); res.Failed() {
		return res.Err()
	}

	return c.Send(summary(data)+"\n\nIs this correct?", f.kb.ConfirmButtons())
}

// Confirm finishes the dialog and clears the session.
func (f *Form) Confirm(c telebot.Context) error {
	fc := FSM(c)
	if fc == nil {
		return nil
	}

	ctx := RequestContext()
	_ = c.Respond()

	if fc.State(ctx) != StateFormConfirm {
		return c.Send("This form has expired. Send /start to begin again.")
	}

	data, res := fc.GetData(ctx)
	if res.Failed() {
		return res.Err()
	}

	if res := fc.Clear(ctx); res.Failed() {
		return res.Err()
	}

	f.log.Info("form completed", slog.String("key", fc.Key().String()))

	return c.Send("Saved!\n" + summary(data))
}

// Pending reminds the user to use the buttons while waiting for confirmation.
func (f *Form) Pending(c telebot.Context) error {
	return c.Send("Please confirm or restart using the buttons above.", f.kb.ConfirmButtons())
}

func summary(data state.Data) string {
	return fmt.Sprintf("Name: %v\nAge: %v", data["name"], data["age"])
}
