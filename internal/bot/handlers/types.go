package handlers

import (
	"context"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/himera-fsm/internal/fsm"
	"github.com/Proton-105/himera-fsm/pkg/logger"
)

// FSMContextKey is the telebot context key holding the session *fsm.Context.
const FSMContextKey = "fsm"

// Dialog states of the registration form.
const (
	StateFormName    = "form:name"
	StateFormAge     = "form:age"
	StateFormConfirm = "form:confirm"
)

// Handler processes bot commands.
type Handler func(c telebot.Context) error

// CallbackHandler processes inline callback events.
type CallbackHandler func(c telebot.Context) error

// Middleware wraps handlers with additional behavior.
type Middleware func(Handler) Handler

// HandlerFunc adapts ordinary functions to the Handler interface.
type HandlerFunc func(c telebot.Context) error

// Handle executes the underlying function.
func (h HandlerFunc) Handle(c telebot.Context) error {
	return h(c)
}

// FSM returns the session bound to the update, or nil if none was bound.
func FSM(c telebot.Context) *fsm.Context {
	if c == nil {
		return nil
	}

	fc, _ := c.Get(FSMContextKey).(*fsm.Context)
	return fc
}

// RequestContext returns a background context tagged with a fresh correlation id.
func RequestContext() context.Context {
	return logger.WithCorrelationID(context.Background())
}
