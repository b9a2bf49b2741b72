// Package fsm binds the session store to a single conversation.
package fsm

import (
	"context"
	"errors"
	"sync"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/himera-fsm/internal/state"
)

// ErrNoSender is returned when an update carries no chat or sender to key a session on.
var ErrNoSender = errors.New("fsm: update has no chat or sender")

// TransitionRecorder is notified after a state change has been persisted.
type TransitionRecorder func(from, to string)

var (
	recorderMu sync.RWMutex
	recorder   TransitionRecorder
)

// RegisterTransitionRecorder installs the hook called on every persisted transition.
func RegisterTransitionRecorder(fn TransitionRecorder) {
	recorderMu.Lock()
	recorder = fn
	recorderMu.Unlock()
}

func recordTransition(from, to *string) {
	recorderMu.RLock()
	fn := recorder
	recorderMu.RUnlock()

	if fn == nil {
		return
	}

	fn(deref(from), deref(to))
}

// Context is the FSM view of one (bot, chat, user) session.
type Context struct {
	storage *state.Storage
	key     state.Key
}

// NewContext binds storage to key.
func NewContext(storage *state.Storage, key state.Key) *Context {
	return &Context{storage: storage, key: key}
}

// FromTelebot derives the session key of an update and binds it to storage.
func FromTelebot(storage *state.Storage, c telebot.Context) (*Context, error) {
	key, err := KeyFromTelebot(c)
	if err != nil {
		return nil, err
	}

	return NewContext(storage, key), nil
}

// KeyFromTelebot builds the session key from the bot identity, the chat and the sender.
func KeyFromTelebot(c telebot.Context) (state.Key, error) {
	if c == nil || c.Chat() == nil || c.Sender() == nil {
		return state.Key{}, ErrNoSender
	}

	var botID int64
	if b := c.Bot(); b != nil && b.Me != nil {
		botID = b.Me.ID
	}

	return state.Key{BotID: botID, ChatID: c.Chat().ID, UserID: c.Sender().ID}, nil
}

// Key returns the session key.
func (c *Context) Key() state.Key {
	return c.key
}

// State returns the current state name, or "" when none is set or it cannot be read.
func (c *Context) State(ctx context.Context) string {
	st, _ := c.storage.GetState(ctx, c.key)
	return deref(st)
}

// GetState returns the current state and how the read ended.
func (c *Context) GetState(ctx context.Context) (*string, state.Result) {
	return c.storage.GetState(ctx, c.key)
}

// SetState moves the session to name. An empty name clears the state.
func (c *Context) SetState(ctx context.Context, name string) state.Result {
	var next *string
	if name != "" {
		next = state.Of(name)
	}

	prev, _ := c.storage.GetState(ctx, c.key)

	res := c.storage.SetState(ctx, c.key, next)
	if res.OK() && deref(prev) != name {
		recordTransition(prev, next)
	}

	return res
}

// GetData returns the session payload.
func (c *Context) GetData(ctx context.Context) (state.Data, state.Result) {
	return c.storage.GetData(ctx, c.key)
}

// SetData replaces the session payload.
func (c *Context) SetData(ctx context.Context, data state.Data) state.Result {
	return c.storage.SetData(ctx, c.key, data)
}

// UpdateData merges partial into the session payload atomically.
func (c *Context) UpdateData(ctx context.Context, partial state.Data) (state.Data, state.Result) {
	return c.storage.AtomicUpdateData(ctx, c.key, partial)
}

// Clear finishes the dialog: both the state and the payload are removed.
func (c *Context) Clear(ctx context.Context) state.Result {
	prev, _ := c.storage.GetState(ctx, c.key)

	res := c.storage.Clear(ctx, c.key)
	if res.OK() && prev != nil {
		recordTransition(prev, nil)
	}

	return res
}

func deref(s *string) string {
	if s == nil {
		return ""
	}

	return *s
}
