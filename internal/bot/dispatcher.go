package bot

import (
	"log/slog"
	"sync"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/himera-fsm/internal/bot/handlers"
	"github.com/Proton-105/himera-fsm/internal/fsm"
	"github.com/Proton-105/himera-fsm/internal/state"
)

// Dispatcher binds each update to its session and routes it by the current state.
type Dispatcher struct {
	storage       *state.Storage
	stateHandlers map[string]handlers.Handler
	log           *slog.Logger
	mu            sync.RWMutex
}

// NewDispatcher creates a Dispatcher with an empty handlers registry.
func NewDispatcher(storage *state.Storage, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}

	return &Dispatcher{
		storage:       storage,
		stateHandlers: make(map[string]handlers.Handler),
		log:           log,
	}
}

// RegisterStateHandler registers a handler for the provided state.
func (d *Dispatcher) RegisterStateHandler(s string, h handlers.Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stateHandlers[s] = h
}

// Bind attaches the session of the update's chat and sender to c.
func (d *Dispatcher) Bind(c telebot.Context) *fsm.Context {
	if fc := handlers.FSM(c); fc != nil {
		return fc
	}

	fc, err := fsm.FromTelebot(d.storage, c)
	if err != nil {
		d.log.Warn("cannot bind session", slog.Any("error", err))
		return nil
	}

	c.Set(handlers.FSMContextKey, fc)
	return fc
}

// Lookup returns the handler registered for the session's current state, if any.
func (d *Dispatcher) Lookup(c telebot.Context) handlers.Handler {
	fc := d.Bind(c)
	if fc == nil {
		return nil
	}

	current := fc.State(handlers.RequestContext())
	handler := d.getHandler(current)
	if handler == nil {
		d.log.Debug("no handler registered for state", slog.String("state", current), slog.String("key", fc.Key().String()))
	}

	return handler
}

func (d *Dispatcher) getHandler(s string) handlers.Handler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.stateHandlers[s]
}
