package bot

import (
	"fmt"
	"log/slog"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/himera-fsm/internal/bot/handlers"
	"github.com/Proton-105/himera-fsm/internal/bot/keyboard"
	errs "github.com/Proton-105/himera-fsm/internal/errors"
	"github.com/Proton-105/himera-fsm/internal/middleware"
	"github.com/Proton-105/himera-fsm/internal/state"
	"github.com/Proton-105/himera-fsm/pkg/config"
)

const helpMessage = "Send /start to fill in the form, /cancel to stop at any time."

// Bot wraps telebot.Bot with the session storage and the dialog handlers.
type Bot struct {
	telebot    *telebot.Bot
	log        *slog.Logger
	router     *Router
	dispatcher *Dispatcher
	keyboard   *keyboard.Builder
	errHandler *errs.Handler
}

// New builds a telegram bot instance configured according to the application settings.
func New(cfg config.BotConfig, log *slog.Logger, storage *state.Storage, errHandler *errs.Handler) (*Bot, error) {
	tb, err := telebot.NewBot(telebot.Settings{
		Token:  cfg.Token,
		Poller: &telebot.LongPoller{Timeout: cfg.Timeout},
	})
	if err != nil {
		return nil, fmt.Errorf("initialize telebot: %w", err)
	}

	return newBot(tb, log, storage, errHandler), nil
}

func newBot(tb *telebot.Bot, log *slog.Logger, storage *state.Storage, errHandler *errs.Handler) *Bot {
	if log == nil {
		log = slog.Default()
	}
	if errHandler == nil {
		errHandler = errs.NewHandler(log)
	}

	dispatcher := NewDispatcher(storage, log)

	b := &Bot{
		telebot:    tb,
		log:        log,
		router:     NewRouter(dispatcher, log),
		dispatcher: dispatcher,
		keyboard:   keyboard.NewBuilder(log),
		errHandler: errHandler,
	}

	b.setupRouter()
	b.registerTelebotHandlers()

	return b
}

// Start runs the telegram bot event loop.
func (b *Bot) Start() {
	if b.telebot != nil {
		b.telebot.Start()
	}
}

// Stop gracefully stops the telegram bot.
func (b *Bot) Stop() {
	if b.telebot == nil {
		return
	}

	b.log.Info("stopping telegram bot...")
	b.telebot.Stop()
}

// Telebot exposes the underlying telebot.Bot instance for integrations such as health checks.
func (b *Bot) Telebot() *telebot.Bot {
	return b.telebot
}

// Router exposes the update router.
func (b *Bot) Router() *Router {
	return b.router
}

func (b *Bot) setupRouter() {
	b.router.Use(RecoveryMiddleware(b.log, b.errHandler))
	b.router.Use(ErrorHandlingMiddleware(b.errHandler))
	b.router.Use(LoggingMiddleware(b.log))
	b.router.Use(middleware.Metrics)

	form := handlers.NewForm(b.keyboard, b.log)
	cancel := handlers.NewCancelHandler(b.log)

	b.router.RegisterCommand(CommandStart, form.Start)
	b.router.RegisterCommand(CommandCancel, cancel)
	b.router.RegisterCommand(CommandHelp, func(c telebot.Context) error {
		return c.Send(helpMessage)
	})

	b.router.RegisterCallback(keyboard.CallbackCancel, handlers.CallbackHandler(cancel))
	b.router.RegisterCallback(keyboard.CallbackFormConfirm, form.Confirm)
	b.router.RegisterCallback(keyboard.CallbackFormRestart, form.Start)

	b.dispatcher.RegisterStateHandler(handlers.StateFormName, form.Name)
	b.dispatcher.RegisterStateHandler(handlers.StateFormAge, form.Age)
	b.dispatcher.RegisterStateHandler(handlers.StateFormConfirm, form.Pending)

	b.router.SetDefault(func(c telebot.Context) error {
		return c.Send(helpMessage)
	})
}

func (b *Bot) registerTelebotHandlers() {
	if b.telebot == nil {
		return
	}

	b.telebot.Handle(telebot.OnText, b.router.Route)
	b.telebot.Handle(telebot.OnCallback, b.router.Route)
}
