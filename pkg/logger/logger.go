// Package logger builds the application's slog logger.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/getsentry/sentry-go"
	slogmulti "github.com/samber/slog-multi"
	slogsentry "github.com/samber/slog-sentry/v2"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Proton-105/himera-fsm/pkg/config"
)

var level = new(slog.LevelVar)

// New creates a slog.Logger configured from cfg. Output goes to stdout and,
// when cfg.Logger.File is set, to a size-rotated file. Sensitive attributes
// are masked before they reach any sink.
func New(cfg config.Config) *slog.Logger {
	SetLevel(cfg.Logger.Level)

	var out io.Writer = os.Stdout
	if cfg.Logger.File != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.Logger.File,
			MaxSize:    cfg.Logger.MaxSizeMB,
			MaxBackups: cfg.Logger.MaxBackups,
			MaxAge:     cfg.Logger.MaxAgeDays,
			Compress:   true,
		})
	}

	opts := &slog.HandlerOptions{Level: level, AddSource: level.Level() == slog.LevelDebug}

	var handler slog.Handler
	if strings.EqualFold(cfg.Logger.Format, "json") {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	if cfg.Sentry.Enabled && initSentry(cfg) {
		handler = slogmulti.Fanout(handler, SentryHandler(nil))
	}

	return slog.New(NewMaskingHandler(handler)).With(slog.String("env", cfg.AppEnv))
}

// SentryHandler reports error-level records to Sentry through hub, or the
// current hub when hub is nil. It is the only path errors take to Sentry.
func SentryHandler(hub *sentry.Hub) slog.Handler {
	return slogsentry.Option{Level: slog.LevelError, Hub: hub}.NewSentryHandler()
}

// SetLevel changes the level of every logger built by New.
func SetLevel(name string) {
	level.Set(parseLevel(name))
}

func parseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func initSentry(cfg config.Config) bool {
	environment := cfg.Sentry.Environment
	if environment == "" {
		environment = cfg.AppEnv
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.Sentry.DSN,
		Environment: environment,
		SampleRate:  cfg.Sentry.SampleRate,
	})
	if err != nil {
		slog.Default().Error("sentry init failed", slog.Any("error", err))
		return false
	}

	return true
}
