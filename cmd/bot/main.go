package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Proton-105/himera-fsm/internal/bot"
	errs "github.com/Proton-105/himera-fsm/internal/errors"
	"github.com/Proton-105/himera-fsm/internal/health"
	"github.com/Proton-105/himera-fsm/internal/lifecycle"
	"github.com/Proton-105/himera-fsm/internal/middleware"
	"github.com/Proton-105/himera-fsm/internal/state"
	"github.com/Proton-105/himera-fsm/pkg/config"
	"github.com/Proton-105/himera-fsm/pkg/graceful"
	"github.com/Proton-105/himera-fsm/pkg/logger"
	"github.com/Proton-105/himera-fsm/pkg/metrics"
	redisclient "github.com/Proton-105/himera-fsm/pkg/redis"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fsm service stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, v, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(*cfg)
	slog.SetDefault(log)
	config.Watch(v, log, logger.SetLevel)

	log.Info("starting fsm service",
		slog.String("env", cfg.AppEnv),
		slog.String("driver", cfg.Storage.Driver),
		slog.String("serializer", cfg.Storage.Serializer),
	)

	errHandler := errs.NewHandler(log)
	shutdown := lifecycle.NewShutdown(log)

	records, err := openStore(ctx, *cfg, log)
	if err != nil {
		return err
	}
	instrumented := metrics.NewInstrumentedStore(records)

	storage := state.NewStorage(instrumented, state.NewSerializer(cfg.Storage.Serializer, log), log, errHandler)
	shutdown.Register(lifecycle.StageStorage, "storage", func(context.Context) error {
		return storage.Close().Err()
	})

	checker := health.NewChecker(log)
	checker.AddCheck("storage", instrumented)
	probes := lifecycle.NewProbes(log, checker)

	workersCtx, stopWorkers := context.WithCancel(context.Background())
	shutdown.Register(lifecycle.StageWorkers, "workers", func(context.Context) error {
		stopWorkers()
		return nil
	})
	go state.NewCleaner(instrumented, log, cfg.Storage.CleanupInterval).Run(workersCtx)
	go metrics.NewStateCollector(instrumented, log, 0).Run(workersCtx)

	if cfg.Bot.Token != "" {
		b, err := bot.New(cfg.Bot, log, storage, errHandler)
		if err != nil {
			return errors.Join(err, shutdown.Execute(context.Background()))
		}
		checker.AddCheck("telegram", health.NewTelegramChecker(b.Telebot()))

		go b.Start()
		shutdown.Register(lifecycle.StageIngress, "bot", func(context.Context) error {
			b.Stop()
			return nil
		})
	} else {
		log.Warn("bot token is empty, telegram bot is disabled")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", checker.Handler())
	mux.Handle("/livez", probes.LivenessHandler())
	mux.Handle("/readyz", probes.ReadinessHandler())

	server := graceful.NewServer(log, &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: logger.Middleware(middleware.New(log)(mux)),
	}, cfg.Server.ShutdownTimeout)

	probes.SetReady(true)

	serveErr := server.ListenAndServe(ctx)

	probes.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := shutdown.Execute(shutdownCtx); err != nil {
		serveErr = errors.Join(serveErr, err)
	}

	log.Info("fsm service stopped")

	return serveErr
}

// openStore opens the RecordStore selected by the storage driver.
func openStore(ctx context.Context, cfg config.Config, log *slog.Logger) (state.RecordStore, error) {
	switch cfg.Storage.Driver {
	case "redis":
		client, err := redisclient.New(ctx, cfg.Redis)
		if err != nil {
			return nil, errs.NewOpenError(cfg.Redis.Addr, err)
		}
		return state.NewRedisStore(client, cfg.Redis.Prefix, log), nil
	case "bolt":
		store, err := state.OpenBolt(cfg.Storage.Path, cfg.Storage.BusyTimeout, log)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		dialect, err := state.DialectByName(cfg.Storage.Driver)
		if err != nil {
			return nil, errs.NewOpenError(cfg.Storage.Driver, err)
		}
		store, err := state.OpenSQL(ctx, state.SQLOptions{
			Dialect:     dialect,
			DSN:         cfg.Storage.Path,
			BusyTimeout: cfg.Storage.BusyTimeout,
			Log:         log,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	}
}
