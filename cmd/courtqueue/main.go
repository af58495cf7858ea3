// Package main is the entry point for the court queue.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"courtqueue/internal/bot"
	"courtqueue/internal/config"
	"courtqueue/internal/engine"
	"courtqueue/internal/httpapi"
	"courtqueue/internal/model"
	"courtqueue/internal/pkg/db"
	"courtqueue/internal/realtime"
	"courtqueue/internal/repository"
	"courtqueue/internal/repository/memstore"
	"courtqueue/internal/service"
	"courtqueue/internal/timer"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if level, err := zerolog.ParseLevel(cfg.Log.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	log.Info().Str("store", cfg.Store.Driver).Msg("Configuration loaded successfully")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores, source, ready, closeStore := openStore(ctx, cfg)
	defer closeStore()

	eng := engine.New(stores.Queue, engine.Config{
		RecheckBackoff:    cfg.Engine.RecheckBackoff,
		FinishSettleDelay: cfg.Engine.FinishSettleDelay,
	})

	timers := timer.New(eng, eng, timer.Config{
		Ticks:                  cfg.Timer.CountdownSeconds,
		Tick:                   cfg.Timer.Tick,
		ReleaseOnInactiveCourt: cfg.Engine.CancelOnCourtDeactivate,
	})

	queue := service.NewQueueService(stores, eng, timers, service.Options{
		CancelOnCourtDeactivate: cfg.Engine.CancelOnCourtDeactivate,
	})

	refresh := func() {
		queue.Invalidate()
		rctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if _, err := queue.Refresh(rctx); err != nil {
			log.Debug().Err(err).Msg("Refresh after change failed")
		}
	}

	bridge := realtime.NewBridge(source, realtime.Config{
		GamesDebounce:   cfg.Realtime.GamesDebounce,
		UsersDebounce:   cfg.Realtime.UsersDebounce,
		LivenessTimeout: cfg.Realtime.LivenessTimeout,
		PollInterval:    cfg.Realtime.PollInterval,
	}, realtime.Handlers{
		OnGames: refresh,
		OnUsers: refresh,
		OnCourts: func() {
			refresh()
			eng.Trigger()
		},
		OnCourtAssignment: queue.OnCourtAssignment,
	})
	bridge.OnModeChange(func(m realtime.Mode) {
		log.Info().Str("mode", string(m)).Msg("Notification mode changed")
	})
	queue.SetModeSource(func() string { return string(bridge.Mode()) })

	timers.OnStarted(func(*model.Game) {
		queue.Invalidate()
	})

	if _, err := queue.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("Initial board load failed")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(gctx) })
	g.Go(func() error { return timers.Run(gctx) })
	g.Go(func() error { return bridge.Run(gctx) })
	g.Go(func() error { return httpapi.NewServer(cfg.HTTP.Addr, queue, ready, cfg.HTTP.CORSOrigins...).Run(gctx) })

	if cfg.Bot.Token != "" {
		telegramBot, err := bot.New(&bot.Dependencies{Config: cfg, Queue: queue})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create bot")
		}
		g.Go(func() error { return telegramBot.Run(gctx) })
	} else {
		log.Warn().Msg("No bot token configured; running without Telegram")
	}

	eng.Trigger()

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Shutting down after error")
	}
	log.Info().Msg("Stopped gracefully")
}

// openStore connects the configured store and returns its change feed and
// readiness check.
func openStore(ctx context.Context, cfg *config.Config) (repository.Stores, realtime.Source, httpapi.ReadyCheck, func()) {
	if cfg.Store.Driver == config.DriverMemory {
		mem := memstore.New()
		mem.SeedCourts(cfg.Store.Courts)
		log.Info().Int("courts", cfg.Store.Courts).Msg("Using in-memory store")
		return mem.Stores(), mem, nil, func() {}
	}

	pool, err := db.NewPool(ctx, &cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}

	log.Info().Msg("Running database migrations...")
	if err := db.Migrate(ctx, pool.Pool, cfg.Realtime.Channel); err != nil {
		pool.Close()
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	stores := repository.Stores{
		Queue:  repository.NewQueueRepository(pool.Pool),
		Users:  repository.NewUserRepository(pool.Pool),
		Config: repository.NewConfigRepository(pool.Pool),
	}
	return stores, realtime.NewPGListener(pool.Pool, cfg.Realtime.Channel), pool.HealthCheck, pool.Close
}
