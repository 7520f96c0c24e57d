// Package main is the entry point for the tournament wallet API.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"tournament-wallet/internal/config"
	"tournament-wallet/internal/notify"
	"tournament-wallet/internal/pkg/db"
	"tournament-wallet/internal/pkg/lock"
	"tournament-wallet/internal/pkg/metrics"
	"tournament-wallet/internal/repository"
	"tournament-wallet/internal/repository/memory"
	"tournament-wallet/internal/server"
	"tournament-wallet/internal/service"
)

func main() {
	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	setupLogger(cfg.Log)
	log.Info().Str("storage", cfg.Storage.Driver).Msg("Configuration loaded successfully")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage
	var store repository.Store
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		pool, err := db.NewPool(ctx, &cfg.Database)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer pool.Close()
		if err := db.Migrate(ctx, pool); err != nil {
			log.Fatal().Err(err).Msg("Failed to run database migrations")
		}
		store = repository.NewPostgresStore(pool.Pool, cfg.Database.TxRetries)
	default:
		log.Warn().Msg("Using in-memory storage, balances are lost on restart")
		store = memory.NewStore()
	}

	// Notifications
	sinks := []notify.Notifier{notify.LogNotifier{}}
	if cfg.NATS.URL != "" {
		nc, js, err := notify.ConnectNATS(cfg.NATS.URL)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		defer nc.Drain()
		if err := notify.EnsureStream(ctx, js, cfg.NATS.Stream); err != nil {
			log.Fatal().Err(err).Msg("Failed to ensure ledger event stream")
		}
		sinks = append(sinks, notify.NewNATSNotifier(js))
	}
	if cfg.Telegram.Token != "" {
		tg, err := notify.NewTelegramNotifier(cfg.Telegram.Token, cfg.Telegram.AdminChatIDs)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create Telegram notifier")
		}
		sinks = append(sinks, tg)
	}
	dispatcher := notify.NewDispatcher(1024, 5*time.Second, sinks...)
	dispatcherDone := make(chan struct{})
	go func() {
		defer close(dispatcherDone)
		_ = dispatcher.Run(context.Background())
	}()

	// Idempotency cache
	var idempotency redis.Cmdable
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Msg("Redis unreachable, idempotent replay will fail open until it recovers")
		}
		idempotency = rdb
	}

	// Services
	m := metrics.New()
	deps := service.Deps{
		Store:       store,
		Locks:       lock.NewKeyedLock(),
		Events:      dispatcher,
		Metrics:     m,
		LockTimeout: cfg.Locks.AcquireTimeout,
	}

	srv, err := server.New(server.Deps{
		Config:   *cfg,
		Store:    store,
		Accounts: service.NewAccountService(deps),
		Wallet:   service.NewWalletService(deps, cfg.Wallet),
		Join:     service.NewJoinService(deps, cfg.Match),
		Settle:   service.NewSettlementService(deps, cfg.Settlement),
		Matches:  service.NewMatchService(deps, cfg.Match),
		Metrics:  m,
		Redis:    idempotency,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create HTTP server")
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("HTTP server is starting...")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	// Requests are done; flush pending notifications.
	dispatcher.Close()
	select {
	case <-dispatcherDone:
	case <-shutdownCtx.Done():
		log.Warn().Msg("Notification queue not drained before shutdown deadline")
	}
	log.Info().Msg("Server stopped gracefully")
}

func setupLogger(cfg config.LogConfig) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}
