package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/NullWinters/GalChat/internal/api"
	"github.com/NullWinters/GalChat/internal/chat"
	"github.com/NullWinters/GalChat/internal/config"
	"github.com/NullWinters/GalChat/internal/gateway"
	"github.com/NullWinters/GalChat/internal/handlers"
	"github.com/NullWinters/GalChat/internal/identity"
	"github.com/NullWinters/GalChat/internal/store"
	"github.com/NullWinters/GalChat/internal/suggest"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Durable store: Postgres when configured, SQLite otherwise. Neither
	// configured in development means in-memory-only operation.
	var msgStore store.MessageStore
	switch {
	case cfg.DatabaseURL != "":
		pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		defer pg.Close()
		msgStore = pg
		logger.Info().Msg("connected to PostgreSQL")
	case cfg.SQLitePath != "":
		sq, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite open failed")
		}
		defer sq.Close()
		msgStore = sq
		logger.Info().Str("path", cfg.SQLitePath).Msg("opened SQLite store")
	default:
		logger.Warn().Msg("no durable store configured, history will not survive restarts")
	}

	// Recent-message cache
	var cache *store.RecentCache
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		var err error
		cache, err = store.NewRecentCache(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer cache.Close()
		redisClient = cache.Client()
		logger.Info().Msg("connected to Redis")
	}

	// Core components
	resolver := identity.NewResolver(msgStore)
	registry := chat.NewRegistry(msgStore, cache, logger)

	provider := suggest.NewOpenAIProvider(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel)
	engine := suggest.NewEngine(provider, registry, resolver, suggest.Options{
		Window:  cfg.SuggestWindow,
		Count:   cfg.SuggestCount,
		Timeout: cfg.LLMTimeout,
	}, logger)

	hub := gateway.NewHub(resolver)
	hub.SetCanceller(engine)
	engine.SetDelivery(hub)
	registry.SetBroadcaster(hub)

	// Handlers and router
	h := handlers.NewHandler(registry, resolver, engine, hub, msgStore, cache, logger)
	router := api.NewRouter(logger, h, redisClient)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // generate requests wait on the provider
		IdleTimeout:  60 * time.Second,
	}

	socket := gateway.NewSocketServer(":"+cfg.SocketPort, engine, logger)

	g, gctx := errgroup.WithContext(ctx)

	// Persistence queue consumer
	g.Go(func() error {
		registry.Run(gctx)
		return nil
	})

	g.Go(func() error {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Msg("starting GalChat server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return socket.Listen(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("server failed")
	}

	logger.Info().Msg("server stopped")
}
