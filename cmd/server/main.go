package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/parley/internal/api"
	"github.com/eldtechnologies/parley/internal/api/middleware"
	"github.com/eldtechnologies/parley/internal/broadcast"
	"github.com/eldtechnologies/parley/internal/chat"
	"github.com/eldtechnologies/parley/internal/config"
	"github.com/eldtechnologies/parley/internal/events"
	"github.com/eldtechnologies/parley/internal/handlers"
	"github.com/eldtechnologies/parley/internal/models"
	"github.com/eldtechnologies/parley/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr).With().Timestamp().Logger()
		bootLogger.Fatal().Err(err).Msg("invalid configuration")
	}

	logger := newLogger(cfg)
	ctx := context.Background()

	dataStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("store connection failed")
	}
	defer dataStore.Close()

	// Initialize Redis store
	var redisStore *store.RedisStore
	var limiter *middleware.RateLimiter
	if cfg.RedisURL != "" {
		redisStore, err = store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisStore.Close()
		limiter = middleware.NewRateLimiter(redisStore, logger, middleware.RateLimiterConfig{
			Whitelist:        cfg.RateLimitWhitelist,
			AutoBlockEnabled: cfg.AutoBlockEnabled,
		})
		logger.Info().Msg("connected to Redis, rate limiting enabled")
	}

	chatOpts := chat.Options{RoomScoped: cfg.RoomScopedDelivery, Logger: logger}
	if cfg.KafkaEnabled() {
		sink := events.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		defer sink.Close()
		chatOpts.Sink = sink
		logger.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("exporting messages to Kafka")
	}

	messages := broadcast.New[models.Message]("chat", cfg.ChannelCapacity)
	relay := broadcast.New[handlers.Frame]("relay", cfg.RelayCapacity)

	h := handlers.NewHandler(handlers.Deps{
		Store:     dataStore,
		Redis:     redisStore,
		Chat:      chat.NewService(dataStore, dataStore, messages, chatOpts),
		Messages:  messages,
		Relay:     relay,
		KeepAlive: cfg.KeepAliveInterval,
		Logger:    logger,
	})
	router := api.NewRouter(logger, h, api.Options{MaxBodyBytes: cfg.MaxBodyBytes, Limiter: limiter})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Str("store", cfg.StoreDriver).
			Int("channel_capacity", cfg.ChannelCapacity).
			Bool("room_scoped", cfg.RoomScopedDelivery).
			Msg("starting parley server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	// Streams end on their own once the broadcasters close; Shutdown then
	// only waits for ordinary requests.
	messages.Close()
	relay.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg.IsDevelopment() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	}
	return zerolog.New(os.Stdout).
		With().
		Timestamp().
		Logger()
}

func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (store.DataStore, error) {
	var ds store.DataStore
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		ds = pg
		logger.Info().Msg("connected to PostgreSQL")
	case config.DriverMemory:
		ds = store.NewMemoryStore()
		logger.Warn().Msg("using in-memory store, data is lost on restart")
	default:
		sq, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		ds = sq
		logger.Info().Str("path", cfg.SQLitePath).Msg("opened SQLite database")
	}
	return store.Instrument(ds), nil
}
