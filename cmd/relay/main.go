// Command relay runs the lightweight peer-chat relay: every websocket frame
// is rebroadcast to all connected peers. Nothing is stored.
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
	"github.com/eldtechnologies/parley/internal/broadcast"
	"github.com/eldtechnologies/parley/internal/config"
	"github.com/eldtechnologies/parley/internal/handlers"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr).With().Timestamp().Logger()
		bootLogger.Fatal().Err(err).Msg("invalid configuration")
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "relay").Logger()
	if cfg.IsDevelopment() {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}

	relay := broadcast.New[handlers.Frame]("relay", cfg.RelayCapacity)
	h := handlers.NewHandler(handlers.Deps{
		Relay:     relay,
		KeepAlive: cfg.KeepAliveInterval,
		Logger:    logger,
	})

	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     api.NewRelayRouter(logger, h, api.Options{MaxBodyBytes: cfg.MaxBodyBytes}),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Int("capacity", cfg.RelayCapacity).Msg("starting relay")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	relay.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("relay forced to shutdown")
	}
	logger.Info().Msg("relay stopped")
}
