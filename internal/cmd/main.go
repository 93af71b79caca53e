package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mseidel19/wallcast/internal/relay"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if lvl, err := zerolog.ParseLevel(getEnv("LOG_LEVEL", "info")); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	// Get configuration
	cfg := loadConfig()

	log.Info().
		Str("addr", cfg.Addr).
		Str("socket_path", cfg.SocketPath).
		Bool("echo_game_events", cfg.EchoGameEvents).
		Str("nats_url", cfg.Bridge.URL).
		Msg("starting wallcast relay")

	relayServer, err := relay.NewServer(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create relay server")
	}

	// Context for the dispatch loop
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go relayServer.Start(ctx)

	httpServer := setupServer(cfg, relayServer)
	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("HTTP server starting")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	// Graceful shutdown: drain the client sockets first, then stop the HTTP
	// listener, then the dispatch loop.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	exitCode := 0
	if err := relayServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("relay drain failed")
		exitCode = 1
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
		exitCode = 1
	}
	cancel()

	if exitCode != 0 {
		os.Exit(exitCode)
	}
	log.Info().Msg("wallcast relay shutdown complete")
}
