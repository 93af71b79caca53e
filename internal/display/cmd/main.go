package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mseidel19/wallcast/internal/display"
	"github.com/mseidel19/wallcast/internal/protocol"
	"github.com/mseidel19/wallcast/internal/session"
)

// Headless display simulator: claims the DISPLAY role, reports a pixel grid
// and logs everything the relay forwards. Useful for watching calibration
// commits and controller-state streams without a real wall renderer.
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
	relayURL := getEnv("RELAY_URL", "ws://localhost:8090/ws")
	pixelWidth := getEnvAsFloat("DISPLAY_PIXEL_WIDTH", 1920)
	pixelHeight := getEnvAsFloat("DISPLAY_PIXEL_HEIGHT", 1080)

	log.Info().
		Str("relay_url", relayURL).
		Float64("pixel_width", pixelWidth).
		Float64("pixel_height", pixelHeight).
		Msg("starting display simulator")

	// Controller states arrive at frame rate; log a sample at info and the
	// rest at debug. The callback runs on one goroutine, a plain counter is
	// fine.
	var stateCount int

	client := display.New(display.DefaultConfig(relayURL, pixelWidth, pixelHeight), display.Callbacks{
		OnCalibration: func(m protocol.CalibrationCommit) {
			log.Info().
				Float64("width_meters", m.WidthMeters).
				Float64("height_meters", m.HeightMeters).
				Interface("top_left", m.TopLeft).
				Interface("bottom_right", m.BottomRight).
				Msg("calibration committed")
		},
		OnControllerState: func(m protocol.ControllerState) {
			stateCount++
			ev := log.Debug()
			if stateCount%120 == 1 {
				ev = log.Info()
			}
			ev.Str("device_id", m.DeviceID).
				Str("session_id", m.SessionID).
				Bool("on_display", m.OnDisplay).
				Float64("canvas_x", m.CanvasX).
				Float64("canvas_y", m.CanvasY).
				Msg("controller state")
		},
		OnClientJoined: func(m protocol.NewClient) {
			log.Info().Str("role", string(m.Role)).Str("session_id", m.SessionID).Msg("client joined")
		},
		OnClientLeft: func(m protocol.ClientDisconnected) {
			log.Info().Str("role", string(m.Role)).Str("session_id", m.SessionID).Msg("client left")
		},
		OnGameEvent: func(m protocol.GameEvent) {
			ev := log.Info().Str("event", m.Event)
			if len(m.Data) > 0 {
				ev = ev.RawJSON("data", m.Data)
			}
			ev.Msg("game event")
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	sessionID, err := client.Connect(ctx)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to join relay")
	}
	log.Info().Str("session_id", sessionID).Msg("registered with relay")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case sig := <-sigChan:
			log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
			client.Disconnect()
			log.Info().Msg("display simulator shutdown complete")
			return
		case <-ticker.C:
			if state, _ := client.Session().State(); state == session.StateDisconnected {
				log.Fatal().Msg("relay connection lost")
			}
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}
