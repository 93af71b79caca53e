package main

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mseidel19/wallcast/internal/calibration"
	"github.com/mseidel19/wallcast/internal/controller"
	"github.com/mseidel19/wallcast/internal/geom"
	"github.com/mseidel19/wallcast/internal/headset"
	"github.com/mseidel19/wallcast/internal/protocol"
	"github.com/mseidel19/wallcast/internal/session"
)

// Headless headset simulator: joins a relay as an INPUT client and drives a
// scripted right hand through the calibration flow, then streams pointer
// sweeps as controller state. Useful for exercising a relay and a display
// client without hardware.
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
	deviceID := getEnv("HEADSET_DEVICE_ID", "sim-right-hand")
	frameRate := getEnvAsInt("HEADSET_FRAME_RATE", 30)

	log.Info().
		Str("relay_url", relayURL).
		Str("device_id", deviceID).
		Int("frame_rate", frameRate).
		Msg("starting headset simulator")

	client := headset.New(headset.DefaultConfig(relayURL))
	client.OnGameEvent(func(ev protocol.GameEvent) {
		log.Info().Str("event", ev.Event).Msg("game event received")
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

	ticker := time.NewTicker(time.Second / time.Duration(frameRate))
	defer ticker.Stop()

	sim := newSimulator(client, deviceID)
	for {
		select {
		case sig := <-sigChan:
			log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
			client.Disconnect()
			log.Info().Msg("headset simulator shutdown complete")
			return
		case <-ticker.C:
			if state, _ := client.Session().State(); state == session.StateDisconnected {
				log.Fatal().Msg("relay connection lost")
			}
			client.Frame(sim.frame())
		}
	}
}

// simulator stands in for the 3D layer: it decides which handle the hand's
// ray targets, where the hand is, and where the pointer hits the wall.
type simulator struct {
	client   *headset.Client
	deviceID string
	phase    calibration.Phase
	n        int
	anchor   geom.Vec3
}

func newSimulator(client *headset.Client, deviceID string) *simulator {
	return &simulator{client: client, deviceID: deviceID, phase: calibration.PhaseAwaitingDimensions}
}

func (s *simulator) frame() headset.DeviceFrame {
	phase := s.client.Coordinator().Phase()
	if phase != s.phase {
		log.Info().Str("phase", string(phase)).Msg("calibration phase changed")
		s.phase = phase
		s.n = 0
	}
	defer func() { s.n++ }()

	switch phase {
	case calibration.PhaseEditing:
		return s.editingFrame()
	case calibration.PhaseCommitted:
		return s.committedFrame()
	default:
		return s.idleFrame()
	}
}

func (s *simulator) idleFrame() headset.DeviceFrame {
	return headset.DeviceFrame{DeviceID: s.deviceID, Target: calibration.HandleNone}
}

// editingFrame walks one scripted pass: hover the X slider, drag the wall
// 40cm to the right, swing the yaw handle a quarter radian, then confirm.
func (s *simulator) editingFrame() headset.DeviceFrame {
	rect, ok := s.client.Coordinator().Rectangle()
	if !ok {
		return s.idleFrame()
	}
	center := rect.Center()

	switch n := s.n; {
	case n < 30:
		return headset.DeviceFrame{
			DeviceID: s.deviceID,
			Target:   calibration.HandleTranslateX,
			Position: center.Add(geom.Vec3{X: 0.6}),
		}
	case n < 90:
		if n == 30 {
			s.anchor = center.Add(geom.Vec3{X: 0.6})
		}
		t := float64(n-30) / 59
		return headset.DeviceFrame{
			DeviceID: s.deviceID,
			Target:   calibration.HandleTranslateX,
			Position: s.anchor.Add(geom.Vec3{X: 0.4 * t}),
			Trigger:  true,
		}
	case n < 100:
		return s.idleFrame()
	case n < 160:
		if n == 100 {
			s.anchor = center
		}
		theta := 0.25 * float64(n-100) / 59
		return headset.DeviceFrame{
			DeviceID: s.deviceID,
			Target:   calibration.HandleRotateYaw,
			Position: s.anchor.Add(geom.Vec3{X: math.Cos(theta), Z: math.Sin(theta)}),
			Trigger:  true,
		}
	case n < 170:
		return s.idleFrame()
	default:
		return headset.DeviceFrame{
			DeviceID: s.deviceID,
			Target:   calibration.HandleConfirm,
			Trigger:  true,
		}
	}
}

// committedFrame sweeps the pointer across the wall with an oscillating
// trigger value, wanders off the wall now and then, and after a minute of
// streaming presses the recalibrate handle to loop the whole flow.
func (s *simulator) committedFrame() headset.DeviceFrame {
	n := s.n
	if n > 0 && n%900 == 0 {
		payload, _ := json.Marshal(map[string]int{"frame": n})
		if err := s.client.SendGameEvent("sim.heartbeat", payload); err != nil {
			log.Warn().Err(err).Msg("failed to send game event")
		}
	}
	if n >= 1800 {
		return headset.DeviceFrame{
			DeviceID: s.deviceID,
			Target:   calibration.HandleRecalibrate,
			Trigger:  true,
		}
	}
	if n%240 < 30 {
		return headset.DeviceFrame{
			DeviceID: s.deviceID,
			Target:   calibration.HandleNone,
			Buttons:  map[string]float64{"trigger": 0},
		}
	}
	return headset.DeviceFrame{
		DeviceID: s.deviceID,
		Target:   calibration.HandleNone,
		Hit: controller.ResolvedHit{
			OnDisplay: true,
			U:         0.5 + 0.45*math.Sin(float64(n)/45),
			V:         0.5 + 0.45*math.Cos(float64(n)/60),
		},
		Buttons: map[string]float64{"trigger": (math.Sin(float64(n)/30) + 1) / 2},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
