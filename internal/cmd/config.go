package main

import (
	"os"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/mseidel19/wallcast/internal/relay"
)

// loadConfig layers the relay configuration: built-in defaults, then the
// optional YAML file named by RELAY_CONFIG_FILE, then environment overrides.
func loadConfig() relay.Config {
	cfg := relay.DefaultConfig()

	if path := os.Getenv("RELAY_CONFIG_FILE"); path != "" {
		loaded, err := relay.LoadConfig(path)
		if err != nil {
			log.Fatal().Err(err).Str("path", path).Msg("failed to load config file")
		}
		cfg = loaded
	}

	cfg.Addr = getEnv("RELAY_ADDR", cfg.Addr)
	cfg.SocketPath = getEnv("RELAY_SOCKET_PATH", cfg.SocketPath)
	if echo, ok := getEnvAsBool("RELAY_ECHO_GAME_EVENTS"); ok {
		cfg.EchoGameEvents = echo
	}
	if buffer := getEnvAsInt("RELAY_SEND_BUFFER", 0); buffer > 0 {
		cfg.SendBuffer = buffer
	}
	if url := os.Getenv("NATS_URL"); url != "" {
		cfg.Bridge.URL = url
	}

	return cfg
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

func getEnvAsBool(key string) (value, ok bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return false, false
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return parsed, true
}
