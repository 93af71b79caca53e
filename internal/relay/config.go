package relay

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds relay server settings.
type Config struct {
	// Addr is the listen address of the HTTP server hosting the socket.
	Addr string
	// SocketPath is the URL path clients dial for the persistent socket.
	SocketPath string
	// AllowedOrigins restricts websocket upgrades; "*" allows any origin.
	AllowedOrigins []string
	// EchoGameEvents controls whether a GAME_EVENT fan-out includes the
	// sender. The source behavior is to echo; kept configurable because it
	// is unclear whether clients rely on it.
	EchoGameEvents bool

	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	// SendBuffer is the per-connection outbound queue; a client that cannot
	// drain it is dropped rather than allowed to stall the relay.
	SendBuffer int
	// DrainTimeout bounds the graceful-shutdown wait for close handshakes.
	DrainTimeout time.Duration

	Bridge BridgeConfig
}

// BridgeConfig configures the optional NATS event bridge. An empty URL
// disables the bridge entirely.
type BridgeConfig struct {
	URL           string
	SubjectPrefix string
	IngestSubject string
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultConfig returns the relay defaults.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8090",
		SocketPath:      "/ws",
		AllowedOrigins:  []string{"*"},
		EchoGameEvents:  true,
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBuffer:      256,
		DrainTimeout:    5 * time.Second,
		Bridge: BridgeConfig{
			SubjectPrefix: "wallcast.events",
			IngestSubject: "wallcast.ingest",
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
		},
	}
}

// fileConfig is the YAML shape of a relay config file. Durations are plain
// seconds so the file stays hand-editable; zero values keep the defaults.
type fileConfig struct {
	Addr             string   `yaml:"addr"`
	SocketPath       string   `yaml:"socket_path"`
	AllowedOrigins   []string `yaml:"allowed_origins"`
	EchoGameEvents   *bool    `yaml:"echo_game_events"`
	WriteTimeoutSec  int      `yaml:"write_timeout_sec"`
	ReadTimeoutSec   int      `yaml:"read_timeout_sec"`
	PingIntervalSec  int      `yaml:"ping_interval_sec"`
	MaxMessageBytes  int64    `yaml:"max_message_bytes"`
	SendBuffer       int      `yaml:"send_buffer"`
	DrainTimeoutSec  int      `yaml:"drain_timeout_sec"`

	Bridge struct {
		URL           string `yaml:"url"`
		SubjectPrefix string `yaml:"subject_prefix"`
		IngestSubject string `yaml:"ingest_subject"`
	} `yaml:"nats"`
}

// LoadConfig reads a YAML config file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}

	if fc.Addr != "" {
		cfg.Addr = fc.Addr
	}
	if fc.SocketPath != "" {
		cfg.SocketPath = fc.SocketPath
	}
	if len(fc.AllowedOrigins) > 0 {
		cfg.AllowedOrigins = fc.AllowedOrigins
	}
	if fc.EchoGameEvents != nil {
		cfg.EchoGameEvents = *fc.EchoGameEvents
	}
	if fc.WriteTimeoutSec > 0 {
		cfg.WriteTimeout = time.Duration(fc.WriteTimeoutSec) * time.Second
	}
	if fc.ReadTimeoutSec > 0 {
		cfg.ReadTimeout = time.Duration(fc.ReadTimeoutSec) * time.Second
	}
	if fc.PingIntervalSec > 0 {
		cfg.PingInterval = time.Duration(fc.PingIntervalSec) * time.Second
	}
	if fc.MaxMessageBytes > 0 {
		cfg.MaxMessageSize = fc.MaxMessageBytes
	}
	if fc.SendBuffer > 0 {
		cfg.SendBuffer = fc.SendBuffer
	}
	if fc.DrainTimeoutSec > 0 {
		cfg.DrainTimeout = time.Duration(fc.DrainTimeoutSec) * time.Second
	}
	if fc.Bridge.URL != "" {
		cfg.Bridge.URL = fc.Bridge.URL
	}
	if fc.Bridge.SubjectPrefix != "" {
		cfg.Bridge.SubjectPrefix = fc.Bridge.SubjectPrefix
	}
	if fc.Bridge.IngestSubject != "" {
		cfg.Bridge.IngestSubject = fc.Bridge.IngestSubject
	}

	return cfg, nil
}

// checkOrigin builds the upgrader origin policy from AllowedOrigins.
func (c Config) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range c.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
