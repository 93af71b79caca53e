package session

import "time"

// Config holds the proxy's per-connection settings.
type Config struct {
	// URL is the relay's socket endpoint, e.g. ws://localhost:8090/ws.
	URL string
	// RegistrationTimeout bounds the wait for the relay's registration reply.
	RegistrationTimeout time.Duration
	HandshakeTimeout    time.Duration
	WriteTimeout        time.Duration
	// SendBuffer is the outbound queue; the frame loop never blocks on it.
	SendBuffer int
}

// DefaultConfig returns the proxy defaults for a relay endpoint.
func DefaultConfig(url string) Config {
	return Config{
		URL:                 url,
		RegistrationTimeout: 10 * time.Second,
		HandshakeTimeout:    5 * time.Second,
		WriteTimeout:        10 * time.Second,
		SendBuffer:          64,
	}
}
