// Package display is the wall-side client shell: it claims the DISPLAY role,
// reports the pixel grid behind the shared canvas and surfaces relay traffic
// to the embedding renderer through callbacks.
package display

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/mseidel19/wallcast/internal/geom"
	"github.com/mseidel19/wallcast/internal/protocol"
	"github.com/mseidel19/wallcast/internal/session"
)

// ErrInvalidDimensions rejects a dimension report that is not a positive
// finite pixel grid.
var ErrInvalidDimensions = errors.New("pixel dimensions must be positive")

// Config holds the display client settings. PixelWidth and PixelHeight
// describe the canvas the renderer draws into; they are reported to the relay
// right after registration.
type Config struct {
	Session     session.Config
	PixelWidth  float64
	PixelHeight float64
}

// DefaultConfig returns display defaults for a relay endpoint and canvas size.
func DefaultConfig(relayURL string, pixelWidth, pixelHeight float64) Config {
	return Config{
		Session:     session.DefaultConfig(relayURL),
		PixelWidth:  pixelWidth,
		PixelHeight: pixelHeight,
	}
}

// Callbacks surface relay traffic to the embedding renderer. Nil entries are
// skipped. Callbacks run on the session's read goroutine and must not block;
// anything slow belongs on the renderer's own loop.
type Callbacks struct {
	// OnCalibration delivers each frozen calibration rectangle.
	OnCalibration func(protocol.CalibrationCommit)
	// OnControllerState delivers per-device pointer and button state.
	OnControllerState func(protocol.ControllerState)
	// OnClientJoined announces every newly registered client.
	OnClientJoined func(protocol.NewClient)
	// OnClientLeft announces every departed non-display client.
	OnClientLeft func(protocol.ClientDisconnected)
	// OnGameEvent delivers opaque application events.
	OnGameEvent func(protocol.GameEvent)
}

// Client owns one DISPLAY session against the relay.
type Client struct {
	cfg   Config
	proxy *session.Proxy
}

// New wires a display client for cfg, routing inbound traffic into cb.
func New(cfg Config, cb Callbacks) *Client {
	proxy := session.New(cfg.Session)

	if cb.OnCalibration != nil {
		proxy.On(protocol.TypeCalibrationCommit, func(msg protocol.Message) {
			cb.OnCalibration(msg.(protocol.CalibrationCommit))
		})
	}
	if cb.OnControllerState != nil {
		proxy.On(protocol.TypeControllerState, func(msg protocol.Message) {
			cb.OnControllerState(msg.(protocol.ControllerState))
		})
	}
	if cb.OnClientJoined != nil {
		proxy.On(protocol.TypeNewClient, func(msg protocol.Message) {
			cb.OnClientJoined(msg.(protocol.NewClient))
		})
	}
	if cb.OnClientLeft != nil {
		proxy.On(protocol.TypeClientDisconnected, func(msg protocol.Message) {
			cb.OnClientLeft(msg.(protocol.ClientDisconnected))
		})
	}
	if cb.OnGameEvent != nil {
		proxy.On(protocol.TypeGameEvent, func(msg protocol.Message) {
			cb.OnGameEvent(msg.(protocol.GameEvent))
		})
	}

	return &Client{cfg: cfg, proxy: proxy}
}

// Connect joins the relay under the DISPLAY role and reports the configured
// pixel dimensions so the relay can serve them to late-joining inputs. It
// returns the session ID.
func (c *Client) Connect(ctx context.Context) (string, error) {
	sessionID, err := c.proxy.Connect(ctx, protocol.RoleDisplay)
	if err != nil {
		return "", err
	}
	if err := c.ReportDimensions(c.cfg.PixelWidth, c.cfg.PixelHeight); err != nil {
		return "", err
	}
	return sessionID, nil
}

// ReportDimensions publishes the pixel grid. Call it again after a window
// resize; inputs already mid-calibration keep their aspect ratio and only
// update their coordinate mapping.
func (c *Client) ReportDimensions(pixelWidth, pixelHeight float64) error {
	if !geom.IsFinite(pixelWidth) || !geom.IsFinite(pixelHeight) ||
		pixelWidth <= 0 || pixelHeight <= 0 {
		return ErrInvalidDimensions
	}
	return c.proxy.Send(protocol.NewDisplayCalibration(pixelWidth, pixelHeight))
}

// SendGameEvent fans an opaque payload out through the relay.
func (c *Client) SendGameEvent(event string, data json.RawMessage) error {
	return c.proxy.Send(protocol.NewGameEvent(event, data))
}

// Disconnect tears down the relay session. Registered inputs are told the
// display is gone.
func (c *Client) Disconnect() {
	c.proxy.Disconnect()
}

// Session exposes the underlying proxy for state queries and extra handlers.
func (c *Client) Session() *session.Proxy {
	return c.proxy
}
