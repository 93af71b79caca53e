// Package headset is the VR-side client shell: it owns one relay session
// with the INPUT role, the calibration coordinator and the controller-state
// publisher, and advances them on the renderer's frame tick.
package headset

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/mseidel19/wallcast/internal/calibration"
	"github.com/mseidel19/wallcast/internal/controller"
	"github.com/mseidel19/wallcast/internal/geom"
	"github.com/mseidel19/wallcast/internal/protocol"
	"github.com/mseidel19/wallcast/internal/session"
)

// Config holds the headset client settings.
type Config struct {
	Session     session.Config
	Calibration calibration.Config
}

// DefaultConfig returns headset defaults for a relay endpoint.
func DefaultConfig(relayURL string) Config {
	return Config{
		Session:     session.DefaultConfig(relayURL),
		Calibration: calibration.DefaultConfig(),
	}
}

// DeviceFrame is one tracked device's sample for one rendered frame. Target,
// Position and Trigger drive the calibration handles; Hit and Buttons feed
// the controller-state publisher. The 3D layer resolves all of them before
// the frame is handed over.
type DeviceFrame struct {
	DeviceID string
	Target   calibration.HandleID
	Position geom.Vec3
	Trigger  bool
	Hit      controller.ResolvedHit
	Buttons  map[string]float64
}

// Client glues the session proxy, the calibration coordinator and the
// controller-state publisher together for one headset.
type Client struct {
	proxy       *session.Proxy
	coordinator *calibration.Coordinator
	publisher   *controller.Publisher
}

// New wires a headset client for cfg. Relay traffic relevant to calibration
// is routed into the coordinator's inbox and drained on the next Frame call.
func New(cfg Config) *Client {
	proxy := session.New(cfg.Session)
	coordinator := calibration.New(cfg.Calibration, proxy)

	c := &Client{
		proxy:       proxy,
		coordinator: coordinator,
		publisher:   controller.NewPublisher(proxy, coordinator),
	}

	proxy.On(protocol.TypeDisplayCalibration, func(msg protocol.Message) {
		coordinator.HandleDimensionReport(msg.(protocol.DisplayCalibration))
	})
	proxy.On(protocol.TypeDisplayDisconnected, func(protocol.Message) {
		coordinator.HandleDisplayLost()
	})
	proxy.On(protocol.TypeError, func(msg protocol.Message) {
		e := msg.(protocol.ErrorMessage)
		log.Warn().Str("code", e.Code).Str("message", e.Message).Msg("relay rejected an envelope")
	})

	return c
}

// Connect joins the relay under the INPUT role and returns the session ID.
func (c *Client) Connect(ctx context.Context) (string, error) {
	return c.proxy.Connect(ctx, protocol.RoleInput)
}

// Disconnect tears down the relay session.
func (c *Client) Disconnect() {
	c.proxy.Disconnect()
}

// Frame advances one cooperative tick: the coordinator consumes every
// device's pointer sample, then each device's resolved hit is published.
// Call it once per rendered frame from the render loop.
func (c *Client) Frame(devices ...DeviceFrame) {
	inputs := make([]calibration.PointerInput, len(devices))
	for i, d := range devices {
		inputs[i] = calibration.PointerInput{
			DeviceID: d.DeviceID,
			Target:   d.Target,
			Position: d.Position,
			Trigger:  d.Trigger,
		}
	}
	c.coordinator.Tick(inputs...)

	for _, d := range devices {
		c.publisher.Publish(d.DeviceID, d.Hit, d.Buttons)
	}
}

// Coordinator exposes the calibration state machine so the renderer can draw
// the rectangle and its handle arena.
func (c *Client) Coordinator() *calibration.Coordinator {
	return c.coordinator
}

// Session exposes the underlying proxy for state queries and extra handlers.
func (c *Client) Session() *session.Proxy {
	return c.proxy
}

// OnGameEvent registers the handler for opaque application events. The
// handler runs on the session's read goroutine.
func (c *Client) OnGameEvent(fn func(protocol.GameEvent)) {
	c.proxy.On(protocol.TypeGameEvent, func(msg protocol.Message) {
		fn(msg.(protocol.GameEvent))
	})
}

// SendGameEvent fans an opaque payload out through the relay. Depending on
// relay configuration the event may echo back to this client's own game
// event handler; consumers that care must de-duplicate by payload.
func (c *Client) SendGameEvent(event string, data json.RawMessage) error {
	return c.proxy.Send(protocol.NewGameEvent(event, data))
}
