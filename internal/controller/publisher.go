// Package controller turns per-frame ray hits into display-pixel controller
// state and publishes it toward the shared display.
package controller

import (
	"github.com/rs/zerolog/log"

	"github.com/mseidel19/wallcast/internal/geom"
	"github.com/mseidel19/wallcast/internal/protocol"
)

// ResolvedHit is the 3D layer's already-resolved intersection between one
// device's pointing ray and the calibration rectangle. U and V are
// rectangle-normalized in [0,1] and only meaningful when OnDisplay is true;
// V increases away from the top edge.
type ResolvedHit struct {
	OnDisplay bool
	U         float64
	V         float64
}

// PixelSizer reports the display's pixel dimensions. Satisfied by
// *calibration.Coordinator.
type PixelSizer interface {
	PixelSize() (width, height float64, ok bool)
}

// Sender publishes envelopes to the relay. Satisfied by *session.Proxy.
type Sender interface {
	Send(protocol.Message) error
}

// Publisher converts resolved hits into CONTROLLER_STATE envelopes, once per
// device per frame. Publication is fire-and-forget: nothing is buffered or
// retried, and the relay drops the state when no display is registered.
type Publisher struct {
	sender Sender
	screen PixelSizer
}

// NewPublisher builds a publisher mapping hits onto screen's pixel grid.
func NewPublisher(sender Sender, screen PixelSizer) *Publisher {
	return &Publisher{sender: sender, screen: screen}
}

// Publish sends one device's state for this frame. An off-display hit (or an
// unknown pixel size) publishes a minimal state carrying only the button
// values; an on-display hit maps (u,v) onto pixels with Y flipped, and is
// rejected outright when either coordinate comes out non-finite.
func (p *Publisher) Publish(deviceID string, hit ResolvedHit, buttons map[string]float64) {
	state := protocol.ControllerState{
		Type:     protocol.TypeControllerState,
		DeviceID: deviceID,
		Buttons:  buttons,
	}

	width, height, sized := p.screen.PixelSize()
	if hit.OnDisplay && sized {
		canvasX := hit.U * width
		canvasY := (1 - hit.V) * height
		if !geom.IsFinite(canvasX) || !geom.IsFinite(canvasY) {
			log.Debug().
				Str("device_id", deviceID).
				Float64("u", hit.U).
				Float64("v", hit.V).
				Msg("rejecting non-finite canvas coordinates")
			return
		}
		state.OnDisplay = true
		state.CanvasX = canvasX
		state.CanvasY = canvasY
	}

	if err := p.sender.Send(state); err != nil {
		log.Debug().Err(err).Str("device_id", deviceID).Msg("controller state not sent")
	}
}
