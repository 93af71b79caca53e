package relay

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mseidel19/wallcast/internal/protocol"
)

// route handles one decoded frame from a connection. Runs on the dispatch
// goroutine only.
func (s *Server) route(c *conn, data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		s.replyDecodeError(c, err)
		return
	}

	if reg, ok := msg.(protocol.RegisterClient); ok {
		s.handleRegister(c, reg)
		return
	}

	client := c.client
	if client == nil {
		s.sendTo(c, protocol.NewError(protocol.CodeNotRegistered,
			fmt.Sprintf("register before sending %s", msg.MessageType())))
		return
	}
	if !protocol.SenderAllowed(msg.MessageType(), client.Role) {
		s.sendTo(c, protocol.NewError(protocol.CodeNotRoutable,
			fmt.Sprintf("role %s may not send %s", client.Role, msg.MessageType())))
		return
	}

	switch m := msg.(type) {
	case protocol.DisplayCalibration:
		s.handleDimensionReport(m)
	case protocol.CalibrationCommit:
		s.forwardToDisplay(m)
	case protocol.ControllerState:
		// The relay stamps ownership; clients cannot speak for each other.
		m.SessionID = client.SessionID
		s.forwardToDisplay(m)
	case protocol.GameEvent:
		s.handleGameEvent(client, m)
	}
}

func (s *Server) replyDecodeError(c *conn, err error) {
	code := protocol.CodeMalformedEnvelope
	if errors.Is(err, protocol.ErrUnknownType) {
		code = protocol.CodeUnknownType
	}
	log.Debug().Err(err).Str("conn_id", c.id).Msg("rejected inbound frame")
	s.sendTo(c, protocol.NewError(code, err.Error()))
}

// handleRegister binds a connection to a role. Rejections answer on the same
// socket and leave it open so the client may retry.
func (s *Server) handleRegister(c *conn, reg protocol.RegisterClient) {
	if c.client != nil {
		s.sendTo(c, protocol.NewRegistrationError(
			fmt.Sprintf("connection is already registered as %s", c.client.Role)))
		return
	}

	role, err := protocol.ParseRole(string(reg.Role))
	if err != nil {
		s.sendTo(c, protocol.NewError(protocol.CodeUnknownRole, err.Error()))
		return
	}

	client, err := s.registry.Register(c, role, s.clock.Now())
	if err != nil {
		log.Info().Str("conn_id", c.id).Str("role", string(role)).Err(err).Msg("registration rejected")
		s.sendTo(c, protocol.NewRegistrationError(err.Error()))
		return
	}
	c.client = client

	s.sendTo(c, protocol.NewRegistrationSuccess(client.SessionID, role))
	log.Info().
		Str("session_id", client.SessionID).
		Str("role", string(role)).
		Str("conn_id", c.id).
		Msg("client registered")

	if role == protocol.RoleDisplay {
		// Catch the display up on everyone who arrived first. Replays are
		// point-to-point and never tapped to the bridge.
		for _, other := range s.registry.Snapshot() {
			if other.Role == protocol.RoleDisplay {
				continue
			}
			s.sendTo(c, protocol.NewNewClient(other.Role, other.SessionID))
		}
		return
	}

	if display := s.registry.Display(); display != nil {
		s.emit(display, protocol.NewNewClient(role, client.SessionID))
	}
	if report := s.registry.DimensionReport(); report != nil {
		// One catch-up report for the late joiner; earlier traffic is gone.
		s.sendTo(c, *report)
	}
}

// handleDimensionReport caches the display's latest geometry and fans it to
// every input and observer.
func (s *Server) handleDimensionReport(report protocol.DisplayCalibration) {
	s.registry.SetDimensionReport(&report)
	log.Info().
		Float64("pixel_width", report.PixelWidth).
		Float64("pixel_height", report.PixelHeight).
		Float64("aspect_ratio", report.AspectRatio).
		Msg("display reported dimensions")
	s.broadcast(report, protocol.RoleInput, protocol.RoleObserver)
}

// forwardToDisplay delivers a display-bound message, with observers copied
// in. Without a display the message is dropped, never queued.
func (s *Server) forwardToDisplay(msg protocol.Message) {
	display := s.registry.Display()
	if display == nil {
		log.Debug().Str("type", string(msg.MessageType())).Msg("dropped message: no display registered")
		return
	}

	data, err := protocol.Encode(msg)
	if err != nil {
		log.Error().Err(err).Str("type", string(msg.MessageType())).Msg("failed to encode envelope")
		return
	}

	s.enqueue(display.conn, data)
	for _, client := range s.registry.Snapshot() {
		if client.Role == protocol.RoleObserver {
			s.enqueue(client.conn, data)
		}
	}
	s.tap(msg.MessageType(), data)
}

// handleGameEvent fans an opaque event to every registered client. Whether
// the sender hears its own event back is configuration.
func (s *Server) handleGameEvent(sender *Client, ev protocol.GameEvent) {
	data, err := protocol.Encode(ev)
	if err != nil {
		log.Error().Err(err).Str("event", ev.Event).Msg("failed to encode envelope")
		return
	}

	for _, client := range s.registry.Snapshot() {
		if !s.cfg.EchoGameEvents && client == sender {
			continue
		}
		s.enqueue(client.conn, data)
	}
	s.tap(protocol.TypeGameEvent, data)
}

// handleInject fans a bridge-delivered envelope to every registered client.
// Bridge traffic is never republished back onto the bridge.
func (s *Server) handleInject(data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		log.Warn().Err(err).Msg("dropping malformed ingest event")
		return
	}
	ev, ok := msg.(protocol.GameEvent)
	if !ok {
		log.Warn().Str("type", string(msg.MessageType())).Msg("ignoring non-game ingest event")
		return
	}

	log.Debug().Str("event", ev.Event).Msg("fanning ingested event")
	for _, client := range s.registry.Snapshot() {
		s.enqueue(client.conn, data)
	}
}

// handleDeparture unregisters a session and emits the matching notice.
func (s *Server) handleDeparture(client *Client) {
	if s.registry.Remove(client.SessionID) == nil {
		return
	}
	log.Info().
		Str("session_id", client.SessionID).
		Str("role", string(client.Role)).
		Msg("client departed")

	if client.Role == protocol.RoleDisplay {
		// Display loss voids calibration downstream. The registry has
		// already freed the role, so a new display may claim it even
		// before this notice lands.
		s.broadcast(protocol.NewDisplayDisconnected(), protocol.RoleInput, protocol.RoleObserver)
		return
	}

	if display := s.registry.Display(); display != nil {
		s.emit(display, protocol.NewClientDisconnected(client.Role, client.SessionID))
	}
}

// broadcast encodes once and fans to every registered client holding one of
// the given roles, then taps the bridge.
func (s *Server) broadcast(msg protocol.Message, roles ...protocol.Role) {
	data, err := protocol.Encode(msg)
	if err != nil {
		log.Error().Err(err).Str("type", string(msg.MessageType())).Msg("failed to encode envelope")
		return
	}

	want := make(map[protocol.Role]bool, len(roles))
	for _, role := range roles {
		want[role] = true
	}
	for _, client := range s.registry.Snapshot() {
		if want[client.Role] {
			s.enqueue(client.conn, data)
		}
	}
	s.tap(msg.MessageType(), data)
}

// emit sends one fresh notice to one client and taps the bridge.
func (s *Server) emit(target *Client, msg protocol.Message) {
	data, err := protocol.Encode(msg)
	if err != nil {
		log.Error().Err(err).Str("type", string(msg.MessageType())).Msg("failed to encode envelope")
		return
	}
	s.enqueue(target.conn, data)
	s.tap(msg.MessageType(), data)
}

func (s *Server) tap(t protocol.MessageType, data []byte) {
	if s.bridge == nil {
		return
	}
	s.bridge.Publish(t, data)
}
