package protocol

import (
	"encoding/json"

	"github.com/mseidel19/wallcast/internal/geom"
)

// Message is one decoded wire envelope. Every concrete message carries its
// type tag as the first struct field so the flat JSON shape
// {"type": ..., ...payload fields} survives a marshal round-trip unchanged.
type Message interface {
	MessageType() MessageType
}

// RegisterClient claims a role for the sending connection.
type RegisterClient struct {
	Type MessageType `json:"type"`
	Role Role        `json:"role"`
}

// NewRegisterClient builds a REGISTER_CLIENT envelope.
func NewRegisterClient(role Role) RegisterClient {
	return RegisterClient{Type: TypeRegisterClient, Role: role}
}

func (m RegisterClient) MessageType() MessageType { return TypeRegisterClient }

// RegistrationSuccess acknowledges a registration and assigns the session ID.
type RegistrationSuccess struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Role      Role        `json:"role"`
}

// NewRegistrationSuccess builds a REGISTRATION_SUCCESS envelope.
func NewRegistrationSuccess(sessionID string, role Role) RegistrationSuccess {
	return RegistrationSuccess{Type: TypeRegistrationSuccess, SessionID: sessionID, Role: role}
}

func (m RegistrationSuccess) MessageType() MessageType { return TypeRegistrationSuccess }

// RegistrationError rejects a registration attempt. The connection stays open
// and unregistered; the requester may retry with a different role.
type RegistrationError struct {
	Type   MessageType `json:"type"`
	Reason string      `json:"reason"`
}

// NewRegistrationError builds a REGISTRATION_ERROR envelope.
func NewRegistrationError(reason string) RegistrationError {
	return RegistrationError{Type: TypeRegistrationError, Reason: reason}
}

func (m RegistrationError) MessageType() MessageType { return TypeRegistrationError }

// NewClient announces a freshly registered client to the display.
type NewClient struct {
	Type      MessageType `json:"type"`
	Role      Role        `json:"role"`
	SessionID string      `json:"session_id"`
}

// NewNewClient builds a NEW_CLIENT envelope.
func NewNewClient(role Role, sessionID string) NewClient {
	return NewClient{Type: TypeNewClient, Role: role, SessionID: sessionID}
}

func (m NewClient) MessageType() MessageType { return TypeNewClient }

// ClientDisconnected announces a departed non-display client to the display.
type ClientDisconnected struct {
	Type      MessageType `json:"type"`
	Role      Role        `json:"role"`
	SessionID string      `json:"session_id"`
}

// NewClientDisconnected builds a CLIENT_DISCONNECTED envelope.
func NewClientDisconnected(role Role, sessionID string) ClientDisconnected {
	return ClientDisconnected{Type: TypeClientDisconnected, Role: role, SessionID: sessionID}
}

func (m ClientDisconnected) MessageType() MessageType { return TypeClientDisconnected }

// DisplayCalibration is the display's pixel dimension report. AspectRatio is
// derived by the display from PixelWidth/PixelHeight; consumers re-derive it
// rather than trusting the field, but it travels for display-side logging.
type DisplayCalibration struct {
	Type        MessageType `json:"type"`
	PixelWidth  float64     `json:"pixel_width"`
	PixelHeight float64     `json:"pixel_height"`
	AspectRatio float64     `json:"aspect_ratio"`
}

// NewDisplayCalibration builds a DISPLAY_CALIBRATION envelope with the aspect
// ratio derived from the pixel dimensions.
func NewDisplayCalibration(pixelWidth, pixelHeight float64) DisplayCalibration {
	aspect := 0.0
	if pixelHeight != 0 {
		aspect = pixelWidth / pixelHeight
	}
	return DisplayCalibration{
		Type:        TypeDisplayCalibration,
		PixelWidth:  pixelWidth,
		PixelHeight: pixelHeight,
		AspectRatio: aspect,
	}
}

func (m DisplayCalibration) MessageType() MessageType { return TypeDisplayCalibration }

// CalibrationCommit carries a frozen calibration rectangle: both corners in
// world space plus both physical extents in meters.
type CalibrationCommit struct {
	Type         MessageType `json:"type"`
	TopLeft      geom.Vec3   `json:"top_left"`
	BottomRight  geom.Vec3   `json:"bottom_right"`
	WidthMeters  float64     `json:"width_meters"`
	HeightMeters float64     `json:"height_meters"`
}

// NewCalibrationCommit builds a CALIBRATION_COMMIT envelope.
func NewCalibrationCommit(topLeft, bottomRight geom.Vec3, widthMeters, heightMeters float64) CalibrationCommit {
	return CalibrationCommit{
		Type:         TypeCalibrationCommit,
		TopLeft:      topLeft,
		BottomRight:  bottomRight,
		WidthMeters:  widthMeters,
		HeightMeters: heightMeters,
	}
}

func (m CalibrationCommit) MessageType() MessageType { return TypeCalibrationCommit }

// DisplayDisconnected tells input clients the display is gone and their
// calibration state is void.
type DisplayDisconnected struct {
	Type MessageType `json:"type"`
}

// NewDisplayDisconnected builds a DISPLAY_DISCONNECTED envelope.
func NewDisplayDisconnected() DisplayDisconnected {
	return DisplayDisconnected{Type: TypeDisplayDisconnected}
}

func (m DisplayDisconnected) MessageType() MessageType { return TypeDisplayDisconnected }

// ControllerState is one device's pointer/button state for one frame.
// CanvasX/CanvasY are display pixel coordinates and are only meaningful when
// OnDisplay is true; consumers must not read them otherwise.
type ControllerState struct {
	Type      MessageType        `json:"type"`
	DeviceID  string             `json:"device_id"`
	SessionID string             `json:"session_id"`
	OnDisplay bool               `json:"on_display"`
	CanvasX   float64            `json:"canvas_x"`
	CanvasY   float64            `json:"canvas_y"`
	Buttons   map[string]float64 `json:"buttons,omitempty"`
}

func (m ControllerState) MessageType() MessageType { return TypeControllerState }

// GameEvent is an opaque application payload fanned out to every client.
type GameEvent struct {
	Type  MessageType     `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewGameEvent builds a GAME_EVENT envelope.
func NewGameEvent(event string, data json.RawMessage) GameEvent {
	return GameEvent{Type: TypeGameEvent, Event: event, Data: data}
}

func (m GameEvent) MessageType() MessageType { return TypeGameEvent }

// ErrorMessage answers malformed or unroutable traffic. Code is one of the
// Code* constants; the connection remains open and usable.
type ErrorMessage struct {
	Type    MessageType `json:"type"`
	Code    string      `json:"code"`
	Message string      `json:"message"`
}

// NewError builds an ERROR envelope.
func NewError(code, message string) ErrorMessage {
	return ErrorMessage{Type: TypeError, Code: code, Message: message}
}

func (m ErrorMessage) MessageType() MessageType { return TypeError }
