package protocol

import "fmt"

// MessageType tags every envelope on the wire.
type MessageType string

const (
	TypeRegisterClient       MessageType = "REGISTER_CLIENT"
	TypeRegistrationSuccess  MessageType = "REGISTRATION_SUCCESS"
	TypeRegistrationError    MessageType = "REGISTRATION_ERROR"
	TypeNewClient            MessageType = "NEW_CLIENT"
	TypeClientDisconnected   MessageType = "CLIENT_DISCONNECTED"
	TypeDisplayCalibration   MessageType = "DISPLAY_CALIBRATION"
	TypeCalibrationCommit    MessageType = "CALIBRATION_COMMIT"
	TypeDisplayDisconnected  MessageType = "DISPLAY_DISCONNECTED"
	TypeControllerState      MessageType = "CONTROLLER_STATE"
	TypeGameEvent            MessageType = "GAME_EVENT"
	TypeError                MessageType = "ERROR"
)

// MessageTypes lists every reserved wire type. Routing and dispatch tables are
// checked against this list in tests so a new type cannot ship unhandled.
var MessageTypes = []MessageType{
	TypeRegisterClient,
	TypeRegistrationSuccess,
	TypeRegistrationError,
	TypeNewClient,
	TypeClientDisconnected,
	TypeDisplayCalibration,
	TypeCalibrationCommit,
	TypeDisplayDisconnected,
	TypeControllerState,
	TypeGameEvent,
	TypeError,
}

// Role is the part a connection plays in a session.
type Role string

const (
	// RoleDisplay is the single connection representing the shared screen.
	RoleDisplay Role = "DISPLAY"
	// RoleInput is a spatial pointing device; any number may register.
	RoleInput Role = "INPUT"
	// RoleObserver is a read-only mirror of relay traffic.
	RoleObserver Role = "OBSERVER"
)

// ParseRole validates a wire role string.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleDisplay, RoleInput, RoleObserver:
		return Role(s), nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// SenderAllowed reports whether a registered client holding role may originate
// a message of type t. Relay-originated types are never accepted from clients.
func SenderAllowed(t MessageType, role Role) bool {
	switch t {
	case TypeDisplayCalibration:
		return role == RoleDisplay
	case TypeCalibrationCommit, TypeControllerState:
		return role == RoleInput
	case TypeGameEvent:
		return role == RoleDisplay || role == RoleInput || role == RoleObserver
	default:
		return false
	}
}

// ClientSendable reports whether clients may originate type t at all.
// REGISTER_CLIENT is the one type accepted before a role is held.
func ClientSendable(t MessageType) bool {
	if t == TypeRegisterClient {
		return true
	}
	return SenderAllowed(t, RoleDisplay) || SenderAllowed(t, RoleInput) || SenderAllowed(t, RoleObserver)
}

// Error codes carried by ERROR envelopes, grouped by the failure taxonomy:
// malformed traffic, unknown identifiers, and recognized-but-unroutable sends.
const (
	CodeMalformedEnvelope = "MALFORMED_ENVELOPE"
	CodeUnknownType       = "UNKNOWN_TYPE"
	CodeUnknownRole       = "UNKNOWN_ROLE"
	CodeNotRegistered     = "NOT_REGISTERED"
	CodeNotRoutable       = "NOT_ROUTABLE"
)
