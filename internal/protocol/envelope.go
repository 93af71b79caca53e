package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Decode errors. The relay maps these onto ERROR reply codes; they are never
// silently discarded.
var (
	ErrMalformedEnvelope = errors.New("malformed envelope")
	ErrMissingType       = errors.New("envelope has no type")
	ErrUnknownType       = errors.New("unknown message type")
)

// envelope probes just the type tag of a flat wire message.
type envelope struct {
	Type MessageType `json:"type"`
}

// decoders maps every wire type to its concrete unmarshaller. The table is
// complete by construction; TestDecodersCoverAllMessageTypes keeps it that way.
var decoders = map[MessageType]func([]byte) (Message, error){
	TypeRegisterClient:      decodeInto[RegisterClient],
	TypeRegistrationSuccess: decodeInto[RegistrationSuccess],
	TypeRegistrationError:   decodeInto[RegistrationError],
	TypeNewClient:           decodeInto[NewClient],
	TypeClientDisconnected:  decodeInto[ClientDisconnected],
	TypeDisplayCalibration:  decodeInto[DisplayCalibration],
	TypeCalibrationCommit:   decodeInto[CalibrationCommit],
	TypeDisplayDisconnected: decodeInto[DisplayDisconnected],
	TypeControllerState:     decodeInto[ControllerState],
	TypeGameEvent:           decodeInto[GameEvent],
	TypeError:               decodeInto[ErrorMessage],
}

func decodeInto[M Message](data []byte) (Message, error) {
	var m M
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return m, nil
}

// Decode parses one wire envelope into its concrete message.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if env.Type == "" {
		return nil, ErrMissingType
	}
	decode, ok := decoders[env.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	return decode(data)
}

// Encode marshals a message into its wire envelope.
func Encode(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", m.MessageType(), err)
	}
	return data, nil
}
