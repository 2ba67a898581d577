package protocol

import "errors"

// ControlType identifies the type of control message.
type ControlType uint8

const (
	ControlPing  ControlType = 0x01 // Client/server ping
	ControlPong  ControlType = 0x02 // Response to ping
	ControlClose ControlType = 0x20 // Session close
)

// ErrUnknownControl is returned for control types this server does not speak.
var ErrUnknownControl = errors.New("protocol: unknown control type")

// String returns the string representation of the control type.
func (ct ControlType) String() string {
	switch ct {
	case ControlPing:
		return "Ping"
	case ControlPong:
		return "Pong"
	case ControlClose:
		return "Close"
	default:
		return "Unknown"
	}
}

// CloseReason indicates why a session is being closed.
type CloseReason uint8

const (
	CloseNormal         CloseReason = 0x00 // Normal closure
	CloseGoingAway      CloseReason = 0x01 // Client/server going away
	CloseHealthTimeout  CloseReason = 0x02 // Heartbeat probes went unanswered
	CloseServerShutdown CloseReason = 0x03 // Server shutting down
	CloseError          CloseReason = 0x04 // Error occurred
)

// String returns the string representation of the close reason.
func (cr CloseReason) String() string {
	switch cr {
	case CloseNormal:
		return "Normal"
	case CloseGoingAway:
		return "GoingAway"
	case CloseHealthTimeout:
		return "HealthTimeout"
	case CloseServerShutdown:
		return "ServerShutdown"
	case CloseError:
		return "Error"
	default:
		return "Unknown"
	}
}

// PingPong is the payload for Ping and Pong messages.
type PingPong struct {
	Timestamp uint64 // Unix timestamp in milliseconds
}

// CloseMessage is sent to close the session.
type CloseMessage struct {
	Reason  CloseReason
	Message string
}

// Control is a decoded control message. Exactly one of the payload
// fields is set, matching Type.
type Control struct {
	Type  ControlType
	Ping  *PingPong
	Close *CloseMessage
}

// EncodePing encodes a Ping control payload.
func EncodePing(timestamp uint64) []byte {
	return encodePingPong(ControlPing, timestamp)
}

// EncodePong encodes a Pong control payload.
func EncodePong(timestamp uint64) []byte {
	return encodePingPong(ControlPong, timestamp)
}

func encodePingPong(ct ControlType, timestamp uint64) []byte {
	e := NewEncoder()
	e.WriteByte(byte(ct))
	e.WriteUint64(timestamp)
	return e.Bytes()
}

// EncodeClose encodes a Close control payload.
func EncodeClose(reason CloseReason, message string) []byte {
	e := NewEncoder()
	e.WriteByte(byte(ControlClose))
	e.WriteByte(byte(reason))
	e.WriteString(message)
	return e.Bytes()
}

// DecodeControl decodes a control payload.
func DecodeControl(data []byte) (*Control, error) {
	d := NewDecoder(data)
	b, err := d.ReadByte()
	if err != nil {
		return nil, err
	}
	ct := ControlType(b)

	switch ct {
	case ControlPing, ControlPong:
		ts, err := d.ReadUint64()
		if err != nil {
			return nil, err
		}
		return &Control{Type: ct, Ping: &PingPong{Timestamp: ts}}, nil

	case ControlClose:
		reason, err := d.ReadByte()
		if err != nil {
			return nil, err
		}
		msg, err := d.ReadString()
		if err != nil {
			return nil, err
		}
		return &Control{Type: ct, Close: &CloseMessage{Reason: CloseReason(reason), Message: msg}}, nil

	default:
		return nil, ErrUnknownControl
	}
}
