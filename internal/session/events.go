package session

import (
	"time"

	"github.com/srg/blelink/internal/device"
)

// EventKind selects which Event fields are meaningful.
type EventKind int

const (
	// EventCandidate: a new peripheral matching the name filter. Peripheral is set.
	EventCandidate EventKind = iota
	// EventConnection: the connection came up or went down. Connected, Peripheral
	// and (for disconnects) Reason are set; Err holds the cause if any.
	EventConnection
	// EventData: a decoded notification. Message is set.
	EventData
	// EventState: a ConnectionSession transition. State and Peripheral are set.
	EventState
	// EventError: a recoverable failure. Err is a *SessionError.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventCandidate:
		return "candidate"
	case EventConnection:
		return "connection"
	case EventData:
		return "data"
	case EventState:
		return "state"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Event is one item of the controller's ordered event stream.
type Event struct {
	Kind       EventKind
	At         time.Time
	Peripheral device.PeripheralRecord
	Connected  bool
	Reason     DisconnectReason
	State      ConnectionState
	Message    InboundMessage
	Err        error
}

// InboundMessage is a decoded notification payload. It is not retained by the session.
type InboundMessage struct {
	Peripheral     string
	Characteristic string
	Raw            []byte
	Text           string
	ReceivedAt     time.Time
}

// NotificationSubscription tracks one notify-capable characteristic of the live connection.
type NotificationSubscription struct {
	CharacteristicID string
	Properties       device.Property
	Enabled          bool

	acked bool
}
