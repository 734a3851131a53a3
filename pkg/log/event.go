package log

import (
	"time"

	"github.com/mash-protocol/mash-commissioner/pkg/wire"
)

// Event is a protocol log record captured at the transport, wire or
// commissioning layer.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID identifies the connection (UUID).
	ConnectionID string `cbor:"2,keyasint"`

	Direction Direction `cbor:"3,keyasint"`
	Layer     Layer     `cbor:"4,keyasint"`
	Category  Category  `cbor:"5,keyasint"`
	LocalRole Role      `cbor:"6,keyasint,omitempty"`

	// RemoteAddr is the peer address (host:port).
	RemoteAddr string `cbor:"7,keyasint,omitempty"`

	// NodeID is the device id, hex encoded, once known.
	NodeID string `cbor:"8,keyasint,omitempty"`

	// FabricIndex is set for events scoped to a fabric.
	FabricIndex uint8 `cbor:"9,keyasint,omitempty"`

	// One of the following is set.
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"`
	Message     *MessageEvent     `cbor:"11,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"`
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	DirectionIn  Direction = 0
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which layer captured the event.
type Layer uint8

const (
	// LayerTransport is the framing layer (raw bytes).
	LayerTransport Layer = 0
	// LayerWire is the envelope layer (decoded message type).
	LayerWire Layer = 1
	// LayerCommissioning is the pairing and commissioning workflow.
	LayerCommissioning Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerWire:
		return "WIRE"
	case LayerCommissioning:
		return "COMMISSIONING"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	CategoryMessage Category = 0
	CategoryState   Category = 2
	CategoryError   Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Role indicates which side of a commissioning exchange logged the event.
type Role uint8

const (
	RoleCommissionee Role = 0
	RoleCommissioner Role = 1
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleCommissionee:
		return "COMMISSIONEE"
	case RoleCommissioner:
		return "COMMISSIONER"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures raw frame data at the transport layer.
type FrameEvent struct {
	// Size is the frame size in bytes (including length prefix).
	Size int `cbor:"1,keyasint"`

	// Data is the raw frame bytes (may be truncated for large frames).
	Data []byte `cbor:"2,keyasint,omitempty"`

	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// MessageEvent captures a decoded envelope. Payloads are not recorded since
// PASE and credential messages carry key material.
type MessageEvent struct {
	Type wire.MessageType `cbor:"1,keyasint"`

	// PayloadSize is the encoded payload length.
	PayloadSize int `cbor:"2,keyasint"`

	// Status is set for StatusReport and NOCResponse messages.
	Status *wire.Status `cbor:"3,keyasint,omitempty"`
}

// StateChangeEvent captures connection, pairing and commissioning lifecycle events.
type StateChangeEvent struct {
	Entity   StateEntity `cbor:"1,keyasint"`
	OldState string      `cbor:"2,keyasint,omitempty"`
	NewState string      `cbor:"3,keyasint"`
	Reason   string      `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	StateEntityConnection    StateEntity = 0
	StateEntityPairing       StateEntity = 1
	StateEntityCommissioning StateEntity = 2
	StateEntityAttestation   StateEntity = 3
	StateEntityController    StateEntity = 4
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntityPairing:
		return "PAIRING"
	case StateEntityCommissioning:
		return "COMMISSIONING"
	case StateEntityAttestation:
		return "ATTESTATION"
	case StateEntityController:
		return "CONTROLLER"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	Layer   Layer  `cbor:"1,keyasint"`
	Message string `cbor:"2,keyasint"`

	// Code is the failure kind or wire status, if any.
	Code *int `cbor:"3,keyasint,omitempty"`

	// Context describes what operation was being performed.
	Context string `cbor:"4,keyasint,omitempty"`
}
