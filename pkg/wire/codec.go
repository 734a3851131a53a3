package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode = mustEncMode(cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeUnix,
	})
	// Unknown keys and repeated keys are tolerated so newer devices can
	// add fields.
	decMode = mustDecMode(cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyQuiet,
		IndefLength: cbor.IndefLengthAllowed,
	})
)

func mustEncMode(opts cbor.EncOptions) cbor.EncMode {
	m, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: cbor encoder: %v", err))
	}
	return m
}

func mustDecMode(opts cbor.DecOptions) cbor.DecMode {
	m, err := opts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("wire: cbor decoder: %v", err))
	}
	return m
}

// Marshal encodes v deterministically; equal values yield equal bytes.
func Marshal(v any) ([]byte, error) { return encMode.Marshal(v) }

func Unmarshal(data []byte, v any) error { return decMode.Unmarshal(data, v) }

// Envelope wraps a typed message payload.
// CBOR: { 1: type, 2: payload }
type Envelope struct {
	Type    MessageType     `cbor:"1,keyasint"`
	Payload cbor.RawMessage `cbor:"2,keyasint,omitempty"`
}

// Encode wraps v in an envelope of type t and encodes it.
func Encode(t MessageType, v any) ([]byte, error) {
	env := Envelope{Type: t}
	if v != nil {
		payload, err := Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s payload: %w", t, err)
		}
		env.Payload = payload
	}
	return Marshal(env)
}

// Decode decodes an envelope without decoding its payload.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if env.Type == MessageTypeUnknown {
		return nil, fmt.Errorf("%w: missing message type", ErrInvalidMessage)
	}
	return &env, nil
}

// Into decodes the envelope payload into v.
func (e *Envelope) Into(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%w: %s has no payload", ErrInvalidMessage, e.Type)
	}
	if err := Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", e.Type, err)
	}
	return nil
}

// Status extracts the status of a StatusReport envelope as an error: nil for
// success, *StatusError otherwise. Non-report envelopes yield nil.
func (e *Envelope) Status() error {
	if e.Type != MessageTypeStatusReport {
		return nil
	}
	var sr StatusReport
	if err := e.Into(&sr); err != nil {
		return err
	}
	return sr.Err()
}
