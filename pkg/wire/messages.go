package wire

import (
	"errors"
	"fmt"
)

// ErrInvalidMessage is returned for malformed or unexpected messages.
var ErrInvalidMessage = errors.New("invalid message")

// MessageType identifies an envelope payload.
type MessageType uint8

const (
	MessageTypeUnknown MessageType = 0

	// PASE
	MessageTypePBKDFParamRequest  MessageType = 0x20
	MessageTypePBKDFParamResponse MessageType = 0x21
	MessageTypePake1              MessageType = 0x22
	MessageTypePake2              MessageType = 0x23
	MessageTypePake3              MessageType = 0x24

	MessageTypeStatusReport MessageType = 0x40

	// Commissioning commands and their data responses
	MessageTypeArmFailSafe           MessageType = 0x50
	MessageTypeAttestationRequest    MessageType = 0x51
	MessageTypeAttestationResponse   MessageType = 0x52
	MessageTypeCSRRequest            MessageType = 0x53
	MessageTypeCSRResponse           MessageType = 0x54
	MessageTypeAddTrustedRoot        MessageType = 0x55
	MessageTypeAddNOC                MessageType = 0x56
	MessageTypeNOCResponse           MessageType = 0x57
	MessageTypeNetworkConfig         MessageType = 0x58
	MessageTypeCommissioningComplete MessageType = 0x59

	// Window management
	MessageTypeOpenCommissioningWindow      MessageType = 0x60
	MessageTypeOpenBasicCommissioningWindow MessageType = 0x61
)

var messageTypeNames = map[MessageType]string{
	MessageTypePBKDFParamRequest:            "PBKDFParamRequest",
	MessageTypePBKDFParamResponse:           "PBKDFParamResponse",
	MessageTypePake1:                        "Pake1",
	MessageTypePake2:                        "Pake2",
	MessageTypePake3:                        "Pake3",
	MessageTypeStatusReport:                 "StatusReport",
	MessageTypeArmFailSafe:                  "ArmFailSafe",
	MessageTypeAttestationRequest:           "AttestationRequest",
	MessageTypeAttestationResponse:          "AttestationResponse",
	MessageTypeCSRRequest:                   "CSRRequest",
	MessageTypeCSRResponse:                  "CSRResponse",
	MessageTypeAddTrustedRoot:               "AddTrustedRoot",
	MessageTypeAddNOC:                       "AddNOC",
	MessageTypeNOCResponse:                  "NOCResponse",
	MessageTypeNetworkConfig:                "NetworkConfig",
	MessageTypeCommissioningComplete:        "CommissioningComplete",
	MessageTypeOpenCommissioningWindow:      "OpenCommissioningWindow",
	MessageTypeOpenBasicCommissioningWindow: "OpenBasicCommissioningWindow",
}

// String returns the message type name.
func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("MessageType(0x%02X)", uint8(t))
}

// ResponseType returns the message type a peer answers a command with on
// success. Commands without a data response are answered with a StatusReport.
func ResponseType(req MessageType) MessageType {
	switch req {
	case MessageTypeAttestationRequest:
		return MessageTypeAttestationResponse
	case MessageTypeCSRRequest:
		return MessageTypeCSRResponse
	case MessageTypeAddNOC:
		return MessageTypeNOCResponse
	case MessageTypePBKDFParamRequest:
		return MessageTypePBKDFParamResponse
	case MessageTypePake1:
		return MessageTypePake2
	default:
		return MessageTypeStatusReport
	}
}

// PASE payload sizes.
const (
	RandomSize        = 32
	MinSaltSize       = 16
	MaxSaltSize       = 32
	MinPBKDFIteration = 1000
	MaxPBKDFIteration = 100000
)

// PBKDFParamRequest opens a PASE exchange.
// CBOR: { 1: initiatorRandom, 2: sessionId, 3: passcodeId }
type PBKDFParamRequest struct {
	InitiatorRandom []byte `cbor:"1,keyasint"`
	SessionID       uint16 `cbor:"2,keyasint"`
	PasscodeID      uint16 `cbor:"3,keyasint"`
}

// PBKDFParamResponse carries the responder's PBKDF parameters.
// CBOR: { 1: initiatorRandom, 2: responderRandom, 3: sessionId, 4: iterations, 5: salt }
type PBKDFParamResponse struct {
	InitiatorRandom []byte `cbor:"1,keyasint"`
	ResponderRandom []byte `cbor:"2,keyasint"`
	SessionID       uint16 `cbor:"3,keyasint"`
	Iterations      uint32 `cbor:"4,keyasint"`
	Salt            []byte `cbor:"5,keyasint"`
}

// Validate checks that the echoed random and PBKDF parameters are in range.
func (r *PBKDFParamResponse) Validate(initiatorRandom []byte) error {
	switch {
	case len(r.ResponderRandom) != RandomSize:
		return fmt.Errorf("%w: responder random length %d", ErrInvalidMessage, len(r.ResponderRandom))
	case string(r.InitiatorRandom) != string(initiatorRandom):
		return fmt.Errorf("%w: initiator random not echoed", ErrInvalidMessage)
	case len(r.Salt) < MinSaltSize || len(r.Salt) > MaxSaltSize:
		return fmt.Errorf("%w: salt length %d", ErrInvalidMessage, len(r.Salt))
	case r.Iterations < MinPBKDFIteration || r.Iterations > MaxPBKDFIteration:
		return fmt.Errorf("%w: iterations %d", ErrInvalidMessage, r.Iterations)
	}
	return nil
}

// Pake1 carries the initiator's share pA.
// CBOR: { 1: pA }
type Pake1 struct {
	PA []byte `cbor:"1,keyasint"`
}

// Pake2 carries the responder's share pB and confirmation cB.
// CBOR: { 1: pB, 2: cB }
type Pake2 struct {
	PB []byte `cbor:"1,keyasint"`
	CB []byte `cbor:"2,keyasint"`
}

// Pake3 carries the initiator's confirmation cA.
// CBOR: { 1: cA }
type Pake3 struct {
	CA []byte `cbor:"1,keyasint"`
}

// StatusReport reports the outcome of a step.
// CBOR: { 1: status, 2: message }
type StatusReport struct {
	Status  Status `cbor:"1,keyasint"`
	Message string `cbor:"2,keyasint,omitempty"`
}

// Err converts the report to an error; nil on success.
func (r *StatusReport) Err() error {
	if r.Status.IsSuccess() {
		return nil
	}
	return &StatusError{Status: r.Status, Message: r.Message}
}

// ArmFailSafe arms (or with ExpirySeconds 0, disarms) the device fail-safe.
// CBOR: { 1: expirySeconds, 2: breadcrumb }
type ArmFailSafe struct {
	ExpirySeconds uint16 `cbor:"1,keyasint"`
	Breadcrumb    uint64 `cbor:"2,keyasint"`
}

// AttestationRequest asks the device for signed attestation evidence.
// CBOR: { 1: nonce }
type AttestationRequest struct {
	Nonce []byte `cbor:"1,keyasint"`
}

// AttestationElements is the signed content of an AttestationResponse.
// CBOR: { 1: nonce, 2: vendorId, 3: productId, 4: timestamp }
type AttestationElements struct {
	Nonce     []byte `cbor:"1,keyasint"`
	VendorID  uint16 `cbor:"2,keyasint"`
	ProductID uint16 `cbor:"3,keyasint"`
	Timestamp uint32 `cbor:"4,keyasint,omitempty"`
}

// AttestationResponse carries attestation evidence. Signature is made by
// the DAC key over Elements || session attestation challenge.
// CBOR: { 1: elements, 2: signature, 3: dac, 4: pai }
type AttestationResponse struct {
	Elements  []byte `cbor:"1,keyasint"`
	Signature []byte `cbor:"2,keyasint"`
	DAC       []byte `cbor:"3,keyasint"`
	PAI       []byte `cbor:"4,keyasint,omitempty"`
}

// CSRRequest asks the device for a CSR over a fresh operational key.
// CBOR: { 1: nonce }
type CSRRequest struct {
	Nonce []byte `cbor:"1,keyasint"`
}

// CSRElements is the signed content of a CSRResponse.
// CBOR: { 1: csr, 2: nonce }
type CSRElements struct {
	CSR   []byte `cbor:"1,keyasint"`
	Nonce []byte `cbor:"2,keyasint"`
}

// CSRResponse carries the device CSR. Signature is made by the DAC key
// over Elements || session attestation challenge.
// CBOR: { 1: elements, 2: signature }
type CSRResponse struct {
	Elements  []byte `cbor:"1,keyasint"`
	Signature []byte `cbor:"2,keyasint"`
}

// AddTrustedRoot installs the fabric root certificate.
// CBOR: { 1: rootCert }
type AddTrustedRoot struct {
	RootCert []byte `cbor:"1,keyasint"`
}

// AddNOC installs the device's operational credentials.
// CBOR: { 1: noc, 2: icac, 3: ipk, 4: adminVendorId, 5: caseAdminSubject }
type AddNOC struct {
	NOC              []byte `cbor:"1,keyasint"`
	ICAC             []byte `cbor:"2,keyasint,omitempty"`
	IPK              []byte `cbor:"3,keyasint"`
	AdminVendorID    uint16 `cbor:"4,keyasint"`
	CaseAdminSubject uint64 `cbor:"5,keyasint"`
}

// NOCResponse answers AddNOC.
// CBOR: { 1: status, 2: fabricIndex, 3: message }
type NOCResponse struct {
	Status      Status `cbor:"1,keyasint"`
	FabricIndex uint8  `cbor:"2,keyasint,omitempty"`
	Message     string `cbor:"3,keyasint,omitempty"`
}

// Err converts the response to an error; nil on success.
func (r *NOCResponse) Err() error {
	if r.Status.IsSuccess() {
		return nil
	}
	return &StatusError{Status: r.Status, Message: r.Message}
}

// NetworkConfig provisions network credentials. Exactly one of the Wi-Fi
// pair or ThreadDataset is set.
// CBOR: { 1: ssid, 2: passphrase, 3: threadDataset }
type NetworkConfig struct {
	SSID          []byte `cbor:"1,keyasint,omitempty"`
	Passphrase    []byte `cbor:"2,keyasint,omitempty"`
	ThreadDataset []byte `cbor:"3,keyasint,omitempty"`
}

// CommissioningComplete finishes commissioning and disarms the fail-safe.
// CBOR: { 1: fabricIndex }
type CommissioningComplete struct {
	FabricIndex uint8 `cbor:"1,keyasint,omitempty"`
}

// OpenCommissioningWindow opens an enhanced commissioning window with a
// commissioner supplied PAKE verifier.
// CBOR: { 1: timeout, 2: verifier, 3: discriminator, 4: iterations, 5: salt }
type OpenCommissioningWindow struct {
	TimeoutSeconds uint16 `cbor:"1,keyasint"`
	Verifier       []byte `cbor:"2,keyasint"`
	Discriminator  uint16 `cbor:"3,keyasint"`
	Iterations     uint32 `cbor:"4,keyasint"`
	Salt           []byte `cbor:"5,keyasint"`
}

// OpenBasicCommissioningWindow opens a window using the device's own
// onboarding credentials.
// CBOR: { 1: timeout }
type OpenBasicCommissioningWindow struct {
	TimeoutSeconds uint16 `cbor:"1,keyasint"`
}
