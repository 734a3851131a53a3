// Package attestation evaluates device attestation evidence collected
// during commissioning.
//
// A Bridge hands evidence to an external Delegate and bounds the wait with
// a timer: whichever comes first, the delegate's verdict or the timeout,
// becomes the single recorded verdict of that bridge. Verify is the
// built-in check used when no delegate is bound.
package attestation

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"fmt"
	"time"

	"github.com/mash-protocol/mash-commissioner/pkg/cert"
	"github.com/mash-protocol/mash-commissioner/pkg/fabric"
	"github.com/mash-protocol/mash-commissioner/pkg/wire"
)

// Result is an attestation verdict.
type Result uint8

const (
	ResultPending Result = iota
	ResultSuccess
	ResultFailure
	ResultInvalidCertificate
	ResultInvalidSignature
	ResultNonceMismatch
	ResultTimeout
)

// String returns the result name.
func (r Result) String() string {
	switch r {
	case ResultPending:
		return "PENDING"
	case ResultSuccess:
		return "SUCCESS"
	case ResultFailure:
		return "FAILURE"
	case ResultInvalidCertificate:
		return "INVALID_CERTIFICATE"
	case ResultInvalidSignature:
		return "INVALID_SIGNATURE"
	case ResultNonceMismatch:
		return "NONCE_MISMATCH"
	case ResultTimeout:
		return "TIMEOUT"
	default:
		return fmt.Sprintf("Result(%d)", uint8(r))
	}
}

// IsSuccess reports whether r lets commissioning proceed.
func (r Result) IsSuccess() bool { return r == ResultSuccess }

// IsFinal reports whether r is a recorded verdict.
func (r Result) IsFinal() bool { return r != ResultPending }

// ErrMalformedEvidence is returned when a response cannot be parsed.
var ErrMalformedEvidence = errors.New("malformed attestation evidence")

// Evidence is the parsed attestation response of one device.
type Evidence struct {
	DeviceID fabric.NodeID

	// Nonce is the attestation nonce the commissioner sent.
	Nonce []byte

	// Challenge is the PASE attestation challenge of the session.
	Challenge []byte

	Response wire.AttestationResponse
	Elements wire.AttestationElements

	DAC *x509.Certificate
	PAI *x509.Certificate
}

// NewEvidence parses an AttestationResponse.
func NewEvidence(deviceID fabric.NodeID, resp *wire.AttestationResponse, nonce, challenge []byte) (*Evidence, error) {
	ev := &Evidence{
		DeviceID:  deviceID,
		Nonce:     nonce,
		Challenge: challenge,
		Response:  *resp,
	}
	if err := wire.Unmarshal(resp.Elements, &ev.Elements); err != nil {
		return nil, fmt.Errorf("%w: elements: %v", ErrMalformedEvidence, err)
	}
	dac, err := x509.ParseCertificate(resp.DAC)
	if err != nil {
		return nil, fmt.Errorf("%w: DAC: %v", ErrMalformedEvidence, err)
	}
	ev.DAC = dac
	if len(resp.PAI) > 0 {
		pai, err := x509.ParseCertificate(resp.PAI)
		if err != nil {
			return nil, fmt.Errorf("%w: PAI: %v", ErrMalformedEvidence, err)
		}
		ev.PAI = pai
	}
	return ev, nil
}

// SignedData returns the bytes the DAC key signs: elements || challenge.
func SignedData(elements, challenge []byte) []byte {
	out := make([]byte, 0, len(elements)+len(challenge))
	out = append(out, elements...)
	return append(out, challenge...)
}

// Verify checks the nonce echo and DAC validity at now. It then checks the
// PAI signature over the DAC (when a PAI is present), vendor and product ids
// against the elements, and the DAC signature over the elements.
func Verify(ev *Evidence, now time.Time) Result {
	if !bytes.Equal(ev.Elements.Nonce, ev.Nonce) {
		return ResultNonceMismatch
	}
	if now.Before(ev.DAC.NotBefore) || now.After(ev.DAC.NotAfter) {
		return ResultInvalidCertificate
	}
	if ev.PAI != nil {
		if err := ev.DAC.CheckSignatureFrom(ev.PAI); err != nil {
			return ResultInvalidCertificate
		}
	}
	if vid, err := cert.VendorIDOf(ev.DAC); err == nil && uint16(vid) != ev.Elements.VendorID {
		return ResultInvalidCertificate
	}
	if pid, err := cert.ProductIDOf(ev.DAC); err == nil && pid != ev.Elements.ProductID {
		return ResultInvalidCertificate
	}
	if _, ok := ev.DAC.PublicKey.(*ecdsa.PublicKey); !ok {
		return ResultInvalidCertificate
	}
	if !CheckSignature(ev.DAC, ev.Response.Elements, ev.Challenge, ev.Response.Signature) {
		return ResultInvalidSignature
	}
	return ResultSuccess
}

// Sign signs elements || challenge with a DAC key.
func Sign(key *ecdsa.PrivateKey, elements, challenge []byte) ([]byte, error) {
	digest := sha256.Sum256(SignedData(elements, challenge))
	return ecdsa.SignASN1(rand.Reader, key, digest[:])
}

// CheckSignature verifies a DAC signature over elements || challenge.
func CheckSignature(dac *x509.Certificate, elements, challenge, sig []byte) bool {
	pub, ok := dac.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return false
	}
	digest := sha256.Sum256(SignedData(elements, challenge))
	return ecdsa.VerifyASN1(pub, digest[:], sig)
}
