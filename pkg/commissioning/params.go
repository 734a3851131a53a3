package commissioning

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/mash-protocol/mash-commissioner/pkg/attestation"
	"github.com/mash-protocol/mash-commissioner/pkg/failsafe"
)

// NonceSize is the length of CSR and attestation nonces.
const NonceSize = 32

// Network credential limits.
const (
	MaxSSIDLen       = 32
	MaxPassphraseLen = 64
	MaxThreadDataset = 254
)

// ErrInvalidParameters is wrapped by every parameter validation error.
var ErrInvalidParameters = errors.New("invalid commissioning parameters")

// WiFiCredentials are the Wi-Fi network credentials for a device.
type WiFiCredentials struct {
	SSID       []byte
	Passphrase []byte
}

// Parameters configure one commissioning attempt. Every field is optional.
type Parameters struct {
	// CSRNonce and AttestationNonce must be NonceSize bytes when set.
	// Unset nonces are generated.
	CSRNonce         []byte
	AttestationNonce []byte

	// At most one of WiFi and ThreadDataset may be set.
	WiFi          *WiFiCredentials
	ThreadDataset []byte

	// FailSafeExpiry is armed on the device (failsafe.DefaultExpiry if zero).
	FailSafeExpiry time.Duration

	// AttestationDelegate, when set, decides on attestation evidence
	// through a new attestation bridge.
	AttestationDelegate attestation.Delegate
}

// Validate checks the parameters without side effects.
func (p Parameters) Validate() error {
	if n := len(p.CSRNonce); n != 0 && n != NonceSize {
		return fmt.Errorf("%w: CSR nonce is %d bytes, want %d", ErrInvalidParameters, n, NonceSize)
	}
	if n := len(p.AttestationNonce); n != 0 && n != NonceSize {
		return fmt.Errorf("%w: attestation nonce is %d bytes, want %d", ErrInvalidParameters, n, NonceSize)
	}
	if p.WiFi != nil && len(p.ThreadDataset) > 0 {
		return fmt.Errorf("%w: both Wi-Fi and Thread credentials given", ErrInvalidParameters)
	}
	if p.WiFi != nil {
		if len(p.WiFi.SSID) == 0 || len(p.WiFi.SSID) > MaxSSIDLen {
			return fmt.Errorf("%w: SSID length %d", ErrInvalidParameters, len(p.WiFi.SSID))
		}
		if len(p.WiFi.Passphrase) > MaxPassphraseLen {
			return fmt.Errorf("%w: passphrase length %d", ErrInvalidParameters, len(p.WiFi.Passphrase))
		}
	}
	if len(p.ThreadDataset) > MaxThreadDataset {
		return fmt.Errorf("%w: thread dataset length %d", ErrInvalidParameters, len(p.ThreadDataset))
	}
	if p.FailSafeExpiry != 0 {
		if err := failsafe.ValidateExpiry(p.FailSafeExpiry); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidParameters, err)
		}
	}
	return nil
}

// bundle is a validated parameter set with defaults filled in.
type bundle struct {
	csrNonce         []byte
	attestationNonce []byte
	network          *networkConfig
	expiry           time.Duration
	delegate         attestation.Delegate
}

type networkConfig struct {
	ssid, passphrase, thread []byte
}

// newBundle validates p and fills in generated nonces and the default
// expiry. Inputs are copied.
func newBundle(p Parameters) (*bundle, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	b := &bundle{
		csrNonce:         clone(p.CSRNonce),
		attestationNonce: clone(p.AttestationNonce),
		expiry:           p.FailSafeExpiry,
		delegate:         p.AttestationDelegate,
	}
	if b.expiry == 0 {
		b.expiry = failsafe.DefaultExpiry
	}
	for _, n := range []*[]byte{&b.csrNonce, &b.attestationNonce} {
		if *n != nil {
			continue
		}
		*n = make([]byte, NonceSize)
		if _, err := rand.Read(*n); err != nil {
			return nil, fmt.Errorf("generate nonce: %w", err)
		}
	}
	switch {
	case p.WiFi != nil:
		b.network = &networkConfig{ssid: clone(p.WiFi.SSID), passphrase: clone(p.WiFi.Passphrase)}
	case len(p.ThreadDataset) > 0:
		b.network = &networkConfig{thread: clone(p.ThreadDataset)}
	}
	return b, nil
}

func clone(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return append([]byte(nil), b...)
}
