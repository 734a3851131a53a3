package setupcode

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// Codec constants.
const (
	// ManualCodeLength is the number of digits in a manual pairing code.
	ManualCodeLength = 13

	// DiscriminatorMax is the maximum discriminator value (12 bits).
	DiscriminatorMax = 0xFFF

	// PINBits is the bit width of a setup PIN.
	PINBits = 27

	// PINMax is the maximum setup PIN value.
	PINMax = 1<<PINBits - 1

	// QRPrefix starts every QR payload.
	QRPrefix = "MT:"

	// PayloadVersion is the only supported QR payload version.
	PayloadVersion = 0

	qrPayloadBytes = 11
	manualBodyLen  = ManualCodeLength - 1
)

// Codec errors.
var (
	ErrInvalidDiscriminator = errors.New("discriminator out of range")
	ErrInvalidPIN           = errors.New("setup PIN out of range")
	ErrInvalidManualCode    = errors.New("invalid manual pairing code")
	ErrInvalidQRCode        = errors.New("invalid QR payload")
	ErrChecksum             = errors.New("check digit mismatch")
	ErrUnsupportedVersion   = errors.New("unsupported payload version")
)

// Flow is the commissioning flow advertised in a QR payload.
type Flow uint8

const (
	FlowStandard   Flow = 0
	FlowUserIntent Flow = 1
	FlowCustom     Flow = 2
)

// Rendezvous is a bitmask of the transports a device can be discovered on.
type Rendezvous uint8

const (
	RendezvousSoftAP    Rendezvous = 1 << 0
	RendezvousBLE       Rendezvous = 1 << 1
	RendezvousOnNetwork Rendezvous = 1 << 2
)

// Payload holds the decoded contents of an onboarding payload.
// Manual codes only carry Discriminator and PIN.
type Payload struct {
	Version       uint8
	VendorID      uint16
	ProductID     uint16
	Flow          Flow
	Rendezvous    Rendezvous
	Discriminator uint16
	PIN           uint32
}

// Validate checks the discriminator and PIN ranges.
func (p Payload) Validate() error {
	return validate(p.Discriminator, p.PIN)
}

func validate(discriminator uint16, pin uint32) error {
	if discriminator > DiscriminatorMax {
		return fmt.Errorf("%w: %d", ErrInvalidDiscriminator, discriminator)
	}
	if pin == 0 || pin > PINMax {
		return fmt.Errorf("%w: %d", ErrInvalidPIN, pin)
	}
	return nil
}

// EncodeManual renders a discriminator and PIN as a manual pairing code.
func EncodeManual(discriminator uint16, pin uint32) (string, error) {
	if err := validate(discriminator, pin); err != nil {
		return "", err
	}
	body := fmt.Sprintf("%0*d", manualBodyLen, uint64(discriminator)<<PINBits|uint64(pin))
	return body + string(verhoeffCheckDigit(body)), nil
}

// ParseManual decodes a manual pairing code. Dashes and spaces are ignored.
func ParseManual(code string) (Payload, error) {
	digits := strings.Map(func(r rune) rune {
		if r == '-' || r == ' ' {
			return -1
		}
		return r
	}, strings.TrimSpace(code))

	if len(digits) != ManualCodeLength {
		return Payload{}, fmt.Errorf("%w: must be %d digits", ErrInvalidManualCode, ManualCodeLength)
	}
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return Payload{}, fmt.Errorf("%w: non-digit %q", ErrInvalidManualCode, digits[i])
		}
	}
	if !verhoeffValid(digits) {
		return Payload{}, fmt.Errorf("%w: %w", ErrInvalidManualCode, ErrChecksum)
	}

	v, err := strconv.ParseUint(digits[:manualBodyLen], 10, 64)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrInvalidManualCode, err)
	}
	if v>>(PINBits+12) != 0 {
		return Payload{}, fmt.Errorf("%w: %w", ErrInvalidManualCode, ErrInvalidDiscriminator)
	}

	p := Payload{
		Discriminator: uint16(v >> PINBits),
		PIN:           uint32(v & PINMax),
	}
	if err := p.Validate(); err != nil {
		return Payload{}, fmt.Errorf("%w: %w", ErrInvalidManualCode, err)
	}
	return p, nil
}

// qrField describes one packed field, in packing order.
type qrField struct {
	bits int
	get  func(*Payload) uint64
	set  func(*Payload, uint64)
}

var qrLayout = []qrField{
	{3, func(p *Payload) uint64 { return uint64(p.Version) }, func(p *Payload, v uint64) { p.Version = uint8(v) }},
	{16, func(p *Payload) uint64 { return uint64(p.VendorID) }, func(p *Payload, v uint64) { p.VendorID = uint16(v) }},
	{16, func(p *Payload) uint64 { return uint64(p.ProductID) }, func(p *Payload, v uint64) { p.ProductID = uint16(v) }},
	{2, func(p *Payload) uint64 { return uint64(p.Flow) }, func(p *Payload, v uint64) { p.Flow = Flow(v) }},
	{8, func(p *Payload) uint64 { return uint64(p.Rendezvous) }, func(p *Payload, v uint64) { p.Rendezvous = Rendezvous(v) }},
	{12, func(p *Payload) uint64 { return uint64(p.Discriminator) }, func(p *Payload, v uint64) { p.Discriminator = uint16(v) }},
	{27, func(p *Payload) uint64 { return uint64(p.PIN) }, func(p *Payload, v uint64) { p.PIN = uint32(v) }},
}

// EncodeQR renders p as an "MT:" QR payload.
func EncodeQR(p Payload) (string, error) {
	if p.Version != PayloadVersion {
		return "", fmt.Errorf("%w: %d", ErrUnsupportedVersion, p.Version)
	}
	if p.Flow > FlowCustom {
		return "", fmt.Errorf("%w: flow %d", ErrInvalidQRCode, p.Flow)
	}
	if err := p.Validate(); err != nil {
		return "", err
	}

	var buf [qrPayloadBytes]byte
	off := 0
	for _, f := range qrLayout {
		v := f.get(&p)
		for j := 0; j < f.bits; j++ {
			if v>>j&1 == 1 {
				buf[(off+j)/8] |= 1 << ((off + j) % 8)
			}
		}
		off += f.bits
	}
	return QRPrefix + base38Encode(buf[:]), nil
}

// ParseQR decodes an "MT:" QR payload.
func ParseQR(s string) (Payload, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(strings.ToUpper(s), QRPrefix) {
		return Payload{}, fmt.Errorf("%w: missing %s prefix", ErrInvalidQRCode, QRPrefix)
	}
	raw, err := base38Decode(strings.ToUpper(s[len(QRPrefix):]))
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %w", ErrInvalidQRCode, err)
	}
	if len(raw) != qrPayloadBytes {
		return Payload{}, fmt.Errorf("%w: %d bytes", ErrInvalidQRCode, len(raw))
	}

	var p Payload
	off := 0
	for _, f := range qrLayout {
		var v uint64
		for j := 0; j < f.bits; j++ {
			if raw[(off+j)/8]>>((off+j)%8)&1 == 1 {
				v |= 1 << j
			}
		}
		f.set(&p, v)
		off += f.bits
	}

	if p.Version != PayloadVersion {
		return Payload{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, p.Version)
	}
	if err := p.Validate(); err != nil {
		return Payload{}, fmt.Errorf("%w: %w", ErrInvalidQRCode, err)
	}
	return p, nil
}

// Decode parses either a QR payload or a manual pairing code.
func Decode(payload string) (Payload, error) {
	s := strings.TrimSpace(payload)
	if strings.HasPrefix(strings.ToUpper(s), QRPrefix) {
		return ParseQR(s)
	}
	return ParseManual(s)
}

// MaskPIN normalizes pin to its valid bit width.
func MaskPIN(pin uint32) uint32 {
	return pin & PINMax
}

// GeneratePIN returns a random PIN in [1, PINMax].
func GeneratePIN() (uint32, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(PINMax))
	if err != nil {
		return 0, fmt.Errorf("failed to generate PIN: %w", err)
	}
	return uint32(n.Uint64()) + 1, nil
}

// GenerateDiscriminator returns a random 12-bit discriminator.
func GenerateDiscriminator() (uint16, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(DiscriminatorMax+1))
	if err != nil {
		return 0, fmt.Errorf("failed to generate discriminator: %w", err)
	}
	return uint16(n.Uint64()), nil
}
