// Package window opens re-commissioning windows on devices that are
// already on the fabric.
//
// A basic window reuses the device's own onboarding credentials. An
// enhanced window installs a PAKE verifier computed here from a PIN the
// commissioner chooses (or generates), and the resulting invitation is
// rendered as a manual pairing code for the next administrator.
package window

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mash-protocol/mash-commissioner/pkg/fabric"
	"github.com/mash-protocol/mash-commissioner/pkg/failure"
	"github.com/mash-protocol/mash-commissioner/pkg/session"
	"github.com/mash-protocol/mash-commissioner/pkg/setupcode"
	"github.com/mash-protocol/mash-commissioner/pkg/wire"
)

// Window limits.
const (
	MinDuration = time.Second
	MaxDuration = 65535 * time.Second

	DefaultIterations = wire.MinPBKDFIteration
	SaltSize          = wire.MaxSaltSize
)

// Errors.
var (
	ErrInvalidDuration   = errors.New("window duration out of range")
	ErrInvalidIterations = errors.New("PBKDF iteration count out of range")
)

// Connector opens an operational session to a commissioned device.
type Connector interface {
	Connect(ctx context.Context, deviceID fabric.NodeID) (session.Channel, error)
}

// VerifierComputer derives a PAKE verifier. *session.Manager satisfies it.
type VerifierComputer interface {
	ComputePAKEVerifier(pin uint32, salt []byte, iterations uint32) ([]byte, error)
}

// Invitation describes an open enhanced window.
type Invitation struct {
	Discriminator uint16
	PIN           uint32
	Duration      time.Duration
	Iterations    uint32
	Salt          []byte

	// ManualCode is the 13 digit pairing code for Discriminator and PIN.
	ManualCode string
}

// Config configures an Opener.
type Config struct {
	Connector Connector
	Verifier  VerifierComputer
	Logger    *slog.Logger
}

// Opener opens commissioning windows.
type Opener struct {
	connector Connector
	verifier  VerifierComputer
	logger    *slog.Logger
}

// NewOpener creates an opener.
func NewOpener(cfg Config) (*Opener, error) {
	if cfg.Connector == nil || cfg.Verifier == nil {
		return nil, failure.Errorf(failure.KindInvalidArgument, "window.NewOpener", "connector and verifier are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Opener{connector: cfg.Connector, verifier: cfg.Verifier, logger: logger.With("component", "window")}, nil
}

// OpenBasic opens a window using the device's onboarding credentials.
func (o *Opener) OpenBasic(ctx context.Context, deviceID fabric.NodeID, duration time.Duration) error {
	const op = "window.OpenBasic"

	secs, err := durationSeconds(duration)
	if err != nil {
		return failure.New(failure.KindInvalidArgument, op, err)
	}
	if err := o.invoke(ctx, op, deviceID, wire.MessageTypeOpenBasicCommissioningWindow, &wire.OpenBasicCommissioningWindow{TimeoutSeconds: secs}); err != nil {
		return err
	}
	o.logger.Info("basic window opened", "device", deviceID, "duration", duration)
	return nil
}

// OpenEnhanced opens a window verified by a new PIN. The PIN is masked to
// 27 bits; zero after masking generates a random PIN. Zero iterations
// selects DefaultIterations.
func (o *Opener) OpenEnhanced(ctx context.Context, deviceID fabric.NodeID, duration time.Duration, iterations uint32, discriminator uint16, pin uint32) (*Invitation, error) {
	const op = "window.OpenEnhanced"

	secs, err := durationSeconds(duration)
	if err != nil {
		return nil, failure.New(failure.KindInvalidArgument, op, err)
	}
	if discriminator > setupcode.DiscriminatorMax {
		return nil, failure.New(failure.KindInvalidArgument, op, fmt.Errorf("%w: %d", setupcode.ErrInvalidDiscriminator, discriminator))
	}
	if iterations == 0 {
		iterations = DefaultIterations
	}
	if iterations < wire.MinPBKDFIteration || iterations > wire.MaxPBKDFIteration {
		return nil, failure.New(failure.KindInvalidArgument, op, fmt.Errorf("%w: %d", ErrInvalidIterations, iterations))
	}

	pin = setupcode.MaskPIN(pin)
	if pin == 0 {
		if pin, err = setupcode.GeneratePIN(); err != nil {
			return nil, failure.New(failure.KindCrypto, op, err)
		}
	}
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, failure.New(failure.KindCrypto, op, err)
	}
	verifier, err := o.verifier.ComputePAKEVerifier(pin, salt, iterations)
	if err != nil {
		return nil, failure.Wrap(failure.KindCrypto, op, err)
	}
	code, err := setupcode.EncodeManual(discriminator, pin)
	if err != nil {
		return nil, failure.New(failure.KindInvalidArgument, op, err)
	}

	req := &wire.OpenCommissioningWindow{
		TimeoutSeconds: secs,
		Verifier:       verifier,
		Discriminator:  discriminator,
		Iterations:     iterations,
		Salt:           salt,
	}
	if err := o.invoke(ctx, op, deviceID, wire.MessageTypeOpenCommissioningWindow, req); err != nil {
		return nil, err
	}
	o.logger.Info("enhanced window opened", "device", deviceID, "duration", duration, "discriminator", discriminator)

	return &Invitation{
		Discriminator: discriminator,
		PIN:           pin,
		Duration:      duration,
		Iterations:    iterations,
		Salt:          salt,
		ManualCode:    code,
	}, nil
}

func (o *Opener) invoke(ctx context.Context, op string, deviceID fabric.NodeID, t wire.MessageType, req any) error {
	ch, err := o.connector.Connect(ctx, deviceID)
	if err != nil {
		return failure.Wrap(failure.KindProtocol, op, err)
	}
	defer ch.Close()

	if err := ch.Invoke(ctx, t, req, nil); err != nil {
		var se *wire.StatusError
		switch {
		case errors.As(err, &se):
			return failure.WithCode(failure.KindProtocol, op, uint32(se.Status), err)
		case errors.Is(err, context.DeadlineExceeded):
			return failure.New(failure.KindTimeout, op, err)
		default:
			return failure.Wrap(failure.KindProtocol, op, err)
		}
	}
	return nil
}

func durationSeconds(d time.Duration) (uint16, error) {
	if d < MinDuration || d > MaxDuration {
		return 0, fmt.Errorf("%w: %s", ErrInvalidDuration, d)
	}
	return uint16(d / time.Second), nil
}
