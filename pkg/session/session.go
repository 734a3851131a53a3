package session

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mash-protocol/mash-commissioner/pkg/discovery"
	"github.com/mash-protocol/mash-commissioner/pkg/fabric"
	"github.com/mash-protocol/mash-commissioner/pkg/failure"
	"github.com/mash-protocol/mash-commissioner/pkg/log"
	"github.com/mash-protocol/mash-commissioner/pkg/pase"
	"github.com/mash-protocol/mash-commissioner/pkg/setupcode"
	"github.com/mash-protocol/mash-commissioner/pkg/transport"
	"github.com/mash-protocol/mash-commissioner/pkg/wire"
)

// Errors.
var (
	ErrInvalidTarget = errors.New("invalid target")
	ErrNoResolver    = errors.New("no resolver configured")
)

// Kind distinguishes session types.
type Kind uint8

const (
	KindPASE Kind = iota
	KindOperational
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindPASE:
		return "PASE"
	case KindOperational:
		return "OPERATIONAL"
	default:
		return "UNKNOWN"
	}
}

// Target locates a commissionable device. Either Address is set, or the
// device is found on the network by Discriminator.
type Target struct {
	// Address is host:port. Empty means resolve by discriminator.
	Address string

	Discriminator uint16
	PIN           uint32

	// ManualCode is the rendered setup code the target was built from, if any.
	ManualCode string
}

// Validate checks PIN and discriminator ranges.
func (t Target) Validate() error {
	if t.PIN == 0 || t.PIN > setupcode.PINMax {
		return fmt.Errorf("%w: PIN out of range", ErrInvalidTarget)
	}
	if t.Discriminator > setupcode.DiscriminatorMax {
		return fmt.Errorf("%w: discriminator %d out of range", ErrInvalidTarget, t.Discriminator)
	}
	return nil
}

// Channel is an established session to one device.
type Channel interface {
	// DeviceID is the id the session was established for.
	DeviceID() fabric.NodeID

	// Invoke sends a command and decodes its response into out (may be nil).
	Invoke(ctx context.Context, t wire.MessageType, in, out any) error

	// AttestationChallenge is the PASE-derived challenge, nil for
	// operational sessions.
	AttestationChallenge() []byte

	RemoteAddr() string
	Close() error
}

// Resolver finds devices on the network. *discovery.Resolver satisfies it.
type Resolver interface {
	FindCommissionable(ctx context.Context, discriminator uint16) (*discovery.CommissionableService, error)
	ResolveOperational(ctx context.Context, cfid fabric.CompressedFabricID, node fabric.NodeID) (*discovery.OperationalService, error)
}

// Config configures a Manager.
type Config struct {
	// DialTimeout bounds one TCP+TLS connect attempt.
	DialTimeout time.Duration

	// HandshakeTimeout bounds the PASE exchange.
	HandshakeTimeout time.Duration

	// Attempts is the number of dial attempts.
	Attempts int

	Backoff BackoffConfig

	// Resolver is used for targets without an address. Optional.
	Resolver Resolver

	// ProtocolLogger receives frame, message and state events. Optional.
	ProtocolLogger log.Logger

	Logger *slog.Logger
}

// DefaultConfig returns the default manager configuration.
func DefaultConfig() Config {
	return Config{
		DialTimeout:      10 * time.Second,
		HandshakeTimeout: 30 * time.Second,
		Attempts:         DefaultAttempts,
		Backoff:          BackoffConfig{Jitter: JitterFactor},
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.DialTimeout <= 0 {
		return errors.New("dial timeout must be positive")
	}
	if c.HandshakeTimeout <= 0 {
		return errors.New("handshake timeout must be positive")
	}
	if c.Attempts < 1 {
		return errors.New("attempts must be at least 1")
	}
	return nil
}

// Manager opens sessions. It holds no per-session state and is safe for
// concurrent use.
type Manager struct {
	cfg    Config
	logger *slog.Logger
}

// NewManager creates a session manager.
func NewManager(cfg Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, failure.New(failure.KindInvalidArgument, "session.NewManager", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{cfg: cfg, logger: logger.With("component", "session")}, nil
}

// EstablishPASE connects to the target and runs the PASE handshake.
func (m *Manager) EstablishPASE(ctx context.Context, deviceID fabric.NodeID, target Target) (Channel, error) {
	const op = "session.EstablishPASE"

	if err := target.Validate(); err != nil {
		return nil, failure.New(failure.KindInvalidArgument, op, err)
	}

	addr := target.Address
	if addr == "" {
		if m.cfg.Resolver == nil {
			return nil, failure.New(failure.KindInvalidArgument, op, ErrNoResolver)
		}
		svc, err := m.cfg.Resolver.FindCommissionable(ctx, target.Discriminator)
		if err != nil {
			return nil, classify(op, err)
		}
		addr = svc.Address()
	}

	m.logState(deviceID, "IDLE", "CONNECTING", addr)
	conn, err := m.dial(ctx, addr, transport.NewCommissioningClientTLSConfig())
	if err != nil {
		m.logState(deviceID, "CONNECTING", "FAILED", err.Error())
		return nil, classify(op, err)
	}

	hctx, cancel := context.WithTimeout(ctx, m.cfg.HandshakeTimeout)
	defer cancel()

	m.logState(deviceID, "CONNECTING", "HANDSHAKE", "")
	keys, err := pase.Handshake(hctx, conn, target.PIN)
	if err != nil {
		conn.Close()
		m.logState(deviceID, "HANDSHAKE", "FAILED", err.Error())
		return nil, classify(op, err)
	}
	m.logState(deviceID, "HANDSHAKE", "ESTABLISHED", "")
	m.logger.Info("PASE session established", "device", deviceID, "address", addr)

	return &Session{
		kind:      KindPASE,
		deviceID:  deviceID,
		conn:      conn,
		remote:    addr,
		challenge: keys.AttestationChallenge[:],
	}, nil
}

// ConnectOperational opens a NOC-authenticated session to a commissioned
// device. creds.PeerNodeID is forced to deviceID.
func (m *Manager) ConnectOperational(ctx context.Context, deviceID fabric.NodeID, address string, creds transport.OperationalTLSConfig) (Channel, error) {
	const op = "session.ConnectOperational"

	if !deviceID.IsOperational() {
		return nil, failure.Errorf(failure.KindInvalidArgument, op, "device id %s is not operational", deviceID)
	}
	creds.PeerNodeID = deviceID
	tlsConf, err := transport.NewOperationalClientTLSConfig(&creds)
	if err != nil {
		return nil, failure.New(failure.KindInvalidArgument, op, err)
	}

	conn, err := m.dial(ctx, address, tlsConf)
	if err != nil {
		return nil, classify(op, err)
	}
	m.logger.Info("operational session established", "device", deviceID, "address", address)
	return &Session{kind: KindOperational, deviceID: deviceID, conn: conn, remote: address}, nil
}

// ResolveOperational returns the host:port of a node on a fabric.
func (m *Manager) ResolveOperational(ctx context.Context, cfid fabric.CompressedFabricID, node fabric.NodeID) (string, error) {
	const op = "session.ResolveOperational"

	if m.cfg.Resolver == nil {
		return "", failure.New(failure.KindInvalidArgument, op, ErrNoResolver)
	}
	svc, err := m.cfg.Resolver.ResolveOperational(ctx, cfid, node)
	if err != nil {
		return "", classify(op, err)
	}
	return svc.Address(), nil
}

// ComputePAKEVerifier derives the serialized PASE verifier for a PIN.
func (m *Manager) ComputePAKEVerifier(pin uint32, salt []byte, iterations uint32) ([]byte, error) {
	const op = "session.ComputePAKEVerifier"

	v, err := pase.ComputeVerifier(pin, salt, iterations)
	switch {
	case err == nil:
		return v, nil
	case errors.Is(err, pase.ErrInvalidPIN), errors.Is(err, pase.ErrInvalidParameters):
		return nil, failure.New(failure.KindInvalidArgument, op, err)
	default:
		return nil, failure.New(failure.KindCrypto, op, err)
	}
}

func (m *Manager) dial(ctx context.Context, addr string, tlsConf *tls.Config) (*transport.Conn, error) {
	var conn *transport.Conn
	b := NewBackoff(m.cfg.Backoff)
	err := retry(ctx, m.cfg.Attempts, b, func() error {
		c, err := transport.Dial(ctx, addr, transport.DialConfig{
			TLS:            tlsConf,
			ConnectTimeout: m.cfg.DialTimeout,
			Conn:           transport.ConnOptions{ProtocolLogger: m.cfg.ProtocolLogger},
		})
		if err != nil {
			if ctx.Err() != nil {
				return permanent(ctx.Err())
			}
			m.logger.Debug("dial failed", "address", addr, "attempt", b.Attempts()+1, "error", err)
			return err
		}
		conn = c
		return nil
	})
	return conn, err
}

func (m *Manager) logState(deviceID fabric.NodeID, from, to, reason string) {
	if m.cfg.ProtocolLogger == nil {
		return
	}
	m.cfg.ProtocolLogger.Log(log.NewStateEvent(log.RoleCommissioner, log.StateEntityConnection, deviceID.String(), from, to, reason))
}

// classify maps transport and handshake errors onto failure kinds.
func classify(op string, err error) error {
	var fe *failure.Error
	var se *wire.StatusError
	switch {
	case errors.As(err, &fe):
		return failure.Wrap(fe.Kind, op, err)
	case errors.Is(err, context.DeadlineExceeded):
		return failure.New(failure.KindTimeout, op, err)
	case errors.As(err, &se):
		return failure.WithCode(failure.KindProtocol, op, uint32(se.Status), err)
	default:
		return failure.New(failure.KindProtocol, op, err)
	}
}

// Session is an established PASE or operational session.
type Session struct {
	kind      Kind
	deviceID  fabric.NodeID
	conn      *transport.Conn
	remote    string
	challenge []byte
}

// Kind returns the session type.
func (s *Session) Kind() Kind { return s.kind }

// ID returns the underlying connection id.
func (s *Session) ID() string { return s.conn.ID() }

func (s *Session) DeviceID() fabric.NodeID { return s.deviceID }

func (s *Session) AttestationChallenge() []byte { return s.challenge }

func (s *Session) RemoteAddr() string { return s.remote }

// Invoke sends a command and waits for its response.
func (s *Session) Invoke(ctx context.Context, t wire.MessageType, in, out any) error {
	return s.conn.Request(ctx, t, in, out)
}

// Close closes the session. It is safe to call more than once.
func (s *Session) Close() error { return s.conn.Close() }
