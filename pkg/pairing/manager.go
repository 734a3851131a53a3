// Package pairing drives PASE session establishment against devices and
// tracks each device's pairing state.
//
//	idle -> handshake -> established
//	                  \-> failed
//
// A pairing starts from a setup code (discriminator and PIN), a network
// address, or an onboarding payload. Handshakes run off the caller's
// goroutine; their completion is posted back to the owner's serialized
// context, where a pairing stopped in the meantime is recognized and the
// late session discarded.
package pairing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"github.com/mash-protocol/mash-commissioner/pkg/fabric"
	"github.com/mash-protocol/mash-commissioner/pkg/failure"
	"github.com/mash-protocol/mash-commissioner/pkg/log"
	"github.com/mash-protocol/mash-commissioner/pkg/session"
	"github.com/mash-protocol/mash-commissioner/pkg/setupcode"
)

// Errors.
var (
	ErrPairingActive   = errors.New("pairing already active for device")
	ErrNoPairing       = errors.New("no such pairing")
	ErrNotEstablished  = errors.New("no established session for device")
	ErrInvalidDeviceID = errors.New("invalid device id")
	ErrClosed          = errors.New("pairing manager closed")
)

// State is the pairing state of one device.
type State uint8

const (
	StateIdle State = iota
	StateHandshake
	StateEstablished
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateHandshake:
		return "HANDSHAKE"
	case StateEstablished:
		return "ESTABLISHED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Establisher runs PASE. *session.Manager satisfies it.
type Establisher interface {
	EstablishPASE(ctx context.Context, deviceID fabric.NodeID, target session.Target) (session.Channel, error)
}

// Binder scopes certificate issuance to one device.
// *credentials.Issuer satisfies it.
type Binder interface {
	SetDeviceBeingCommissioned(id fabric.NodeID)
	ClearDeviceBinding(id fabric.NodeID)
}

// Config configures a Manager.
type Config struct {
	Establisher Establisher
	Binder      Binder

	// Post runs handshake completions on the owner's serialized context.
	// Nil runs them on the handshake goroutine. An error means fn will
	// never run.
	Post func(func()) error

	// Executor delivers delegate events. Nil delivers them inline.
	Executor func(func())

	ProtocolLogger log.Logger
	Logger         *slog.Logger
}

type pairing struct {
	state   State
	cancel  context.CancelFunc
	channel session.Channel
	err     error
}

// Manager tracks pairings by device id. It is safe for concurrent use.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	pairings map[fabric.NodeID]*pairing
	delegate Delegate
	closed   bool
}

// NewManager creates a pairing manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Establisher == nil || cfg.Binder == nil {
		return nil, failure.Errorf(failure.KindInvalidArgument, "pairing.NewManager", "establisher and binder are required")
	}
	if cfg.Post == nil {
		cfg.Post = func(fn func()) error {
			fn()
			return nil
		}
	}
	if cfg.Executor == nil {
		cfg.Executor = func(fn func()) { fn() }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:      cfg,
		logger:   logger.With("component", "pairing"),
		ctx:      ctx,
		cancel:   cancel,
		pairings: make(map[fabric.NodeID]*pairing),
	}, nil
}

// SetDelegate replaces the event delegate. Nil removes it.
func (m *Manager) SetDelegate(d Delegate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delegate = d
}

// PairWithCode pairs using a discriminator and PIN. The pair is rendered
// into a manual setup code, which also validates both values.
func (m *Manager) PairWithCode(deviceID fabric.NodeID, discriminator uint16, pin uint32) error {
	const op = "pairing.PairWithCode"

	code, err := setupcode.EncodeManual(discriminator, pin)
	if err != nil {
		return failure.New(failure.KindInvalidArgument, op, err)
	}
	return m.start(op, deviceID, session.Target{Discriminator: discriminator, PIN: pin, ManualCode: code})
}

// PairWithAddress pairs with a device at a known address.
func (m *Manager) PairWithAddress(deviceID fabric.NodeID, host string, port uint16, pin uint32) error {
	const op = "pairing.PairWithAddress"

	if host == "" || port == 0 {
		return failure.Errorf(failure.KindInvalidArgument, op, "address %q port %d", host, port)
	}
	return m.start(op, deviceID, session.Target{Address: net.JoinHostPort(host, strconv.Itoa(int(port))), PIN: pin})
}

// PairWithPayload pairs using a manual code or QR onboarding payload.
func (m *Manager) PairWithPayload(deviceID fabric.NodeID, payload string) error {
	const op = "pairing.PairWithPayload"

	p, err := setupcode.Decode(payload)
	if err != nil {
		return failure.New(failure.KindInvalidArgument, op, err)
	}
	return m.start(op, deviceID, session.Target{Discriminator: p.Discriminator, PIN: p.PIN, ManualCode: payload})
}

func (m *Manager) start(op string, deviceID fabric.NodeID, target session.Target) error {
	if !deviceID.IsOperational() {
		return failure.New(failure.KindInvalidArgument, op, fmt.Errorf("%w: %s", ErrInvalidDeviceID, deviceID))
	}
	if err := target.Validate(); err != nil {
		return failure.New(failure.KindInvalidArgument, op, err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return failure.New(failure.KindNotRunning, op, ErrClosed)
	}
	if p, ok := m.pairings[deviceID]; ok && (p.state == StateHandshake || p.state == StateEstablished) {
		m.mu.Unlock()
		return failure.New(failure.KindMisuse, op, fmt.Errorf("%w: %s (%s)", ErrPairingActive, deviceID, p.state))
	}

	m.cfg.Binder.SetDeviceBeingCommissioned(deviceID)
	ctx, cancel := context.WithCancel(m.ctx)
	p := &pairing{state: StateHandshake, cancel: cancel}
	m.pairings[deviceID] = p
	m.mu.Unlock()

	m.logger.Info("pairing started", "device", deviceID, "address", target.Address, "discriminator", target.Discriminator)
	m.logState(deviceID, StateIdle, StateHandshake, "")
	m.emit(func(d Delegate) { d.OnStatusUpdate(deviceID, StateHandshake) })

	go func() {
		ch, err := m.cfg.Establisher.EstablishPASE(ctx, deviceID, target)
		if perr := m.cfg.Post(func() { m.complete(deviceID, p, ch, err) }); perr != nil {
			m.logger.Debug("dropping handshake completion", "device", deviceID, "error", perr)
			if ch != nil {
				ch.Close()
			}
		}
	}()
	return nil
}

// complete records a handshake result. A result for a pairing that was
// stopped or replaced is discarded.
func (m *Manager) complete(deviceID fabric.NodeID, p *pairing, ch session.Channel, err error) {
	m.mu.Lock()
	if m.pairings[deviceID] != p || p.state != StateHandshake {
		m.mu.Unlock()
		if ch != nil {
			ch.Close()
		}
		m.logger.Debug("discarding completion of stopped pairing", "device", deviceID)
		return
	}

	next := StateEstablished
	if err != nil {
		next = StateFailed
		p.err = failure.Wrap(failure.KindProtocol, "pairing.EstablishPASE", err)
		p.cancel()
		m.cfg.Binder.ClearDeviceBinding(deviceID)
	} else {
		p.channel = ch
	}
	p.state = next
	result := p.err
	m.mu.Unlock()

	if result != nil {
		m.logger.Warn("pairing failed", "device", deviceID, "error", result)
		m.logState(deviceID, StateHandshake, next, result.Error())
	} else {
		m.logger.Info("pairing established", "device", deviceID)
		m.logState(deviceID, StateHandshake, next, "")
	}
	m.emit(func(d Delegate) {
		d.OnStatusUpdate(deviceID, next)
		d.OnPairingComplete(deviceID, result)
	})
}

// StopPairing cancels a handshake in progress, or drops an established
// session, and clears the device binding. It returns a misuse error when
// the device has no active pairing; other devices are never affected.
func (m *Manager) StopPairing(deviceID fabric.NodeID) error {
	const op = "pairing.StopPairing"

	m.mu.Lock()
	p, ok := m.pairings[deviceID]
	if !ok || (p.state != StateHandshake && p.state != StateEstablished) {
		m.mu.Unlock()
		return failure.New(failure.KindMisuse, op, fmt.Errorf("%w: %s", ErrNoPairing, deviceID))
	}
	prev := p.state
	delete(m.pairings, deviceID)
	m.cfg.Binder.ClearDeviceBinding(deviceID)
	m.mu.Unlock()

	p.cancel()
	if p.channel != nil {
		p.channel.Close()
	}

	m.logger.Info("pairing stopped", "device", deviceID, "state", prev)
	m.logState(deviceID, prev, StateIdle, "stopped")
	m.emit(func(d Delegate) { d.OnPairingDeleted(deviceID, nil) })
	return nil
}

// State returns the pairing state of a device.
func (m *Manager) State(deviceID fabric.NodeID) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pairings[deviceID]; ok {
		return p.state
	}
	return StateIdle
}

// Err returns the failure of a failed pairing, or nil.
func (m *Manager) Err(deviceID fabric.NodeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pairings[deviceID]; ok {
		return p.err
	}
	return nil
}

// Session returns the established session of a device.
func (m *Manager) Session(deviceID fabric.NodeID) (session.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pairings[deviceID]
	if !ok || p.state != StateEstablished {
		return nil, failure.New(failure.KindMisuse, "pairing.Session", fmt.Errorf("%w: %s", ErrNotEstablished, deviceID))
	}
	return p.channel, nil
}

// Release closes the PASE session of a device after commissioning and
// forgets it, without a deletion event.
func (m *Manager) Release(deviceID fabric.NodeID) {
	m.mu.Lock()
	p, ok := m.pairings[deviceID]
	if ok {
		delete(m.pairings, deviceID)
		m.cfg.Binder.ClearDeviceBinding(deviceID)
	}
	m.mu.Unlock()

	if ok {
		p.cancel()
		if p.channel != nil {
			p.channel.Close()
		}
	}
}

// NotifyCommissioningStatus forwards a commissioning stage to the delegate.
func (m *Manager) NotifyCommissioningStatus(deviceID fabric.NodeID, stage string, err error) {
	m.emit(func(d Delegate) { d.OnCommissioningStatusUpdate(deviceID, stage, err) })
}

// NotifyCommissioningComplete forwards the commissioning outcome to the delegate.
func (m *Manager) NotifyCommissioningComplete(deviceID fabric.NodeID, err error) {
	m.emit(func(d Delegate) { d.OnCommissioningComplete(deviceID, err) })
}

// Close cancels every handshake and closes every session.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	pairings := m.pairings
	m.pairings = make(map[fabric.NodeID]*pairing)
	m.mu.Unlock()

	m.cancel()
	for id, p := range pairings {
		if p.channel != nil {
			p.channel.Close()
		}
		m.cfg.Binder.ClearDeviceBinding(id)
	}
}

// emit delivers an event to the current delegate on the executor.
func (m *Manager) emit(fn func(Delegate)) {
	m.mu.Lock()
	d := m.delegate
	m.mu.Unlock()
	if d == nil {
		return
	}
	m.cfg.Executor(func() { fn(d) })
}

func (m *Manager) logState(deviceID fabric.NodeID, from, to State, reason string) {
	if m.cfg.ProtocolLogger == nil {
		return
	}
	m.cfg.ProtocolLogger.Log(log.NewStateEvent(log.RoleCommissioner, log.StateEntityPairing, deviceID.String(), from.String(), to.String(), reason))
}
