package commissioning_test

import (
	"context"
	"crypto/rand"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mash-protocol/mash-commissioner/internal/testdevice"
	"github.com/mash-protocol/mash-commissioner/pkg/attestation"
	"github.com/mash-protocol/mash-commissioner/pkg/cert"
	"github.com/mash-protocol/mash-commissioner/pkg/commissioning"
	"github.com/mash-protocol/mash-commissioner/pkg/credentials"
	"github.com/mash-protocol/mash-commissioner/pkg/fabric"
	"github.com/mash-protocol/mash-commissioner/pkg/failure"
	"github.com/mash-protocol/mash-commissioner/pkg/session"
	"github.com/mash-protocol/mash-commissioner/pkg/wire"
)

const (
	deviceID    fabric.NodeID   = 0x4242
	fabricID    fabric.FabricID = 0xFAB1
	fabricIndex                 = fabric.FabricIndex(1)
	waitTimeout                 = 10 * time.Second
)

// fakeSessions hands out in-process channels to simulated devices.
type fakeSessions struct {
	mu       sync.Mutex
	channels map[fabric.NodeID]*testdevice.Channel
	lookups  int
	released []fabric.NodeID
}

func (s *fakeSessions) Session(id fabric.NodeID) (session.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++
	ch, ok := s.channels[id]
	if !ok {
		return nil, errors.New("no session")
	}
	return ch, nil
}

func (s *fakeSessions) Release(id fabric.NodeID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = append(s.released, id)
}

type status struct {
	stage string
	err   error
}

type recordingNotifier struct {
	mu       sync.Mutex
	statuses []status
	pending  chan error
	done     chan error
}

func (n *recordingNotifier) NotifyCommissioningStatus(_ fabric.NodeID, stage string, err error) {
	n.mu.Lock()
	n.statuses = append(n.statuses, status{stage, err})
	n.mu.Unlock()
	if stage == commissioning.StageAttestationPending.String() {
		n.pending <- err
	}
}

func (n *recordingNotifier) NotifyCommissioningComplete(_ fabric.NodeID, err error) {
	n.done <- err
}

func (n *recordingNotifier) stages() []status {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]status(nil), n.statuses...)
}

func (n *recordingNotifier) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-n.done:
		return err
	case <-time.After(waitTimeout):
		t.Fatal("commissioning did not complete")
		return nil
	}
}

type fixture struct {
	dev       *testdevice.Device
	ch        *testdevice.Channel
	issuer    *credentials.Issuer
	sessions  *fakeSessions
	notifier  *recordingNotifier
	engine    *commissioning.Engine
	committed chan commissioning.Commissioned
}

func newFixture(t *testing.T, faults testdevice.Faults, withIPK bool) *fixture {
	t.Helper()

	dev, err := testdevice.New(testdevice.Config{PIN: 20202021, Discriminator: 250, ProductID: 0x8001, Faults: faults})
	require.NoError(t, err)
	t.Cleanup(dev.Close)

	root, err := cert.NewRootAuthority(1, fabricID, cert.RootValidity)
	require.NoError(t, err)
	cfg := credentials.DefaultConfig()
	cfg.Root = root
	issuer, err := credentials.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { issuer.Close() })

	if withIPK {
		ipk := make([]byte, fabric.IPKSize)
		_, err := rand.Read(ipk)
		require.NoError(t, err)
		require.NoError(t, issuer.SetFabricGroupKey(fabricIndex, ipk, fabric.CompressedFabricID{1, 2, 3, 4, 5, 6, 7, 8}))
	}

	f := &fixture{
		dev:       dev,
		ch:        dev.Channel(deviceID),
		issuer:    issuer,
		notifier:  &recordingNotifier{pending: make(chan error, 1), done: make(chan error, 1)},
		committed: make(chan commissioning.Commissioned, 1),
	}
	f.sessions = &fakeSessions{channels: map[fabric.NodeID]*testdevice.Channel{deviceID: f.ch}}

	f.engine, err = commissioning.NewEngine(commissioning.Config{
		Issuer:         issuer,
		Sessions:       f.sessions,
		Notifier:       f.notifier,
		FabricID:       fabricID,
		FabricIndex:    fabricIndex,
		AdminVendorID:  fabric.VendorIDTest1,
		AdminSubject:   0x1,
		OnCommissioned: func(c commissioning.Commissioned) { f.committed <- c },
	})
	require.NoError(t, err)
	t.Cleanup(f.engine.Close)
	return f
}

func waitPending(t *testing.T, f *fixture) error {
	t.Helper()
	select {
	case err := <-f.notifier.pending:
		return err
	case <-time.After(waitTimeout):
		t.Fatal("flow did not suspend")
		return nil
	}
}

func TestCommissionSuccess(t *testing.T) {
	f := newFixture(t, testdevice.Faults{}, true)

	err := f.engine.Commission(deviceID, commissioning.Parameters{
		WiFi: &commissioning.WiFiCredentials{SSID: []byte("home"), Passphrase: []byte("secret")},
	})
	require.NoError(t, err)
	require.NoError(t, f.notifier.wait(t))

	c := <-f.committed
	assert.Equal(t, deviceID, c.DeviceID)
	assert.Equal(t, fabricIndex, c.FabricIndex)
	assert.Equal(t, uint16(0x8001), c.ProductID)
	node, err := cert.NodeIDOf(c.Chain.NOC)
	require.NoError(t, err)
	assert.Equal(t, deviceID, node)

	require.NotNil(t, f.dev.Fabric())
	assert.Equal(t, fabric.NodeID(0x1), f.dev.Fabric().AdminSubject)
	require.NotNil(t, f.dev.Network())
	assert.Equal(t, []byte("home"), f.dev.Network().SSID)
	assert.False(t, f.dev.FailSafeArmed())

	var stages []string
	for _, s := range f.notifier.stages() {
		assert.NoError(t, s.err, s.stage)
		stages = append(stages, s.stage)
	}
	assert.Equal(t, []string{"ARM_FAILSAFE", "ATTESTATION", "CSR", "ISSUE_NOC", "ADD_TRUSTED_ROOT", "ADD_NOC", "NETWORK_CONFIG", "COMPLETE"}, stages)

	assert.Equal(t, []fabric.NodeID{deviceID}, f.sessions.released)
	_, bound := f.issuer.DeviceBeingCommissioned()
	assert.False(t, bound)
	assert.Equal(t, commissioning.StageIdle, f.engine.Stage(deviceID))
}

func TestCommissionSkipsNetworkStageWithoutCredentials(t *testing.T) {
	f := newFixture(t, testdevice.Faults{}, true)

	require.NoError(t, f.engine.Commission(deviceID, commissioning.Parameters{}))
	require.NoError(t, f.notifier.wait(t))

	assert.NotContains(t, f.dev.Received(), wire.MessageTypeNetworkConfig)
	assert.Nil(t, f.dev.Network())
}

func TestCommissionInvalidParameters(t *testing.T) {
	tests := []struct {
		name   string
		params commissioning.Parameters
	}{
		{"short CSR nonce", commissioning.Parameters{CSRNonce: make([]byte, 16)}},
		{"long attestation nonce", commissioning.Parameters{AttestationNonce: make([]byte, 33)}},
		{"wifi and thread", commissioning.Parameters{
			WiFi:          &commissioning.WiFiCredentials{SSID: []byte("a")},
			ThreadDataset: []byte{1},
		}},
		{"empty SSID", commissioning.Parameters{WiFi: &commissioning.WiFiCredentials{}}},
		{"long passphrase", commissioning.Parameters{WiFi: &commissioning.WiFiCredentials{SSID: []byte("a"), Passphrase: make([]byte, 65)}}},
		{"expiry too long", commissioning.Parameters{FailSafeExpiry: 70000 * time.Second}},
	}

	f := newFixture(t, testdevice.Faults{}, true)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.engine.Commission(deviceID, tt.params)
			assert.Equal(t, failure.KindInvalidArgument, failure.KindOf(err))
			assert.ErrorIs(t, err, commissioning.ErrInvalidParameters)
		})
	}
	assert.Zero(t, f.sessions.lookups)
	assert.Empty(t, f.dev.Received())
}

func TestCommissionWithoutSession(t *testing.T) {
	f := newFixture(t, testdevice.Faults{}, true)

	err := f.engine.Commission(0x9999, commissioning.Parameters{})
	assert.Equal(t, failure.KindMisuse, failure.KindOf(err))
}

func TestCommissionDuplicate(t *testing.T) {
	f := newFixture(t, testdevice.Faults{Stall: map[wire.MessageType]bool{wire.MessageTypeAttestationRequest: true}}, true)

	require.NoError(t, f.engine.Commission(deviceID, commissioning.Parameters{}))
	err := f.engine.Commission(deviceID, commissioning.Parameters{})
	assert.Equal(t, failure.KindMisuse, failure.KindOf(err))
	assert.ErrorIs(t, err, commissioning.ErrInProgress)

	require.Eventually(t, func() bool { return f.engine.Stage(deviceID) == commissioning.StageAttestation }, waitTimeout, 5*time.Millisecond)
	assert.True(t, f.engine.Cancel(deviceID))
	assert.Error(t, f.notifier.wait(t))
	assert.False(t, f.engine.Cancel(deviceID))
}

func TestCommissionAttestationFailureWithoutDelegate(t *testing.T) {
	f := newFixture(t, testdevice.Faults{WrongAttestationNonce: true}, true)

	require.NoError(t, f.engine.Commission(deviceID, commissioning.Parameters{}))
	err := f.notifier.wait(t)
	assert.Equal(t, failure.KindProtocol, failure.KindOf(err))
	assert.ErrorIs(t, err, commissioning.ErrAttestationFailed)

	// The device fail-safe was expired explicitly.
	assert.False(t, f.dev.FailSafeArmed())
	assert.Nil(t, f.dev.Fabric())
	_, bound := f.issuer.DeviceBeingCommissioned()
	assert.False(t, bound)

	err = f.engine.ContinueAfterAttestation(deviceID, true)
	assert.Equal(t, failure.KindMisuse, failure.KindOf(err))
}

func TestCommissionDelegateAccepts(t *testing.T) {
	f := newFixture(t, testdevice.Faults{}, true)
	var seen *attestation.Evidence
	delegate := attestation.DelegateFunc(func(ev *attestation.Evidence) attestation.Result {
		seen = ev
		return attestation.ResultSuccess
	})

	require.NoError(t, f.engine.Commission(deviceID, commissioning.Parameters{AttestationDelegate: delegate}))
	require.NoError(t, f.notifier.wait(t))
	require.NotNil(t, seen)
	assert.Equal(t, deviceID, seen.DeviceID)
	assert.NotNil(t, f.engine.Bridge())
}

func TestCommissionDelegateRejectsThenContinue(t *testing.T) {
	tests := []struct {
		name    string
		ignore  bool
		wantErr bool
	}{
		{"ignore failure", true, false},
		{"keep verdict", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, testdevice.Faults{}, true)
			delegate := attestation.DelegateFunc(func(*attestation.Evidence) attestation.Result {
				return attestation.ResultInvalidCertificate
			})

			require.NoError(t, f.engine.Commission(deviceID, commissioning.Parameters{AttestationDelegate: delegate}))
			pendingErr := waitPending(t, f)
			assert.ErrorIs(t, pendingErr, commissioning.ErrAttestationFailed)
			assert.Equal(t, commissioning.StageAttestationPending, f.engine.Stage(deviceID))
			assert.Equal(t, attestation.ResultInvalidCertificate, f.engine.Bridge().Verdict())

			require.NoError(t, f.engine.ContinueAfterAttestation(deviceID, tt.ignore))
			err := f.notifier.wait(t)
			if tt.wantErr {
				assert.ErrorIs(t, err, commissioning.ErrAttestationFailed)
				assert.Nil(t, f.dev.Fabric())
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, f.dev.Fabric())
			}

			// Not suspended any more.
			err = f.engine.ContinueAfterAttestation(deviceID, true)
			assert.Equal(t, failure.KindMisuse, failure.KindOf(err))
		})
	}
}

func TestCommissionFailSafeTimeout(t *testing.T) {
	f := newFixture(t, testdevice.Faults{}, true)
	require.NoError(t, f.engine.Commission(deviceID, commissioning.Parameters{
		FailSafeExpiry:      time.Second,
		AttestationDelegate: delegateNever{},
	}))
	err := f.notifier.wait(t)
	assert.Equal(t, failure.KindTimeout, failure.KindOf(err))
	assert.Nil(t, f.dev.Fabric())
}

// delegateNever never answers.
type delegateNever struct{}

func (delegateNever) OnDeviceAttestation(*attestation.Evidence, func(attestation.Result)) {}

// delegateHeld hands its responder to the test.
type delegateHeld struct{ respond chan func(attestation.Result) }

func (d delegateHeld) OnDeviceAttestation(_ *attestation.Evidence, respond func(attestation.Result)) {
	d.respond <- respond
}

func TestCommissionAttestationDelegateTimeout(t *testing.T) {
	f := newFixture(t, testdevice.Faults{}, true)
	require.NoError(t, f.engine.Commission(deviceID, commissioning.Parameters{
		FailSafeExpiry:      4 * time.Second,
		AttestationDelegate: delegateNever{},
	}))

	pendingErr := waitPending(t, f)
	assert.Equal(t, failure.KindTimeout, failure.KindOf(pendingErr))
	assert.ErrorIs(t, pendingErr, commissioning.ErrAttestationTimeout)
	assert.Equal(t, attestation.ResultTimeout, f.engine.Bridge().Verdict())
	assert.True(t, f.dev.FailSafeArmed(), "the verdict lands before the fail-safe expires")

	require.NoError(t, f.engine.ContinueAfterAttestation(deviceID, false))
	err := f.notifier.wait(t)
	assert.ErrorIs(t, err, commissioning.ErrAttestationTimeout)
	assert.Nil(t, f.dev.Fabric())
}

func TestCommissionTwoDevicesConcurrently(t *testing.T) {
	const otherID fabric.NodeID = 0x4343

	f := newFixture(t, testdevice.Faults{}, true)
	other, err := testdevice.New(testdevice.Config{
		PIN:           20202021,
		Discriminator: 251,
		Faults:        testdevice.Faults{Stall: map[wire.MessageType]bool{wire.MessageTypeAttestationRequest: true}},
	})
	require.NoError(t, err)
	t.Cleanup(other.Close)
	f.sessions.mu.Lock()
	f.sessions.channels[otherID] = other.Channel(otherID)
	f.sessions.mu.Unlock()

	held := delegateHeld{respond: make(chan func(attestation.Result), 1)}
	require.NoError(t, f.engine.Commission(deviceID, commissioning.Parameters{AttestationDelegate: held}))
	var respond func(attestation.Result)
	select {
	case respond = <-held.respond:
	case <-time.After(waitTimeout):
		t.Fatal("delegate was not consulted")
	}

	// The second device binds after the first and stays mid-flow while
	// the first one reaches issuance.
	require.NoError(t, f.engine.Commission(otherID, commissioning.Parameters{}))
	require.Eventually(t, func() bool { return f.engine.Stage(otherID) == commissioning.StageAttestation }, waitTimeout, 5*time.Millisecond)

	respond(attestation.ResultSuccess)
	require.NoError(t, f.notifier.wait(t))
	require.NotNil(t, f.dev.Fabric())
	node, err := cert.NodeIDOf(f.dev.Fabric().Chain.NOC)
	require.NoError(t, err)
	assert.Equal(t, deviceID, node)

	bound, ok := f.issuer.DeviceBeingCommissioned()
	require.True(t, ok)
	assert.Equal(t, otherID, bound)
	assert.True(t, f.engine.Cancel(otherID))
	assert.Error(t, f.notifier.wait(t))
}

func TestCommissionCSRNonceMismatch(t *testing.T) {
	f := newFixture(t, testdevice.Faults{WrongCSRNonce: true}, true)

	require.NoError(t, f.engine.Commission(deviceID, commissioning.Parameters{}))
	err := f.notifier.wait(t)
	assert.Equal(t, failure.KindProtocol, failure.KindOf(err))
	assert.ErrorIs(t, err, commissioning.ErrCSRNonce)
	assert.NotContains(t, f.dev.Received(), wire.MessageTypeAddTrustedRoot)
}

func TestCommissionWithoutIPK(t *testing.T) {
	f := newFixture(t, testdevice.Faults{}, false)

	require.NoError(t, f.engine.Commission(deviceID, commissioning.Parameters{}))
	err := f.notifier.wait(t)
	assert.Equal(t, failure.KindCrypto, failure.KindOf(err))
	assert.ErrorIs(t, err, commissioning.ErrNoIPK)
}

func TestCommissionDeviceRejectsNOC(t *testing.T) {
	f := newFixture(t, testdevice.Faults{Reject: map[wire.MessageType]wire.Status{wire.MessageTypeAddNOC: wire.StatusTableFull}}, true)

	require.NoError(t, f.engine.Commission(deviceID, commissioning.Parameters{}))
	err := f.notifier.wait(t)
	assert.Equal(t, failure.KindProtocol, failure.KindOf(err))
	assert.Equal(t, uint32(wire.StatusTableFull), failure.CodeOf(err))

	last := f.notifier.stages()
	require.NotEmpty(t, last)
	assert.Equal(t, "ADD_NOC", last[len(last)-1].stage)
	assert.Error(t, last[len(last)-1].err)
	assert.Nil(t, f.dev.Fabric())
}

func TestEngineClose(t *testing.T) {
	f := newFixture(t, testdevice.Faults{Stall: map[wire.MessageType]bool{wire.MessageTypeAttestationRequest: true}}, true)

	require.NoError(t, f.engine.Commission(deviceID, commissioning.Parameters{}))
	require.Eventually(t, func() bool { return f.engine.Stage(deviceID) == commissioning.StageAttestation }, waitTimeout, 5*time.Millisecond)

	f.engine.Close()
	err := f.notifier.wait(t)
	assert.Equal(t, failure.KindNotRunning, failure.KindOf(err))

	err = f.engine.Commission(deviceID, commissioning.Parameters{})
	assert.Equal(t, failure.KindNotRunning, failure.KindOf(err))
	err = f.engine.ContinueAfterAttestation(deviceID, true)
	assert.Equal(t, failure.KindNotRunning, failure.KindOf(err))
}

func TestNewEngineValidation(t *testing.T) {
	_, err := commissioning.NewEngine(commissioning.Config{})
	assert.Equal(t, failure.KindInvalidArgument, failure.KindOf(err))
}

func TestStageString(t *testing.T) {
	assert.Equal(t, "ATTESTATION_PENDING", commissioning.StageAttestationPending.String())
	assert.Equal(t, "UNKNOWN", commissioning.Stage(99).String())
}

func TestCommissionOverNetwork(t *testing.T) {
	dev, err := testdevice.New(testdevice.Config{PIN: 20202021, Discriminator: 250})
	require.NoError(t, err)
	t.Cleanup(dev.Close)
	srv, err := dev.Serve(testdevice.ServerConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sm, err := session.NewManager(session.DefaultConfig())
	require.NoError(t, err)
	ch, err := sm.EstablishPASE(ctx, deviceID, session.Target{Address: srv.Addr(), PIN: 20202021})
	require.NoError(t, err)
	defer ch.Close()

	f := newFixture(t, testdevice.Faults{}, true)
	sessions := &netSessions{ch: ch}
	engine, err := commissioning.NewEngine(commissioning.Config{
		Issuer:      f.issuer,
		Sessions:    sessions,
		Notifier:    f.notifier,
		FabricID:    fabricID,
		FabricIndex: fabricIndex,
	})
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	require.NoError(t, engine.Commission(deviceID, commissioning.Parameters{}))
	require.NoError(t, f.notifier.wait(t))
	require.NotNil(t, dev.Fabric())
	require.Eventually(t, func() bool { return srv.OperationalAddr() != "" }, 2*time.Second, 10*time.Millisecond)
}

type netSessions struct{ ch session.Channel }

func (s *netSessions) Session(fabric.NodeID) (session.Channel, error) { return s.ch, nil }
func (s *netSessions) Release(fabric.NodeID)                          {}
