package session

import (
	"context"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mash-protocol/mash-commissioner/pkg/discovery"
	"github.com/mash-protocol/mash-commissioner/pkg/fabric"
	"github.com/mash-protocol/mash-commissioner/pkg/failure"
	"github.com/mash-protocol/mash-commissioner/pkg/pase"
	"github.com/mash-protocol/mash-commissioner/pkg/transport"
	"github.com/mash-protocol/mash-commissioner/pkg/wire"
)

const testPIN = 20202021

var testSalt = []byte("0123456789abcdef")

// startResponder accepts one connection, runs PASE and answers every
// following command with a success StatusReport.
func startResponder(t *testing.T, pin uint32) *transport.Listener {
	t.Helper()

	certificate, err := transport.SelfSignedCertificate()
	require.NoError(t, err)
	tlsConf, err := transport.NewCommissioningServerTLSConfig(certificate)
	require.NoError(t, err)
	ln, err := transport.Listen("127.0.0.1:0", tlsConf, transport.ConnOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	r, err := pase.NewResponderFromPIN(pin, testSalt, pase.DefaultIterations)
	require.NoError(t, err)

	go func() {
		ctx := context.Background()
		conn, err := ln.Accept(ctx)
		if err != nil {
			return
		}
		defer conn.Close()
		if _, err := r.Respond(ctx, conn); err != nil {
			return
		}
		for {
			env, err := conn.Receive(ctx)
			if err != nil {
				return
			}
			_ = conn.Send(wire.MessageTypeStatusReport, wire.StatusReport{Status: wire.StatusSuccess, Message: env.Type.String()})
		}
	}()
	return ln
}

func testManager(t *testing.T, mutate func(*Config)) *Manager {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DialTimeout = 2 * time.Second
	cfg.HandshakeTimeout = 5 * time.Second
	cfg.Backoff = BackoffConfig{Initial: time.Millisecond, Jitter: 0}
	if mutate != nil {
		mutate(&cfg)
	}
	m, err := NewManager(cfg)
	require.NoError(t, err)
	return m
}

func TestEstablishPASE(t *testing.T) {
	ln := startResponder(t, testPIN)
	m := testManager(t, nil)

	ch, err := m.EstablishPASE(context.Background(), 0x11, Target{Address: ln.Addr().String(), PIN: testPIN})
	require.NoError(t, err)
	defer ch.Close()

	assert.Equal(t, fabric.NodeID(0x11), ch.DeviceID())
	assert.Len(t, ch.AttestationChallenge(), pase.AttestationChallengeSize)
	assert.Equal(t, KindPASE, ch.(*Session).Kind())

	err = ch.Invoke(context.Background(), wire.MessageTypeArmFailSafe, wire.ArmFailSafe{ExpirySeconds: 60}, nil)
	assert.NoError(t, err)
}

func TestEstablishPASEWrongPIN(t *testing.T) {
	ln := startResponder(t, testPIN)
	m := testManager(t, nil)

	_, err := m.EstablishPASE(context.Background(), 0x11, Target{Address: ln.Addr().String(), PIN: 11111111})
	require.Error(t, err)
	assert.Equal(t, failure.KindProtocol, failure.KindOf(err))
	assert.ErrorIs(t, err, pase.ErrConfirmationFailed)
}

func TestEstablishPASEInvalidTarget(t *testing.T) {
	m := testManager(t, nil)

	_, err := m.EstablishPASE(context.Background(), 1, Target{Address: "127.0.0.1:1", PIN: 0})
	assert.ErrorIs(t, err, failure.ErrInvalidArgument)

	_, err = m.EstablishPASE(context.Background(), 1, Target{Discriminator: 4096, PIN: 1})
	assert.ErrorIs(t, err, failure.ErrInvalidArgument)

	_, err = m.EstablishPASE(context.Background(), 1, Target{Discriminator: 10, PIN: 1})
	assert.ErrorIs(t, err, ErrNoResolver)
}

type stubResolver struct {
	commissionable *discovery.CommissionableService
	operational    *discovery.OperationalService
	err            error
	discriminator  uint16
}

func (r *stubResolver) FindCommissionable(_ context.Context, d uint16) (*discovery.CommissionableService, error) {
	r.discriminator = d
	return r.commissionable, r.err
}

func (r *stubResolver) ResolveOperational(context.Context, fabric.CompressedFabricID, fabric.NodeID) (*discovery.OperationalService, error) {
	return r.operational, r.err
}

func TestEstablishPASEResolvesDiscriminator(t *testing.T) {
	ln := startResponder(t, testPIN)
	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, _ := strconv.Atoi(portStr)

	resolver := &stubResolver{commissionable: &discovery.CommissionableService{
		Addresses: []string{host},
		Port:      uint16(port),
	}}
	m := testManager(t, func(c *Config) { c.Resolver = resolver })

	ch, err := m.EstablishPASE(context.Background(), 0x22, Target{Discriminator: 3840, PIN: testPIN})
	require.NoError(t, err)
	ch.Close()
	assert.Equal(t, uint16(3840), resolver.discriminator)
}

func TestEstablishPASEResolveFailure(t *testing.T) {
	resolver := &stubResolver{err: context.DeadlineExceeded}
	m := testManager(t, func(c *Config) { c.Resolver = resolver })

	_, err := m.EstablishPASE(context.Background(), 0x22, Target{Discriminator: 1, PIN: testPIN})
	assert.ErrorIs(t, err, failure.ErrTimeout)
}

func TestDialRetriesThenFails(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	l.Close()

	m := testManager(t, func(c *Config) { c.Attempts = 2 })
	_, err = m.EstablishPASE(context.Background(), 1, Target{Address: addr, PIN: testPIN})
	require.Error(t, err)
	assert.Equal(t, failure.KindProtocol, failure.KindOf(err))
}

func TestResolveOperational(t *testing.T) {
	m := testManager(t, nil)
	_, err := m.ResolveOperational(context.Background(), fabric.CompressedFabricID{}, 1)
	assert.ErrorIs(t, err, ErrNoResolver)

	resolver := &stubResolver{operational: &discovery.OperationalService{Addresses: []string{"10.0.0.5"}, Port: 5540}}
	m = testManager(t, func(c *Config) { c.Resolver = resolver })
	addr, err := m.ResolveOperational(context.Background(), fabric.CompressedFabricID{}, 1)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5:5540", addr)
}

func TestComputePAKEVerifier(t *testing.T) {
	m := testManager(t, nil)

	v, err := m.ComputePAKEVerifier(testPIN, testSalt, pase.DefaultIterations)
	require.NoError(t, err)
	assert.Len(t, v, pase.VerifierSize)

	_, err = m.ComputePAKEVerifier(0, testSalt, pase.DefaultIterations)
	assert.ErrorIs(t, err, failure.ErrInvalidArgument)
}

func TestConnectOperationalRejectsInvalidDevice(t *testing.T) {
	m := testManager(t, nil)
	_, err := m.ConnectOperational(context.Background(), 0, "127.0.0.1:1", transport.OperationalTLSConfig{})
	assert.ErrorIs(t, err, failure.ErrInvalidArgument)

	_, err = m.ConnectOperational(context.Background(), 5, "127.0.0.1:1", transport.OperationalTLSConfig{})
	assert.ErrorIs(t, err, failure.ErrInvalidArgument)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Attempts = 0
	_, err := NewManager(cfg)
	assert.ErrorIs(t, err, failure.ErrInvalidArgument)
}

func TestBackoffSequence(t *testing.T) {
	b := NewBackoff(BackoffConfig{Initial: 100 * time.Millisecond, Max: 350 * time.Millisecond})
	b.cfg.Jitter = 0

	want := []time.Duration{100, 200, 350, 350}
	for i, w := range want {
		assert.Equal(t, w*time.Millisecond, b.Next(), "step %d", i)
	}
	assert.Equal(t, 4, b.Attempts())

	b.Reset()
	assert.Equal(t, 0, b.Attempts())
	assert.Equal(t, 100*time.Millisecond, b.Next())
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	sentinel := errors.New("stop")
	calls := 0
	err := retry(context.Background(), 5, NewBackoff(BackoffConfig{Initial: time.Millisecond}), func() error {
		calls++
		return permanent(sentinel)
	})
	assert.Same(t, sentinel, err)
	assert.Equal(t, 1, calls)

	calls = 0
	err = retry(context.Background(), 3, NewBackoff(BackoffConfig{Initial: time.Millisecond}), func() error {
		calls++
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 3, calls)
}
