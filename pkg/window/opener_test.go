package window_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mash-protocol/mash-commissioner/internal/testdevice"
	"github.com/mash-protocol/mash-commissioner/pkg/fabric"
	"github.com/mash-protocol/mash-commissioner/pkg/failure"
	"github.com/mash-protocol/mash-commissioner/pkg/pase"
	"github.com/mash-protocol/mash-commissioner/pkg/session"
	sessionmocks "github.com/mash-protocol/mash-commissioner/pkg/session/mocks"
	"github.com/mash-protocol/mash-commissioner/pkg/setupcode"
	"github.com/mash-protocol/mash-commissioner/pkg/window"
	"github.com/mash-protocol/mash-commissioner/pkg/window/mocks"
	"github.com/mash-protocol/mash-commissioner/pkg/wire"
)

const device fabric.NodeID = 0x77

func newOpener(t *testing.T, c window.Connector, v window.VerifierComputer) *window.Opener {
	t.Helper()
	o, err := window.NewOpener(window.Config{Connector: c, Verifier: v})
	require.NoError(t, err)
	return o
}

func TestOpenEnhancedRejectsDurationWithoutContactingDevice(t *testing.T) {
	// No expectations: any call fails the test.
	conn := mocks.NewMockConnector(t)
	verifier := mocks.NewMockVerifierComputer(t)
	o := newOpener(t, conn, verifier)

	_, err := o.OpenEnhanced(context.Background(), device, 70000*time.Second, 0, 250, 20202021)
	assert.Equal(t, failure.KindInvalidArgument, failure.KindOf(err))
	assert.ErrorIs(t, err, window.ErrInvalidDuration)
}

func TestOpenEnhancedValidation(t *testing.T) {
	tests := []struct {
		name          string
		duration      time.Duration
		iterations    uint32
		discriminator uint16
		wantErr       error
	}{
		{"zero duration", 0, 0, 250, window.ErrInvalidDuration},
		{"sub-second duration", 500 * time.Millisecond, 0, 250, window.ErrInvalidDuration},
		{"discriminator too large", 180 * time.Second, 0, 4096, setupcode.ErrInvalidDiscriminator},
		{"too few iterations", 180 * time.Second, 999, 250, window.ErrInvalidIterations},
		{"too many iterations", 180 * time.Second, 100001, 250, window.ErrInvalidIterations},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newOpener(t, mocks.NewMockConnector(t), mocks.NewMockVerifierComputer(t))
			_, err := o.OpenEnhanced(context.Background(), device, tt.duration, tt.iterations, tt.discriminator, 1)
			assert.Equal(t, failure.KindInvalidArgument, failure.KindOf(err))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestOpenEnhanced(t *testing.T) {
	ch := sessionmocks.NewMockChannel(t)
	conn := mocks.NewMockConnector(t)
	verifier := mocks.NewMockVerifierComputer(t)

	var sent *wire.OpenCommissioningWindow
	verifier.EXPECT().ComputePAKEVerifier(uint32(20202021), mock.Anything, uint32(window.DefaultIterations)).Return([]byte("verifier"), nil)
	conn.EXPECT().Connect(mock.Anything, device).Return(ch, nil)
	ch.EXPECT().Invoke(mock.Anything, wire.MessageTypeOpenCommissioningWindow, mock.Anything, nil).
		Run(func(_ context.Context, _ wire.MessageType, in, _ interface{}) {
			sent = in.(*wire.OpenCommissioningWindow)
		}).Return(nil)
	ch.EXPECT().Close().Return(nil)

	o := newOpener(t, conn, verifier)
	inv, err := o.OpenEnhanced(context.Background(), device, 180*time.Second, 0, 250, 20202021)
	require.NoError(t, err)

	assert.Len(t, inv.ManualCode, setupcode.ManualCodeLength)
	decoded, err := setupcode.Decode(inv.ManualCode)
	require.NoError(t, err)
	assert.Equal(t, uint16(250), decoded.Discriminator)
	assert.Equal(t, uint32(20202021), decoded.PIN)
	assert.Len(t, inv.Salt, window.SaltSize)

	require.NotNil(t, sent)
	assert.Equal(t, uint16(180), sent.TimeoutSeconds)
	assert.Equal(t, []byte("verifier"), sent.Verifier)
	assert.Equal(t, inv.Salt, sent.Salt)
	assert.Equal(t, uint16(250), sent.Discriminator)
}

func TestOpenEnhancedMasksPIN(t *testing.T) {
	ch := sessionmocks.NewMockChannel(t)
	conn := mocks.NewMockConnector(t)
	verifier := mocks.NewMockVerifierComputer(t)

	masked := uint32(1<<27|12345) & setupcode.PINMax
	verifier.EXPECT().ComputePAKEVerifier(masked, mock.Anything, mock.Anything).Return([]byte("v"), nil)
	conn.EXPECT().Connect(mock.Anything, device).Return(ch, nil)
	ch.EXPECT().Invoke(mock.Anything, wire.MessageTypeOpenCommissioningWindow, mock.Anything, nil).Return(nil)
	ch.EXPECT().Close().Return(nil)

	inv, err := newOpener(t, conn, verifier).OpenEnhanced(context.Background(), device, time.Minute, 2000, 1, 1<<27|12345)
	require.NoError(t, err)
	assert.Equal(t, uint32(12345), inv.PIN)
	assert.Equal(t, uint32(2000), inv.Iterations)
}

func TestOpenEnhancedGeneratesPIN(t *testing.T) {
	ch := sessionmocks.NewMockChannel(t)
	conn := mocks.NewMockConnector(t)
	verifier := mocks.NewMockVerifierComputer(t)

	verifier.EXPECT().ComputePAKEVerifier(mock.Anything, mock.Anything, mock.Anything).Return([]byte("v"), nil)
	conn.EXPECT().Connect(mock.Anything, device).Return(ch, nil)
	ch.EXPECT().Invoke(mock.Anything, mock.Anything, mock.Anything, nil).Return(nil)
	ch.EXPECT().Close().Return(nil)

	// 1<<27 masks to zero.
	inv, err := newOpener(t, conn, verifier).OpenEnhanced(context.Background(), device, time.Minute, 0, 1, 1<<27)
	require.NoError(t, err)
	assert.NotZero(t, inv.PIN)
	assert.LessOrEqual(t, inv.PIN, uint32(setupcode.PINMax))
}

func TestOpenEnhancedDeviceRejects(t *testing.T) {
	ch := sessionmocks.NewMockChannel(t)
	conn := mocks.NewMockConnector(t)
	verifier := mocks.NewMockVerifierComputer(t)

	verifier.EXPECT().ComputePAKEVerifier(mock.Anything, mock.Anything, mock.Anything).Return([]byte("v"), nil)
	conn.EXPECT().Connect(mock.Anything, device).Return(ch, nil)
	ch.EXPECT().Invoke(mock.Anything, mock.Anything, mock.Anything, nil).Return(&wire.StatusError{Status: wire.StatusBusy})
	ch.EXPECT().Close().Return(nil)

	_, err := newOpener(t, conn, verifier).OpenEnhanced(context.Background(), device, time.Minute, 0, 1, 1)
	assert.Equal(t, failure.KindProtocol, failure.KindOf(err))
	assert.Equal(t, uint32(wire.StatusBusy), failure.CodeOf(err))
}

func TestOpenBasic(t *testing.T) {
	ch := sessionmocks.NewMockChannel(t)
	conn := mocks.NewMockConnector(t)

	conn.EXPECT().Connect(mock.Anything, device).Return(ch, nil)
	ch.EXPECT().Invoke(mock.Anything, wire.MessageTypeOpenBasicCommissioningWindow, &wire.OpenBasicCommissioningWindow{TimeoutSeconds: 65535}, nil).Return(nil)
	ch.EXPECT().Close().Return(nil)

	o := newOpener(t, conn, mocks.NewMockVerifierComputer(t))
	require.NoError(t, o.OpenBasic(context.Background(), device, window.MaxDuration))

	err := o.OpenBasic(context.Background(), device, window.MaxDuration+time.Second)
	assert.Equal(t, failure.KindInvalidArgument, failure.KindOf(err))
}

func TestOpenBasicConnectFailure(t *testing.T) {
	conn := mocks.NewMockConnector(t)
	conn.EXPECT().Connect(mock.Anything, device).Return(nil, errors.New("unreachable"))

	err := newOpener(t, conn, mocks.NewMockVerifierComputer(t)).OpenBasic(context.Background(), device, time.Minute)
	assert.Equal(t, failure.KindProtocol, failure.KindOf(err))
}

func TestNewOpenerRequiresCollaborators(t *testing.T) {
	_, err := window.NewOpener(window.Config{})
	assert.Equal(t, failure.KindInvalidArgument, failure.KindOf(err))
}

type deviceConnector struct{ dev *testdevice.Device }

func (c deviceConnector) Connect(_ context.Context, id fabric.NodeID) (session.Channel, error) {
	return c.dev.OperationalChannel(id), nil
}

func TestOpenEnhancedOnDevice(t *testing.T) {
	dev, err := testdevice.New(testdevice.Config{PIN: 20202021, Discriminator: 3840})
	require.NoError(t, err)
	t.Cleanup(dev.Close)

	sessions, err := session.NewManager(session.DefaultConfig())
	require.NoError(t, err)

	inv, err := newOpener(t, deviceConnector{dev}, sessions).OpenEnhanced(context.Background(), device, 180*time.Second, 0, 250, 0)
	require.NoError(t, err)

	assert.Equal(t, testdevice.TriggerEnhanced, dev.Window().Trigger())
	creds, err := dev.Window().Credentials()
	require.NoError(t, err)
	assert.Equal(t, uint16(250), creds.Discriminator)

	want, err := pase.ComputeVerifier(inv.PIN, inv.Salt, inv.Iterations)
	require.NoError(t, err)
	assert.Equal(t, want, creds.Verifier)
	assert.Greater(t, dev.Window().RemainingTime(), 170*time.Second)
}
