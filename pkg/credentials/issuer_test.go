package credentials

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mash-protocol/mash-commissioner/pkg/cert"
	"github.com/mash-protocol/mash-commissioner/pkg/fabric"
	"github.com/mash-protocol/mash-commissioner/pkg/failure"
)

func newTestIssuer(t *testing.T, intermediate bool) *Issuer {
	t.Helper()
	root, err := cert.NewRootAuthority(1, 0x10, cert.RootValidity)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Root = root
	cfg.Intermediate = intermediate
	iss, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = iss.Close() })
	return iss
}

func TestNewRequiresRoot(t *testing.T) {
	_, err := New(DefaultConfig())
	assert.ErrorIs(t, err, failure.ErrInvalidArgument)
}

func TestGenerateChain(t *testing.T) {
	for _, intermediate := range []bool{false, true} {
		iss := newTestIssuer(t, intermediate)
		kp, err := iss.DeriveEphemeralOperationalKeypair()
		require.NoError(t, err)

		chain, err := iss.GenerateOperationalCertificateChain(0x55, 0x10, kp.PublicKey)
		require.NoError(t, err)
		assert.Equal(t, intermediate, chain.ICAC != nil)
		require.NoError(t, cert.VerifyChain(chain, time.Now()))

		node, err := cert.NodeIDOf(chain.NOC)
		require.NoError(t, err)
		assert.Equal(t, fabric.NodeID(0x55), node)
	}
}

func TestGenerateChainReusesIntermediate(t *testing.T) {
	iss := newTestIssuer(t, true)
	kp, _ := cert.GenerateKeyPair()

	a, err := iss.GenerateOperationalCertificateChain(1, 0x10, kp.PublicKey)
	require.NoError(t, err)
	b, err := iss.GenerateOperationalCertificateChain(2, 0x10, kp.PublicKey)
	require.NoError(t, err)
	assert.True(t, a.ICAC.Equal(b.ICAC))
}

func TestGenerateChainRejectsNonOperationalNode(t *testing.T) {
	iss := newTestIssuer(t, false)
	kp, _ := cert.GenerateKeyPair()
	_, err := iss.GenerateOperationalCertificateChain(0, 0x10, kp.PublicKey)
	assert.ErrorIs(t, err, failure.ErrInvalidArgument)
}

func TestGenerateChainCryptoFailure(t *testing.T) {
	iss := newTestIssuer(t, false)
	_, err := iss.GenerateOperationalCertificateChain(1, 0x10, nil)
	assert.ErrorIs(t, err, failure.ErrCrypto)
}

func TestGenerateChainSingleFlight(t *testing.T) {
	iss := newTestIssuer(t, false)
	kp, _ := cert.GenerateKeyPair()

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	iss.beforeSign = func() {
		once.Do(func() {
			close(entered)
			<-release
		})
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := iss.GenerateOperationalCertificateChain(1, 0x10, kp.PublicKey)
		errCh <- err
	}()
	<-entered

	_, err := iss.GenerateOperationalCertificateChain(2, 0x10, kp.PublicKey)
	assert.ErrorIs(t, err, failure.ErrMisuse)
	assert.ErrorIs(t, err, ErrIssuing)

	close(release)
	require.NoError(t, <-errCh)
}

func TestDeviceBinding(t *testing.T) {
	iss := newTestIssuer(t, false)
	kp, _ := cert.GenerateKeyPair()

	_, bound := iss.DeviceBeingCommissioned()
	assert.False(t, bound)

	iss.SetDeviceBeingCommissioned(7)
	id, bound := iss.DeviceBeingCommissioned()
	assert.True(t, bound)
	assert.Equal(t, fabric.NodeID(7), id)

	_, err := iss.GenerateOperationalCertificateChain(8, 0x10, kp.PublicKey)
	assert.ErrorIs(t, err, ErrDeviceBinding)

	_, err = iss.GenerateOperationalCertificateChain(7, 0x10, kp.PublicKey)
	assert.NoError(t, err)

	iss.ClearDeviceBinding(8)
	_, bound = iss.DeviceBeingCommissioned()
	assert.True(t, bound, "clearing another device must not unbind")

	iss.ClearDeviceBinding(7)
	_, bound = iss.DeviceBeingCommissioned()
	assert.False(t, bound)
}

func TestDeviceBindingSeveralDevices(t *testing.T) {
	iss := newTestIssuer(t, false)
	kp, _ := cert.GenerateKeyPair()

	iss.SetDeviceBeingCommissioned(7)
	iss.SetDeviceBeingCommissioned(9)
	iss.SetDeviceBeingCommissioned(7)

	id, bound := iss.DeviceBeingCommissioned()
	require.True(t, bound)
	assert.Equal(t, fabric.NodeID(9), id)

	_, err := iss.GenerateOperationalCertificateChain(7, 0x10, kp.PublicKey)
	assert.NoError(t, err, "an earlier binding survives a later one")
	_, err = iss.GenerateOperationalCertificateChain(9, 0x10, kp.PublicKey)
	assert.NoError(t, err)
	_, err = iss.GenerateOperationalCertificateChain(8, 0x10, kp.PublicKey)
	assert.ErrorIs(t, err, ErrDeviceBinding)

	iss.ClearDeviceBinding(9)
	id, bound = iss.DeviceBeingCommissioned()
	require.True(t, bound)
	assert.Equal(t, fabric.NodeID(7), id)
	_, err = iss.GenerateOperationalCertificateChain(9, 0x10, kp.PublicKey)
	assert.ErrorIs(t, err, ErrDeviceBinding)
}

func TestSetFabricGroupKey(t *testing.T) {
	iss := newTestIssuer(t, false)
	ipk := bytes.Repeat([]byte{0x4A}, fabric.IPKSize)
	cfid := fabric.CompressedFabricID{1, 2, 3, 4, 5, 6, 7, 8}

	require.NoError(t, iss.SetFabricGroupKey(1, ipk, cfid))

	key, ok := iss.GroupKey(1)
	require.True(t, ok)
	want, err := fabric.DeriveOperationalGroupKey(ipk, cfid)
	require.NoError(t, err)
	assert.Equal(t, want, key)

	got, ok := iss.IPK(1)
	require.True(t, ok)
	assert.Equal(t, ipk, got)

	err = iss.SetFabricGroupKey(1, ipk, cfid)
	assert.ErrorIs(t, err, failure.ErrMisuse)

	err = iss.SetFabricGroupKey(2, ipk[:8], cfid)
	assert.ErrorIs(t, err, failure.ErrInvalidArgument)

	err = iss.SetFabricGroupKey(0, ipk, cfid)
	assert.ErrorIs(t, err, failure.ErrInvalidArgument)
}

func TestClose(t *testing.T) {
	iss := newTestIssuer(t, false)
	ipk := make([]byte, fabric.IPKSize)
	require.NoError(t, iss.SetFabricGroupKey(1, ipk, fabric.CompressedFabricID{}))
	iss.SetDeviceBeingCommissioned(3)

	require.NoError(t, iss.Close())
	require.NoError(t, iss.Close())

	_, ok := iss.GroupKey(1)
	assert.False(t, ok)
	_, bound := iss.DeviceBeingCommissioned()
	assert.False(t, bound)

	kp, _ := cert.GenerateKeyPair()
	_, err := iss.GenerateOperationalCertificateChain(3, 0x10, kp.PublicKey)
	assert.ErrorIs(t, err, failure.ErrNotRunning)

	err = iss.SetFabricGroupKey(2, ipk, fabric.CompressedFabricID{})
	assert.ErrorIs(t, err, failure.ErrNotRunning)
}
