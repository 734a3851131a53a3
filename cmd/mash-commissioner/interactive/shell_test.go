package interactive

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mash-protocol/mash-commissioner/pkg/cert"
	"github.com/mash-protocol/mash-commissioner/pkg/commissioning"
	"github.com/mash-protocol/mash-commissioner/pkg/discovery"
	"github.com/mash-protocol/mash-commissioner/pkg/fabric"
	"github.com/mash-protocol/mash-commissioner/pkg/persistence"
	"github.com/mash-protocol/mash-commissioner/pkg/window"
)

type pairCall struct {
	id   fabric.NodeID
	disc uint16
	pin  uint32
}

type fakeController struct {
	Controller

	paired    []pairCall
	params    commissioning.Parameters
	continued map[fabric.NodeID]bool
	devices   []persistence.DeviceRecord
	window    time.Duration
	err       error
}

func (f *fakeController) PairDevice(_ context.Context, id fabric.NodeID, disc uint16, pin uint32) error {
	f.paired = append(f.paired, pairCall{id, disc, pin})
	return f.err
}

func (f *fakeController) CommissionDevice(_ context.Context, _ fabric.NodeID, p commissioning.Parameters) error {
	f.params = p
	return f.err
}

func (f *fakeController) ContinueCommissioningDevice(_ context.Context, id fabric.NodeID, ignore bool) error {
	if f.continued == nil {
		f.continued = make(map[fabric.NodeID]bool)
	}
	f.continued[id] = ignore
	return f.err
}

func (f *fakeController) Devices(context.Context) ([]persistence.DeviceRecord, error) {
	return f.devices, f.err
}

func (f *fakeController) OpenPairingWindow(_ context.Context, _ fabric.NodeID, d time.Duration) error {
	f.window = d
	return f.err
}

func (f *fakeController) OpenPairingWindowWithPIN(_ context.Context, _ fabric.NodeID, d time.Duration, _ uint32, disc uint16, pin uint32) (*window.Invitation, error) {
	return &window.Invitation{Discriminator: disc, PIN: pin, Duration: d, ManualCode: "5154162775417"}, f.err
}

func (f *fakeController) OperationalChain() (*cert.Chain, error) {
	root, err := cert.NewRootAuthority(1, 1, cert.RootValidity)
	if err != nil {
		return nil, err
	}
	kp, err := cert.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	noc, err := cert.IssueNOC(root, kp.PublicKey, 0x2A, 1, cert.OperationalCertValidity)
	if err != nil {
		return nil, err
	}
	return &cert.Chain{NOC: noc, RCAC: root.Certificate}, f.err
}

type fakeBrowser struct {
	found []*discovery.CommissionableService
}

func (b fakeBrowser) BrowseCommissionable(context.Context) <-chan *discovery.CommissionableService {
	ch := make(chan *discovery.CommissionableService, len(b.found))
	for _, s := range b.found {
		ch <- s
	}
	close(ch)
	return ch
}

func run(s *Shell, cmd string, args ...string) {
	s.Execute(context.Background(), cmd, args)
}

func TestParseNodeID(t *testing.T) {
	id, err := ParseNodeID("0x2A")
	require.NoError(t, err)
	assert.Equal(t, fabric.NodeID(42), id)

	id, err = ParseNodeID("42")
	require.NoError(t, err)
	assert.Equal(t, fabric.NodeID(42), id)

	_, err = ParseNodeID("node")
	assert.Error(t, err)
}

func TestParseNetwork(t *testing.T) {
	p, err := ParseNetwork(nil)
	require.NoError(t, err)
	assert.Nil(t, p.WiFi)
	assert.Nil(t, p.ThreadDataset)

	p, err = ParseNetwork([]string{"wifi", "home", "secret"})
	require.NoError(t, err)
	require.NotNil(t, p.WiFi)
	assert.Equal(t, []byte("home"), p.WiFi.SSID)
	assert.Equal(t, []byte("secret"), p.WiFi.Passphrase)

	p, err = ParseNetwork([]string{"thread", "0e08"})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x0e, 0x08}, p.ThreadDataset)

	_, err = ParseNetwork([]string{"thread", "xyz"})
	assert.Error(t, err)

	_, err = ParseNetwork([]string{"ethernet"})
	assert.ErrorIs(t, err, errUsage)
}

func TestExecutePair(t *testing.T) {
	var out bytes.Buffer
	ctrl := &fakeController{}
	s := newShell(ctrl, nil, &out)

	run(s, "pair", "0x10", "3840", "20202021")
	assert.Equal(t, []pairCall{{0x10, 3840, 20202021}}, ctrl.paired)

	run(s, "pair", "0x10")
	assert.Contains(t, out.String(), "Usage: pair <node-id>")
	assert.Len(t, ctrl.paired, 1)

	ctrl.err = errors.New("pairing already in progress")
	run(s, "pair", "0x11", "3840", "20202021")
	assert.Contains(t, out.String(), "Error: pairing already in progress")
}

func TestExecuteCommissionVerifiesAttestation(t *testing.T) {
	var out bytes.Buffer
	ctrl := &fakeController{}
	s := newShell(ctrl, nil, &out)

	run(s, "commission", "7", "wifi", "home", "secret")
	assert.NotNil(t, ctrl.params.AttestationDelegate)
	require.NotNil(t, ctrl.params.WiFi)
	assert.Equal(t, []byte("home"), ctrl.params.WiFi.SSID)
	assert.Empty(t, out.String())
}

func TestExecuteContinue(t *testing.T) {
	var out bytes.Buffer
	ctrl := &fakeController{}
	s := newShell(ctrl, nil, &out)

	run(s, "continue", "1", "accept")
	run(s, "continue", "2", "reject")
	run(s, "continue", "3", "maybe")

	assert.Equal(t, map[fabric.NodeID]bool{1: true, 2: false}, ctrl.continued)
	assert.Contains(t, out.String(), "Usage: continue")
}

func TestExecuteWindows(t *testing.T) {
	var out bytes.Buffer
	ctrl := &fakeController{}
	s := newShell(ctrl, nil, &out)

	run(s, "window", "5", "180")
	assert.Equal(t, 180*time.Second, ctrl.window)

	run(s, "window-pin", "5", "300", "250", "12345678")
	assert.Contains(t, out.String(), "Manual code:   5154162775417")
	assert.Contains(t, out.String(), "PIN:           12345678")
}

func TestExecuteDevices(t *testing.T) {
	var out bytes.Buffer
	ctrl := &fakeController{}
	s := newShell(ctrl, nil, &out)

	run(s, "devices")
	assert.Contains(t, out.String(), "No devices commissioned")

	ctrl.devices = []persistence.DeviceRecord{{NodeID: 0x2A, Address: "192.0.2.1:8443"}, {NodeID: 0x2B}}
	out.Reset()
	run(s, "devices")
	assert.Contains(t, out.String(), "Commissioned Devices (2)")
	assert.Contains(t, out.String(), "192.0.2.1:8443")
	assert.Contains(t, out.String(), "(unresolved)")
}

func TestExecuteDiscover(t *testing.T) {
	var out bytes.Buffer
	s := newShell(&fakeController{}, nil, &out)
	run(s, "discover")
	assert.Contains(t, out.String(), "mDNS discovery is disabled")

	out.Reset()
	svc := &discovery.CommissionableService{InstanceName: "evse-1", Host: "evse.local", Port: 5540}
	svc.Discriminator = 3840
	s = newShell(&fakeController{}, fakeBrowser{found: []*discovery.CommissionableService{svc}}, &out)
	run(s, "discover")
	assert.Contains(t, out.String(), "evse-1 (discriminator: 3840")
}

func TestExecuteCert(t *testing.T) {
	var out bytes.Buffer
	s := newShell(&fakeController{}, nil, &out)
	run(s, "cert")

	assert.Contains(t, out.String(), "Expires: ")
	assert.Equal(t, 2, strings.Count(out.String(), "BEGIN CERTIFICATE"))
	_, pemStart, ok := strings.Cut(out.String(), "\n")
	require.True(t, ok)
	chain, err := cert.DecodeChainPEM([]byte(pemStart))
	require.NoError(t, err)
	id, err := cert.NodeIDOf(chain.NOC)
	require.NoError(t, err)
	assert.Equal(t, fabric.NodeID(0x2A), id)
}

func TestExecuteUnknown(t *testing.T) {
	var out bytes.Buffer
	s := newShell(&fakeController{}, nil, &out)
	run(s, "frobnicate")
	assert.Contains(t, out.String(), "Unknown command: frobnicate")
}

func TestDelegateOutput(t *testing.T) {
	var out bytes.Buffer
	s := newShell(&fakeController{}, nil, &out)

	s.OnCommissioningStatusUpdate(0x2A, commissioning.StageAttestationPending.String(), errors.New("invalid signature"))
	s.OnCommissioningComplete(0x2A, nil)

	assert.Contains(t, out.String(), "continue 000000000000002A accept|reject")
	assert.Contains(t, out.String(), "000000000000002A commissioned")
}
