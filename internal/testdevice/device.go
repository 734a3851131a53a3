// Package testdevice is a simulated commissionee for tests and local
// experiments: it answers PASE from its commissioning window, produces
// attestation evidence from a generated DAC and installs the credentials
// a commissioner sends it.
package testdevice

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/x509"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mash-protocol/mash-commissioner/pkg/attestation"
	"github.com/mash-protocol/mash-commissioner/pkg/cert"
	"github.com/mash-protocol/mash-commissioner/pkg/fabric"
	"github.com/mash-protocol/mash-commissioner/pkg/failsafe"
	"github.com/mash-protocol/mash-commissioner/pkg/pase"
	"github.com/mash-protocol/mash-commissioner/pkg/wire"
)

// Config configures a Device.
type Config struct {
	PIN           uint32
	Discriminator uint16
	VendorID      fabric.VendorID
	ProductID     uint16

	// Iterations is the PBKDF2 count of the onboarding verifier.
	Iterations uint32

	Faults Faults
	Logger *slog.Logger
}

// Faults make the device misbehave.
type Faults struct {
	// WrongAttestationNonce echoes a different attestation nonce.
	WrongAttestationNonce bool

	// WrongCSRNonce echoes a different CSR nonce.
	WrongCSRNonce bool

	// Reject answers a command with the given status.
	Reject map[wire.MessageType]wire.Status

	// Stall makes a command never answer.
	Stall map[wire.MessageType]bool
}

// Fabric is the operational state installed by a commissioner.
type Fabric struct {
	Index        uint8
	Chain        cert.Chain
	Key          *ecdsa.PrivateKey
	IPK          []byte
	AdminVendor  fabric.VendorID
	AdminSubject fabric.NodeID
}

// pending holds credentials installed under an armed fail-safe.
type pending struct {
	opKey   *cert.KeyPair
	root    *x509.Certificate
	fabric  *Fabric
	network *wire.NetworkConfig
}

// Device is a simulated commissionee.
type Device struct {
	cfg    Config
	logger *slog.Logger

	pai    *cert.Authority
	dacKey *cert.KeyPair
	dac    *x509.Certificate
	salt   []byte

	window   *Window
	failSafe *failsafe.Timer

	mu       sync.Mutex
	pending  pending
	fabric   *Fabric
	network  *wire.NetworkConfig
	received []wire.MessageType

	onCommissioned func(*Fabric)
}

// New creates a device with a fresh DAC and opens its onboarding window.
func New(cfg Config) (*Device, error) {
	if cfg.VendorID == 0 {
		cfg.VendorID = fabric.VendorIDTest1
	}
	if cfg.Iterations == 0 {
		cfg.Iterations = pase.DefaultIterations
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	pai, err := cert.NewProductAuthority(cfg.VendorID, cert.DeviceAttestationValidity)
	if err != nil {
		return nil, fmt.Errorf("create PAI: %w", err)
	}
	kp, err := cert.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	dac, err := cert.IssueDAC(pai, kp.PublicKey, cfg.VendorID, cfg.ProductID, cert.DeviceAttestationValidity)
	if err != nil {
		return nil, fmt.Errorf("issue DAC: %w", err)
	}
	salt, err := pase.GenerateSalt()
	if err != nil {
		return nil, err
	}

	d := &Device{
		cfg:      cfg,
		logger:   logger.With("component", "testdevice", "discriminator", cfg.Discriminator),
		pai:      pai,
		dacKey:   kp,
		dac:      dac,
		salt:     salt,
		window:   NewWindow(),
		failSafe: failsafe.NewTimer(),
	}
	d.failSafe.OnExpire(d.rollback)

	if err := d.openWindow(TriggerFactory, FactoryWindowTimeout); err != nil {
		return nil, err
	}
	return d, nil
}

// Window returns the device's commissioning window.
func (d *Device) Window() *Window { return d.window }

// PAI returns the product attestation intermediate that issued the DAC.
func (d *Device) PAI() *x509.Certificate { return d.pai.Certificate }

// Fabric returns the committed operational state, or nil.
func (d *Device) Fabric() *Fabric {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fabric
}

// Network returns the committed network credentials, or nil.
func (d *Device) Network() *wire.NetworkConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.network
}

// Received returns the command types handled so far, in order.
func (d *Device) Received() []wire.MessageType {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]wire.MessageType(nil), d.received...)
}

// FailSafeArmed reports whether the device fail-safe is armed.
func (d *Device) FailSafeArmed() bool { return d.failSafe.IsArmed() }

// Close stops the device timers.
func (d *Device) Close() {
	d.failSafe.Disarm()
	d.window.Close()
}

func (d *Device) openWindow(trigger OpenTrigger, timeout time.Duration) error {
	v, err := pase.ComputeVerifier(d.cfg.PIN, d.salt, d.cfg.Iterations)
	if err != nil {
		return fmt.Errorf("onboarding verifier: %w", err)
	}
	return d.window.Open(trigger, Credentials{
		Verifier:      v,
		Salt:          d.salt,
		Iterations:    d.cfg.Iterations,
		Discriminator: d.cfg.Discriminator,
	}, timeout)
}

// rollback drops credentials installed under the fail-safe.
func (d *Device) rollback() {
	d.mu.Lock()
	d.pending = pending{}
	d.mu.Unlock()
	d.logger.Info("fail-safe expired, rolled back")
}

// Handle answers one command. challenge is the PASE attestation challenge
// of the session (nil for operational sessions). A nil response means the
// command goes unanswered.
func (d *Device) Handle(challenge []byte, env *wire.Envelope) (wire.MessageType, any) {
	d.mu.Lock()
	d.received = append(d.received, env.Type)
	d.mu.Unlock()

	if d.cfg.Faults.Stall[env.Type] {
		return wire.MessageTypeUnknown, nil
	}
	if s, ok := d.cfg.Faults.Reject[env.Type]; ok {
		return statusReply(s, "rejected")
	}

	operational := challenge == nil
	switch env.Type {
	case wire.MessageTypeArmFailSafe:
		var req wire.ArmFailSafe
		if err := env.Into(&req); err != nil {
			return statusReply(wire.StatusInvalidCommand, err.Error())
		}
		return d.armFailSafe(&req)

	case wire.MessageTypeAttestationRequest:
		var req wire.AttestationRequest
		if err := env.Into(&req); err != nil || len(req.Nonce) != 32 {
			return statusReply(wire.StatusInvalidParameter, "attestation nonce")
		}
		return d.attest(challenge, req.Nonce)

	case wire.MessageTypeCSRRequest:
		var req wire.CSRRequest
		if err := env.Into(&req); err != nil || len(req.Nonce) != 32 {
			return statusReply(wire.StatusInvalidParameter, "CSR nonce")
		}
		return d.csr(challenge, req.Nonce)

	case wire.MessageTypeAddTrustedRoot:
		var req wire.AddTrustedRoot
		if err := env.Into(&req); err != nil {
			return statusReply(wire.StatusInvalidCommand, err.Error())
		}
		return d.addTrustedRoot(&req)

	case wire.MessageTypeAddNOC:
		var req wire.AddNOC
		if err := env.Into(&req); err != nil {
			return statusReply(wire.StatusInvalidCommand, err.Error())
		}
		return d.addNOC(&req)

	case wire.MessageTypeNetworkConfig:
		var req wire.NetworkConfig
		if err := env.Into(&req); err != nil {
			return statusReply(wire.StatusInvalidCommand, err.Error())
		}
		if !d.failSafe.IsArmed() {
			return statusReply(wire.StatusFailSafeRequired, "")
		}
		d.mu.Lock()
		d.pending.network = &req
		d.mu.Unlock()
		return statusReply(wire.StatusSuccess, "")

	case wire.MessageTypeCommissioningComplete:
		return d.complete()

	case wire.MessageTypeOpenBasicCommissioningWindow:
		var req wire.OpenBasicCommissioningWindow
		if err := env.Into(&req); err != nil {
			return statusReply(wire.StatusInvalidCommand, err.Error())
		}
		if !operational {
			return statusReply(wire.StatusUnsupported, "requires operational session")
		}
		if err := d.openWindow(TriggerBasic, time.Duration(req.TimeoutSeconds)*time.Second); err != nil {
			return statusReply(wire.StatusBusy, err.Error())
		}
		return statusReply(wire.StatusSuccess, "")

	case wire.MessageTypeOpenCommissioningWindow:
		var req wire.OpenCommissioningWindow
		if err := env.Into(&req); err != nil {
			return statusReply(wire.StatusInvalidCommand, err.Error())
		}
		if !operational {
			return statusReply(wire.StatusUnsupported, "requires operational session")
		}
		return d.openEnhanced(&req)

	default:
		return statusReply(wire.StatusInvalidCommand, env.Type.String())
	}
}

func (d *Device) armFailSafe(req *wire.ArmFailSafe) (wire.MessageType, any) {
	if req.ExpirySeconds == 0 {
		if d.failSafe.IsArmed() {
			d.failSafe.Disarm()
			d.rollback()
		}
		return statusReply(wire.StatusSuccess, "")
	}
	if err := d.failSafe.Arm(time.Duration(req.ExpirySeconds) * time.Second); err != nil {
		return statusReply(wire.StatusInvalidParameter, err.Error())
	}
	return statusReply(wire.StatusSuccess, "")
}

func (d *Device) attest(challenge, nonce []byte) (wire.MessageType, any) {
	if d.cfg.Faults.WrongAttestationNonce {
		nonce = flip(nonce)
	}
	elements, err := wire.Marshal(wire.AttestationElements{
		Nonce:     nonce,
		VendorID:  uint16(d.cfg.VendorID),
		ProductID: d.cfg.ProductID,
		Timestamp: uint32(time.Now().Unix()),
	})
	if err != nil {
		return statusReply(wire.StatusFailure, err.Error())
	}
	sig, err := attestation.Sign(d.dacKey.PrivateKey, elements, challenge)
	if err != nil {
		return statusReply(wire.StatusFailure, err.Error())
	}
	return wire.MessageTypeAttestationResponse, &wire.AttestationResponse{
		Elements:  elements,
		Signature: sig,
		DAC:       d.dac.Raw,
		PAI:       d.pai.Certificate.Raw,
	}
}

func (d *Device) csr(challenge, nonce []byte) (wire.MessageType, any) {
	if !d.failSafe.IsArmed() {
		return statusReply(wire.StatusFailSafeRequired, "")
	}
	kp, err := cert.GenerateKeyPair()
	if err != nil {
		return statusReply(wire.StatusFailure, err.Error())
	}
	der, err := cert.CreateCSR(kp)
	if err != nil {
		return statusReply(wire.StatusFailure, err.Error())
	}
	if d.cfg.Faults.WrongCSRNonce {
		nonce = flip(nonce)
	}
	elements, err := wire.Marshal(wire.CSRElements{CSR: der, Nonce: nonce})
	if err != nil {
		return statusReply(wire.StatusFailure, err.Error())
	}
	sig, err := attestation.Sign(d.dacKey.PrivateKey, elements, challenge)
	if err != nil {
		return statusReply(wire.StatusFailure, err.Error())
	}

	d.mu.Lock()
	d.pending.opKey = kp
	d.mu.Unlock()
	return wire.MessageTypeCSRResponse, &wire.CSRResponse{Elements: elements, Signature: sig}
}

func (d *Device) addTrustedRoot(req *wire.AddTrustedRoot) (wire.MessageType, any) {
	if !d.failSafe.IsArmed() {
		return statusReply(wire.StatusFailSafeRequired, "")
	}
	root, err := x509.ParseCertificate(req.RootCert)
	if err != nil || !root.IsCA {
		return statusReply(wire.StatusInvalidCertificate, "root")
	}
	d.mu.Lock()
	d.pending.root = root
	d.mu.Unlock()
	return statusReply(wire.StatusSuccess, "")
}

func (d *Device) addNOC(req *wire.AddNOC) (wire.MessageType, any) {
	reply := func(s wire.Status, msg string) (wire.MessageType, any) {
		return wire.MessageTypeNOCResponse, &wire.NOCResponse{Status: s, Message: msg}
	}
	if !d.failSafe.IsArmed() {
		return reply(wire.StatusFailSafeRequired, "")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pending.root == nil || d.pending.opKey == nil {
		return reply(wire.StatusInvalidCommand, "no trusted root or CSR")
	}
	chain := cert.Chain{RCAC: d.pending.root}
	noc, err := x509.ParseCertificate(req.NOC)
	if err != nil {
		return reply(wire.StatusInvalidCertificate, "NOC")
	}
	chain.NOC = noc
	if len(req.ICAC) > 0 {
		if chain.ICAC, err = x509.ParseCertificate(req.ICAC); err != nil {
			return reply(wire.StatusInvalidCertificate, "ICAC")
		}
	}
	if err := cert.VerifyChain(&chain, time.Now()); err != nil {
		return reply(wire.StatusInvalidCertificate, err.Error())
	}
	pub, ok := noc.PublicKey.(*ecdsa.PublicKey)
	if !ok || !pub.Equal(d.pending.opKey.PublicKey) {
		return reply(wire.StatusInvalidCertificate, "NOC key does not match CSR")
	}
	if len(req.IPK) != fabric.IPKSize {
		return reply(wire.StatusInvalidParameter, "IPK")
	}

	const index = 1
	d.pending.fabric = &Fabric{
		Index:        index,
		Chain:        chain,
		Key:          d.pending.opKey.PrivateKey,
		IPK:          bytes.Clone(req.IPK),
		AdminVendor:  fabric.VendorID(req.AdminVendorID),
		AdminSubject: fabric.NodeID(req.CaseAdminSubject),
	}
	return wire.MessageTypeNOCResponse, &wire.NOCResponse{Status: wire.StatusSuccess, FabricIndex: index}
}

func (d *Device) complete() (wire.MessageType, any) {
	if !d.failSafe.IsArmed() {
		return statusReply(wire.StatusFailSafeRequired, "")
	}
	d.mu.Lock()
	f := d.pending.fabric
	if f == nil {
		d.mu.Unlock()
		return statusReply(wire.StatusInvalidCommand, "no NOC installed")
	}
	d.fabric = f
	if d.pending.network != nil {
		d.network = d.pending.network
	}
	d.pending = pending{}
	hook := d.onCommissioned
	d.mu.Unlock()

	d.failSafe.Disarm()
	d.window.Close()
	d.logger.Info("commissioned", "fabric_index", f.Index, "admin", f.AdminSubject)
	if hook != nil {
		hook(f)
	}
	return statusReply(wire.StatusSuccess, "")
}

func (d *Device) openEnhanced(req *wire.OpenCommissioningWindow) (wire.MessageType, any) {
	if _, err := pase.NewResponder(req.Verifier, req.Salt, req.Iterations); err != nil {
		return statusReply(wire.StatusInvalidParameter, err.Error())
	}
	err := d.window.Open(TriggerEnhanced, Credentials{
		Verifier:      bytes.Clone(req.Verifier),
		Salt:          bytes.Clone(req.Salt),
		Iterations:    req.Iterations,
		Discriminator: req.Discriminator,
	}, time.Duration(req.TimeoutSeconds)*time.Second)
	if err != nil {
		return statusReply(wire.StatusBusy, err.Error())
	}
	return statusReply(wire.StatusSuccess, "")
}

func statusReply(s wire.Status, msg string) (wire.MessageType, any) {
	return wire.MessageTypeStatusReport, &wire.StatusReport{Status: s, Message: msg}
}

func flip(b []byte) []byte {
	out := bytes.Clone(b)
	if len(out) > 0 {
		out[0] ^= 0xFF
	}
	return out
}
