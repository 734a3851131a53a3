// Package credentials implements the controller's operational credential
// issuer: NOC chain generation for the controller itself and for devices
// being commissioned, ephemeral operational keypairs and per-fabric group
// key installation.
package credentials

import (
	"crypto/ecdsa"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/mash-protocol/mash-commissioner/pkg/cert"
	"github.com/mash-protocol/mash-commissioner/pkg/fabric"
	"github.com/mash-protocol/mash-commissioner/pkg/failure"
)

// Issuer errors.
var (
	ErrIssuing       = errors.New("certificate issuance already in progress")
	ErrGroupKeySet   = errors.New("group key already installed for fabric")
	ErrDeviceBinding = errors.New("node is not the device being commissioned")
	ErrClosed        = errors.New("issuer closed")
)

// Config configures an Issuer.
type Config struct {
	// Root is the fabric root authority. Required.
	Root *cert.Authority

	// Intermediate makes the issuer sign NOCs with an ICAC chained to Root
	// instead of signing directly with Root.
	Intermediate bool

	// NOCValidity is the validity of issued NOCs.
	NOCValidity time.Duration

	// Logger for issuance events. Nil disables logging.
	Logger *slog.Logger
}

// DefaultConfig returns a config without a root authority.
func DefaultConfig() Config {
	return Config{
		NOCValidity: cert.OperationalCertValidity,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Root == nil || c.Root.Certificate == nil || c.Root.PrivateKey == nil {
		return errors.New("root authority is required")
	}
	if !c.Root.Certificate.IsCA {
		return cert.ErrNotCA
	}
	if c.NOCValidity <= 0 {
		return errors.New("NOC validity must be positive")
	}
	return nil
}

type groupKey struct {
	ipk []byte
	key []byte
}

// Issuer signs operational certificate chains. Issuance is single-flight:
// a call made while another is in progress fails with a Misuse error.
type Issuer struct {
	config Config
	logger *slog.Logger

	issuing sync.Mutex

	mu        sync.Mutex
	icacs     map[fabric.FabricID]*cert.Authority
	groupKeys map[fabric.FabricIndex]groupKey
	// bound lists the devices under commissioning, oldest first.
	bound  []fabric.NodeID
	closed bool

	// beforeSign is a test hook run while the issuance lock is held.
	beforeSign func()
}

// New creates an issuer.
func New(cfg Config) (*Issuer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, failure.New(failure.KindInvalidArgument, "issuer", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Issuer{
		config:    cfg,
		logger:    logger.With("component", "issuer"),
		icacs:     make(map[fabric.FabricID]*cert.Authority),
		groupKeys: make(map[fabric.FabricIndex]groupKey),
	}, nil
}

// GenerateOperationalCertificateChain issues a NOC for nodeID in fabricID
// over pub and returns the full chain.
func (i *Issuer) GenerateOperationalCertificateChain(nodeID fabric.NodeID, fabricID fabric.FabricID, pub *ecdsa.PublicKey) (*cert.Chain, error) {
	const op = "generate noc chain"

	if !i.issuing.TryLock() {
		return nil, failure.New(failure.KindMisuse, op, ErrIssuing)
	}
	defer i.issuing.Unlock()

	i.mu.Lock()
	closed, bound := i.closed, len(i.bound) > 0 && !slices.Contains(i.bound, nodeID)
	i.mu.Unlock()
	if closed {
		return nil, failure.New(failure.KindNotRunning, op, ErrClosed)
	}
	if bound {
		return nil, failure.Errorf(failure.KindInvalidArgument, op, "%w: %s", ErrDeviceBinding, nodeID)
	}
	if !nodeID.IsOperational() {
		return nil, failure.Errorf(failure.KindInvalidArgument, op, "%w: %s", cert.ErrInvalidNodeID, nodeID)
	}

	if i.beforeSign != nil {
		i.beforeSign()
	}

	signer, err := i.signerFor(fabricID)
	if err != nil {
		return nil, failure.New(failure.KindCrypto, op, err)
	}
	noc, err := cert.IssueNOC(signer, pub, nodeID, fabricID, i.config.NOCValidity)
	if err != nil {
		return nil, failure.New(failure.KindCrypto, op, err)
	}

	chain := &cert.Chain{NOC: noc, RCAC: i.config.Root.Certificate}
	if signer != i.config.Root {
		chain.ICAC = signer.Certificate
	}
	i.logger.Debug("issued NOC", "node", nodeID, "fabric", fabricID, "icac", chain.ICAC != nil)
	return chain, nil
}

func (i *Issuer) signerFor(fabricID fabric.FabricID) (*cert.Authority, error) {
	if !i.config.Intermediate {
		return i.config.Root, nil
	}

	i.mu.Lock()
	icac, ok := i.icacs[fabricID]
	i.mu.Unlock()
	if ok {
		return icac, nil
	}

	icac, err := cert.NewIntermediate(i.config.Root, 1, fabricID, cert.IntermediateValidity)
	if err != nil {
		return nil, err
	}
	i.mu.Lock()
	i.icacs[fabricID] = icac
	i.mu.Unlock()
	return icac, nil
}

// DeriveEphemeralOperationalKeypair generates a fresh P-256 keypair.
func (i *Issuer) DeriveEphemeralOperationalKeypair() (*cert.KeyPair, error) {
	kp, err := cert.GenerateKeyPair()
	if err != nil {
		return nil, failure.New(failure.KindCrypto, "derive keypair", err)
	}
	return kp, nil
}

// SetFabricGroupKey installs the identity protection key for a fabric and
// derives its operational group key. Each fabric index accepts one IPK.
func (i *Issuer) SetFabricGroupKey(idx fabric.FabricIndex, ipk []byte, cfid fabric.CompressedFabricID) error {
	const op = "set fabric group key"

	if !idx.IsValid() {
		return failure.Errorf(failure.KindInvalidArgument, op, "invalid fabric index %d", idx)
	}
	key, err := fabric.DeriveOperationalGroupKey(ipk, cfid)
	if err != nil {
		return failure.New(failure.KindInvalidArgument, op, err)
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return failure.New(failure.KindNotRunning, op, ErrClosed)
	}
	if _, ok := i.groupKeys[idx]; ok {
		return failure.Errorf(failure.KindMisuse, op, "%w: %d", ErrGroupKeySet, idx)
	}
	i.groupKeys[idx] = groupKey{ipk: append([]byte(nil), ipk...), key: key}
	return nil
}

// GroupKey returns the operational group key derived for a fabric index.
func (i *Issuer) GroupKey(idx fabric.FabricIndex) ([]byte, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	gk, ok := i.groupKeys[idx]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), gk.key...), true
}

// IPK returns the identity protection key installed for a fabric index.
func (i *Issuer) IPK(idx fabric.FabricIndex) ([]byte, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	gk, ok := i.groupKeys[idx]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), gk.ipk...), true
}

// SetDeviceBeingCommissioned adds id to the devices issuance is bound to.
// While any device is bound, issuance for unbound nodes is rejected.
func (i *Issuer) SetDeviceBeingCommissioned(id fabric.NodeID) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !slices.Contains(i.bound, id) {
		i.bound = append(i.bound, id)
	}
}

// ClearDeviceBinding unbinds id. Other devices stay bound.
func (i *Issuer) ClearDeviceBinding(id fabric.NodeID) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.bound = slices.DeleteFunc(i.bound, func(d fabric.NodeID) bool { return d == id })
}

// DeviceBeingCommissioned returns the most recently bound device, if any.
func (i *Issuer) DeviceBeingCommissioned() (fabric.NodeID, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if len(i.bound) == 0 {
		return 0, false
	}
	return i.bound[len(i.bound)-1], true
}

// Root returns the root certificate of the fabric.
func (i *Issuer) Root() *cert.Authority {
	return i.config.Root
}

// Close releases key material. Subsequent issuance fails with NotRunning.
func (i *Issuer) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return nil
	}
	i.closed = true
	for idx, gk := range i.groupKeys {
		clear(gk.ipk)
		clear(gk.key)
		delete(i.groupKeys, idx)
	}
	i.icacs = make(map[fabric.FabricID]*cert.Authority)
	i.bound = nil
	return nil
}
