package controller

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mash-protocol/mash-commissioner/pkg/attestation"
	"github.com/mash-protocol/mash-commissioner/pkg/cert"
	"github.com/mash-protocol/mash-commissioner/pkg/commissioning"
	"github.com/mash-protocol/mash-commissioner/pkg/credentials"
	"github.com/mash-protocol/mash-commissioner/pkg/dispatch"
	"github.com/mash-protocol/mash-commissioner/pkg/fabric"
	"github.com/mash-protocol/mash-commissioner/pkg/failure"
	"github.com/mash-protocol/mash-commissioner/pkg/log"
	"github.com/mash-protocol/mash-commissioner/pkg/pairing"
	"github.com/mash-protocol/mash-commissioner/pkg/persistence"
	"github.com/mash-protocol/mash-commissioner/pkg/window"
)

// Errors.
var (
	ErrNotRunning     = errors.New("controller not running")
	ErrAlreadyRunning = errors.New("controller already running")
	ErrReservedVendor = errors.New("reserved vendor id")
	ErrUndefinedFab   = errors.New("undefined fabric id")
	ErrUnknownDevice  = errors.New("device not commissioned by this controller")
)

// Identity is the commissioner identity a controller starts with.
type Identity struct {
	// VendorID is installed as the administrator vendor on every
	// commissioned device. VendorIDCommon is rejected.
	VendorID fabric.VendorID

	// FabricID is the fabric to administer. FabricIDUndefined is rejected.
	FabricID fabric.FabricID

	// Root is the fabric root authority. When nil it is loaded from
	// StartupParams.Authorities (created there on first use), or generated
	// for this run when no authority store is given.
	Root *cert.Authority

	// IPK is the fabric's identity protection key. Generated when nil.
	IPK []byte
}

// Validate rejects reserved sentinels and malformed key material.
func (id Identity) Validate() error {
	if !id.VendorID.IsValid() {
		return fmt.Errorf("%w: 0x%04X", ErrReservedVendor, uint16(id.VendorID))
	}
	if !id.FabricID.IsValid() {
		return ErrUndefinedFab
	}
	if id.IPK != nil && len(id.IPK) != fabric.IPKSize {
		return fmt.Errorf("%w: %d", fabric.ErrInvalidIPK, len(id.IPK))
	}
	return nil
}

// StartupParams are the per-startup collaborators.
type StartupParams struct {
	// Store persists the node id and the device registry. Required.
	Store persistence.KVStore

	// Authorities persists the root authority. Optional.
	Authorities *cert.AuthorityStore

	// Intermediate issues device NOCs through an intermediate CA.
	Intermediate bool

	// NOCValidity overrides the validity of issued NOCs.
	NOCValidity time.Duration
}

// Config configures a Controller.
type Config struct {
	Transport Transport

	// Fabrics is the shared fabric table the controller registers in.
	Fabrics *fabric.Table

	// Owner is notified when the controller's fabric entry is released.
	// Without an owner the controller removes the entry itself.
	Owner Owner

	// Backlog sizes the work and event queues.
	Backlog int

	// Now returns the current time (time.Now if nil).
	Now func() time.Time

	ProtocolLogger log.Logger
	Logger         *slog.Logger
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Transport == nil {
		return errors.New("transport is required")
	}
	if c.Fabrics == nil {
		return errors.New("fabric table is required")
	}
	return nil
}

type snapshot struct {
	nodeID fabric.NodeID
	fabric fabric.Info
	chain  *cert.Chain
}

// commissioner is the state that exists only while running. It is owned
// by the work queue.
type commissioner struct {
	ctx    context.Context
	cancel context.CancelFunc

	nodeID fabric.NodeID
	info   fabric.Info
	chain  *cert.Chain
	key    *ecdsa.PrivateKey

	issuer   *credentials.Issuer
	pairing  *pairing.Manager
	engine   *commissioning.Engine
	opener   *window.Opener
	registry *persistence.DeviceRegistry
	delegate pairing.Delegate
}

// Controller is a device controller for one fabric.
type Controller struct {
	cfg    Config
	logger *slog.Logger

	work   *dispatch.Queue
	events *dispatch.Queue

	state atomic.Pointer[snapshot]

	// Only touched on the work queue.
	run     *commissioner
	retired fabric.FabricIndex

	// beforeGroupKey is a test hook run just before the IPK is installed.
	beforeGroupKey func(*credentials.Issuer, fabric.FabricIndex)
}

// New creates a stopped controller.
func New(cfg Config) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, failure.New(failure.KindInvalidArgument, "controller.New", err)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Controller{
		cfg:    cfg,
		logger: logger.With("component", "controller"),
		work:   dispatch.NewQueue(cfg.Backlog),
		events: dispatch.NewQueue(cfg.Backlog),
	}, nil
}

// Startup brings the controller up on the given identity. Reserved vendor
// and fabric ids are rejected before any work is done. Starting a running
// controller is a misuse error.
func (c *Controller) Startup(ctx context.Context, id Identity, p StartupParams) error {
	const op = "controller.Startup"

	if err := id.Validate(); err != nil {
		return failure.New(failure.KindInvalidArgument, op, err)
	}
	if p.Store == nil {
		return failure.Errorf(failure.KindInvalidArgument, op, "store is required")
	}

	res := make(chan error, 1)
	if err := c.work.Do(ctx, func() {
		if c.run != nil {
			c.logger.Error("startup while running", "node", c.run.nodeID)
			res <- failure.New(failure.KindMisuse, op, ErrAlreadyRunning)
			return
		}
		r, err := c.startup(id, p)
		if err != nil {
			c.logger.Error("startup failed", "fabric", id.FabricID, "error", err)
			c.teardown(r)
			res <- err
			return
		}
		c.run = r
		c.state.Store(&snapshot{nodeID: r.nodeID, fabric: r.info, chain: r.chain})
		c.logger.Info("controller started", "node", r.nodeID, "fabric", id.FabricID, "fabric_index", r.info.Index, "compressed_fabric_id", r.info.CompressedFabricID)
		res <- nil
	}); err != nil {
		return c.queueError(op, err)
	}
	return <-res
}

// startup builds the running state. On error the partially built state is
// returned for teardown.
func (c *Controller) startup(id Identity, p StartupParams) (*commissioner, error) {
	const op = "controller.Startup"

	r := &commissioner{}
	r.ctx, r.cancel = context.WithCancel(context.Background())

	nodeID, err := persistence.NewNodeIdentityStore(p.Store).GetOrCreate()
	if err != nil {
		return r, failure.New(failure.KindStorage, op, err)
	}
	r.nodeID = nodeID

	root, err := loadRoot(id, p)
	if err != nil {
		return r, err
	}

	icfg := credentials.DefaultConfig()
	icfg.Root = root
	icfg.Intermediate = p.Intermediate
	if p.NOCValidity > 0 {
		icfg.NOCValidity = p.NOCValidity
	}
	icfg.Logger = c.cfg.Logger
	if r.issuer, err = credentials.New(icfg); err != nil {
		return r, failure.Wrap(failure.KindCrypto, op, err)
	}

	kp, err := r.issuer.DeriveEphemeralOperationalKeypair()
	if err != nil {
		return r, failure.Wrap(failure.KindCrypto, op, err)
	}
	if r.chain, err = r.issuer.GenerateOperationalCertificateChain(nodeID, id.FabricID, kp.PublicKey); err != nil {
		return r, failure.Wrap(failure.KindCrypto, op, err)
	}
	r.key = kp.PrivateKey

	rootPub, ok := root.Certificate.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return r, failure.Errorf(failure.KindCrypto, op, "root key is %T", root.Certificate.PublicKey)
	}
	info, err := c.cfg.Fabrics.Add(rootPub, id.FabricID, nodeID, id.VendorID)
	if err != nil {
		if errors.Is(err, fabric.ErrInvalidRootKey) {
			return r, failure.New(failure.KindCrypto, op, err)
		}
		return r, failure.New(failure.KindMisuse, op, err)
	}
	r.info = info

	ipk := id.IPK
	if ipk == nil {
		ipk = make([]byte, fabric.IPKSize)
		if _, err := rand.Read(ipk); err != nil {
			return r, failure.New(failure.KindCrypto, op, err)
		}
	}
	if c.beforeGroupKey != nil {
		c.beforeGroupKey(r.issuer, info.Index)
	}
	if err := r.issuer.SetFabricGroupKey(info.Index, ipk, info.CompressedFabricID); err != nil {
		return r, failure.Wrap(failure.KindCrypto, op, err)
	}

	r.registry = persistence.NewDeviceRegistry(p.Store)

	if r.pairing, err = pairing.NewManager(pairing.Config{
		Establisher:    c.cfg.Transport,
		Binder:         r.issuer,
		Post:           c.work.Post,
		Executor:       c.events.Executor(),
		ProtocolLogger: c.cfg.ProtocolLogger,
		Logger:         c.cfg.Logger,
	}); err != nil {
		return r, err
	}

	if r.engine, err = commissioning.NewEngine(commissioning.Config{
		Issuer:              r.issuer,
		Sessions:            r.pairing,
		Notifier:            r.pairing,
		FabricID:            id.FabricID,
		FabricIndex:         info.Index,
		AdminVendorID:       id.VendorID,
		AdminSubject:        nodeID,
		Serialize:           c.serialize,
		AttestationExecutor: c.events.Executor(),
		OnCommissioned:      c.recorder(info.Index, r.registry),
		Now:                 c.cfg.Now,
		ProtocolLogger:      c.cfg.ProtocolLogger,
		Logger:              c.cfg.Logger,
	}); err != nil {
		return r, err
	}

	if r.opener, err = window.NewOpener(window.Config{
		Connector: connector{c},
		Verifier:  c.cfg.Transport,
		Logger:    c.cfg.Logger,
	}); err != nil {
		return r, err
	}
	return r, nil
}

func loadRoot(id Identity, p StartupParams) (*cert.Authority, error) {
	const op = "controller.Startup"

	switch {
	case id.Root != nil:
		return id.Root, nil
	case p.Authorities != nil:
		root, _, err := p.Authorities.LoadOrCreate(id.FabricID)
		if err != nil {
			return nil, failure.New(failure.KindStorage, op, err)
		}
		return root, nil
	default:
		root, err := cert.NewRootAuthority(1, id.FabricID, cert.RootValidity)
		if err != nil {
			return nil, failure.New(failure.KindCrypto, op, err)
		}
		return root, nil
	}
}

// Shutdown stops the controller. It is a no-op when not running.
func (c *Controller) Shutdown(ctx context.Context) error {
	const op = "controller.Shutdown"

	err := c.work.Do(ctx, func() {
		r := c.run
		if r == nil {
			return
		}
		c.run = nil
		c.state.Store(nil)
		c.teardown(r)
		c.logger.Info("controller shut down", "node", r.nodeID)
	})
	switch {
	case err == nil, errors.Is(err, dispatch.ErrClosed):
		return nil
	default:
		return c.queueError(op, err)
	}
}

// teardown releases running state in order: commissioner, attestation
// bridge, issuer, pairing delegate. It accepts partially built state.
func (c *Controller) teardown(r *commissioner) {
	if r.cancel != nil {
		r.cancel()
	}

	var bridge *attestation.Bridge
	if r.engine != nil {
		bridge = r.engine.Bridge()
		r.engine.Close()
	}
	if r.pairing != nil {
		r.pairing.Close()
	}

	if bridge != nil {
		bridge.Close()
	}

	if r.issuer != nil {
		if err := r.issuer.Close(); err != nil {
			c.logger.Warn("close issuer", "error", err)
		}
	}

	if r.pairing != nil {
		r.pairing.SetDelegate(nil)
	}
	r.delegate = nil

	if r.info.Index.IsValid() {
		c.retired = r.info.Index
		if c.cfg.Owner != nil {
			c.cfg.Owner.ControllerShuttingDown(c)
		} else if err := c.cfg.Fabrics.Remove(r.info.Index); err != nil {
			c.logger.Warn("release fabric", "fabric_index", r.info.Index, "error", err)
		}
		c.retired = fabric.FabricIndexUndefined
	}
}

// retiredFabric is the fabric index being released during an owner
// notification.
func (c *Controller) retiredFabric() fabric.FabricIndex {
	return c.retired
}

// Close shuts the controller down and stops its queues. It must not be
// called from a delegate callback.
func (c *Controller) Close() {
	_ = c.Shutdown(context.Background())
	c.work.Close()
	c.events.Close()
}

// IsRunning reports whether the controller is started.
func (c *Controller) IsRunning() bool {
	return c.state.Load() != nil
}

// ControllerNodeID returns the controller's own node id.
func (c *Controller) ControllerNodeID() (fabric.NodeID, error) {
	s := c.state.Load()
	if s == nil {
		return 0, failure.New(failure.KindNotRunning, "controller.ControllerNodeID", ErrNotRunning)
	}
	return s.nodeID, nil
}

// FabricIndex returns the index of the controller's fabric in the fabric
// table.
func (c *Controller) FabricIndex() (fabric.FabricIndex, error) {
	s := c.state.Load()
	if s == nil {
		return fabric.FabricIndexUndefined, failure.New(failure.KindNotRunning, "controller.FabricIndex", ErrNotRunning)
	}
	return s.fabric.Index, nil
}

// Fabric returns the controller's fabric table entry.
func (c *Controller) Fabric() (fabric.Info, error) {
	s := c.state.Load()
	if s == nil {
		return fabric.Info{}, failure.New(failure.KindNotRunning, "controller.Fabric", ErrNotRunning)
	}
	return s.fabric, nil
}

// OperationalChain returns the controller's own certificate chain.
func (c *Controller) OperationalChain() (*cert.Chain, error) {
	s := c.state.Load()
	if s == nil {
		return nil, failure.New(failure.KindNotRunning, "controller.OperationalChain", ErrNotRunning)
	}
	return s.chain, nil
}

// serialize runs fn on the work queue for the commissioning engine.
func (c *Controller) serialize(ctx context.Context, fn func()) error {
	if err := c.work.Do(ctx, fn); err != nil {
		return c.queueError("controller.serialize", err)
	}
	return nil
}

func (c *Controller) recorder(idx fabric.FabricIndex, reg *persistence.DeviceRegistry) func(commissioning.Commissioned) {
	return func(d commissioning.Commissioned) {
		now := c.cfg.Now()
		rec := persistence.DeviceRecord{
			NodeID:         d.DeviceID,
			FabricIndex:    idx,
			CommissionedAt: now,
			UpdatedAt:      now,
		}
		if err := reg.Put(rec); err != nil {
			c.logger.Error("store device record", "device", d.DeviceID, "error", err)
			return
		}
		c.logger.Info("device commissioned", "device", d.DeviceID, "vendor", d.VendorID, "product", d.ProductID, "device_fabric_index", d.FabricIndex)
	}
}

func (c *Controller) queueError(op string, err error) error {
	switch {
	case errors.Is(err, dispatch.ErrClosed):
		return failure.New(failure.KindNotRunning, op, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return failure.New(failure.KindTimeout, op, err)
	default:
		return failure.Wrap(failure.KindNotRunning, op, err)
	}
}

// call runs fn on the work queue against the running state.
func call[T any](ctx context.Context, c *Controller, op string, fn func(*commissioner) (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	res := make(chan result, 1)
	if err := c.work.Do(ctx, func() {
		if c.run == nil {
			res <- result{err: failure.New(failure.KindNotRunning, op, ErrNotRunning)}
			return
		}
		v, err := fn(c.run)
		res <- result{v, err}
	}); err != nil {
		var zero T
		return zero, c.queueError(op, err)
	}
	out := <-res
	return out.v, out.err
}

// exec is call without a result.
func (c *Controller) exec(ctx context.Context, op string, fn func(*commissioner) error) error {
	_, err := call(ctx, c, op, func(r *commissioner) (struct{}, error) {
		return struct{}{}, fn(r)
	})
	return err
}
