package commissioning

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mash-protocol/mash-commissioner/pkg/attestation"
	"github.com/mash-protocol/mash-commissioner/pkg/cert"
	"github.com/mash-protocol/mash-commissioner/pkg/fabric"
	"github.com/mash-protocol/mash-commissioner/pkg/failsafe"
	"github.com/mash-protocol/mash-commissioner/pkg/failure"
	"github.com/mash-protocol/mash-commissioner/pkg/log"
	"github.com/mash-protocol/mash-commissioner/pkg/session"
	"github.com/mash-protocol/mash-commissioner/pkg/wire"
)

// Errors.
var (
	ErrInProgress         = errors.New("commissioning already in progress")
	ErrNotSuspended       = errors.New("commissioning is not awaiting attestation")
	ErrAttestationFailed  = errors.New("device attestation failed")
	ErrAttestationTimeout = errors.New("device attestation timed out")
	ErrCSRSignature       = errors.New("CSR response signature invalid")
	ErrCSRNonce           = errors.New("CSR nonce mismatch")
	ErrNoIPK              = errors.New("no IPK for fabric")
	ErrClosed             = errors.New("commissioning engine closed")
)

// Stage is a step of the commissioning flow.
type Stage uint8

const (
	StageIdle Stage = iota
	StageArmFailSafe
	StageAttestation
	StageAttestationPending
	StageCSR
	StageIssueNOC
	StageAddTrustedRoot
	StageAddNOC
	StageNetworkConfig
	StageComplete
)

var stageNames = [...]string{
	StageIdle:               "IDLE",
	StageArmFailSafe:        "ARM_FAILSAFE",
	StageAttestation:        "ATTESTATION",
	StageAttestationPending: "ATTESTATION_PENDING",
	StageCSR:                "CSR",
	StageIssueNOC:           "ISSUE_NOC",
	StageAddTrustedRoot:     "ADD_TRUSTED_ROOT",
	StageAddNOC:             "ADD_NOC",
	StageNetworkConfig:      "NETWORK_CONFIG",
	StageComplete:           "COMPLETE",
}

func (s Stage) String() string {
	if int(s) < len(stageNames) {
		return stageNames[s]
	}
	return "UNKNOWN"
}

// Issuer issues operational credentials. *credentials.Issuer satisfies it.
type Issuer interface {
	GenerateOperationalCertificateChain(nodeID fabric.NodeID, fabricID fabric.FabricID, pub *ecdsa.PublicKey) (*cert.Chain, error)
	IPK(idx fabric.FabricIndex) ([]byte, bool)
	SetDeviceBeingCommissioned(id fabric.NodeID)
	ClearDeviceBinding(id fabric.NodeID)
}

// Sessions hands out established PASE sessions. *pairing.Manager
// satisfies it.
type Sessions interface {
	Session(deviceID fabric.NodeID) (session.Channel, error)
	Release(deviceID fabric.NodeID)
}

// Notifier receives progress events. *pairing.Manager satisfies it.
type Notifier interface {
	NotifyCommissioningStatus(deviceID fabric.NodeID, stage string, err error)
	NotifyCommissioningComplete(deviceID fabric.NodeID, err error)
}

// Commissioned describes a device that completed commissioning.
type Commissioned struct {
	DeviceID fabric.NodeID

	// FabricIndex is the index the device assigned to the fabric.
	FabricIndex fabric.FabricIndex

	Address   string
	Chain     *cert.Chain
	VendorID  fabric.VendorID
	ProductID uint16
}

// Config configures an Engine.
type Config struct {
	Issuer   Issuer
	Sessions Sessions
	Notifier Notifier

	// FabricID and FabricIndex identify the commissioner's fabric.
	FabricID    fabric.FabricID
	FabricIndex fabric.FabricIndex

	// AdminVendorID and AdminSubject are installed with the NOC.
	AdminVendorID fabric.VendorID
	AdminSubject  fabric.NodeID

	// Serialize runs NOC issuance on the owner's serialized context. A nil
	// error means fn ran. Nil runs it on the flow goroutine.
	Serialize func(ctx context.Context, fn func()) error

	// AttestationExecutor runs attestation delegates.
	AttestationExecutor func(func())

	// OnCommissioned is called after a device completed commissioning.
	OnCommissioned func(Commissioned)

	// Now returns the time used for certificate checks (time.Now if nil).
	Now func() time.Time

	ProtocolLogger log.Logger
	Logger         *slog.Logger
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Issuer == nil || c.Sessions == nil {
		return errors.New("issuer and sessions are required")
	}
	if !c.FabricID.IsValid() {
		return fmt.Errorf("invalid fabric id %s", c.FabricID)
	}
	if !c.FabricIndex.IsValid() {
		return fmt.Errorf("invalid fabric index %d", c.FabricIndex)
	}
	return nil
}

type flow struct {
	deviceID fabric.NodeID
	ch       session.Channel
	params   *bundle
	bridge   *attestation.Bridge

	ctx      context.Context
	cancel   context.CancelCauseFunc
	failSafe *failsafe.Timer
	resume   chan attestation.Result

	// guarded by Engine.mu
	stage     Stage
	suspended bool
}

// Engine runs commissioning flows, at most one per device.
type Engine struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	flows  map[fabric.NodeID]*flow
	bridge *attestation.Bridge
	closed bool
	wg     sync.WaitGroup
}

// NewEngine creates an engine.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, failure.New(failure.KindInvalidArgument, "commissioning.NewEngine", err)
	}
	if cfg.Serialize == nil {
		cfg.Serialize = func(_ context.Context, fn func()) error {
			fn()
			return nil
		}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{
		cfg:    cfg,
		logger: logger.With("component", "commissioning"),
		flows:  make(map[fabric.NodeID]*flow),
	}, nil
}

// Commission starts commissioning a device over its established PASE
// session. Parameters are validated before anything changes; the flow
// itself runs in the background and reports through the Notifier.
func (e *Engine) Commission(deviceID fabric.NodeID, p Parameters) error {
	const op = "commissioning.Commission"

	b, err := newBundle(p)
	if err != nil {
		if errors.Is(err, ErrInvalidParameters) {
			return failure.New(failure.KindInvalidArgument, op, err)
		}
		return failure.New(failure.KindCrypto, op, err)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return failure.New(failure.KindNotRunning, op, ErrClosed)
	}
	if _, ok := e.flows[deviceID]; ok {
		e.mu.Unlock()
		return failure.New(failure.KindMisuse, op, fmt.Errorf("%w: %s", ErrInProgress, deviceID))
	}
	ch, err := e.cfg.Sessions.Session(deviceID)
	if err != nil {
		e.mu.Unlock()
		return failure.Wrap(failure.KindMisuse, op, err)
	}

	var bridge *attestation.Bridge
	if b.delegate != nil {
		bridge, err = attestation.NewBridge(attestation.BridgeConfig{
			Delegate: b.delegate,
			Timeout:  attestationTimeout(b.expiry),
			Executor: e.cfg.AttestationExecutor,
			Logger:   e.cfg.Logger,
		})
		if err != nil {
			e.mu.Unlock()
			return err
		}
		if e.bridge != nil {
			e.bridge.Close()
		}
		e.bridge = bridge
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	f := &flow{
		deviceID: deviceID,
		ch:       ch,
		params:   b,
		bridge:   bridge,
		ctx:      ctx,
		cancel:   cancel,
		failSafe: failsafe.NewTimer(),
		resume:   make(chan attestation.Result, 1),
	}
	f.failSafe.OnExpire(func() { cancel(failsafe.ErrExpired) })
	e.flows[deviceID] = f
	e.cfg.Issuer.SetDeviceBeingCommissioned(deviceID)
	e.wg.Add(1)
	e.mu.Unlock()

	e.logger.Info("commissioning started", "device", deviceID, "expiry", b.expiry, "delegate", bridge != nil, "network", b.network != nil)
	go e.run(f)
	return nil
}

// ContinueAfterAttestation resumes a flow suspended on an attestation
// failure. With ignoreFailure the flow proceeds as if attestation had
// succeeded; otherwise it proceeds with the bridge's recorded verdict, or
// success when no delegate was bound.
func (e *Engine) ContinueAfterAttestation(deviceID fabric.NodeID, ignoreFailure bool) error {
	const op = "commissioning.ContinueAfterAttestation"

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return failure.New(failure.KindNotRunning, op, ErrClosed)
	}
	f, ok := e.flows[deviceID]
	if !ok || !f.suspended {
		return failure.New(failure.KindMisuse, op, fmt.Errorf("%w: %s", ErrNotSuspended, deviceID))
	}

	verdict := attestation.ResultSuccess
	if !ignoreFailure && f.bridge != nil {
		verdict = f.bridge.Verdict()
	}
	f.suspended = false
	f.resume <- verdict
	e.logger.Info("commissioning resumed", "device", deviceID, "verdict", verdict, "ignore_failure", ignoreFailure)
	return nil
}

// Stage returns the current stage of a device's flow.
func (e *Engine) Stage(deviceID fabric.NodeID) Stage {
	e.mu.Lock()
	defer e.mu.Unlock()
	if f, ok := e.flows[deviceID]; ok {
		return f.stage
	}
	return StageIdle
}

// Bridge returns the current attestation bridge, or nil.
func (e *Engine) Bridge() *attestation.Bridge {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bridge
}

// Cancel aborts a device's flow. It reports whether a flow was running.
func (e *Engine) Cancel(deviceID fabric.NodeID) bool {
	e.mu.Lock()
	f, ok := e.flows[deviceID]
	e.mu.Unlock()
	if ok {
		f.cancel(context.Canceled)
	}
	return ok
}

// Close aborts every flow, closes the attestation bridge and waits for
// the flows to finish.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	for _, f := range e.flows {
		f.cancel(ErrClosed)
	}
	bridge := e.bridge
	e.bridge = nil
	e.mu.Unlock()

	if bridge != nil {
		bridge.Close()
	}
	e.wg.Wait()
}

func (e *Engine) run(f *flow) {
	defer e.wg.Done()

	done, err := e.execute(f)
	f.failSafe.Disarm()

	e.mu.Lock()
	last := f.stage
	delete(e.flows, f.deviceID)
	e.mu.Unlock()
	f.cancel(nil)

	if err != nil {
		e.rollback(f)
		e.cfg.Issuer.ClearDeviceBinding(f.deviceID)
		e.logger.Warn("commissioning failed", "device", f.deviceID, "stage", last, "error", err)
		e.logState(f.deviceID, last.String(), "FAILED", err.Error())
	} else {
		e.cfg.Sessions.Release(f.deviceID)
		e.logger.Info("commissioning complete", "device", f.deviceID, "fabric_index", done.FabricIndex)
		e.logState(f.deviceID, last.String(), "COMMISSIONED", "")
		if e.cfg.OnCommissioned != nil {
			e.cfg.OnCommissioned(*done)
		}
	}
	if e.cfg.Notifier != nil {
		e.cfg.Notifier.NotifyCommissioningComplete(f.deviceID, err)
	}
}

func (e *Engine) execute(f *flow) (*Commissioned, error) {
	ctx := f.ctx

	e.enter(f, StageArmFailSafe)
	arm := &wire.ArmFailSafe{ExpirySeconds: failsafe.Seconds(f.params.expiry), Breadcrumb: uint64(StageArmFailSafe)}
	if err := f.ch.Invoke(ctx, wire.MessageTypeArmFailSafe, arm, nil); err != nil {
		return nil, e.fail(f, StageArmFailSafe, err)
	}
	if err := f.failSafe.Arm(f.params.expiry); err != nil {
		return nil, e.fail(f, StageArmFailSafe, err)
	}

	ev, err := e.attest(f)
	if err != nil {
		return nil, e.fail(f, StageAttestation, err)
	}

	e.enter(f, StageCSR)
	pub, err := e.requestCSR(f, ev)
	if err != nil {
		return nil, e.fail(f, StageCSR, err)
	}

	e.enter(f, StageIssueNOC)
	type issued struct {
		chain *cert.Chain
		err   error
	}
	res := make(chan issued, 1)
	serr := e.cfg.Serialize(ctx, func() {
		c, err := e.cfg.Issuer.GenerateOperationalCertificateChain(f.deviceID, e.cfg.FabricID, pub)
		res <- issued{c, err}
	})
	if serr != nil {
		return nil, e.fail(f, StageIssueNOC, serr)
	}
	out := <-res
	if out.err != nil {
		return nil, e.fail(f, StageIssueNOC, out.err)
	}
	chain := out.chain
	ipk, ok := e.cfg.Issuer.IPK(e.cfg.FabricIndex)
	if !ok {
		return nil, e.fail(f, StageIssueNOC, failure.New(failure.KindCrypto, "commissioning.IPK", fmt.Errorf("%w: %d", ErrNoIPK, e.cfg.FabricIndex)))
	}

	e.enter(f, StageAddTrustedRoot)
	if err := f.ch.Invoke(ctx, wire.MessageTypeAddTrustedRoot, &wire.AddTrustedRoot{RootCert: chain.RCAC.Raw}, nil); err != nil {
		return nil, e.fail(f, StageAddTrustedRoot, err)
	}

	e.enter(f, StageAddNOC)
	add := &wire.AddNOC{
		NOC:              chain.NOC.Raw,
		IPK:              ipk,
		AdminVendorID:    uint16(e.cfg.AdminVendorID),
		CaseAdminSubject: uint64(e.cfg.AdminSubject),
	}
	if chain.ICAC != nil {
		add.ICAC = chain.ICAC.Raw
	}
	var nocResp wire.NOCResponse
	if err := f.ch.Invoke(ctx, wire.MessageTypeAddNOC, add, &nocResp); err != nil {
		return nil, e.fail(f, StageAddNOC, err)
	}
	if err := nocResp.Err(); err != nil {
		return nil, e.fail(f, StageAddNOC, err)
	}

	if n := f.params.network; n != nil {
		e.enter(f, StageNetworkConfig)
		cfg := &wire.NetworkConfig{SSID: n.ssid, Passphrase: n.passphrase, ThreadDataset: n.thread}
		if err := f.ch.Invoke(ctx, wire.MessageTypeNetworkConfig, cfg, nil); err != nil {
			return nil, e.fail(f, StageNetworkConfig, err)
		}
	}

	e.enter(f, StageComplete)
	complete := &wire.CommissioningComplete{FabricIndex: nocResp.FabricIndex}
	if err := f.ch.Invoke(ctx, wire.MessageTypeCommissioningComplete, complete, nil); err != nil {
		return nil, e.fail(f, StageComplete, err)
	}
	e.notify(f, StageComplete, nil)

	return &Commissioned{
		DeviceID:    f.deviceID,
		FabricIndex: fabric.FabricIndex(nocResp.FabricIndex),
		Address:     f.ch.RemoteAddr(),
		Chain:       chain,
		VendorID:    fabric.VendorID(ev.Elements.VendorID),
		ProductID:   ev.Elements.ProductID,
	}, nil
}

// attest requests evidence and decides on it. With a bridge, a rejected
// verdict suspends the flow until ContinueAfterAttestation.
func (e *Engine) attest(f *flow) (*attestation.Evidence, error) {
	const op = "commissioning.Attestation"

	e.enter(f, StageAttestation)
	nonce := f.params.attestationNonce
	var resp wire.AttestationResponse
	if err := f.ch.Invoke(f.ctx, wire.MessageTypeAttestationRequest, &wire.AttestationRequest{Nonce: nonce}, &resp); err != nil {
		return nil, err
	}
	ev, err := attestation.NewEvidence(f.deviceID, &resp, nonce, f.ch.AttestationChallenge())
	if err != nil {
		return nil, failure.New(failure.KindProtocol, op, err)
	}

	if f.bridge == nil {
		if r := attestation.Verify(ev, e.cfg.Now()); !r.IsSuccess() {
			return nil, verdictError(op, r)
		}
		return ev, nil
	}

	done, err := f.bridge.HandleEvidence(ev)
	if err != nil {
		return nil, err
	}
	select {
	case <-done:
	case <-f.ctx.Done():
		return nil, context.Cause(f.ctx)
	}
	verdict := f.bridge.Verdict()
	if verdict.IsSuccess() {
		return ev, nil
	}

	e.mu.Lock()
	f.stage = StageAttestationPending
	f.suspended = true
	e.mu.Unlock()
	e.logger.Warn("commissioning suspended on attestation verdict", "device", f.deviceID, "verdict", verdict)
	e.logState(f.deviceID, StageAttestation.String(), StageAttestationPending.String(), verdict.String())
	e.notify(f, StageAttestationPending, verdictError(op, verdict))

	select {
	case r := <-f.resume:
		if !r.IsSuccess() {
			return nil, verdictError(op, r)
		}
		return ev, nil
	case <-f.ctx.Done():
		return nil, context.Cause(f.ctx)
	}
}

// requestCSR fetches the device CSR and returns its public key after
// checking the DAC signature and the nonce echo.
func (e *Engine) requestCSR(f *flow, ev *attestation.Evidence) (*ecdsa.PublicKey, error) {
	const op = "commissioning.CSR"

	nonce := f.params.csrNonce
	var resp wire.CSRResponse
	if err := f.ch.Invoke(f.ctx, wire.MessageTypeCSRRequest, &wire.CSRRequest{Nonce: nonce}, &resp); err != nil {
		return nil, err
	}
	if !attestation.CheckSignature(ev.DAC, resp.Elements, f.ch.AttestationChallenge(), resp.Signature) {
		return nil, failure.New(failure.KindProtocol, op, ErrCSRSignature)
	}
	var elements wire.CSRElements
	if err := wire.Unmarshal(resp.Elements, &elements); err != nil {
		return nil, failure.New(failure.KindProtocol, op, err)
	}
	if !bytes.Equal(elements.Nonce, nonce) {
		return nil, failure.New(failure.KindProtocol, op, ErrCSRNonce)
	}
	pub, err := cert.ParseCSR(elements.CSR)
	if err != nil {
		return nil, failure.New(failure.KindProtocol, op, err)
	}
	return pub, nil
}

// rollback asks the device to expire its fail-safe, reverting whatever
// was installed. Errors are ignored; the device expires it on its own.
func (e *Engine) rollback(f *flow) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = f.ch.Invoke(ctx, wire.MessageTypeArmFailSafe, &wire.ArmFailSafe{}, nil)
}

func (e *Engine) enter(f *flow, s Stage) {
	e.mu.Lock()
	prev := f.stage
	f.stage = s
	e.mu.Unlock()

	e.logger.Debug("commissioning stage", "device", f.deviceID, "stage", s)
	e.logState(f.deviceID, prev.String(), s.String(), "")
	if prev != StageIdle && prev != StageAttestationPending {
		e.notify(f, prev, nil)
	}
}

// fail classifies a stage error and reports it.
func (e *Engine) fail(f *flow, s Stage, err error) error {
	err = classify(f.ctx, "commissioning."+s.String(), err)
	e.notify(f, s, err)
	return err
}

func (e *Engine) notify(f *flow, s Stage, err error) {
	if e.cfg.Notifier != nil {
		e.cfg.Notifier.NotifyCommissioningStatus(f.deviceID, s.String(), err)
	}
}

func (e *Engine) logState(deviceID fabric.NodeID, from, to, reason string) {
	if e.cfg.ProtocolLogger == nil {
		return
	}
	e.cfg.ProtocolLogger.Log(log.NewStateEvent(log.RoleCommissioner, log.StateEntityCommissioning, deviceID.String(), from, to, reason))
}

// attestationTimeout bounds the delegate so its verdict lands while the
// fail-safe armed with expiry still has a quarter left for the operator
// to continue.
func attestationTimeout(expiry time.Duration) time.Duration {
	return min(expiry-expiry/4, attestation.DefaultTimeout)
}

func verdictError(op string, r attestation.Result) error {
	if r == attestation.ResultTimeout {
		return failure.New(failure.KindTimeout, op, ErrAttestationTimeout)
	}
	return failure.New(failure.KindProtocol, op, fmt.Errorf("%w: %s", ErrAttestationFailed, r))
}

// classify maps a stage error onto a failure kind. A flow aborted by the
// fail-safe reports Timeout; one aborted by Close reports NotRunning.
func classify(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		switch cause := context.Cause(ctx); {
		case errors.Is(cause, failsafe.ErrExpired):
			return failure.New(failure.KindTimeout, op, cause)
		case errors.Is(cause, ErrClosed):
			return failure.New(failure.KindNotRunning, op, cause)
		}
	}

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
