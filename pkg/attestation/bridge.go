package attestation

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/mash-protocol/mash-commissioner/pkg/failure"
)

// DefaultTimeout bounds the delegate when no fail-safe expiry is given.
const DefaultTimeout = 60 * time.Second

// Bridge errors.
var (
	ErrDuplicateEvidence = errors.New("attestation evidence already received")
	ErrBridgeClosed      = errors.New("attestation bridge closed")
	ErrNoDelegate        = errors.New("attestation delegate is required")
)

// Delegate decides on attestation evidence. It must call respond at most
// once; later calls are ignored. It may respond asynchronously.
type Delegate interface {
	OnDeviceAttestation(ev *Evidence, respond func(Result))
}

// DelegateFunc adapts a synchronous verdict function to a Delegate.
type DelegateFunc func(*Evidence) Result

// OnDeviceAttestation calls f and responds with its result.
func (f DelegateFunc) OnDeviceAttestation(ev *Evidence, respond func(Result)) {
	respond(f(ev))
}

// BridgeConfig configures a Bridge.
type BridgeConfig struct {
	Delegate Delegate

	// Timeout bounds the delegate's answer (DefaultTimeout if zero).
	Timeout time.Duration

	// Executor runs the delegate call. Nil runs it on a new goroutine.
	Executor func(func())

	Logger *slog.Logger
}

// Bridge binds one delegate to one commissioning attempt and records
// exactly one verdict.
type Bridge struct {
	delegate Delegate
	timeout  time.Duration
	executor func(func())
	logger   *slog.Logger

	mu       sync.Mutex
	received bool
	closed   bool
	verdict  Result
	timer    *time.Timer
	done     chan struct{}
}

// NewBridge creates a bridge.
func NewBridge(cfg BridgeConfig) (*Bridge, error) {
	if cfg.Delegate == nil {
		return nil, failure.New(failure.KindInvalidArgument, "attestation.NewBridge", ErrNoDelegate)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Executor == nil {
		cfg.Executor = func(fn func()) { go fn() }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Bridge{
		delegate: cfg.Delegate,
		timeout:  cfg.Timeout,
		executor: cfg.Executor,
		logger:   logger.With("component", "attestation"),
		verdict:  ResultPending,
		done:     make(chan struct{}),
	}, nil
}

// HandleEvidence forwards evidence to the delegate and arms the timeout.
// The returned channel closes once a verdict is recorded or the bridge is
// closed. A second call is a misuse error.
func (b *Bridge) HandleEvidence(ev *Evidence) (<-chan struct{}, error) {
	const op = "attestation.HandleEvidence"

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, failure.New(failure.KindMisuse, op, ErrBridgeClosed)
	}
	if b.received {
		b.mu.Unlock()
		return nil, failure.New(failure.KindMisuse, op, ErrDuplicateEvidence)
	}
	b.received = true
	b.timer = time.AfterFunc(b.timeout, func() {
		if b.record(ResultTimeout) {
			b.logger.Warn("attestation delegate timed out", "device", ev.DeviceID, "timeout", b.timeout)
		}
	})
	b.mu.Unlock()

	b.executor(func() {
		b.delegate.OnDeviceAttestation(ev, func(r Result) {
			if !r.IsFinal() {
				r = ResultFailure
			}
			if !b.record(r) {
				b.logger.Debug("late attestation verdict ignored", "device", ev.DeviceID, "result", r)
			}
		})
	})
	return b.done, nil
}

// record stores the first verdict and reports whether r was the one kept.
func (b *Bridge) record(r Result) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || b.verdict.IsFinal() {
		return false
	}
	b.verdict = r
	if b.timer != nil {
		b.timer.Stop()
	}
	close(b.done)
	return true
}

// Verdict returns the recorded verdict, or ResultPending.
func (b *Bridge) Verdict() Result {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.verdict
}

// Done is closed once a verdict is recorded or the bridge is closed.
func (b *Bridge) Done() <-chan struct{} {
	return b.done
}

// Close stops the timer. A pending verdict stays pending.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	if b.timer != nil {
		b.timer.Stop()
	}
	if !b.verdict.IsFinal() {
		close(b.done)
	}
}
