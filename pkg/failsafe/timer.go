package failsafe

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Fail-safe expiry bounds. The wire field is a 16-bit second count.
const (
	MinExpiry     = 1 * time.Second
	MaxExpiry     = 65535 * time.Second
	DefaultExpiry = 60 * time.Second
)

// Timer errors.
var (
	ErrInvalidExpiry = errors.New("invalid fail-safe expiry")
	ErrExpired       = errors.New("fail-safe expired")
)

// State represents the fail-safe state.
type State uint8

const (
	// StateDisarmed indicates no fail-safe is armed.
	StateDisarmed State = iota

	// StateArmed indicates the fail-safe is armed and counting down.
	StateArmed

	// StateExpired indicates the armed deadline passed.
	StateExpired
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisarmed:
		return "DISARMED"
	case StateArmed:
		return "ARMED"
	case StateExpired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// ValidateExpiry checks that d fits the fail-safe expiry range.
func ValidateExpiry(d time.Duration) error {
	if d < MinExpiry || d > MaxExpiry {
		return fmt.Errorf("%w: %s (want %s..%s)", ErrInvalidExpiry, d, MinExpiry, MaxExpiry)
	}
	return nil
}

// Seconds returns d as the wire expiry field. d must be valid.
func Seconds(d time.Duration) uint16 {
	return uint16(d / time.Second)
}

// Timer tracks one armed fail-safe.
type Timer struct {
	mu sync.Mutex

	state     State
	expiry    time.Duration
	armedAt   time.Time
	timer     *time.Timer

	// generation invalidates callbacks of replaced timers.
	generation uint64

	onStateChange func(oldState, newState State)
	onExpire      func()
}

// NewTimer creates a disarmed timer.
func NewTimer() *Timer {
	return &Timer{state: StateDisarmed}
}

// State returns the current fail-safe state.
func (t *Timer) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// IsArmed returns true while the fail-safe is counting down.
func (t *Timer) IsArmed() bool {
	return t.State() == StateArmed
}

// Arm starts (or restarts) the countdown.
func (t *Timer) Arm(expiry time.Duration) error {
	if err := ValidateExpiry(expiry); err != nil {
		return err
	}

	t.mu.Lock()
	if t.timer != nil {
		t.timer.Stop()
	}
	oldState := t.state
	t.state = StateArmed
	t.expiry = expiry
	t.armedAt = time.Now()
	t.generation++
	gen := t.generation
	t.timer = time.AfterFunc(expiry, func() { t.expire(gen) })
	fn := t.onStateChange
	t.mu.Unlock()

	if fn != nil && oldState != StateArmed {
		fn(oldState, StateArmed)
	}
	return nil
}

// Disarm stops the countdown. It is a no-op when already disarmed.
func (t *Timer) Disarm() {
	t.mu.Lock()
	if t.state == StateDisarmed {
		t.mu.Unlock()
		return
	}
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	oldState := t.state
	t.state = StateDisarmed
	t.generation++
	t.armedAt = time.Time{}
	fn := t.onStateChange
	t.mu.Unlock()

	if fn != nil {
		fn(oldState, StateDisarmed)
	}
}

// RemainingTime returns the time until expiry, or 0 when not armed.
func (t *Timer) RemainingTime() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateArmed {
		return 0
	}
	remaining := t.expiry - time.Since(t.armedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (t *Timer) expire(gen uint64) {
	t.mu.Lock()
	if t.state != StateArmed || gen != t.generation {
		t.mu.Unlock()
		return
	}
	t.state = StateExpired
	t.timer = nil
	stateFn := t.onStateChange
	expireFn := t.onExpire
	t.mu.Unlock()

	if stateFn != nil {
		stateFn(StateArmed, StateExpired)
	}
	if expireFn != nil {
		expireFn()
	}
}

// OnStateChange sets a callback for state changes. Callbacks run without
// the timer lock held.
func (t *Timer) OnStateChange(fn func(oldState, newState State)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onStateChange = fn
}

// OnExpire sets the callback fired once per armed period that elapses.
func (t *Timer) OnExpire(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onExpire = fn
}
