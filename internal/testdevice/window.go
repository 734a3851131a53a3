package testdevice

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Window timeout bounds, matching the 16-bit seconds field of the
// window commands.
const (
	MinWindowTimeout = time.Second
	MaxWindowTimeout = 65535 * time.Second

	// FactoryWindowTimeout is how long the onboarding window stays open.
	FactoryWindowTimeout = 15 * time.Minute
)

// WindowState is the state of the device's commissioning window.
type WindowState uint8

const (
	WindowClosed WindowState = iota
	WindowOpen
	WindowPASEInProgress
)

var windowStateNames = [...]string{"CLOSED", "OPEN", "PASE_IN_PROGRESS"}

func (s WindowState) String() string {
	if int(s) < len(windowStateNames) {
		return windowStateNames[s]
	}
	return "UNKNOWN"
}

var (
	ErrWindowClosed    = errors.New("commissioning window is closed")
	ErrWindowBusy      = errors.New("commissioning already in progress")
	ErrWindowNotInPASE = errors.New("not in PASE state")
	ErrInvalidTimeout  = errors.New("invalid timeout value")
	ErrInvalidSession  = errors.New("invalid session ID")
)

// OpenTrigger records which command opened the window.
type OpenTrigger uint8

const (
	// TriggerFactory is the onboarding window of an uncommissioned device.
	TriggerFactory OpenTrigger = iota
	// TriggerBasic is OpenBasicCommissioningWindow.
	TriggerBasic
	// TriggerEnhanced is OpenCommissioningWindow with a commissioner
	// supplied verifier.
	TriggerEnhanced
)

var triggerNames = [...]string{"FACTORY", "BASIC", "ENHANCED"}

func (t OpenTrigger) String() string {
	if int(t) < len(triggerNames) {
		return triggerNames[t]
	}
	return "UNKNOWN"
}

// Credentials are the PASE parameters an open window accepts.
type Credentials struct {
	Verifier      []byte
	Salt          []byte
	Iterations    uint32
	Discriminator uint16
}

// Window admits one PASE exchange at a time until its deadline passes.
// A deadline that passes mid-exchange closes the window when the
// exchange ends instead.
type Window struct {
	mu       sync.Mutex
	state    WindowState
	trigger  OpenTrigger
	creds    Credentials
	deadline time.Time
	expiry   *time.Timer
	session  string
}

// NewWindow returns a closed window.
func NewWindow() *Window {
	return &Window{}
}

func (w *Window) State() WindowState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Window) IsOpen() bool { return w.State() == WindowOpen }

func (w *Window) Trigger() OpenTrigger {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.trigger
}

// Credentials returns what the window was opened with.
func (w *Window) Credentials() (Credentials, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == WindowClosed {
		return Credentials{}, ErrWindowClosed
	}
	return w.creds, nil
}

// Open (re)opens the window. Re-opening replaces the credentials and
// restarts the deadline.
func (w *Window) Open(trigger OpenTrigger, creds Credentials, timeout time.Duration) error {
	if timeout < MinWindowTimeout || timeout > MaxWindowTimeout {
		return fmt.Errorf("%w: %s", ErrInvalidTimeout, timeout)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == WindowPASEInProgress {
		return ErrWindowBusy
	}
	w.state, w.trigger, w.creds, w.session = WindowOpen, trigger, creds, ""
	w.armLocked(timeout)
	return nil
}

func (w *Window) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closeLocked()
}

// BeginPASE claims the open window for one exchange.
func (w *Window) BeginPASE() (string, Credentials, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch w.state {
	case WindowClosed:
		return "", Credentials{}, ErrWindowClosed
	case WindowPASEInProgress:
		return "", Credentials{}, ErrWindowBusy
	}
	w.state = WindowPASEInProgress
	w.session = uuid.NewString()
	return w.session, w.creds, nil
}

// EndPASE releases the window. Success closes it; failure reopens it if
// the deadline has not passed.
func (w *Window) EndPASE(sessionID string, success bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != WindowPASEInProgress {
		return ErrWindowNotInPASE
	}
	if w.session != sessionID {
		return ErrInvalidSession
	}
	w.session = ""
	if success || !time.Now().Before(w.deadline) {
		w.closeLocked()
		return nil
	}
	w.state = WindowOpen
	return nil
}

func (w *Window) armLocked(timeout time.Duration) {
	if w.expiry != nil {
		w.expiry.Stop()
	}
	w.deadline = time.Now().Add(timeout)
	w.expiry = time.AfterFunc(timeout, w.expire)
}

func (w *Window) expire() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == WindowOpen && !time.Now().Before(w.deadline) {
		w.closeLocked()
	}
}

func (w *Window) closeLocked() {
	w.state = WindowClosed
	w.session = ""
	w.creds = Credentials{}
	w.deadline = time.Time{}
	if w.expiry != nil {
		w.expiry.Stop()
		w.expiry = nil
	}
}
