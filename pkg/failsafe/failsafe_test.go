package failsafe

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestTimerInitialState(t *testing.T) {
	timer := NewTimer()

	if timer.State() != StateDisarmed {
		t.Errorf("State() = %v, want StateDisarmed", timer.State())
	}
	if timer.IsArmed() {
		t.Error("IsArmed() = true, want false")
	}
	if timer.RemainingTime() != 0 {
		t.Errorf("RemainingTime() = %v, want 0", timer.RemainingTime())
	}
}

func TestValidateExpiry(t *testing.T) {
	tests := []struct {
		name    string
		expiry  time.Duration
		wantErr bool
	}{
		{"Zero", 0, true},
		{"SubSecond", 500 * time.Millisecond, true},
		{"MinValid", MinExpiry, false},
		{"Default", DefaultExpiry, false},
		{"MaxValid", MaxExpiry, false},
		{"TooLong", MaxExpiry + time.Second, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateExpiry(tt.expiry)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateExpiry(%v) error = %v, wantErr %v", tt.expiry, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidExpiry) {
				t.Errorf("error %v does not wrap ErrInvalidExpiry", err)
			}
		})
	}
}

func TestSeconds(t *testing.T) {
	if got := Seconds(90 * time.Second); got != 90 {
		t.Errorf("Seconds(90s) = %d, want 90", got)
	}
	if got := Seconds(MaxExpiry); got != 65535 {
		t.Errorf("Seconds(MaxExpiry) = %d, want 65535", got)
	}
}

func TestTimerArmRejectsInvalidExpiry(t *testing.T) {
	timer := NewTimer()
	if err := timer.Arm(0); !errors.Is(err, ErrInvalidExpiry) {
		t.Fatalf("Arm(0) = %v, want ErrInvalidExpiry", err)
	}
	if timer.State() != StateDisarmed {
		t.Errorf("State() = %v after rejected Arm", timer.State())
	}
}

func TestTimerArmDisarm(t *testing.T) {
	timer := NewTimer()

	var mu sync.Mutex
	var transitions []State
	timer.OnStateChange(func(_, newState State) {
		mu.Lock()
		transitions = append(transitions, newState)
		mu.Unlock()
	})

	if err := timer.Arm(time.Minute); err != nil {
		t.Fatalf("Arm: %v", err)
	}
	if !timer.IsArmed() {
		t.Fatal("IsArmed() = false after Arm")
	}
	if r := timer.RemainingTime(); r <= 0 || r > time.Minute {
		t.Errorf("RemainingTime() = %v", r)
	}

	timer.Disarm()
	timer.Disarm()

	mu.Lock()
	defer mu.Unlock()
	if len(transitions) != 2 || transitions[0] != StateArmed || transitions[1] != StateDisarmed {
		t.Errorf("transitions = %v, want [ARMED DISARMED]", transitions)
	}
}

func TestTimerExpires(t *testing.T) {
	timer := NewTimer()

	fired := make(chan struct{}, 2)
	timer.OnExpire(func() { fired <- struct{}{} })

	if err := timer.Arm(MinExpiry); err != nil {
		t.Fatalf("Arm: %v", err)
	}

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("OnExpire not called")
	}
	if timer.State() != StateExpired {
		t.Errorf("State() = %v, want StateExpired", timer.State())
	}

	select {
	case <-fired:
		t.Error("OnExpire called twice")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTimerDisarmPreventsExpiry(t *testing.T) {
	timer := NewTimer()

	fired := make(chan struct{}, 1)
	timer.OnExpire(func() { fired <- struct{}{} })

	if err := timer.Arm(MinExpiry); err != nil {
		t.Fatalf("Arm: %v", err)
	}
	timer.Disarm()

	select {
	case <-fired:
		t.Error("OnExpire called after Disarm")
	case <-time.After(MinExpiry + 200*time.Millisecond):
	}
}

func TestTimerRearmReplacesDeadline(t *testing.T) {
	timer := NewTimer()

	fired := make(chan struct{}, 2)
	timer.OnExpire(func() { fired <- struct{}{} })

	if err := timer.Arm(MinExpiry); err != nil {
		t.Fatalf("Arm: %v", err)
	}
	if err := timer.Arm(time.Hour); err != nil {
		t.Fatalf("re-Arm: %v", err)
	}

	select {
	case <-fired:
		t.Error("replaced deadline fired")
	case <-time.After(MinExpiry + 200*time.Millisecond):
	}
	if !timer.IsArmed() {
		t.Errorf("State() = %v, want StateArmed", timer.State())
	}
	timer.Disarm()
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateDisarmed, "DISARMED"},
		{StateArmed, "ARMED"},
		{StateExpired, "EXPIRED"},
		{State(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
