package timing

import "time"

// Timer is a one-shot timeout measured against a Clock
type Timer struct {
	clock   Clock
	timeout time.Duration
	start   time.Time
	running bool
}

// NewTimer creates a stopped timer. A nil clock uses the system clock.
func NewTimer(clock Clock, timeout time.Duration) *Timer {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Timer{clock: clock, timeout: timeout}
}

// Start (re)arms the timer from now
func (t *Timer) Start() {
	t.start = t.clock.Now()
	t.running = true
}

// HasExpired reports whether a running timer has reached its timeout.
// A timer that was never started or has a zero timeout never expires.
func (t *Timer) HasExpired() bool {
	if !t.running || t.timeout <= 0 {
		return false
	}
	return t.Elapsed() >= t.timeout
}

// Elapsed returns the time since Start, or 0 before the first Start
func (t *Timer) Elapsed() time.Duration {
	if !t.running {
		return 0
	}
	return t.clock.Now().Sub(t.start)
}

// Remaining returns the time left before expiry, never negative
func (t *Timer) Remaining() time.Duration {
	if !t.running {
		return 0
	}
	if r := t.timeout - t.Elapsed(); r > 0 {
		return r
	}
	return 0
}
