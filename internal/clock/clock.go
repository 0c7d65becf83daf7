// Package clock abstracts wall-clock reads and delayed callbacks so the timing
// engine can be driven deterministically in tests.
package clock

import "time"

// Clock provides the current time and one-shot delayed callbacks.
type Clock interface {
	// Now returns the current wall-clock time.
	Now() time.Time
	// AfterFunc calls f in its own goroutine (RealClock) or synchronously from
	// Advance (ManualClock) once d has elapsed.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending AfterFunc callback.
type Timer interface {
	// Stop prevents the callback from firing. It returns false if the callback
	// already fired or was already stopped.
	Stop() bool
}

// EpochMillis converts t to milliseconds since the Unix epoch, the form
// persisted in timer state.
func EpochMillis(t time.Time) int64 {
	return t.UnixMilli()
}

// RealClock implements Clock with the standard time package.
type RealClock struct{}

// NewRealClock creates a RealClock.
func NewRealClock() *RealClock {
	return &RealClock{}
}

// Now returns time.Now().
func (RealClock) Now() time.Time {
	return time.Now()
}

// AfterFunc wraps time.AfterFunc.
func (RealClock) AfterFunc(d time.Duration, f func()) Timer {
	return &realTimer{timer: time.AfterFunc(d, f)}
}

type realTimer struct {
	timer *time.Timer
}

func (t *realTimer) Stop() bool {
	return t.timer.Stop()
}
