package models

import (
	"errors"
	"fmt"
)

// Default plan durations.
const (
	DefaultPomodoroSeconds  = 25 * 60
	DefaultBreakSeconds     = 5 * 60
	DefaultCountdownSeconds = 10 * 60
	DefaultCycleCount       = 4
)

// ErrInvalidPlan is returned when a session plan has a non-positive duration or cycle count.
var ErrInvalidPlan = errors.New("invalid session plan")

// SessionPlan holds the user-configured durations. It is not changed while a timer runs.
type SessionPlan struct {
	PomodoroSeconds  int `json:"pomodoroSeconds" yaml:"pomodoro_seconds"`
	BreakSeconds     int `json:"breakSeconds" yaml:"break_seconds"`
	CountdownSeconds int `json:"countdownSeconds" yaml:"countdown_seconds"`
	CycleCount       int `json:"cycleCount" yaml:"cycle_count"`
}

// DefaultPlan returns the built-in 25/5 plan with four cycles.
func DefaultPlan() SessionPlan {
	return SessionPlan{
		PomodoroSeconds:  DefaultPomodoroSeconds,
		BreakSeconds:     DefaultBreakSeconds,
		CountdownSeconds: DefaultCountdownSeconds,
		CycleCount:       DefaultCycleCount,
	}
}

// Validate checks that every duration and the cycle count are positive.
func (p SessionPlan) Validate() error {
	switch {
	case p.PomodoroSeconds <= 0:
		return fmt.Errorf("%w: pomodoroSeconds must be positive, got %d", ErrInvalidPlan, p.PomodoroSeconds)
	case p.BreakSeconds <= 0:
		return fmt.Errorf("%w: breakSeconds must be positive, got %d", ErrInvalidPlan, p.BreakSeconds)
	case p.CountdownSeconds <= 0:
		return fmt.Errorf("%w: countdownSeconds must be positive, got %d", ErrInvalidPlan, p.CountdownSeconds)
	case p.CycleCount < 1:
		return fmt.Errorf("%w: cycleCount must be at least 1, got %d", ErrInvalidPlan, p.CycleCount)
	}
	return nil
}

// PlanUpdate is a partial plan; nil fields keep their current value.
type PlanUpdate struct {
	PomodoroSeconds  *int `json:"pomodoroSeconds,omitempty"`
	BreakSeconds     *int `json:"breakSeconds,omitempty"`
	CountdownSeconds *int `json:"countdownSeconds,omitempty"`
	CycleCount       *int `json:"cycleCount,omitempty"`
}

// IsEmpty reports whether the update changes nothing.
func (u PlanUpdate) IsEmpty() bool {
	return u.PomodoroSeconds == nil && u.BreakSeconds == nil && u.CountdownSeconds == nil && u.CycleCount == nil
}

// Apply returns p with the non-nil fields of u applied. The result is not validated.
func (p SessionPlan) Apply(u PlanUpdate) SessionPlan {
	if u.PomodoroSeconds != nil {
		p.PomodoroSeconds = *u.PomodoroSeconds
	}
	if u.BreakSeconds != nil {
		p.BreakSeconds = *u.BreakSeconds
	}
	if u.CountdownSeconds != nil {
		p.CountdownSeconds = *u.CountdownSeconds
	}
	if u.CycleCount != nil {
		p.CycleCount = *u.CycleCount
	}
	return p
}
