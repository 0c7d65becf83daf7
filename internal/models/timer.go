package models

import (
	"errors"
	"fmt"
	"strings"
)

// Mode selects which kind of timer runs.
type Mode string

const (
	ModePomodoro  Mode = "pomodoro"
	ModeCountdown Mode = "countdown"
	ModeStopwatch Mode = "stopwatch"
)

// Phase is the half of a pomodoro cycle. Outside pomodoro mode it is always PhaseWork.
type Phase string

const (
	PhaseWork  Phase = "work"
	PhaseBreak Phase = "break"
)

// Segment names a contiguous timed stretch, used in completion events.
type Segment string

const (
	SegmentWork      Segment = "work"
	SegmentBreak     Segment = "break"
	SegmentCountdown Segment = "countdown"
	SegmentStopwatch Segment = "stopwatch"
	SegmentIdle      Segment = "idle"
)

// Status is the state-machine state derived from a TimerState.
type Status string

const (
	StatusIdle             Status = "idle"
	StatusWorkRunning      Status = "work_running"
	StatusWorkPaused       Status = "work_paused"
	StatusBreakRunning     Status = "break_running"
	StatusBreakPaused      Status = "break_paused"
	StatusCountdownRunning Status = "countdown_running"
	StatusCountdownPaused  Status = "countdown_paused"
	StatusStopwatchRunning Status = "stopwatch_running"
	StatusStopwatchPaused  Status = "stopwatch_paused"
)

var (
	// ErrInvalidMode is returned for an unknown mode name.
	ErrInvalidMode = errors.New("invalid timer mode")
	// ErrInvalidState is returned by TimerState.Validate.
	ErrInvalidState = errors.New("invalid timer state")
)

// ParseMode converts a case-insensitive name into a Mode.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
	return m, nil
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModePomodoro, ModeCountdown, ModeStopwatch:
		return true
	}
	return false
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	return p == PhaseWork || p == PhaseBreak
}

// TimerState is the single persisted entity. Timestamps are Unix epoch milliseconds.
type TimerState struct {
	Mode             Mode  `json:"mode" yaml:"mode"`
	Phase            Phase `json:"phase" yaml:"phase"`
	RemainingSeconds int   `json:"remainingSeconds" yaml:"remaining_seconds"`
	ElapsedSeconds   int   `json:"elapsedSeconds" yaml:"elapsed_seconds"`
	IsRunning        bool  `json:"isRunning" yaml:"is_running"`

	StartedAtMs *int64 `json:"startedAtEpochMs" yaml:"started_at_epoch_ms"`
	PausedAtMs  *int64 `json:"pausedAtEpochMs" yaml:"paused_at_epoch_ms"`
	// AnchorMs is the instant the last recompute accounted up to.
	AnchorMs *int64 `json:"anchorEpochMs" yaml:"anchor_epoch_ms"`
	// CarryMs holds the sub-second remainder across a pause, always in [0, 1000).
	CarryMs             int64 `json:"carryMs" yaml:"carry_ms"`
	AccumulatedPausedMs int64 `json:"accumulatedPausedMs" yaml:"accumulated_paused_ms"`

	CycleIndex            int         `json:"cycleIndex" yaml:"cycle_index"`
	Plan                  SessionPlan `json:"sessionPlan" yaml:"session_plan"`
	MinutesRewarded       int         `json:"minutesRewarded" yaml:"minutes_rewarded"`
	UnsavedElapsedSeconds int         `json:"unsavedElapsedSeconds" yaml:"unsaved_elapsed_seconds"`

	SegmentID   string `json:"segmentId" yaml:"segment_id"`
	TaskID      string `json:"taskId,omitempty" yaml:"task_id,omitempty"`
	UpdatedAtMs int64  `json:"updatedAtEpochMs" yaml:"updated_at_epoch_ms"`
}

// NewTimerState returns an idle state for mode with the plan's full duration loaded.
func NewTimerState(plan SessionPlan, mode Mode) TimerState {
	s := TimerState{
		Mode:  mode,
		Phase: PhaseWork,
		Plan:  plan,
	}
	s.RemainingSeconds = s.SegmentSeconds()
	return s
}

// Segment returns the kind of segment the state is in.
func (s TimerState) Segment() Segment {
	switch s.Mode {
	case ModePomodoro:
		if s.Phase == PhaseBreak {
			return SegmentBreak
		}
		return SegmentWork
	case ModeCountdown:
		return SegmentCountdown
	case ModeStopwatch:
		return SegmentStopwatch
	}
	return SegmentIdle
}

// SegmentSeconds is the planned length of the current segment. Stopwatch segments have none.
func (s TimerState) SegmentSeconds() int {
	switch s.Segment() {
	case SegmentWork:
		return s.Plan.PomodoroSeconds
	case SegmentBreak:
		return s.Plan.BreakSeconds
	case SegmentCountdown:
		return s.Plan.CountdownSeconds
	}
	return 0
}

// CountsDown reports whether the mode decrements RemainingSeconds.
func (s TimerState) CountsDown() bool {
	return s.Mode == ModePomodoro || s.Mode == ModeCountdown
}

// Rewardable reports whether elapsed minutes in the current segment earn coins.
func (s TimerState) Rewardable() bool {
	seg := s.Segment()
	return seg == SegmentWork || seg == SegmentCountdown
}

// CountsTimeSpent reports whether elapsed seconds feed the time-spent accumulator.
// Breaks do not.
func (s TimerState) CountsTimeSpent() bool {
	return s.Segment() != SegmentBreak
}

// ConsumedSeconds is how far into the current segment the state is.
func (s TimerState) ConsumedSeconds() int {
	if !s.CountsDown() {
		return s.ElapsedSeconds
	}
	return s.SegmentSeconds() - s.RemainingSeconds
}

// Status derives the state-machine state.
func (s TimerState) Status() Status {
	if !s.IsRunning && s.PausedAtMs == nil {
		return StatusIdle
	}
	switch s.Segment() {
	case SegmentWork:
		return pick(s.IsRunning, StatusWorkRunning, StatusWorkPaused)
	case SegmentBreak:
		return pick(s.IsRunning, StatusBreakRunning, StatusBreakPaused)
	case SegmentCountdown:
		return pick(s.IsRunning, StatusCountdownRunning, StatusCountdownPaused)
	case SegmentStopwatch:
		return pick(s.IsRunning, StatusStopwatchRunning, StatusStopwatchPaused)
	}
	return StatusIdle
}

func pick(running bool, ifRunning, ifPaused Status) Status {
	if running {
		return ifRunning
	}
	return ifPaused
}

// Clone returns a deep copy; the timestamp pointers are not shared.
func (s TimerState) Clone() TimerState {
	s.StartedAtMs = cloneMillis(s.StartedAtMs)
	s.PausedAtMs = cloneMillis(s.PausedAtMs)
	s.AnchorMs = cloneMillis(s.AnchorMs)
	return s
}

func cloneMillis(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Validate checks the structural invariants of a loaded state. A state that
// fails is treated as corrupt and replaced.
func (s TimerState) Validate() error {
	if !s.Mode.Valid() {
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidState, s.Mode)
	}
	if !s.Phase.Valid() {
		return fmt.Errorf("%w: unknown phase %q", ErrInvalidState, s.Phase)
	}
	if s.Mode != ModePomodoro && s.Phase != PhaseWork {
		return fmt.Errorf("%w: phase %q outside pomodoro mode", ErrInvalidState, s.Phase)
	}
	if err := s.Plan.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if s.IsRunning {
		if s.StartedAtMs == nil || s.AnchorMs == nil {
			return fmt.Errorf("%w: running without start timestamps", ErrInvalidState)
		}
		if s.PausedAtMs != nil {
			return fmt.Errorf("%w: running and paused at once", ErrInvalidState)
		}
		if s.SegmentID == "" {
			return fmt.Errorf("%w: running without a segment id", ErrInvalidState)
		}
	} else if s.StartedAtMs != nil || s.AnchorMs != nil {
		return fmt.Errorf("%w: start timestamps set while stopped", ErrInvalidState)
	}
	if s.RemainingSeconds < 0 || s.ElapsedSeconds < 0 || s.UnsavedElapsedSeconds < 0 ||
		s.MinutesRewarded < 0 || s.AccumulatedPausedMs < 0 {
		return fmt.Errorf("%w: negative counter", ErrInvalidState)
	}
	if s.CarryMs < 0 || s.CarryMs >= 1000 {
		return fmt.Errorf("%w: carry %dms out of range", ErrInvalidState, s.CarryMs)
	}
	if s.CountsDown() && s.RemainingSeconds > s.SegmentSeconds() {
		return fmt.Errorf("%w: remaining %ds exceeds segment %ds", ErrInvalidState, s.RemainingSeconds, s.SegmentSeconds())
	}
	if s.MinutesRewarded > s.SegmentSeconds()/60 {
		return fmt.Errorf("%w: %d minutes rewarded exceeds segment length", ErrInvalidState, s.MinutesRewarded)
	}
	if s.CycleIndex < 0 || s.CycleIndex > s.Plan.CycleCount {
		return fmt.Errorf("%w: cycle index %d outside plan of %d", ErrInvalidState, s.CycleIndex, s.Plan.CycleCount)
	}
	return nil
}
