package store

import (
	"encoding/json"
	"fmt"

	"github.com/BTreeMap/FocusCoin/internal/models"
)

// Keys used in the StateStore.
const (
	// TimerStateKey holds the JSON-encoded models.TimerState.
	TimerStateKey = "timer_state"
	// TimerMirrorKey holds the best-effort projection written while the host is hidden.
	TimerMirrorKey = "timer_mirror"
)

// TimerMirror is the projected view of a running timer written while the host
// is hidden, so a value exists if the process dies before it is visible again.
type TimerMirror struct {
	Mode             models.Mode  `json:"mode" yaml:"mode"`
	Phase            models.Phase `json:"phase" yaml:"phase"`
	RemainingSeconds int          `json:"remainingSeconds" yaml:"remaining_seconds"`
	ElapsedSeconds   int          `json:"elapsedSeconds" yaml:"elapsed_seconds"`
	AtEpochMs        int64        `json:"atEpochMs" yaml:"at_epoch_ms"`
}

// LoadTimerState reads the persisted timer state. found is false when nothing
// was stored yet; a decode failure is returned as an error so the caller can
// treat the state as corrupt.
func LoadTimerState(s StateStore) (state models.TimerState, found bool, err error) {
	raw, ok, err := s.Get(TimerStateKey)
	if err != nil {
		return models.TimerState{}, false, fmt.Errorf("read timer state: %w", err)
	}
	if !ok || raw == "" {
		return models.TimerState{}, false, nil
	}
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return models.TimerState{}, true, fmt.Errorf("decode timer state: %w", err)
	}
	return state, true, nil
}

// SaveTimerState writes the timer state.
func SaveTimerState(s StateStore, state models.TimerState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode timer state: %w", err)
	}
	if err := s.Set(TimerStateKey, string(data)); err != nil {
		return fmt.Errorf("write timer state: %w", err)
	}
	return nil
}

// SaveTimerMirror writes the hidden-time mirror.
func SaveTimerMirror(s StateStore, mirror TimerMirror) error {
	data, err := json.Marshal(mirror)
	if err != nil {
		return fmt.Errorf("encode timer mirror: %w", err)
	}
	return s.Set(TimerMirrorKey, string(data))
}

// LoadTimerMirror reads the hidden-time mirror, if any.
func LoadTimerMirror(s StateStore) (TimerMirror, bool, error) {
	var mirror TimerMirror
	raw, ok, err := s.Get(TimerMirrorKey)
	if err != nil || !ok {
		return mirror, false, err
	}
	if err := json.Unmarshal([]byte(raw), &mirror); err != nil {
		return mirror, false, fmt.Errorf("decode timer mirror: %w", err)
	}
	return mirror, true, nil
}
