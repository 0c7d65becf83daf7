package recovery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/FocusCoin/internal/store"
)

// Standard step names, in the order serve registers them.
const (
	StepOutbox = "outbox"
	StepEngine = "engine"
	StepMirror = "mirror"
)

// OutboxRecovery requeues outbox rows a crashed process left in the sending state.
func OutboxRecovery(sender interface{ RecoverStaleMessages() error }) Recoverable {
	return RecoverableFunc(func(ctx context.Context) error {
		if err := sender.RecoverStaleMessages(); err != nil {
			return fmt.Errorf("failed to requeue stale outbox messages: %w", err)
		}
		return nil
	})
}

// EngineRecovery restores the persisted timer, catching a running timer up
// to now.
func EngineRecovery(eng interface{ Restore() error }) Recoverable {
	return RecoverableFunc(func(ctx context.Context) error {
		if err := eng.Restore(); err != nil {
			return fmt.Errorf("failed to restore timer state: %w", err)
		}
		return nil
	})
}

// MirrorCleanup removes a hidden-time mirror left behind when the process
// died while hidden. The restored timer state is authoritative.
func MirrorCleanup(st store.StateStore) Recoverable {
	return RecoverableFunc(func(ctx context.Context) error {
		_, present, err := st.Get(store.TimerMirrorKey)
		if err != nil {
			return fmt.Errorf("failed to read timer mirror: %w", err)
		}
		if !present {
			return nil
		}
		if mirror, _, err := store.LoadTimerMirror(st); err != nil {
			slog.Warn("MirrorCleanup: discarding unreadable timer mirror", "error", err)
		} else {
			slog.Info("MirrorCleanup: discarding stale timer mirror",
				"mode", mirror.Mode,
				"remaining", mirror.RemainingSeconds,
				"at", mirror.AtEpochMs)
		}
		if err := st.Remove(store.TimerMirrorKey); err != nil {
			return fmt.Errorf("failed to remove timer mirror: %w", err)
		}
		return nil
	})
}
