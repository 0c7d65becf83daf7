// Package recovery runs the ordered startup steps that bring FocusCoin back
// to a consistent state after a restart or crash.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
)

// Recoverable defines the interface for components that can recover their state
type Recoverable interface {
	// RecoverState is called once during application startup
	RecoverState(ctx context.Context) error
}

// RecoverableFunc adapts a function to Recoverable.
type RecoverableFunc func(ctx context.Context) error

// RecoverState calls f.
func (f RecoverableFunc) RecoverState(ctx context.Context) error {
	return f(ctx)
}

type step struct {
	name string
	r    Recoverable
}

// RecoveryManager runs registered steps in registration order
type RecoveryManager struct {
	steps []step
}

// NewRecoveryManager creates a new recovery manager
func NewRecoveryManager() *RecoveryManager {
	return &RecoveryManager{}
}

// RegisterRecoverable adds a named step. Steps run in the order they are registered.
func (rm *RecoveryManager) RegisterRecoverable(name string, r Recoverable) {
	rm.steps = append(rm.steps, step{name: name, r: r})
}

// Steps returns the registered step names in run order.
func (rm *RecoveryManager) Steps() []string {
	names := make([]string, len(rm.steps))
	for i, s := range rm.steps {
		names[i] = s.name
	}
	return names
}

// RecoverAll runs every step. A failing step is logged and the remaining
// steps still run; the returned error reports how many failed.
func (rm *RecoveryManager) RecoverAll(ctx context.Context) error {
	slog.Info("RecoveryManager.RecoverAll: starting recovery", "steps", len(rm.steps))

	var failed []string
	for _, s := range rm.steps {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("recovery interrupted before %s: %w", s.name, err)
		}
		if err := s.r.RecoverState(ctx); err != nil {
			slog.Error("RecoveryManager.RecoverAll: step failed", "step", s.name, "error", err)
			failed = append(failed, s.name)
			continue
		}
		slog.Debug("RecoveryManager.RecoverAll: step completed", "step", s.name)
	}

	slog.Info("RecoveryManager.RecoverAll: recovery completed", "recovered", len(rm.steps)-len(failed), "errors", len(failed))

	if len(failed) > 0 {
		return fmt.Errorf("recovery completed with %d errors out of %d steps: %v", len(failed), len(rm.steps), failed)
	}
	return nil
}
