package scheduler

import (
	"log/slog"
	"time"

	"github.com/BTreeMap/FocusCoin/internal/clock"
	"github.com/BTreeMap/FocusCoin/internal/models"
)

// Maintenance job schedules.
const (
	OutboxRecoveryExpr = "@every 1m"
	CheckpointExpr     = "@every 30s"
)

// OutboxRecoverer requeues outbox rows stuck in the sending state.
type OutboxRecoverer interface {
	RecoverStaleMessages() error
}

// Checkpointer reconciles and persists the timer.
type Checkpointer interface {
	Recompute(now time.Time) models.TimerState
}

// OutboxRecoveryJob returns the job that requeues stale outbox rows.
func OutboxRecoveryJob(r OutboxRecoverer) func() {
	return func() {
		if err := r.RecoverStaleMessages(); err != nil {
			slog.Error("Scheduler: outbox recovery failed", "error", err)
		}
	}
}

// CheckpointJob returns the job that recomputes the timer so a crash loses
// at most one interval of progress.
func CheckpointJob(c Checkpointer, clk clock.Clock) func() {
	return func() {
		s := c.Recompute(clk.Now())
		slog.Debug("Scheduler: timer checkpoint", "status", s.Status(), "remaining", s.RemainingSeconds)
	}
}

// AddMaintenance schedules the outbox recovery and checkpoint jobs. Either
// may be nil to skip it.
func (s *Scheduler) AddMaintenance(outbox OutboxRecoverer, timer Checkpointer, clk clock.Clock) error {
	if outbox != nil {
		if err := s.AddJob("outbox-recovery", OutboxRecoveryExpr, OutboxRecoveryJob(outbox)); err != nil {
			return err
		}
	}
	if timer != nil {
		if err := s.AddJob("checkpoint", CheckpointExpr, CheckpointJob(timer, clk)); err != nil {
			return err
		}
	}
	return nil
}
