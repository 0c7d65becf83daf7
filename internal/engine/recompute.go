package engine

import (
	"fmt"
	"log/slog"

	"github.com/BTreeMap/FocusCoin/internal/ledger"
	"github.com/BTreeMap/FocusCoin/internal/models"
	"github.com/BTreeMap/FocusCoin/internal/pubsub"
)

// reconciler holds the pure timing rules. It mutates a TimerState and records
// side effects but never touches the clock, the store or the network.
type reconciler struct {
	coinsPerMinute int
	catchUp        CatchUpPolicy
	newID          func() string
}

// advance reconciles s with the wall clock at nowMs. It reports whether s changed.
//
// Time is measured from s.AnchorMs, and the anchor moves forward by whole
// seconds only, so the sub-second remainder is kept for the next call.
func (r reconciler) advance(s *models.TimerState, nowMs int64, fx *effects) bool {
	if !s.IsRunning || s.AnchorMs == nil {
		return false
	}
	anchor := *s.AnchorMs
	elapsed := nowMs - anchor
	if elapsed < 0 {
		slog.Warn("Engine.recompute: clock moved backwards, re-anchoring", "anchorMs", anchor, "nowMs", nowMs, "skewMs", -elapsed)
		s.AnchorMs = &nowMs
		s.UpdatedAtMs = nowMs
		return true
	}

	delta := int(elapsed / 1000)
	if delta == 0 {
		return false
	}
	newAnchor := nowMs - elapsed%1000

	budget := delta
	for budget > 0 && s.IsRunning {
		if !s.CountsDown() {
			s.ElapsedSeconds += budget
			s.UnsavedElapsedSeconds += budget
			budget = 0
			break
		}

		step := budget
		if step > s.RemainingSeconds {
			step = s.RemainingSeconds
		}
		s.RemainingSeconds -= step
		budget -= step
		if s.CountsTimeSpent() {
			s.UnsavedElapsedSeconds += step
		}
		r.accrue(s, fx)

		if s.RemainingSeconds > 0 {
			break
		}
		boundary := anchor + int64(delta-budget)*1000
		r.completeSegment(s, boundary, fx)
		if r.catchUp == CatchUpSingle {
			break
		}
	}

	if s.IsRunning {
		s.AnchorMs = &newAnchor
	}
	s.UpdatedAtMs = nowMs
	return true
}

// accrue grants coins for whole minutes crossed since the last grant. The
// minute total comes from the absolute position in the segment, so any
// number of calls over any gap grants each minute once.
func (r reconciler) accrue(s *models.TimerState, fx *effects) {
	if !s.Rewardable() {
		return
	}
	total := s.ConsumedSeconds() / 60
	if total <= s.MinutesRewarded {
		return
	}
	minutes := total - s.MinutesRewarded
	s.MinutesRewarded = total
	if r.coinsPerMinute > 0 {
		fx.ledgerCall(ledger.Call{
			Kind:   ledger.KindGrantCoins,
			Amount: minutes * r.coinsPerMinute,
			Key:    coinsKey(s.SegmentID, total),
		})
	}
}

// flush moves the unsaved seconds into a time-spent call.
func (r reconciler) flush(s *models.TimerState, fx *effects) {
	if call, ok := takeUnsaved(s); ok {
		fx.ledgerCall(call)
	}
}

// takeUnsaved zeroes the accumulator and returns the call that reports it.
func takeUnsaved(s *models.TimerState) (ledger.Call, bool) {
	if s.UnsavedElapsedSeconds <= 0 {
		return ledger.Call{}, false
	}
	call := ledger.Call{
		Kind:    ledger.KindAddTimeSpent,
		Seconds: s.UnsavedElapsedSeconds,
		Key:     timeKey(s.SegmentID, s.ConsumedSeconds()),
	}
	s.UnsavedElapsedSeconds = 0
	return call, true
}

// completeSegment handles remaining reaching zero at boundaryMs.
func (r reconciler) completeSegment(s *models.TimerState, boundaryMs int64, fx *effects) {
	from := s.Segment()
	switch from {
	case models.SegmentWork:
		r.flush(s, fx)
		if s.TaskID != "" {
			fx.ledgerCall(ledger.Call{
				Kind:   ledger.KindCompleteTaskPomodoro,
				TaskID: s.TaskID,
				Key:    s.SegmentID + ":task",
			})
		}
		s.CycleIndex++
		r.beginSegment(s, models.PhaseBreak, boundaryMs)
		fx.emit(pubsub.SegmentCompletedEvent, Notification{State: s.Clone(), From: from, To: models.SegmentBreak})

	case models.SegmentBreak:
		if s.CycleIndex < s.Plan.CycleCount {
			r.beginSegment(s, models.PhaseWork, boundaryMs)
			fx.emit(pubsub.SegmentCompletedEvent, Notification{State: s.Clone(), From: from, To: models.SegmentWork})
			return
		}
		cycles := s.CycleIndex
		fx.emit(pubsub.SegmentCompletedEvent, Notification{State: s.Clone(), From: from, To: models.SegmentIdle})
		r.finishPlan(s, cycles, fx)

	case models.SegmentCountdown:
		r.flush(s, fx)
		fx.emit(pubsub.SegmentCompletedEvent, Notification{State: s.Clone(), From: from, To: models.SegmentIdle})
		r.finishPlan(s, 1, fx)
	}
}

// beginSegment starts the next segment of a running pomodoro at boundaryMs.
func (r reconciler) beginSegment(s *models.TimerState, phase models.Phase, boundaryMs int64) {
	s.Phase = phase
	s.RemainingSeconds = s.SegmentSeconds()
	s.MinutesRewarded = 0
	s.SegmentID = r.newID()
	s.StartedAtMs = &boundaryMs
	s.AccumulatedPausedMs = 0
}

// finishPlan returns s to idle with the plan's full duration restored.
func (r reconciler) finishPlan(s *models.TimerState, cycles int, fx *effects) {
	mode := s.Mode
	*s = idleState(*s, mode)
	fx.emit(pubsub.PlanCompletedEvent, Notification{State: s.Clone(), Mode: mode, Cycles: cycles})
}

// idleState is a fresh idle state for mode that keeps prev's plan and task.
func idleState(prev models.TimerState, mode models.Mode) models.TimerState {
	next := models.NewTimerState(prev.Plan, mode)
	next.TaskID = prev.TaskID
	next.UpdatedAtMs = prev.UpdatedAtMs
	return next
}

func coinsKey(segmentID string, minute int) string {
	return fmt.Sprintf("%s:coins:%d", segmentID, minute)
}

func timeKey(segmentID string, position int) string {
	return fmt.Sprintf("%s:time:%d", segmentID, position)
}
