// Package engine implements the session timing engine: the pomodoro,
// countdown and stopwatch state machine, its wall-clock reconciliation and
// the reward side effects it produces.
//
// All state lives behind one mutex. Side effects (ledger calls and events)
// are collected while the mutex is held and dispatched, in order, after it
// is released.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/FocusCoin/internal/clock"
	"github.com/BTreeMap/FocusCoin/internal/ledger"
	"github.com/BTreeMap/FocusCoin/internal/models"
	"github.com/BTreeMap/FocusCoin/internal/pubsub"
	"github.com/BTreeMap/FocusCoin/internal/store"
)

var (
	// ErrRunning is returned by intents that need a stopped timer.
	ErrRunning = errors.New("timer is running")
	// ErrNotRunning is returned by Pause on a stopped timer.
	ErrNotRunning = errors.New("timer is not running")
	// ErrClosed is returned by intents after Close.
	ErrClosed = errors.New("engine is closed")
	// ErrInvalidPlan wraps plan validation failures.
	ErrInvalidPlan = models.ErrInvalidPlan
	// ErrInvalidMode wraps unknown modes.
	ErrInvalidMode = models.ErrInvalidMode
)

// Engine owns the timer state.
type Engine struct {
	mu         sync.Mutex
	dispatchMu sync.Mutex

	clock  clock.Clock
	store  store.StateStore
	ledger ledger.RewardLedger
	events *pubsub.Broker[Notification]
	opts   Opts
	recon  reconciler

	state  models.TimerState
	timer  clock.Timer
	gen    uint64
	closed bool
}

// New creates an engine. Call Restore before using it.
func New(clk clock.Clock, st store.StateStore, l ledger.RewardLedger, opts ...Option) *Engine {
	cfg := defaultOpts()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DefaultPlan.Validate() != nil {
		slog.Warn("Engine.New: invalid default plan, using built-in plan", "plan", cfg.DefaultPlan)
		cfg.DefaultPlan = models.DefaultPlan()
	}
	if !cfg.DefaultMode.Valid() {
		cfg.DefaultMode = models.ModePomodoro
	}

	events := pubsub.NewBroker[Notification]()
	events.SetTimeSource(clk.Now)

	return &Engine{
		clock:  clk,
		store:  st,
		ledger: l,
		events: events,
		opts:   cfg,
		recon: reconciler{
			coinsPerMinute: cfg.CoinsPerMinute,
			catchUp:        cfg.CatchUp,
			newID:          uuid.NewString,
		},
		state: models.NewTimerState(cfg.DefaultPlan, cfg.DefaultMode),
	}
}

// Restore loads the persisted state. Missing state becomes the default
// state; undecodable or invalid state is replaced by the default state and a
// state_reset event. A running state is caught up to now and its loop started.
func (e *Engine) Restore() error {
	e.mu.Lock()
	var fx effects
	now := e.nowMs()

	loaded, found, err := store.LoadTimerState(e.store)
	switch {
	case err != nil && !found:
		e.mu.Unlock()
		return fmt.Errorf("restore timer state: %w", err)
	case err != nil:
		e.resetCorruptLocked(now, err.Error(), &fx)
	case !found:
		slog.Info("Engine.Restore: no saved timer state, starting fresh", "mode", e.opts.DefaultMode)
		e.state = models.NewTimerState(e.opts.DefaultPlan, e.opts.DefaultMode)
		e.state.UpdatedAtMs = now
	default:
		if verr := loaded.Validate(); verr != nil {
			e.resetCorruptLocked(now, verr.Error(), &fx)
		} else {
			e.state = loaded
			e.recon.advance(&e.state, now, &fx)
			slog.Info("Engine.Restore: timer state restored", "status", e.state.Status(), "remaining", e.state.RemainingSeconds, "elapsed", e.state.ElapsedSeconds)
		}
	}

	e.commitLocked(&fx)
	e.unlockAndDispatch(fx)
	return nil
}

// Start begins or resumes the timer.
func (e *Engine) Start() error {
	e.mu.Lock()
	if err := e.checkStoppedLocked("Start"); err != nil {
		e.mu.Unlock()
		return err
	}
	now := e.nowMs()
	s := &e.state
	if s.PausedAtMs != nil {
		if paused := now - *s.PausedAtMs; paused > 0 {
			s.AccumulatedPausedMs += paused
		}
		s.PausedAtMs = nil
	}
	if s.SegmentID == "" {
		s.SegmentID = e.recon.newID()
	}
	anchor := now - s.CarryMs
	s.CarryMs = 0
	s.StartedAtMs = &now
	s.AnchorMs = &anchor
	s.IsRunning = true
	s.UpdatedAtMs = now
	slog.Debug("Engine.Start: timer started", "status", s.Status(), "segment", s.SegmentID)

	var fx effects
	e.commitLocked(&fx)
	e.unlockAndDispatch(fx)
	return nil
}

// Pause folds elapsed time into the state and stops the loop. The
// sub-second remainder is kept for the next Start, and unsaved seconds stay
// in the accumulator.
func (e *Engine) Pause() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if !e.state.IsRunning {
		e.mu.Unlock()
		slog.Debug("Engine.Pause: rejected, timer not running")
		return ErrNotRunning
	}
	now := e.nowMs()
	var fx effects
	e.recon.advance(&e.state, now, &fx)

	s := &e.state
	if s.IsRunning {
		s.CarryMs = now - *s.AnchorMs
		s.IsRunning = false
		s.PausedAtMs = &now
		s.StartedAtMs = nil
		s.AnchorMs = nil
		s.UpdatedAtMs = now
	}
	slog.Debug("Engine.Pause: timer paused", "status", s.Status(), "carryMs", s.CarryMs)

	e.commitLocked(&fx)
	e.unlockAndDispatch(fx)
	return nil
}

// Reset flushes unsaved seconds and reinitialises the timer for mode, or for
// the current mode when mode is nil. It is allowed while running.
func (e *Engine) Reset(mode *models.Mode) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	target := e.state.Mode
	if mode != nil {
		if !mode.Valid() {
			e.mu.Unlock()
			return fmt.Errorf("%w: %q", ErrInvalidMode, *mode)
		}
		target = *mode
	}
	now := e.nowMs()
	var fx effects
	e.recon.advance(&e.state, now, &fx)
	e.reinitLocked(target, now, &fx)
	slog.Debug("Engine.Reset: timer reset", "mode", target)

	e.commitLocked(&fx)
	e.unlockAndDispatch(fx)
	return nil
}

// ChangeMode switches to mode. It is rejected while the timer runs.
func (e *Engine) ChangeMode(mode models.Mode) error {
	e.mu.Lock()
	if err := e.checkStoppedLocked("ChangeMode"); err != nil {
		e.mu.Unlock()
		return err
	}
	if !mode.Valid() {
		e.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	now := e.nowMs()
	var fx effects
	e.reinitLocked(mode, now, &fx)
	slog.Debug("Engine.ChangeMode: mode changed", "mode", mode)

	e.commitLocked(&fx)
	e.unlockAndDispatch(fx)
	return nil
}

// UpdatePlan applies a partial plan. It is rejected while the timer runs or
// if the resulting plan is invalid; otherwise it flushes and reinitialises
// the current mode with the new durations.
func (e *Engine) UpdatePlan(update models.PlanUpdate) error {
	e.mu.Lock()
	if err := e.checkStoppedLocked("UpdatePlan"); err != nil {
		e.mu.Unlock()
		return err
	}
	plan := e.state.Plan.Apply(update)
	if err := plan.Validate(); err != nil {
		e.mu.Unlock()
		return err
	}
	now := e.nowMs()
	var fx effects
	e.state.Plan = plan
	e.reinitLocked(e.state.Mode, now, &fx)
	slog.Debug("Engine.UpdatePlan: plan updated", "plan", plan)

	e.commitLocked(&fx)
	e.unlockAndDispatch(fx)
	return nil
}

// SetTask associates taskID with work segments; empty clears it.
func (e *Engine) SetTask(taskID string) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.state.TaskID = taskID
	e.state.UpdatedAtMs = e.nowMs()

	var fx effects
	e.commitLocked(&fx)
	e.unlockAndDispatch(fx)
	return nil
}

// Snapshot returns a copy of the current state without recomputing.
func (e *Engine) Snapshot() models.TimerState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone()
}

// Project returns what the state would be at now without changing anything
// or producing side effects.
func (e *Engine) Project(now time.Time) models.TimerState {
	e.mu.Lock()
	s := e.state.Clone()
	e.mu.Unlock()

	r := e.recon
	r.newID = func() string { return "" }
	var discard effects
	r.advance(&s, clock.EpochMillis(now), &discard)
	return s
}

// Recompute reconciles the state with now, persists any change and makes
// sure a running timer has its loop scheduled.
func (e *Engine) Recompute(now time.Time) models.TimerState {
	e.mu.Lock()
	if e.closed {
		defer e.mu.Unlock()
		return e.state.Clone()
	}
	var fx effects
	if e.recon.advance(&e.state, clock.EpochMillis(now), &fx) {
		e.commitLocked(&fx)
	} else {
		e.scheduleLocked()
	}
	snap := e.state.Clone()
	e.unlockAndDispatch(fx)
	return snap
}

// Unload prepares for the host going away: it catches up, hands the unsaved
// seconds to the beacon, stops the loop and persists. A running timer stays
// running in the persisted state so the next Restore catches up.
func (e *Engine) Unload() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	now := e.nowMs()
	var fx effects
	e.recon.advance(&e.state, now, &fx)
	if call, ok := takeUnsaved(&e.state); ok {
		fx.beaconCall(call)
	}
	e.state.UpdatedAtMs = now
	e.persistLocked()
	fx.stateChanged(e.state)
	e.stopLoopLocked()
	slog.Info("Engine.Unload: state saved", "status", e.state.Status())
	e.unlockAndDispatch(fx)
}

// CheckIntegrity re-validates the persisted copy and the in-memory state.
// When either is corrupt the timer is reset to defaults and true is returned.
func (e *Engine) CheckIntegrity() bool {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	now := e.nowMs()
	var fx effects

	reason := ""
	persisted, found, err := store.LoadTimerState(e.store)
	switch {
	case err != nil && !found:
		slog.Error("Engine.CheckIntegrity: could not read saved state", "error", err)
	case err != nil:
		reason = err.Error()
	case found:
		if verr := persisted.Validate(); verr != nil {
			reason = verr.Error()
		}
	}
	if reason == "" {
		if verr := e.state.Validate(); verr != nil {
			reason = verr.Error()
		}
	}
	if reason == "" {
		if !found && err == nil {
			e.persistLocked()
		}
		e.mu.Unlock()
		return false
	}

	e.resetCorruptLocked(now, reason, &fx)
	e.commitLocked(&fx)
	e.unlockAndDispatch(fx)
	return true
}

// Subscribe returns a channel of engine events, closed when ctx ends or the
// engine is closed.
func (e *Engine) Subscribe(ctx context.Context) <-chan pubsub.Event[Notification] {
	return e.events.Subscribe(ctx)
}

// Close stops the loop and closes every subscription. It does not flush;
// call Unload first when the host is shutting down.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.stopLoopLocked()
	e.mu.Unlock()
	e.events.Close()
}

func (e *Engine) nowMs() int64 {
	return clock.EpochMillis(e.clock.Now())
}

func (e *Engine) checkStoppedLocked(op string) error {
	if e.closed {
		return ErrClosed
	}
	if e.state.IsRunning {
		slog.Debug("Engine."+op+": rejected, timer running", "status", e.state.Status())
		return ErrRunning
	}
	return nil
}

// reinitLocked flushes unsaved seconds and replaces the state with a fresh
// idle state for mode.
func (e *Engine) reinitLocked(mode models.Mode, now int64, fx *effects) {
	e.recon.flush(&e.state, fx)
	e.state = idleState(e.state, mode)
	e.state.UpdatedAtMs = now
}

func (e *Engine) resetCorruptLocked(now int64, reason string, fx *effects) {
	slog.Warn("Engine: saved timer state is corrupt, resetting", "reason", reason)
	e.state = models.NewTimerState(e.opts.DefaultPlan, e.opts.DefaultMode)
	e.state.UpdatedAtMs = now
	fx.emit(pubsub.StateResetEvent, Notification{State: e.state.Clone(), Reason: reason})
}

// commitLocked persists, queues a state_changed event and reschedules the loop.
func (e *Engine) commitLocked(fx *effects) {
	e.persistLocked()
	fx.stateChanged(e.state)
	e.scheduleLocked()
}

func (e *Engine) persistLocked() {
	if err := store.SaveTimerState(e.store, e.state); err != nil {
		slog.Error("Engine: failed to persist timer state", "error", err)
	}
}

// scheduleLocked replaces any pending tick with one at the next tick
// boundary relative to the anchor. A stopped timer gets no tick.
func (e *Engine) scheduleLocked() {
	e.stopLoopLocked()
	if e.closed || !e.state.IsRunning || e.state.AnchorMs == nil {
		return
	}
	tick := e.opts.tickMillis()
	sinceAnchor := e.nowMs() - *e.state.AnchorMs
	delay := tick - sinceAnchor%1000
	if sinceAnchor < 0 || delay <= 0 || delay > tick {
		delay = tick
	}
	gen := e.gen
	e.timer = e.clock.AfterFunc(time.Duration(delay)*time.Millisecond, func() { e.tick(gen) })
}

// stopLoopLocked cancels the pending tick. Bumping gen turns a callback that
// already started into a no-op.
func (e *Engine) stopLoopLocked() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.gen++
}

func (e *Engine) tick(gen uint64) {
	e.mu.Lock()
	if e.closed || gen != e.gen {
		e.mu.Unlock()
		return
	}
	e.timer = nil
	var fx effects
	if e.recon.advance(&e.state, e.nowMs(), &fx) {
		e.commitLocked(&fx)
	} else {
		e.scheduleLocked()
	}
	e.unlockAndDispatch(fx)
}

// unlockAndDispatch releases the state lock and then runs fx. Taking
// dispatchMu before unlocking keeps dispatch order equal to mutation order.
func (e *Engine) unlockAndDispatch(fx effects) {
	e.dispatchMu.Lock()
	e.mu.Unlock()
	defer e.dispatchMu.Unlock()

	for _, it := range fx.items {
		switch {
		case it.call != nil && it.viaBeacon && e.opts.Beacon != nil:
			e.opts.Beacon.SendTimeSpent(it.call.Seconds, it.call.Key)
		case it.call != nil:
			sendCall(e.ledger, *it.call)
		default:
			e.events.Publish(it.event, it.note)
		}
	}
}
