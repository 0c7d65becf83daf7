// Package lifecycle turns host visibility changes and suspected sleep/wake
// gaps into engine catch-up recomputes.
package lifecycle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/FocusCoin/internal/clock"
	"github.com/BTreeMap/FocusCoin/internal/models"
	"github.com/BTreeMap/FocusCoin/internal/store"
)

// Default timings.
const (
	DefaultHeartbeat      = time.Second
	DefaultSleepThreshold = 5 * time.Second
	DefaultMirrorInterval = 15 * time.Second
)

// Engine is the part of the timing engine the watcher drives.
type Engine interface {
	Recompute(now time.Time) models.TimerState
	Project(now time.Time) models.TimerState
	Snapshot() models.TimerState
	CheckIntegrity() bool
	Unload()
}

// Opts holds watcher configuration.
type Opts struct {
	Heartbeat      time.Duration
	SleepThreshold time.Duration
	MirrorInterval time.Duration
}

// Option configures a Watcher.
type Option func(*Opts)

// WithHeartbeat sets the interval between heartbeats.
func WithHeartbeat(d time.Duration) Option {
	return func(o *Opts) {
		if d > 0 {
			o.Heartbeat = d
		}
	}
}

// WithSleepThreshold sets how late a heartbeat may be before it counts as a wake.
func WithSleepThreshold(d time.Duration) Option {
	return func(o *Opts) {
		if d > 0 {
			o.SleepThreshold = d
		}
	}
}

// WithMirrorInterval sets how often the hidden-time mirror is written.
func WithMirrorInterval(d time.Duration) Option {
	return func(o *Opts) {
		if d > 0 {
			o.MirrorInterval = d
		}
	}
}

// Watcher tracks host lifecycle and forces recomputes after gaps.
type Watcher struct {
	mu     sync.Mutex
	clock  clock.Clock
	engine Engine
	store  store.StateStore
	opts   Opts

	hiddenAt *time.Time
	focused  bool

	started  bool
	lastBeat time.Time
	beat     clock.Timer
	mirror   clock.Timer
	gen      uint64
	wakes    int
}

// New creates a Watcher. st receives the hidden-time mirror and may be nil.
func New(clk clock.Clock, eng Engine, st store.StateStore, opts ...Option) *Watcher {
	cfg := Opts{
		Heartbeat:      DefaultHeartbeat,
		SleepThreshold: DefaultSleepThreshold,
		MirrorInterval: DefaultMirrorInterval,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Watcher{clock: clk, engine: eng, store: st, opts: cfg, focused: true}
}

// OnHidden records when the host was hidden and starts the mirror tick.
func (w *Watcher) OnHidden() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.hiddenAt != nil {
		return
	}
	now := w.clock.Now()
	w.hiddenAt = &now
	w.scheduleMirrorLocked()
	slog.Debug("Watcher.OnHidden: host hidden", "at", now)
}

// OnVisible validates persisted state and, if the timer was hidden while
// running, catches it up over the full hidden gap.
func (w *Watcher) OnVisible() models.TimerState {
	w.mu.Lock()
	hiddenAt := w.hiddenAt
	w.hiddenAt = nil
	w.stopMirrorLocked()
	w.mu.Unlock()

	if w.engine.CheckIntegrity() {
		slog.Warn("Watcher.OnVisible: saved state was corrupt and has been reset")
		w.removeMirror()
		return w.engine.Snapshot()
	}

	now := w.clock.Now()
	state := w.engine.Snapshot()
	if hiddenAt != nil && state.IsRunning {
		slog.Debug("Watcher.OnVisible: catching up after hidden interval", "hiddenFor", now.Sub(*hiddenAt))
		state = w.engine.Recompute(now)
	}
	w.removeMirror()
	return state
}

// OnBlur checkpoints the timer when focus leaves the host.
func (w *Watcher) OnBlur() models.TimerState {
	w.mu.Lock()
	w.focused = false
	w.mu.Unlock()
	return w.engine.Recompute(w.clock.Now())
}

// OnFocus catches the timer up when focus returns.
func (w *Watcher) OnFocus() models.TimerState {
	w.mu.Lock()
	w.focused = true
	w.mu.Unlock()
	return w.engine.Recompute(w.clock.Now())
}

// OnUnload hands off to the engine's unload path.
func (w *Watcher) OnUnload() {
	w.engine.Unload()
}

// Hidden reports whether the host is currently hidden.
func (w *Watcher) Hidden() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.hiddenAt != nil
}

// Focused reports whether the host currently has focus.
func (w *Watcher) Focused() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.focused
}

// Wakes reports how many sleep/wake gaps the heartbeat has detected.
func (w *Watcher) Wakes() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.wakes
}

// Start begins the heartbeat. It is a no-op if already started.
func (w *Watcher) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return
	}
	w.started = true
	w.lastBeat = w.clock.Now()
	w.scheduleBeatLocked()
}

// Stop cancels the heartbeat and the mirror tick.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.started = false
	w.gen++
	if w.beat != nil {
		w.beat.Stop()
		w.beat = nil
	}
	w.stopMirrorLocked()
}

// Run starts the heartbeat and blocks until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	slog.Info("Watcher.Run: starting lifecycle watcher", "heartbeat", w.opts.Heartbeat, "sleepThreshold", w.opts.SleepThreshold)
	w.Start()
	<-ctx.Done()
	w.Stop()
	slog.Info("Watcher.Run: stopped")
	return nil
}

func (w *Watcher) scheduleBeatLocked() {
	gen := w.gen
	w.beat = w.clock.AfterFunc(w.opts.Heartbeat, func() { w.onBeat(gen) })
}

func (w *Watcher) onBeat(gen uint64) {
	w.mu.Lock()
	if !w.started || gen != w.gen {
		w.mu.Unlock()
		return
	}
	now := w.clock.Now()
	gap := now.Sub(w.lastBeat)
	w.lastBeat = now
	woke := gap > w.opts.Heartbeat+w.opts.SleepThreshold
	if woke {
		w.wakes++
	}
	w.scheduleBeatLocked()
	w.mu.Unlock()

	if woke {
		slog.Info("Watcher: heartbeat gap suggests sleep/wake, recomputing", "gap", gap)
		w.engine.Recompute(now)
	}
}

func (w *Watcher) scheduleMirrorLocked() {
	if w.store == nil {
		return
	}
	w.stopMirrorLocked()
	gen := w.gen
	w.mirror = w.clock.AfterFunc(w.opts.MirrorInterval, func() { w.onMirror(gen) })
}

func (w *Watcher) stopMirrorLocked() {
	if w.mirror != nil {
		w.mirror.Stop()
		w.mirror = nil
	}
}

func (w *Watcher) onMirror(gen uint64) {
	w.mu.Lock()
	if w.hiddenAt == nil || gen != w.gen {
		w.mu.Unlock()
		return
	}
	w.mirror = nil
	now := w.clock.Now()
	w.mu.Unlock()

	p := w.engine.Project(now)
	if p.IsRunning {
		mirror := store.TimerMirror{
			Mode:             p.Mode,
			Phase:            p.Phase,
			RemainingSeconds: p.RemainingSeconds,
			ElapsedSeconds:   p.ElapsedSeconds,
			AtEpochMs:        clock.EpochMillis(now),
		}
		if err := store.SaveTimerMirror(w.store, mirror); err != nil {
			slog.Error("Watcher: failed to write hidden-time mirror", "error", err)
		}
	}

	w.mu.Lock()
	if w.hiddenAt != nil && gen == w.gen {
		w.scheduleMirrorLocked()
	}
	w.mu.Unlock()
}

func (w *Watcher) removeMirror() {
	if w.store == nil {
		return
	}
	if err := w.store.Remove(store.TimerMirrorKey); err != nil {
		slog.Error("Watcher: failed to remove hidden-time mirror", "error", err)
	}
}
