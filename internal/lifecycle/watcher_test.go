package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/BTreeMap/FocusCoin/internal/clock"
	"github.com/BTreeMap/FocusCoin/internal/engine"
	"github.com/BTreeMap/FocusCoin/internal/ledger"
	"github.com/BTreeMap/FocusCoin/internal/models"
	"github.com/BTreeMap/FocusCoin/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var t0 = time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)

// fakeEngine records calls and projects a fixed state.
type fakeEngine struct {
	mu         sync.Mutex
	state      models.TimerState
	recomputes []time.Time
	integrity  bool
	unloads    int
}

func (f *fakeEngine) Recompute(now time.Time) models.TimerState {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recomputes = append(f.recomputes, now)
	return f.state
}

func (f *fakeEngine) Project(time.Time) models.TimerState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeEngine) Snapshot() models.TimerState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeEngine) CheckIntegrity() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.integrity
}

func (f *fakeEngine) Unload() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unloads++
}

func (f *fakeEngine) recomputeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.recomputes)
}

func runningState() models.TimerState {
	s := models.NewTimerState(models.DefaultPlan(), models.ModePomodoro)
	s.IsRunning = true
	s.RemainingSeconds = 600
	return s
}

func TestHeartbeatDetectsSleep(t *testing.T) {
	clk := clock.NewManualClock(t0)
	eng := &fakeEngine{}
	w := New(clk, eng, nil)
	w.Start()
	defer w.Stop()

	clk.Advance(10 * time.Second)
	assert.Equal(t, 0, eng.recomputeCount(), "regular beats do not recompute")
	assert.Equal(t, 0, w.Wakes())

	clk.Jump(2 * time.Minute)
	clk.Advance(time.Second)

	assert.Equal(t, 1, w.Wakes())
	require.Equal(t, 1, eng.recomputeCount())
	assert.Equal(t, t0.Add(10*time.Second+2*time.Minute), eng.recomputes[0])

	clk.Advance(5 * time.Second)
	assert.Equal(t, 1, w.Wakes(), "beats after the wake are regular again")
}

func TestSleepThreshold(t *testing.T) {
	clk := clock.NewManualClock(t0)
	eng := &fakeEngine{}
	w := New(clk, eng, nil, WithHeartbeat(time.Second), WithSleepThreshold(10*time.Second))
	w.Start()
	defer w.Stop()

	clk.Jump(8 * time.Second)
	clk.Advance(time.Second)
	assert.Equal(t, 0, w.Wakes(), "a 9s gap is under heartbeat+threshold")
}

func TestStopCancelsHeartbeat(t *testing.T) {
	clk := clock.NewManualClock(t0)
	w := New(clk, &fakeEngine{}, nil)
	w.Start()
	w.Start()
	assert.Equal(t, 1, clk.Pending())
	w.Stop()
	assert.Equal(t, 0, clk.Pending())
}

func TestHiddenVisibleCatchUp(t *testing.T) {
	clk := clock.NewManualClock(t0)
	eng := &fakeEngine{state: runningState()}
	st := store.NewInMemoryStore()
	w := New(clk, eng, st)

	w.OnHidden()
	assert.True(t, w.Hidden())

	clk.Advance(40 * time.Second)
	mirror, ok, err := store.LoadTimerMirror(st)
	require.NoError(t, err)
	require.True(t, ok, "mirror is written while hidden")
	assert.Equal(t, 600, mirror.RemainingSeconds)
	assert.Equal(t, clock.EpochMillis(t0.Add(30*time.Second)), mirror.AtEpochMs)

	w.OnVisible()
	assert.False(t, w.Hidden())
	require.Equal(t, 1, eng.recomputeCount())
	_, ok, _ = store.LoadTimerMirror(st)
	assert.False(t, ok, "mirror is removed once visible")
	assert.Equal(t, 0, clk.Pending(), "mirror tick stops once visible")
}

func TestVisibleWithoutHiddenDoesNotRecompute(t *testing.T) {
	eng := &fakeEngine{state: runningState()}
	w := New(clock.NewManualClock(t0), eng, nil)
	w.OnVisible()
	assert.Equal(t, 0, eng.recomputeCount())
}

func TestVisibleAfterCorruptionSkipsRecompute(t *testing.T) {
	eng := &fakeEngine{state: runningState(), integrity: true}
	w := New(clock.NewManualClock(t0), eng, store.NewInMemoryStore())
	w.OnHidden()
	w.OnVisible()
	assert.Equal(t, 0, eng.recomputeCount())
}

func TestFocusBlurUnload(t *testing.T) {
	eng := &fakeEngine{}
	w := New(clock.NewManualClock(t0), eng, nil)

	w.OnBlur()
	assert.False(t, w.Focused())
	w.OnFocus()
	assert.True(t, w.Focused())
	assert.Equal(t, 2, eng.recomputeCount())

	w.OnUnload()
	assert.Equal(t, 1, eng.unloads)
}

func TestRunStopsOnCancel(t *testing.T) {
	clk := clock.NewManualClock(t0)
	w := New(clk, &fakeEngine{}, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	require.Eventually(t, func() bool { return clk.Pending() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, 0, clk.Pending())
}

// With the real engine, a hidden stretch longer than a whole segment is
// caught up on visibility even though the engine loop never ran.
func TestWithEngine_HiddenGapCatchUp(t *testing.T) {
	clk := clock.NewManualClock(t0)
	st := store.NewInMemoryStore()
	rec := ledger.NewRecorder()
	eng := engine.New(clk, st, rec)
	require.NoError(t, eng.Restore())
	defer eng.Close()
	require.NoError(t, eng.UpdatePlan(models.PlanUpdate{PomodoroSeconds: intp(120)}))
	require.NoError(t, eng.Start())

	w := New(clk, eng, st)
	w.OnHidden()
	clk.Jump(150 * time.Second)
	s := w.OnVisible()

	assert.Equal(t, models.PhaseBreak, s.Phase)
	assert.Equal(t, 2, rec.TotalCoins())
	assert.Equal(t, 120, rec.TotalSeconds())
}

func TestWithEngine_SleepWakeCatchUp(t *testing.T) {
	clk := clock.NewManualClock(t0)
	rec := ledger.NewRecorder()
	eng := engine.New(clk, store.NewInMemoryStore(), rec, engine.WithMaxTick(time.Hour))
	require.NoError(t, eng.Restore())
	defer eng.Close()
	require.NoError(t, eng.Start())

	w := New(clk, eng, nil)
	w.Start()
	defer w.Stop()

	clk.Jump(10 * time.Minute)
	clk.Advance(time.Second)

	assert.Equal(t, 1, w.Wakes())
	assert.Equal(t, 1500-600, eng.Snapshot().RemainingSeconds)
	assert.Equal(t, 10, rec.TotalCoins())
}

func TestWithEngine_CorruptStateOnVisible(t *testing.T) {
	clk := clock.NewManualClock(t0)
	st := store.NewInMemoryStore()
	eng := engine.New(clk, st, ledger.NewRecorder())
	require.NoError(t, eng.Restore())
	defer eng.Close()
	require.NoError(t, eng.Start())

	w := New(clk, eng, st)
	w.OnHidden()
	require.NoError(t, st.Set(store.TimerStateKey, `{"mode":"pomodoro","isRunning":true,"startedAtEpochMs":null}`))
	s := w.OnVisible()

	assert.Equal(t, models.StatusIdle, s.Status())
}

func intp(v int) *int { return &v }
