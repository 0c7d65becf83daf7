package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BTreeMap/FocusCoin/internal/clock"
	"github.com/BTreeMap/FocusCoin/internal/engine"
	"github.com/BTreeMap/FocusCoin/internal/ledger"
	"github.com/BTreeMap/FocusCoin/internal/lifecycle"
	"github.com/BTreeMap/FocusCoin/internal/models"
	"github.com/BTreeMap/FocusCoin/internal/store"
)

type testEnv struct {
	clock  *clock.ManualClock
	store  *store.InMemoryStore
	ledger *ledger.Recorder
	engine *engine.Engine
	server *Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clk := clock.NewManualClock(time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC))
	st := store.NewInMemoryStore()
	rec := ledger.NewRecorder()
	eng := engine.New(clk, st, rec)
	require.NoError(t, eng.Restore())
	t.Cleanup(eng.Close)
	w := lifecycle.New(clk, eng, st)
	return &testEnv{clock: clk, store: st, ledger: rec, engine: eng, server: NewServer(eng, w, clk)}
}

type timerResponse struct {
	Status  string    `json:"status"`
	Message string    `json:"message"`
	Result  TimerView `json:"result"`
}

func (env *testEnv) do(t *testing.T, method, path, body string) (int, timerResponse) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rr := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rr, req)
	var resp timerResponse
	if rr.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp), rr.Body.String())
	}
	return rr.Code, resp
}

func TestTimerHandler(t *testing.T) {
	env := newTestEnv(t)
	code, resp := env.do(t, http.MethodGet, "/timer", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, models.StatusIdle, resp.Result.Status)
	assert.Equal(t, models.SegmentWork, resp.Result.Segment)
	assert.Equal(t, 1500, resp.Result.State.RemainingSeconds)
}

func TestStartPauseFlow(t *testing.T) {
	env := newTestEnv(t)

	code, resp := env.do(t, http.MethodPost, "/timer/start", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, models.StatusWorkRunning, resp.Result.Status)

	env.clock.Advance(5 * time.Second)

	code, resp = env.do(t, http.MethodPost, "/timer/start", "")
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "rejected", resp.Status)
	assert.Equal(t, models.StatusWorkRunning, resp.Result.Status, "rejected intent carries the unchanged state")

	code, resp = env.do(t, http.MethodPost, "/timer/pause", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, models.StatusWorkPaused, resp.Result.Status)
	assert.Equal(t, 1495, resp.Result.State.RemainingSeconds)

	code, _ = env.do(t, http.MethodPost, "/timer/pause", "")
	assert.Equal(t, http.StatusConflict, code)
}

func TestModeHandler(t *testing.T) {
	env := newTestEnv(t)

	code, resp := env.do(t, http.MethodPost, "/timer/mode", `{"mode":"Countdown"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, models.ModeCountdown, resp.Result.State.Mode)
	assert.Equal(t, 600, resp.Result.State.RemainingSeconds)

	code, resp = env.do(t, http.MethodPost, "/timer/mode", `{"mode":"lap"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "error", resp.Status)

	code, _ = env.do(t, http.MethodPost, "/timer/mode", `{`)
	assert.Equal(t, http.StatusBadRequest, code)

	env.do(t, http.MethodPost, "/timer/start", "")
	code, _ = env.do(t, http.MethodPost, "/timer/mode", `{"mode":"stopwatch"}`)
	assert.Equal(t, http.StatusConflict, code)
}

func TestResetHandler(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/timer/start", "")
	env.clock.Advance(90 * time.Second)

	code, resp := env.do(t, http.MethodPost, "/timer/reset", `{"mode":"stopwatch"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, models.StatusIdle, resp.Result.Status)
	assert.Equal(t, models.ModeStopwatch, resp.Result.State.Mode)
	assert.Equal(t, 90, env.ledger.TotalSeconds())
	assert.Equal(t, 1, env.ledger.TotalCoins())

	code, resp = env.do(t, http.MethodPost, "/timer/reset", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, models.ModeStopwatch, resp.Result.State.Mode, "empty body keeps the current mode")
}

func TestPlanHandler(t *testing.T) {
	env := newTestEnv(t)

	code, resp := env.do(t, http.MethodPost, "/timer/plan", `{"pomodoroSeconds":600,"cycleCount":2}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 600, resp.Result.State.Plan.PomodoroSeconds)
	assert.Equal(t, 2, resp.Result.State.Plan.CycleCount)
	assert.Equal(t, 600, resp.Result.State.RemainingSeconds)

	code, _ = env.do(t, http.MethodPost, "/timer/plan", `{"breakSeconds":0}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = env.do(t, http.MethodPost, "/timer/plan", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestTaskHandler(t *testing.T) {
	env := newTestEnv(t)
	code, resp := env.do(t, http.MethodPost, "/timer/task", `{"taskId":"task-7"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "task-7", resp.Result.State.TaskID)
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/timer/start", nil)
	rr := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	assert.Equal(t, http.MethodPost, rr.Header().Get("Allow"))
}

func TestLifecycleRoutes(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/timer/start", "")

	code, _ := env.do(t, http.MethodPost, "/lifecycle/hidden", "")
	require.Equal(t, http.StatusOK, code)

	env.clock.Jump(3 * time.Minute)
	code, resp := env.do(t, http.MethodPost, "/lifecycle/visible", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1500-180, resp.Result.State.RemainingSeconds)
	assert.Equal(t, 3, env.ledger.TotalCoins())

	code, _ = env.do(t, http.MethodPost, "/lifecycle/blur", "")
	assert.Equal(t, http.StatusOK, code)
	code, _ = env.do(t, http.MethodPost, "/lifecycle/focus", "")
	assert.Equal(t, http.StatusOK, code)

	env.clock.Jump(30 * time.Second)
	code, resp = env.do(t, http.MethodPost, "/lifecycle/unload", "")
	require.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Result.State.IsRunning, "unload keeps the persisted timer running")
	assert.Equal(t, 0, resp.Result.State.UnsavedElapsedSeconds)
	assert.Equal(t, 210, env.ledger.TotalSeconds())
}

func TestHealthHandler(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "idle", body["timer"])
	assert.Equal(t, "2026-05-04T08:00:00Z", body["timestamp"])
}

func TestEventsHandler(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	readEvent := func() (string, engine.Notification) {
		var name string
		var note engine.Notification
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			switch {
			case strings.HasPrefix(line, "event: "):
				name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &note))
			case line == "":
				return name, note
			}
		}
	}

	name, note := readEvent()
	assert.Equal(t, "state_changed", name)
	assert.False(t, note.State.IsRunning)

	require.NoError(t, env.engine.Start())
	name, note = readEvent()
	assert.Equal(t, "state_changed", name)
	assert.True(t, note.State.IsRunning)
}

func TestServeUnloadsOnShutdown(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.engine.Start())
	env.clock.Advance(90 * time.Second)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.server.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	assert.Equal(t, 90, env.ledger.TotalSeconds())
	assert.Equal(t, 0, env.engine.Snapshot().UnsavedElapsedSeconds)
}
