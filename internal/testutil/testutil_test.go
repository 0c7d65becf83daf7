package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// mockTestingT records failures instead of stopping the test.
type mockTestingT struct {
	failed   bool
	errorMsg string
	helper   bool
}

func (m *mockTestingT) Helper() {
	m.helper = true
}

func (m *mockTestingT) Errorf(format string, args ...interface{}) {
	m.failed = true
	m.errorMsg = fmt.Sprintf(format, args...)
}

func (m *mockTestingT) Fatalf(format string, args ...interface{}) {
	m.failed = true
	m.errorMsg = fmt.Sprintf(format, args...)
}

func TestNewEnv(t *testing.T) {
	env := NewEnv(t)
	if env.Clock.Now() != Epoch {
		t.Errorf("expected clock at %v, got %v", Epoch, env.Clock.Now())
	}
	if env.Engine.Snapshot().IsRunning {
		t.Error("a fresh env should be idle")
	}

	rr := env.Do(t, http.MethodGet, "/timer", nil)
	AssertHTTPStatus(t, http.StatusOK, rr.Code, "GET /timer")
	AssertJSONResponse(t, rr, "ok")
}

func TestEnvFullSessionOverHTTP(t *testing.T) {
	env := NewEnv(t)

	rr := env.Do(t, http.MethodPost, "/timer/plan", map[string]int{"pomodoroSeconds": 120, "breakSeconds": 60, "cycleCount": 1})
	AssertHTTPStatus(t, http.StatusOK, rr.Code, "POST /timer/plan")
	rr = env.Do(t, http.MethodPost, "/timer/task", map[string]string{"taskId": "essay"})
	AssertHTTPStatus(t, http.StatusOK, rr.Code, "POST /timer/task")
	rr = env.Do(t, http.MethodPost, "/timer/start", nil)
	AssertHTTPStatus(t, http.StatusOK, rr.Code, "POST /timer/start")

	env.Clock.Advance(3 * time.Minute)

	body := AssertJSONResponse(t, env.Do(t, http.MethodGet, "/timer", nil), "ok")
	result, _ := body["result"].(map[string]interface{})
	if result["status"] != "idle" {
		t.Errorf("expected the one-cycle plan to finish, got status %v", result["status"])
	}
	if got := env.Ledger.TotalCoins(); got != 2 {
		t.Errorf("expected 2 coins, got %d", got)
	}
	if got := env.Ledger.TotalSeconds(); got != 120 {
		t.Errorf("expected 120 seconds of time spent, got %d", got)
	}
	if got := len(env.Ledger.CallsOf("complete_task_pomodoro")); got != 1 {
		t.Errorf("expected one task pomodoro, got %d", got)
	}
}

func TestAssertHTTPStatus(t *testing.T) {
	mock := &mockTestingT{}
	AssertHTTPStatus(mock, http.StatusOK, http.StatusOK, "match")
	if mock.failed {
		t.Error("matching status should not fail")
	}

	AssertHTTPStatus(mock, http.StatusOK, http.StatusConflict, "start")
	if !mock.failed || !mock.helper {
		t.Error("mismatched status should fail and mark the helper")
	}
	if mock.errorMsg != "start: expected status 200, got 409" {
		t.Errorf("unexpected message: %q", mock.errorMsg)
	}
}

func TestAssertJSONResponse(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		expected   string
		shouldFail bool
	}{
		{"matching status", `{"status":"ok","result":{}}`, "ok", false},
		{"rejected status", `{"status":"rejected","message":"timer is running"}`, "ok", true},
		{"missing status", `{"result":{}}`, "ok", true},
		{"invalid JSON", `{`, "ok", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			rr.Body.WriteString(tt.body)
			mock := &mockTestingT{}
			AssertJSONResponse(mock, rr, tt.expected)
			if mock.failed != tt.shouldFail {
				t.Errorf("expected failed=%v, got %v (%s)", tt.shouldFail, mock.failed, mock.errorMsg)
			}
		})
	}
}

func TestCreateHTTPRequest(t *testing.T) {
	req := CreateHTTPRequest(t, http.MethodPost, "/timer/mode", map[string]string{"mode": "countdown"})
	if req.Method != http.MethodPost || req.URL.Path != "/timer/mode" {
		t.Errorf("unexpected request %s %s", req.Method, req.URL.Path)
	}
	var body map[string]string
	buf := make([]byte, 64)
	n, _ := req.Body.Read(buf)
	MustUnmarshalJSON(t, buf[:n], &body)
	if body["mode"] != "countdown" {
		t.Errorf("expected mode countdown, got %v", body)
	}

	req = CreateHTTPRequest(t, http.MethodGet, "/timer", nil)
	if n, _ := req.Body.Read(buf); n != 0 {
		t.Errorf("expected an empty body, read %d bytes", n)
	}
}
