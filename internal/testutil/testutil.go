// Package testutil provides shared fixtures for FocusCoin tests: a fully
// wired engine, watcher and API server over a manual clock, plus HTTP helpers.
package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BTreeMap/FocusCoin/internal/api"
	"github.com/BTreeMap/FocusCoin/internal/clock"
	"github.com/BTreeMap/FocusCoin/internal/engine"
	"github.com/BTreeMap/FocusCoin/internal/ledger"
	"github.com/BTreeMap/FocusCoin/internal/lifecycle"
	"github.com/BTreeMap/FocusCoin/internal/store"
)

// Epoch is the instant every test environment's clock starts at.
var Epoch = time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)

// Env is a wired timer stack with in-memory dependencies.
type Env struct {
	Clock   *clock.ManualClock
	Store   *store.InMemoryStore
	Ledger  *ledger.Recorder
	Engine  *engine.Engine
	Watcher *lifecycle.Watcher
	Server  *api.Server
	handler http.Handler
}

// NewEnv restores a fresh engine over an empty store. The engine is closed
// when the test ends.
func NewEnv(t testing.TB, opts ...engine.Option) *Env {
	t.Helper()
	clk := clock.NewManualClock(Epoch)
	st := store.NewInMemoryStore()
	rec := ledger.NewRecorder()
	eng := engine.New(clk, st, rec, opts...)
	if err := eng.Restore(); err != nil {
		t.Fatalf("failed to restore engine: %v", err)
	}
	t.Cleanup(eng.Close)

	w := lifecycle.New(clk, eng, st)
	srv := api.NewServer(eng, w, clk)
	return &Env{
		Clock:   clk,
		Store:   st,
		Ledger:  rec,
		Engine:  eng,
		Watcher: w,
		Server:  srv,
		handler: srv.Handler(),
	}
}

// Do sends a request with an optional JSON body to the env's API.
func (e *Env) Do(t testing.TB, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, CreateHTTPRequest(t, method, path, body))
	return rr
}

// TB is the subset of testing.TB the assertion helpers need.
type TB interface {
	Helper()
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t TB, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes a JSON envelope, checks its status field and
// returns the decoded body.
func AssertJSONResponse(t TB, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
		return nil
	}
	status, ok := response["status"].(string)
	if !ok {
		t.Errorf("response missing or invalid 'status' field")
		return response
	}
	if status != expectedStatus {
		t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
	}
	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t testing.TB, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody bytes.Buffer
	if body != nil {
		reqBody.Write(MustMarshalJSON(t, body))
	}
	req, err := http.NewRequest(method, url, &reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	return req
}

// MustMarshalJSON marshals v or fails the test.
func MustMarshalJSON(t testing.TB, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals data into target or fails the test.
func MustUnmarshalJSON(t testing.TB, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
