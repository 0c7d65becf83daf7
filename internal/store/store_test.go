package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/BTreeMap/FocusCoin/internal/models"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "focuscoin_store_test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	s, err := NewSQLiteStore(WithSQLiteDSN(filepath.Join(tmpDir, "test.db")))
	if err != nil {
		t.Fatalf("Failed to create SQLite store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func getenvOrSkip(t *testing.T, key string) string {
	v := ""
	if val, ok := syscall.Getenv(key); ok {
		v = val
	}
	if v == "" {
		t.Skipf("env %s not set", key)
	}
	return v
}

// backends returns every Store implementation available in this environment.
func backends(t *testing.T) map[string]Store {
	t.Helper()
	out := map[string]Store{
		"memory": NewInMemoryStore(),
		"sqlite": newTestSQLiteStore(t),
	}
	if dsn, ok := syscall.Getenv("DATABASE_URL"); ok && dsn != "" {
		pg, err := NewPostgresStore(WithPostgresDSN(dsn))
		if err != nil {
			t.Logf("Postgres not available: %v", err)
		} else {
			pg.db.Exec("DELETE FROM kv_state")
			pg.db.Exec("DELETE FROM outbox_messages")
			t.Cleanup(func() { pg.Close() })
			out["postgres"] = pg
		}
	}
	return out
}

func TestStateStore_GetSetRemove(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if _, ok, err := s.Get("missing"); err != nil || ok {
				t.Fatalf("Get(missing) = ok %v, err %v", ok, err)
			}
			if err := s.Set("k", "v1"); err != nil {
				t.Fatalf("Set failed: %v", err)
			}
			if err := s.Set("k", "v2"); err != nil {
				t.Fatalf("Set overwrite failed: %v", err)
			}
			v, ok, err := s.Get("k")
			if err != nil || !ok || v != "v2" {
				t.Fatalf("Get(k) = %q, %v, %v; want v2", v, ok, err)
			}
			if err := s.Remove("k"); err != nil {
				t.Fatalf("Remove failed: %v", err)
			}
			if err := s.Remove("k"); err != nil {
				t.Fatalf("second Remove should be a no-op, got %v", err)
			}
			if _, ok, _ := s.Get("k"); ok {
				t.Fatal("key still present after Remove")
			}
		})
	}
}

func TestTimerStateRoundTrip(t *testing.T) {
	s := NewInMemoryStore()
	if _, found, err := LoadTimerState(s); err != nil || found {
		t.Fatalf("empty store: found %v, err %v", found, err)
	}

	state := models.NewTimerState(models.DefaultPlan(), models.ModePomodoro)
	state.RemainingSeconds = 1234
	state.MinutesRewarded = 4
	if err := SaveTimerState(s, state); err != nil {
		t.Fatalf("SaveTimerState failed: %v", err)
	}
	got, found, err := LoadTimerState(s)
	if err != nil || !found {
		t.Fatalf("LoadTimerState: found %v, err %v", found, err)
	}
	if got.RemainingSeconds != 1234 || got.MinutesRewarded != 4 || got.Mode != models.ModePomodoro {
		t.Errorf("unexpected state after round trip: %+v", got)
	}
}

func TestLoadTimerState_Corrupt(t *testing.T) {
	s := NewInMemoryStore()
	s.Set(TimerStateKey, "{not json")
	_, found, err := LoadTimerState(s)
	if err == nil {
		t.Fatal("expected decode error for corrupt state")
	}
	if !found {
		t.Error("corrupt state should still report found")
	}
}

func TestTimerMirror(t *testing.T) {
	s := NewInMemoryStore()
	m := TimerMirror{Mode: models.ModeCountdown, Phase: models.PhaseWork, RemainingSeconds: 42, AtEpochMs: 1000}
	if err := SaveTimerMirror(s, m); err != nil {
		t.Fatalf("SaveTimerMirror failed: %v", err)
	}
	got, ok, err := LoadTimerMirror(s)
	if err != nil || !ok || got != m {
		t.Fatalf("LoadTimerMirror = %+v, %v, %v", got, ok, err)
	}
}

func TestDetectDSNType(t *testing.T) {
	cases := []struct{ dsn, want string }{
		{"postgres://u:p@localhost/db", "postgres"},
		{"postgresql://localhost/db", "postgres"},
		{"host=localhost dbname=focus", "postgres"},
		{"/var/lib/focuscoin/state.db", "sqlite"},
		{"file:state.db?cache=shared", "sqlite"},
		{"  postgres://padded/db  ", "postgres"},
	}
	for _, tc := range cases {
		if got := DetectDSNType(tc.dsn); got != tc.want {
			t.Errorf("DetectDSNType(%q) = %q, want %q", tc.dsn, got, tc.want)
		}
	}
}

func TestOpen_NoDSNUsesMemory(t *testing.T) {
	s, err := Open()
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, ok := s.(*InMemoryStore); !ok {
		t.Errorf("expected *InMemoryStore, got %T", s)
	}
}

func TestOpen_SQLitePath(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(func(o *Opts) { o.DSN = filepath.Join(dir, "nested", "state.db") })
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()
	if _, ok := s.(*SQLiteStore); !ok {
		t.Errorf("expected *SQLiteStore, got %T", s)
	}
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "state.db")
	s1, err := NewSQLiteStore(WithSQLiteDSN(dbPath))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s1.Set(TimerStateKey, `{"mode":"stopwatch"}`); err != nil {
		t.Fatalf("Set: %v", err)
	}
	s1.Close()

	s2, err := NewSQLiteStore(WithSQLiteDSN(dbPath))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	v, ok, err := s2.Get(TimerStateKey)
	if err != nil || !ok || v != `{"mode":"stopwatch"}` {
		t.Fatalf("Get after reopen = %q, %v, %v", v, ok, err)
	}
}

func TestPostgresStore(t *testing.T) {
	connStr := getenvOrSkip(t, "DATABASE_URL")
	pgStore, err := NewPostgresStore(WithPostgresDSN(connStr))
	if err != nil {
		t.Skipf("Postgres not available: %v", err)
	}
	defer pgStore.Close()
	pgStore.db.Exec("DELETE FROM kv_state WHERE key = 'pg_test'")
	if err := pgStore.Set("pg_test", "x"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, ok, err := pgStore.Get("pg_test")
	if err != nil || !ok || v != "x" {
		t.Errorf("Get = %q, %v, %v", v, ok, err)
	}
}

func TestOutboxRepo_EnqueueAndClaim(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			id, err := s.EnqueueOutboxMessage("grant_coins", `{"amount":1}`, "")
			if err != nil {
				t.Fatalf("EnqueueOutboxMessage failed: %v", err)
			}
			msgs, err := s.ClaimDueOutboxMessages(time.Now().Add(time.Second), 10)
			if err != nil {
				t.Fatalf("ClaimDueOutboxMessages failed: %v", err)
			}
			if len(msgs) != 1 || msgs[0].ID != id {
				t.Fatalf("expected 1 claimed message %s, got %+v", id, msgs)
			}
			if msgs[0].Status != OutboxStatusSending || msgs[0].LockedAt == nil {
				t.Errorf("claimed message should be sending and locked: %+v", msgs[0])
			}
			again, _ := s.ClaimDueOutboxMessages(time.Now().Add(time.Second), 10)
			if len(again) != 0 {
				t.Errorf("claimed message should not be claimed twice, got %d", len(again))
			}
		})
	}
}

func TestOutboxRepo_DedupeKey(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			id1, err := s.EnqueueOutboxMessage("grant_coins", `{}`, "seg-1:coins:1")
			if err != nil {
				t.Fatalf("first enqueue: %v", err)
			}
			id2, err := s.EnqueueOutboxMessage("grant_coins", `{}`, "seg-1:coins:1")
			if err != nil {
				t.Fatalf("second enqueue: %v", err)
			}
			if id1 != id2 {
				t.Errorf("dedupe should return existing id: %s vs %s", id1, id2)
			}

			// A sent message still blocks duplicates.
			msgs, _ := s.ClaimDueOutboxMessages(time.Now().Add(time.Second), 10)
			for _, m := range msgs {
				s.MarkOutboxMessageSent(m.ID)
			}
			id3, _ := s.EnqueueOutboxMessage("grant_coins", `{}`, "seg-1:coins:1")
			if id3 != id1 {
				t.Errorf("sent message should still dedupe, got new id %s", id3)
			}
			n, _ := s.CountOutboxMessages(OutboxStatusSent)
			if n != 1 {
				t.Errorf("expected 1 sent message, got %d", n)
			}
		})
	}
}

func TestOutboxRepo_FailAndRetry(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			id, _ := s.EnqueueOutboxMessage("add_time_spent", `{"seconds":30}`, "")
			now := time.Now()
			s.ClaimDueOutboxMessages(now.Add(time.Second), 10)

			next := now.Add(time.Hour)
			if err := s.FailOutboxMessage(id, "boom", next); err != nil {
				t.Fatalf("FailOutboxMessage failed: %v", err)
			}
			if msgs, _ := s.ClaimDueOutboxMessages(now.Add(time.Minute), 10); len(msgs) != 0 {
				t.Errorf("message should not be due before next attempt, got %d", len(msgs))
			}
			msgs, _ := s.ClaimDueOutboxMessages(next.Add(time.Second), 10)
			if len(msgs) != 1 {
				t.Fatalf("message should be due after next attempt, got %d", len(msgs))
			}
			if msgs[0].Attempts != 1 || msgs[0].LastError != "boom" {
				t.Errorf("unexpected retry bookkeeping: %+v", msgs[0])
			}
		})
	}
}

func TestOutboxRepo_GiveUp(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			id, _ := s.EnqueueOutboxMessage("grant_coins", `{}`, "give-up")
			s.ClaimDueOutboxMessages(time.Now().Add(time.Second), 10)
			if err := s.GiveUpOutboxMessage(id, "fatal"); err != nil {
				t.Fatalf("GiveUpOutboxMessage failed: %v", err)
			}
			if n, _ := s.CountOutboxMessages(OutboxStatusFailed); n != 1 {
				t.Errorf("expected 1 failed message, got %d", n)
			}
			if msgs, _ := s.ClaimDueOutboxMessages(time.Now().Add(time.Hour), 10); len(msgs) != 0 {
				t.Errorf("failed message must not be claimed, got %d", len(msgs))
			}
		})
	}
}

func TestOutboxRepo_RequeueStale(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s.EnqueueOutboxMessage("grant_coins", `{}`, "")
			past := time.Now().Add(-time.Hour)
			s.ClaimDueOutboxMessages(past.Add(time.Second), 10)

			n, err := s.RequeueStaleSendingMessages(time.Now().Add(-time.Minute))
			if err != nil {
				t.Fatalf("RequeueStaleSendingMessages failed: %v", err)
			}
			if n != 1 {
				t.Errorf("expected 1 requeued message, got %d", n)
			}
			if q, _ := s.CountOutboxMessages(OutboxStatusQueued); q != 1 {
				t.Errorf("expected 1 queued message, got %d", q)
			}
		})
	}
}

func TestOutboxSender_DrainRetriesAndGivesUp(t *testing.T) {
	s := NewInMemoryStore()
	s.EnqueueOutboxMessage("grant_coins", `{"amount":1}`, "ok")
	s.EnqueueOutboxMessage("grant_coins", `{"amount":2}`, "bad")

	calls := map[string]int{}
	sender := NewOutboxSender(s, func(ctx context.Context, msg OutboxMessage) error {
		calls[msg.DedupeKey]++
		if msg.DedupeKey == "bad" {
			return errors.New("ledger unavailable")
		}
		return nil
	}, time.Second)
	sender.SetMaxAttempts(2)

	clock := time.Now()
	sender.now = func() time.Time { return clock }

	if sent := sender.Drain(context.Background()); sent != 1 {
		t.Fatalf("first drain sent %d, want 1", sent)
	}
	if q, _ := s.CountOutboxMessages(OutboxStatusQueued); q != 1 {
		t.Fatalf("failing message should be queued for retry, got %d queued", q)
	}

	clock = clock.Add(time.Minute)
	sender.Drain(context.Background())
	if calls["bad"] != 2 {
		t.Errorf("expected 2 attempts for failing message, got %d", calls["bad"])
	}
	if f, _ := s.CountOutboxMessages(OutboxStatusFailed); f != 1 {
		t.Errorf("message should be given up after max attempts, got %d failed", f)
	}

	clock = clock.Add(time.Hour)
	sender.Drain(context.Background())
	if calls["bad"] != 2 || calls["ok"] != 1 {
		t.Errorf("no further sends expected, calls = %v", calls)
	}
}
