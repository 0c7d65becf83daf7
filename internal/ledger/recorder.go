package ledger

import (
	"context"
	"log/slog"
	"sync"
)

// Recorder is an in-memory ledger. It logs and records every call; serve
// uses it as the dry-run ledger when no ledger URL is configured.
// It satisfies RewardLedger, Client and Beacon.
type Recorder struct {
	mu    sync.Mutex
	calls []Call
	// Err, when set, is returned by the Client methods after recording.
	Err error
}

var (
	_ RewardLedger = (*Recorder)(nil)
	_ Client       = (*clientRecorder)(nil)
	_ Beacon       = (*Recorder)(nil)
)

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) GrantCoins(amount int, key string) {
	r.record(Call{Kind: KindGrantCoins, Amount: amount, Key: key})
}

func (r *Recorder) AddTimeSpent(seconds int, key string) {
	r.record(Call{Kind: KindAddTimeSpent, Seconds: seconds, Key: key})
}

func (r *Recorder) CompleteTaskPomodoro(taskID string, key string) {
	r.record(Call{Kind: KindCompleteTaskPomodoro, TaskID: taskID, Key: key})
}

// SendTimeSpent records a beacon flush as an AddTimeSpent call.
func (r *Recorder) SendTimeSpent(seconds int, key string) {
	r.AddTimeSpent(seconds, key)
}

// AsClient exposes the recorder through the synchronous Client interface.
func (r *Recorder) AsClient() Client {
	return (*clientRecorder)(r)
}

// Calls returns a copy of every recorded call in order.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// CallsOf returns the recorded calls of one kind.
func (r *Recorder) CallsOf(kind string) []Call {
	var out []Call
	for _, c := range r.Calls() {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// TotalCoins sums every GrantCoins amount.
func (r *Recorder) TotalCoins() int {
	total := 0
	for _, c := range r.CallsOf(KindGrantCoins) {
		total += c.Amount
	}
	return total
}

// TotalSeconds sums every AddTimeSpent amount.
func (r *Recorder) TotalSeconds() int {
	total := 0
	for _, c := range r.CallsOf(KindAddTimeSpent) {
		total += c.Seconds
	}
	return total
}

// Reset forgets all recorded calls.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

func (r *Recorder) record(call Call) {
	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()
	slog.Info("Recorder: ledger call", "kind", call.Kind, "amount", call.Amount, "seconds", call.Seconds, "taskID", call.TaskID, "key", call.Key)
}

type clientRecorder Recorder

func (c *clientRecorder) GrantCoins(_ context.Context, amount int, key string) error {
	(*Recorder)(c).GrantCoins(amount, key)
	return c.Err
}

func (c *clientRecorder) AddTimeSpent(_ context.Context, seconds int, key string) error {
	(*Recorder)(c).AddTimeSpent(seconds, key)
	return c.Err
}

func (c *clientRecorder) CompleteTaskPomodoro(_ context.Context, taskID string, key string) error {
	(*Recorder)(c).CompleteTaskPomodoro(taskID, key)
	return c.Err
}
