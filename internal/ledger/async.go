package ledger

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultCallTimeout bounds each asynchronous ledger call.
const DefaultCallTimeout = 15 * time.Second

// AsyncLedger runs every call on its own goroutine and logs failures.
// Local state never waits on it.
type AsyncLedger struct {
	client  Client
	timeout time.Duration
	wg      sync.WaitGroup
}

// Compile-time check that AsyncLedger implements RewardLedger.
var _ RewardLedger = (*AsyncLedger)(nil)

// NewAsyncLedger wraps client. A non-positive timeout uses DefaultCallTimeout.
func NewAsyncLedger(client Client, timeout time.Duration) *AsyncLedger {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &AsyncLedger{client: client, timeout: timeout}
}

func (a *AsyncLedger) GrantCoins(amount int, key string) {
	a.spawn(Call{Kind: KindGrantCoins, Amount: amount, Key: key})
}

func (a *AsyncLedger) AddTimeSpent(seconds int, key string) {
	a.spawn(Call{Kind: KindAddTimeSpent, Seconds: seconds, Key: key})
}

func (a *AsyncLedger) CompleteTaskPomodoro(taskID string, key string) {
	a.spawn(Call{Kind: KindCompleteTaskPomodoro, TaskID: taskID, Key: key})
}

// Wait blocks until every in-flight call has returned.
func (a *AsyncLedger) Wait() {
	a.wg.Wait()
}

func (a *AsyncLedger) spawn(call Call) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		if err := Dispatch(ctx, a.client, call); err != nil {
			slog.Error("AsyncLedger: ledger call failed", "kind", call.Kind, "key", call.Key, "error", err)
		}
	}()
}
