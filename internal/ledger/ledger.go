// Package ledger talks to the external reward ledger that records coins,
// time spent and completed task pomodoros.
//
// The engine only sees RewardLedger, whose methods return nothing and never
// block on the network. The wrappers in this package turn a synchronous
// Client into that contract: AsyncLedger (goroutine per call), OutboxLedger
// (durable, at-least-once) and DedupLedger (drops replays of a key).
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
)

// RewardLedger is the fire-and-forget interface the timing engine calls.
// Each call carries an idempotency key derived from the segment it belongs to.
type RewardLedger interface {
	GrantCoins(amount int, key string)
	AddTimeSpent(seconds int, key string)
	CompleteTaskPomodoro(taskID string, key string)
}

// Client is the synchronous transport to the ledger service.
type Client interface {
	GrantCoins(ctx context.Context, amount int, key string) error
	AddTimeSpent(ctx context.Context, seconds int, key string) error
	CompleteTaskPomodoro(ctx context.Context, taskID string, key string) error
}

// Call kinds, used as outbox message kinds.
const (
	KindGrantCoins           = "grant_coins"
	KindAddTimeSpent         = "add_time_spent"
	KindCompleteTaskPomodoro = "complete_task_pomodoro"
)

// Call is one ledger request in serializable form.
type Call struct {
	Kind    string `json:"kind"`
	Key     string `json:"key"`
	Amount  int    `json:"amount,omitempty"`
	Seconds int    `json:"seconds,omitempty"`
	TaskID  string `json:"taskId,omitempty"`
}

// Dispatch performs call against client.
func Dispatch(ctx context.Context, client Client, call Call) error {
	switch call.Kind {
	case KindGrantCoins:
		return client.GrantCoins(ctx, call.Amount, call.Key)
	case KindAddTimeSpent:
		return client.AddTimeSpent(ctx, call.Seconds, call.Key)
	case KindCompleteTaskPomodoro:
		return client.CompleteTaskPomodoro(ctx, call.TaskID, call.Key)
	default:
		return fmt.Errorf("unknown ledger call kind %q", call.Kind)
	}
}

// DecodeCall parses an outbox payload.
func DecodeCall(payload string) (Call, error) {
	var call Call
	if err := json.Unmarshal([]byte(payload), &call); err != nil {
		return Call{}, fmt.Errorf("decode ledger call: %w", err)
	}
	return call, nil
}
