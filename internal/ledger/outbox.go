package ledger

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/BTreeMap/FocusCoin/internal/store"
)

// OutboxLedger records each call in the durable outbox; an OutboxSender later
// delivers it with OutboxSendFunc. Delivery is at-least-once and the outbox
// dedupe key is the call's idempotency key.
type OutboxLedger struct {
	repo store.OutboxRepo
}

// Compile-time check that OutboxLedger implements RewardLedger.
var _ RewardLedger = (*OutboxLedger)(nil)

// NewOutboxLedger creates an OutboxLedger backed by repo.
func NewOutboxLedger(repo store.OutboxRepo) *OutboxLedger {
	return &OutboxLedger{repo: repo}
}

func (o *OutboxLedger) GrantCoins(amount int, key string) {
	o.enqueue(Call{Kind: KindGrantCoins, Amount: amount, Key: key})
}

func (o *OutboxLedger) AddTimeSpent(seconds int, key string) {
	o.enqueue(Call{Kind: KindAddTimeSpent, Seconds: seconds, Key: key})
}

func (o *OutboxLedger) CompleteTaskPomodoro(taskID string, key string) {
	o.enqueue(Call{Kind: KindCompleteTaskPomodoro, TaskID: taskID, Key: key})
}

func (o *OutboxLedger) enqueue(call Call) {
	payload, err := json.Marshal(call)
	if err != nil {
		slog.Error("OutboxLedger.enqueue: marshal failed", "kind", call.Kind, "error", err)
		return
	}
	id, err := o.repo.EnqueueOutboxMessage(call.Kind, string(payload), call.Key)
	if err != nil {
		slog.Error("OutboxLedger.enqueue: enqueue failed", "kind", call.Kind, "key", call.Key, "error", err)
		return
	}
	slog.Debug("OutboxLedger.enqueue: queued ledger call", "id", id, "kind", call.Kind, "key", call.Key)
}

// OutboxSendFunc returns the delivery callback for a store.OutboxSender.
func OutboxSendFunc(client Client) store.OutboxSendFunc {
	return func(ctx context.Context, msg store.OutboxMessage) error {
		call, err := DecodeCall(msg.PayloadJSON)
		if err != nil {
			return err
		}
		return Dispatch(ctx, client, call)
	}
}
