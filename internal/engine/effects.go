package engine

import (
	"github.com/BTreeMap/FocusCoin/internal/ledger"
	"github.com/BTreeMap/FocusCoin/internal/models"
	"github.com/BTreeMap/FocusCoin/internal/pubsub"
)

// Notification is the payload of every engine event.
type Notification struct {
	State models.TimerState `json:"state"`
	// From and To are set on segment_completed.
	From models.Segment `json:"from,omitempty"`
	To   models.Segment `json:"to,omitempty"`
	// Mode and Cycles are set on plan_completed.
	Mode   models.Mode `json:"mode,omitempty"`
	Cycles int         `json:"cycles,omitempty"`
	// Reason is set on state_reset.
	Reason string `json:"reason,omitempty"`
}

// effect is one deferred side effect: a ledger call or an event.
type effect struct {
	call      *ledger.Call
	viaBeacon bool
	event     pubsub.EventType
	note      Notification
}

// effects collects side effects in order while the engine lock is held.
type effects struct {
	items []effect
}

func (fx *effects) ledgerCall(call ledger.Call) {
	fx.items = append(fx.items, effect{call: &call})
}

func (fx *effects) beaconCall(call ledger.Call) {
	fx.items = append(fx.items, effect{call: &call, viaBeacon: true})
}

func (fx *effects) emit(t pubsub.EventType, note Notification) {
	fx.items = append(fx.items, effect{event: t, note: note})
}

func (fx *effects) stateChanged(s models.TimerState) {
	fx.emit(pubsub.StateChangedEvent, Notification{State: s.Clone()})
}

// calls returns only the ledger calls, for tests and projections.
func (fx *effects) calls() []ledger.Call {
	var out []ledger.Call
	for _, it := range fx.items {
		if it.call != nil {
			out = append(out, *it.call)
		}
	}
	return out
}

func sendCall(l ledger.RewardLedger, call ledger.Call) {
	switch call.Kind {
	case ledger.KindGrantCoins:
		l.GrantCoins(call.Amount, call.Key)
	case ledger.KindAddTimeSpent:
		l.AddTimeSpent(call.Seconds, call.Key)
	case ledger.KindCompleteTaskPomodoro:
		l.CompleteTaskPomodoro(call.TaskID, call.Key)
	}
}
