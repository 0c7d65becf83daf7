package ledger

import (
	"log/slog"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// DefaultDedupWindow is how long a forwarded key suppresses repeats.
const DefaultDedupWindow = 24 * time.Hour

// DedupLedger forwards a call only if its idempotency key has not been
// forwarded within the window. Calls with an empty key always pass.
type DedupLedger struct {
	next RewardLedger
	seen *gocache.Cache
	ttl  time.Duration
}

// Compile-time check that DedupLedger implements RewardLedger.
var _ RewardLedger = (*DedupLedger)(nil)

// NewDedupLedger wraps next. cleanupInterval controls how often expired keys
// are purged; zero disables the background purge.
func NewDedupLedger(next RewardLedger, window, cleanupInterval time.Duration) *DedupLedger {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	return &DedupLedger{
		next: next,
		seen: gocache.New(window, cleanupInterval),
		ttl:  window,
	}
}

func (d *DedupLedger) GrantCoins(amount int, key string) {
	if d.first(KindGrantCoins, key) {
		d.next.GrantCoins(amount, key)
	}
}

func (d *DedupLedger) AddTimeSpent(seconds int, key string) {
	if d.first(KindAddTimeSpent, key) {
		d.next.AddTimeSpent(seconds, key)
	}
}

func (d *DedupLedger) CompleteTaskPomodoro(taskID string, key string) {
	if d.first(KindCompleteTaskPomodoro, key) {
		d.next.CompleteTaskPomodoro(taskID, key)
	}
}

// Seen reports how many keys are currently remembered.
func (d *DedupLedger) Seen() int {
	return d.seen.ItemCount()
}

func (d *DedupLedger) first(kind, key string) bool {
	if key == "" {
		return true
	}
	if err := d.seen.Add(kind+"|"+key, struct{}{}, d.ttl); err != nil {
		slog.Debug("DedupLedger: dropping repeated ledger call", "kind", kind, "key", key)
		return false
	}
	return true
}
