package ledger

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultBeaconTimeout is the deadline for an unload-time flush.
const DefaultBeaconTimeout = 2 * time.Second

// Beacon delivers the unload-time time-spent flush. It makes a single
// attempt, never blocks the caller and swallows errors, so delivery is
// at-most-once.
type Beacon interface {
	SendTimeSpent(seconds int, key string)
}

// ClientBeacon sends through a Client on a background goroutine.
type ClientBeacon struct {
	client  Client
	timeout time.Duration
	wg      sync.WaitGroup
}

var (
	_ Beacon = (*ClientBeacon)(nil)
	_ Beacon = LedgerBeacon{}
)

// NewClientBeacon creates a beacon using client. A non-positive timeout uses
// DefaultBeaconTimeout.
func NewClientBeacon(client Client, timeout time.Duration) *ClientBeacon {
	if timeout <= 0 {
		timeout = DefaultBeaconTimeout
	}
	return &ClientBeacon{client: client, timeout: timeout}
}

// SendTimeSpent fires the request and returns immediately.
func (b *ClientBeacon) SendTimeSpent(seconds int, key string) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		defer cancel()
		if err := b.client.AddTimeSpent(ctx, seconds, key); err != nil {
			slog.Warn("ClientBeacon.SendTimeSpent: unload flush lost", "seconds", seconds, "key", key, "error", err)
		}
	}()
}

// Wait blocks until every fired send has returned or timed out.
func (b *ClientBeacon) Wait() {
	b.wg.Wait()
}

// LedgerBeacon adapts a RewardLedger into a Beacon, for hosts where the
// ledger itself is already non-blocking.
type LedgerBeacon struct {
	Ledger RewardLedger
}

// SendTimeSpent forwards to the ledger's AddTimeSpent.
func (b LedgerBeacon) SendTimeSpent(seconds int, key string) {
	b.Ledger.AddTimeSpent(seconds, key)
}
