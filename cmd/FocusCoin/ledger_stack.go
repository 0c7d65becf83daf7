package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/FocusCoin/internal/ledger"
	"github.com/BTreeMap/FocusCoin/internal/store"
)

const (
	ledgerCallTimeout  = 10 * time.Second
	beaconTimeout      = 2 * time.Second
	dedupWindow        = 10 * time.Minute
	dedupCleanup       = time.Minute
	outboxPollInterval = 5 * time.Second
)

// ledgerStack is the reward path handed to the engine.
type ledgerStack struct {
	Ledger ledger.RewardLedger
	Beacon ledger.Beacon
	// Sender is set when calls go through the durable outbox.
	Sender *store.OutboxSender

	async        *ledger.AsyncLedger
	clientBeacon *ledger.ClientBeacon
}

// Wait blocks until in-flight asynchronous ledger and beacon calls finish.
func (s *ledgerStack) Wait() {
	if s.async != nil {
		s.async.Wait()
	}
	if s.clientBeacon != nil {
		s.clientBeacon.Wait()
	}
}

// buildLedgerStack wires the ledger for config. Without a ledger URL calls
// are only recorded and logged. With one, calls go through the outbox (or
// straight to the service when the outbox is disabled) behind a dedupe window.
func buildLedgerStack(config Config, repo store.OutboxRepo) (*ledgerStack, error) {
	if config.LedgerURL == "" {
		slog.Warn("No FOCUSCOIN_LEDGER_URL set, ledger calls are recorded locally only")
		rec := ledger.NewRecorder()
		return &ledgerStack{Ledger: rec, Beacon: rec}, nil
	}

	var opts []ledger.HTTPOption
	if config.LedgerToken != "" {
		opts = append(opts, ledger.WithToken(config.LedgerToken))
	}
	client, err := ledger.NewHTTPClient(config.LedgerURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create ledger client: %w", err)
	}

	stack := &ledgerStack{clientBeacon: ledger.NewClientBeacon(client, beaconTimeout)}
	stack.Beacon = stack.clientBeacon

	var base ledger.RewardLedger
	if config.LedgerOutbox {
		base = ledger.NewOutboxLedger(repo)
		stack.Sender = store.NewOutboxSender(repo, ledger.OutboxSendFunc(client), outboxPollInterval)
		slog.Info("Ledger calls use the durable outbox", "ledger_url", config.LedgerURL)
	} else {
		stack.async = ledger.NewAsyncLedger(client, ledgerCallTimeout)
		base = stack.async
		slog.Info("Ledger calls are sent directly", "ledger_url", config.LedgerURL)
	}
	stack.Ledger = ledger.NewDedupLedger(base, dedupWindow, dedupCleanup)
	return stack, nil
}
