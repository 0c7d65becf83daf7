package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/BTreeMap/FocusCoin/internal/lockfile"
	"github.com/BTreeMap/FocusCoin/internal/store"
)

// errNoLedgerURL is returned by flush when there is nowhere to deliver to.
var errNoLedgerURL = errors.New("flush needs a ledger URL: set FOCUSCOIN_LEDGER_URL or --ledger-url")

func newFlushCmd(config *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Deliver every due outbox message to the ledger once and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sent, err := runFlush(cmd.Context(), *config)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "delivered %d outbox messages\n", sent)
			return nil
		},
	}
}

func runFlush(ctx context.Context, config Config) (int, error) {
	if config.LedgerURL == "" {
		return 0, errNoLedgerURL
	}

	lock, err := lockfile.AcquireLock(config.StateDir, "flush")
	if err != nil {
		return 0, err
	}
	defer lock.Release()

	st, err := store.Open(buildStoreOptions(config)...)
	if err != nil {
		return 0, fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	config.LedgerOutbox = true
	stack, err := buildLedgerStack(config, st)
	if err != nil {
		return 0, err
	}

	if err := stack.Sender.RecoverStaleMessages(); err != nil {
		slog.Warn("runFlush: failed to requeue stale messages", "error", err)
	}
	sent := stack.Sender.Drain(ctx)

	queued, qerr := st.CountOutboxMessages(store.OutboxStatusQueued)
	failed, ferr := st.CountOutboxMessages(store.OutboxStatusFailed)
	if qerr == nil && ferr == nil {
		slog.Info("runFlush: outbox drained", "sent", sent, "queued", queued, "failed", failed)
	}
	return sent, nil
}
