package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/BTreeMap/FocusCoin/internal/api"
	"github.com/BTreeMap/FocusCoin/internal/clock"
	"github.com/BTreeMap/FocusCoin/internal/engine"
	"github.com/BTreeMap/FocusCoin/internal/lifecycle"
	"github.com/BTreeMap/FocusCoin/internal/lockfile"
	"github.com/BTreeMap/FocusCoin/internal/recovery"
	"github.com/BTreeMap/FocusCoin/internal/scheduler"
	"github.com/BTreeMap/FocusCoin/internal/store"
)

func newServeCmd(config *Config) *cobra.Command {
	var catchUp string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the timer engine and its local HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("catch-up") {
				policy, err := engine.ParseCatchUpPolicy(catchUp)
				if err != nil {
					return err
				}
				config.CatchUp = policy
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, *config)
		},
	}
	f := cmd.Flags()
	f.StringVar(&config.APIAddr, "api-addr", config.APIAddr, "API server address (overrides $API_ADDR)")
	f.IntVar(&config.CoinsPerMinute, "coins-per-minute", config.CoinsPerMinute, "coins granted per whole minute of work (overrides $FOCUSCOIN_COINS_PER_MINUTE)")
	f.StringVar(&catchUp, "catch-up", config.CatchUp.String(), "catch-up policy for long gaps: loop or single (overrides $FOCUSCOIN_CATCHUP)")
	return cmd
}

// runServe runs every component until ctx is cancelled.
func runServe(ctx context.Context, config Config) error {
	slog.Info("Bootstrapping FocusCoin", "state_dir", config.StateDir, "dsn_type", dsnType(config.DBDSN))

	lock, err := lockfile.AcquireLock(config.StateDir, "serve")
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := store.Open(buildStoreOptions(config)...)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	stack, err := buildLedgerStack(config, st)
	if err != nil {
		return err
	}
	defer stack.Wait()

	clk := clock.NewRealClock()
	opts := append(buildEngineOptions(config), engine.WithBeacon(stack.Beacon))
	eng := engine.New(clk, st, stack.Ledger, opts...)
	defer eng.Close()

	rm := recovery.NewRecoveryManager()
	if stack.Sender != nil {
		rm.RegisterRecoverable(recovery.StepOutbox, recovery.OutboxRecovery(stack.Sender))
	}
	rm.RegisterRecoverable(recovery.StepEngine, recovery.EngineRecovery(eng))
	rm.RegisterRecoverable(recovery.StepMirror, recovery.MirrorCleanup(st))
	if err := rm.RecoverAll(ctx); err != nil {
		slog.Warn("Startup recovery was incomplete", "error", err)
	}

	watcher := lifecycle.New(clk, eng, st, lifecycle.WithSleepThreshold(config.SleepThreshold))
	server := api.NewServer(eng, watcher, clk, api.WithAddr(config.APIAddr))

	sched := scheduler.NewScheduler()
	var outbox scheduler.OutboxRecoverer
	if stack.Sender != nil {
		outbox = stack.Sender
	}
	if err := sched.AddMaintenance(outbox, eng, clk); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx) })
	g.Go(func() error { return watcher.Run(gctx) })
	g.Go(func() error { return sched.Run(gctx) })
	if stack.Sender != nil {
		g.Go(func() error {
			stack.Sender.Run(gctx)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		// The API never reached its own shutdown path, so hand off here.
		eng.Unload()
		return err
	}
	slog.Info("FocusCoin exited successfully")
	return nil
}
