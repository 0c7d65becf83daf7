// Command FocusCoin runs the FocusCoin timer service: a pomodoro, countdown
// and stopwatch engine that reconciles against the wall clock and reports
// focus time and coin rewards to a ledger service.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	initializeLogger(false)
	config := loadEnvironmentConfig()

	if err := newRootCmd(&config).Execute(); err != nil {
		slog.Error("FocusCoin failed to run", "error", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Flags default to the values already
// loaded into config from the environment and override them when set.
func newRootCmd(config *Config) *cobra.Command {
	envStateDir := config.StateDir
	envDSN := config.DBDSN

	root := &cobra.Command{
		Use:           "FocusCoin",
		Short:         "Focus timer that earns coins for time spent working",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// A new state dir moves the default SQLite file with it.
			flags := cmd.Flags()
			if flags.Changed("state-dir") && !flags.Changed("db-dsn") && envDSN == defaultDSN(envStateDir) {
				config.DBDSN = defaultDSN(config.StateDir)
			}
			initializeLogger(config.Debug)
			slog.Debug("Final configuration",
				"state_dir", config.StateDir,
				"dsn_type", dsnType(config.DBDSN),
				"api_addr", config.APIAddr,
				"ledger_url_set", config.LedgerURL != "",
				"catch_up", config.CatchUp)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&config.StateDir, "state-dir", config.StateDir, "state directory for the lock file and SQLite database (overrides $FOCUSCOIN_STATE_DIR)")
	pf.StringVar(&config.DBDSN, "db-dsn", config.DBDSN, "SQLite path or Postgres DSN (overrides $FOCUSCOIN_DB_DSN or $DATABASE_URL)")
	pf.BoolVar(&config.Debug, "debug", config.Debug, "enable debug logging (overrides $FOCUSCOIN_DEBUG)")
	pf.StringVar(&config.LedgerURL, "ledger-url", config.LedgerURL, "ledger service base URL; empty records calls locally (overrides $FOCUSCOIN_LEDGER_URL)")

	serve := newServeCmd(config)
	root.AddCommand(serve, newStatusCmd(config), newFlushCmd(config))
	// Running with no subcommand serves.
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())
	return root
}
