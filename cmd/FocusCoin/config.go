package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/BTreeMap/FocusCoin/internal/api"
	"github.com/BTreeMap/FocusCoin/internal/engine"
	"github.com/BTreeMap/FocusCoin/internal/lifecycle"
	"github.com/BTreeMap/FocusCoin/internal/models"
	"github.com/BTreeMap/FocusCoin/internal/store"
	"github.com/BTreeMap/FocusCoin/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for FocusCoin state data
	DefaultStateDir = "/var/lib/focuscoin"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "focuscoin.db"
)

// Config holds environment configuration
type Config struct {
	StateDir       string
	DBDSN          string
	APIAddr        string
	LedgerURL      string
	LedgerToken    string
	LedgerOutbox   bool
	CoinsPerMinute int
	CatchUp        engine.CatchUpPolicy
	SleepThreshold time.Duration
	Plan           models.SessionPlan
	Debug          bool
}

// initializeLogger installs the default text logger on stdout.
func initializeLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

func defaultDSN(stateDir string) string {
	return filepath.Join(stateDir, DefaultDBFileName)
}

func dsnType(dsn string) string {
	if dsn == "" {
		return "memory"
	}
	return store.DetectDSNType(dsn)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:       os.Getenv("FOCUSCOIN_STATE_DIR"),
		DBDSN:          os.Getenv("FOCUSCOIN_DB_DSN"),
		APIAddr:        os.Getenv("API_ADDR"),
		LedgerURL:      strings.TrimSpace(os.Getenv("FOCUSCOIN_LEDGER_URL")),
		LedgerToken:    os.Getenv("FOCUSCOIN_LEDGER_TOKEN"),
		LedgerOutbox:   util.ParseBoolEnv("FOCUSCOIN_LEDGER_OUTBOX", true),
		CoinsPerMinute: util.ParseIntEnv("FOCUSCOIN_COINS_PER_MINUTE", 1),
		CatchUp:        engine.CatchUpLoop,
		SleepThreshold: util.ParseDurationEnv("FOCUSCOIN_SLEEP_THRESHOLD", lifecycle.DefaultSleepThreshold),
		Plan: models.SessionPlan{
			PomodoroSeconds:  util.ParseIntEnv("FOCUSCOIN_POMODORO_MINUTES", models.DefaultPomodoroSeconds/60) * 60,
			BreakSeconds:     util.ParseIntEnv("FOCUSCOIN_BREAK_MINUTES", models.DefaultBreakSeconds/60) * 60,
			CountdownSeconds: util.ParseIntEnv("FOCUSCOIN_COUNTDOWN_MINUTES", models.DefaultCountdownSeconds/60) * 60,
			CycleCount:       util.ParseIntEnv("FOCUSCOIN_CYCLES", models.DefaultCycleCount),
		},
		Debug: util.ParseBoolEnv("FOCUSCOIN_DEBUG", false),
	}

	if raw := os.Getenv("FOCUSCOIN_CATCHUP"); raw != "" {
		policy, err := engine.ParseCatchUpPolicy(raw)
		if err != nil {
			slog.Warn("invalid FOCUSCOIN_CATCHUP, using default", "value", raw, "default", config.CatchUp)
		} else {
			config.CatchUp = policy
		}
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No FOCUSCOIN_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.DBDSN == "" {
		config.DBDSN = os.Getenv("DATABASE_URL")
		if config.DBDSN != "" {
			slog.Debug("Using DATABASE_URL as FOCUSCOIN_DB_DSN", "dsn_type", dsnType(config.DBDSN))
		}
	}
	if config.DBDSN == "" {
		config.DBDSN = defaultDSN(config.StateDir)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DBDSN)
	}
	if config.APIAddr == "" {
		config.APIAddr = api.DefaultAddr
	}

	slog.Debug("environment variables loaded",
		"FOCUSCOIN_STATE_DIR", config.StateDir,
		"FOCUSCOIN_DB_DSN_SET", config.DBDSN != "",
		"API_ADDR", config.APIAddr,
		"FOCUSCOIN_LEDGER_URL_SET", config.LedgerURL != "",
		"FOCUSCOIN_LEDGER_OUTBOX", config.LedgerOutbox,
		"FOCUSCOIN_COINS_PER_MINUTE", config.CoinsPerMinute,
		"FOCUSCOIN_CATCHUP", config.CatchUp,
		"FOCUSCOIN_SLEEP_THRESHOLD", config.SleepThreshold)

	return config
}

// buildStoreOptions picks the backend from the DSN.
func buildStoreOptions(config Config) []store.Option {
	if config.DBDSN == "" {
		return nil
	}
	if store.DetectDSNType(config.DBDSN) == "postgres" {
		return []store.Option{store.WithPostgresDSN(config.DBDSN)}
	}
	return []store.Option{store.WithSQLiteDSN(config.DBDSN)}
}

// buildEngineOptions maps configuration onto engine options.
func buildEngineOptions(config Config) []engine.Option {
	return []engine.Option{
		engine.WithCoinsPerMinute(config.CoinsPerMinute),
		engine.WithCatchUpPolicy(config.CatchUp),
		engine.WithDefaultPlan(config.Plan),
	}
}
