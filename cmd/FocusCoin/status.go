package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/BTreeMap/FocusCoin/internal/models"
	"github.com/BTreeMap/FocusCoin/internal/store"
)

// statusReport is the read-only view printed by the status command.
type statusReport struct {
	Found  bool               `json:"found" yaml:"found"`
	Status models.Status      `json:"status,omitempty" yaml:"status,omitempty"`
	State  *models.TimerState `json:"state,omitempty" yaml:"state,omitempty"`
	// Error describes a saved state that could not be decoded.
	Error  string             `json:"error,omitempty" yaml:"error,omitempty"`
	Mirror *store.TimerMirror `json:"mirror,omitempty" yaml:"mirror,omitempty"`
	Outbox map[string]int     `json:"outbox" yaml:"outbox"`
}

func newStatusCmd(config *Config) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the persisted timer state and outbox counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if output != "json" && output != "yaml" {
				return fmt.Errorf("unsupported output format %q, want json or yaml", output)
			}
			st, err := store.Open(buildStoreOptions(*config)...)
			if err != nil {
				return fmt.Errorf("failed to open store: %w", err)
			}
			defer st.Close()

			report, err := collectStatus(st)
			if err != nil {
				return err
			}
			return writeReport(cmd.OutOrStdout(), output, report)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "json", "output format: json or yaml")
	return cmd
}

func collectStatus(st store.Store) (statusReport, error) {
	report := statusReport{Outbox: map[string]int{}}

	state, found, err := store.LoadTimerState(st)
	switch {
	case err != nil && !found:
		return report, fmt.Errorf("failed to read timer state: %w", err)
	case err != nil:
		report.Found = true
		report.Error = err.Error()
	case found:
		report.Found = true
		report.State = &state
		report.Status = state.Status()
		if verr := state.Validate(); verr != nil {
			report.Error = verr.Error()
		}
	}

	mirror, ok, err := store.LoadTimerMirror(st)
	if err == nil && ok {
		report.Mirror = &mirror
	}

	for _, status := range []store.OutboxStatus{
		store.OutboxStatusQueued, store.OutboxStatusSending, store.OutboxStatusSent, store.OutboxStatusFailed,
	} {
		n, err := st.CountOutboxMessages(status)
		if err != nil {
			return report, fmt.Errorf("failed to count %s outbox messages: %w", status, err)
		}
		report.Outbox[string(status)] = n
	}
	return report, nil
}

func writeReport(w io.Writer, output string, report statusReport) error {
	if output == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(report); err != nil {
			return fmt.Errorf("failed to encode status: %w", err)
		}
		return enc.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("failed to encode status: %w", err)
	}
	return nil
}
