package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"exifquarter/ledger/pkg/config"
	"exifquarter/ledger/pkg/quota/retention"
	"exifquarter/ledger/pkg/telemetry/logging"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete stale quota records once and exit",
	Long: `Run a single retention sweep against the configured store.

Records untouched for longer than the retention period are deleted;
their identities get a fresh baseline on next contact. Useful from an
external scheduler when the built-in cron sweeper is disabled.

Examples:
  exifquarter sweep
  exifquarter sweep --config /etc/exifquarter/ledger.yaml`,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return err
	}

	level := cfg.Telemetry.Logging.Level
	if verbose {
		level = "debug"
	}
	if _, err := logging.Setup(logging.Config{
		Level:  level,
		Format: cfg.Telemetry.Logging.Format,
	}); err != nil {
		return err
	}

	store, err := buildStore(cmd.Context(), &cfg.Storage)
	if err != nil {
		return err
	}
	defer store.Close()

	sweeper := retention.NewSweeper(store, buildGuard(cfg), &retention.Config{
		RetentionPeriod: cfg.Retention.Period,
	})

	deleted, err := sweeper.RunOnce(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Printf("deleted %d stale record(s)\n", deleted)
	return nil
}
