package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"exifquarter/ledger/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Load and validate a configuration file without starting anything.

Exits non-zero when the file cannot be read, parsed, or fails
validation. Environment variable overrides are applied before
validation, matching what "exifquarter run" would see.

Examples:
  exifquarter validate
  exifquarter validate --config /etc/exifquarter/ledger.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return err
	}

	fmt.Printf("configuration valid\n")
	fmt.Printf("  listen address:      %s\n", cfg.Server.ListenAddress)
	fmt.Printf("  storage backend:     %s (failover: %v)\n", cfg.Storage.Backend, cfg.Storage.FailoverEnabled())
	fmt.Printf("  anonymous baseline:  %d\n", cfg.Ledger.AnonymousBaseline)
	fmt.Printf("  registered baseline: %d\n", cfg.Ledger.RegisteredBaseline)
	fmt.Printf("  reset window:        %s\n", cfg.Ledger.ResetWindow)
	if cfg.Abuse.IsEnabled() {
		fmt.Printf("  abuse ceiling:       %d per %s\n", cfg.Abuse.Ceiling, cfg.Abuse.Window)
	} else {
		fmt.Printf("  abuse guard:         disabled\n")
	}
	return nil
}
