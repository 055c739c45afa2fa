package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "exifquarter",
	Short: "Exifquarter ledger - credit backend for the exifquarter image service",
	Long: `Exifquarter ledger tracks per-identity credit balances for the
exifquarter image service.

It serves balance reads and atomic deductions over HTTP, grants each
identity a tier-based daily baseline, screens request volume through an
abuse guard, and falls back to an in-process store when the primary
backend is unreachable.`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "ledger.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
