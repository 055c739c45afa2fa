package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Set at link time via -ldflags; the defaults cover plain "go build".
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the ledger build",
	Long: `Show the ledger version together with the commit and build date
baked in at link time, and the Go runtime it was compiled with.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("exifquarter ledger %s\n", Version)
		fmt.Printf("  commit: %s\n", GitCommit)
		fmt.Printf("  built:  %s\n", BuildDate)
		fmt.Printf("  go:     %s (%s/%s)\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
