package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"exifquarter/ledger/pkg/config"
	"exifquarter/ledger/pkg/quota"
	"exifquarter/ledger/pkg/quota/retention"
	"exifquarter/ledger/pkg/server"
	"exifquarter/ledger/pkg/telemetry/logging"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	watch         bool
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the ledger server",
	Long: `Start the ledger server with the specified configuration.

The server answers balance reads and deductions for the exifquarter
image service, runs the retention sweeper on its cron schedule, and
exposes Prometheus metrics.

Examples:
  # Start with default config
  exifquarter run

  # Start with custom config
  exifquarter run --config /etc/exifquarter/ledger.yaml

  # Override listen address
  exifquarter run --listen 0.0.0.0:8080

  # Reload baselines and ceilings when the config file changes
  exifquarter run --watch

  # Validate config without starting the server
  exifquarter run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.watch, "watch", false, "reload limits when the config file changes")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting the server")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return err
	}

	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}

	if _, err := logging.Setup(logging.Config{
		Level:     cfg.Telemetry.Logging.Level,
		Format:    cfg.Telemetry.Logging.Format,
		AddSource: cfg.Telemetry.Logging.AddSource,
	}); err != nil {
		return err
	}

	if runFlags.dryRun {
		fmt.Println("configuration valid")
		return nil
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	store, err := buildStore(ctx, &cfg.Storage)
	if err != nil {
		return err
	}
	defer store.Close()

	guard := buildGuard(cfg)

	ledger := quota.NewLedger(store, quota.Config{
		AnonymousBaseline:  cfg.Ledger.AnonymousBaseline,
		RegisteredBaseline: cfg.Ledger.RegisteredBaseline,
		ResetWindow:        cfg.Ledger.ResetWindow,
		MaxRetries:         cfg.Ledger.MaxRetries,
		MaxOperations:      cfg.Ledger.MaxOperations,
		StoreTimeout:       cfg.Ledger.StoreTimeout,
	})

	sweeper := retention.NewSweeper(store, guard, &retention.Config{
		RetentionPeriod: cfg.Retention.Period,
		Schedule:        cfg.Retention.Schedule,
	})
	if err := sweeper.Start(ctx); err != nil {
		return err
	}
	defer sweeper.Stop()

	if runFlags.watch {
		if err := startConfigWatch(ctx, cfgFile, ledger, guard); err != nil {
			return err
		}
	}

	srv := server.NewServer(&cfg.Server, server.Options{
		Ledger:  ledger,
		Store:   store,
		Guard:   guard,
		Metrics: &cfg.Telemetry.Metrics,
	})

	slog.Info("ledger starting",
		"backend", cfg.Storage.Backend,
		"failover", cfg.Storage.FailoverEnabled(),
		"anonymous_baseline", cfg.Ledger.AnonymousBaseline,
		"registered_baseline", cfg.Ledger.RegisteredBaseline,
		"reset_window", cfg.Ledger.ResetWindow)

	return srv.Start(ctx)
}
