package main

import (
	"context"
	"log/slog"

	"exifquarter/ledger/pkg/config"
	"exifquarter/ledger/pkg/quota"
	"exifquarter/ledger/pkg/quota/abuse"
)

// startConfigWatch hot-reloads the tunables that are safe to change
// while serving: tier baselines and the abuse ceiling. Anything else
// (backend, listen address) needs a restart.
func startConfigWatch(ctx context.Context, path string, ledger *quota.Ledger, guard *abuse.Guard) error {
	watcher, err := config.NewWatcher(path, slog.Default())
	if err != nil {
		return err
	}

	go func() {
		err := watcher.Watch(ctx, func(cfg *config.Config) {
			ledger.SetBaselines(cfg.Ledger.AnonymousBaseline, cfg.Ledger.RegisteredBaseline)
			if guard != nil {
				guard.SetCeiling(cfg.Abuse.Ceiling)
			}
			slog.Info("limits reloaded",
				"anonymous_baseline", cfg.Ledger.AnonymousBaseline,
				"registered_baseline", cfg.Ledger.RegisteredBaseline,
				"abuse_ceiling", cfg.Abuse.Ceiling)
		})
		if err != nil {
			slog.Error("config watch stopped", "error", err)
		}
	}()

	return nil
}
