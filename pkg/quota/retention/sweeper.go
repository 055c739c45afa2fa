// Package retention prunes stale quota records and abuse counters on a
// schedule. Records untouched for longer than the retention period are
// deleted; their identities get a fresh baseline on next contact, which
// is the same outcome a periodic reset would have produced.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"exifquarter/ledger/pkg/quota/abuse"
	"exifquarter/ledger/pkg/quota/storage"
)

// Config contains configuration for the retention sweeper.
type Config struct {
	// RetentionPeriod is how long a quota record may stay untouched
	// before it is deleted. 0 means keep records forever.
	RetentionPeriod time.Duration

	// Schedule is a cron expression for scheduling sweeps.
	// Example: "0 4 * * *" (daily at 4 AM). Empty disables scheduling;
	// RunOnce still works.
	Schedule string
}

// DefaultConfig returns the default retention configuration.
func DefaultConfig() *Config {
	return &Config{
		RetentionPeriod: 30 * 24 * time.Hour,
		Schedule:        "0 4 * * *",
	}
}

// Sweeper deletes quota records and abuse counters whose last activity
// predates the retention period.
type Sweeper struct {
	store  storage.Adapter
	guard  *abuse.Guard
	config *Config
	logger *slog.Logger

	cron    *cron.Cron
	mu      sync.Mutex
	running bool
}

// NewSweeper creates a sweeper over the quota store. The guard is
// optional; pass nil when abuse counters live in a TTL-backed store.
func NewSweeper(store storage.Adapter, guard *abuse.Guard, config *Config) *Sweeper {
	if config == nil {
		config = DefaultConfig()
	}

	return &Sweeper{
		store:  store,
		guard:  guard,
		config: config,
		cron:   cron.New(),
		logger: slog.Default().With("component", "retention"),
	}
}

// RunOnce performs a single sweep and returns the number of quota
// records deleted.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	if s.config.RetentionPeriod <= 0 {
		s.logger.Debug("retention period not configured, skipping sweep")
		return 0, nil
	}

	olderThan := time.Now().Add(-s.config.RetentionPeriod)

	deleted, err := s.store.Cleanup(ctx, olderThan)
	if err != nil {
		return deleted, fmt.Errorf("quota record cleanup: %w", err)
	}

	if s.guard != nil {
		counters, err := s.guard.Cleanup(ctx, olderThan)
		if err != nil {
			s.logger.Error("abuse counter cleanup failed", "error", err)
		} else if counters > 0 {
			s.logger.Info("abuse counters pruned", "deleted_count", counters)
		}
	}

	return deleted, nil
}

// Start begins scheduled sweeping based on the cron expression.
// If Schedule is empty, the scheduler does nothing.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.config.Schedule == "" {
		s.logger.Info("sweep schedule not configured, skipping scheduler")
		return nil
	}

	if _, err := cron.ParseStandard(s.config.Schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", s.config.Schedule, err)
	}

	if _, err := s.cron.AddFunc(s.config.Schedule, func() {
		s.runSweep(ctx)
	}); err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}

	s.cron.Start()
	s.running = true

	s.logger.Info("retention sweeper started",
		"schedule", s.config.Schedule,
		"retention_period", s.config.RetentionPeriod,
	)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

func (s *Sweeper) runSweep(ctx context.Context) {
	s.logger.Info("starting scheduled retention sweep")

	deleted, err := s.RunOnce(ctx)
	if err != nil {
		s.logger.Error("scheduled sweep failed", "error", err)
		return
	}

	if deleted > 0 {
		s.logger.Info("scheduled sweep completed", "deleted_count", deleted)
	} else {
		s.logger.Debug("scheduled sweep completed, no records deleted")
	}
}

// Stop stops the scheduler and waits for any running sweep to complete.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil && s.running {
		ctx := s.cron.Stop()
		<-ctx.Done()
		s.running = false
		s.logger.Info("retention sweeper stopped")
	}
}

// IsRunning returns true if the scheduler is running.
func (s *Sweeper) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.running
}

// NextRun returns the next scheduled sweep time.
func (s *Sweeper) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}

	next := entries[0].Next
	return &next
}
