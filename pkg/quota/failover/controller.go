package failover

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"exifquarter/ledger/pkg/quota/storage"
)

const (
	// DefaultProbeInterval is how long a health probe result is cached.
	DefaultProbeInterval = 5 * time.Second

	// DefaultProbeTimeout bounds a single Ping against the primary.
	DefaultProbeTimeout = 2 * time.Second
)

// Config holds the tunables for a Controller.
type Config struct {
	// ProbeInterval is how long a probe result is cached before the
	// primary is pinged again. Defaults to DefaultProbeInterval.
	ProbeInterval time.Duration

	// ProbeTimeout bounds each Ping. Defaults to DefaultProbeTimeout.
	ProbeTimeout time.Duration

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	// Logger receives degradation transitions. Defaults to slog.Default.
	Logger *slog.Logger
}

// Controller is a storage.Adapter that serves from a primary adapter and
// degrades to an in-process memory fallback when the primary is down.
//
// # Example
//
//	primary, _ := storage.NewSQLiteAdapter(path)
//	store := failover.NewController(primary, failover.Config{})
//	ledger := quota.NewLedger(store, quota.Config{})
type Controller struct {
	primary  storage.Adapter
	fallback *storage.MemoryAdapter
	cfg      Config
	metrics  *controllerMetrics

	mu        sync.Mutex
	degraded  bool
	lastProbe time.Time
}

// NewController wraps the primary adapter with a fresh memory fallback.
func NewController(primary storage.Adapter, cfg Config) *Controller {
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = DefaultProbeInterval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.Logger = cfg.Logger.With("component", "failover")

	c := &Controller{
		primary:  primary,
		fallback: storage.NewMemoryAdapter(),
		cfg:      cfg,
		metrics:  defaultControllerMetrics(),
	}
	c.lastProbe = time.Time{}
	return c
}

// Degraded reports whether calls are currently served by the fallback.
func (c *Controller) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.degraded
}

// active returns the adapter calls should go to, probing the primary when
// the cached result has expired.
func (c *Controller) active(ctx context.Context) storage.Adapter {
	c.mu.Lock()
	now := c.cfg.Now()
	if now.Sub(c.lastProbe) < c.cfg.ProbeInterval {
		degraded := c.degraded
		c.mu.Unlock()
		if degraded {
			return c.fallback
		}
		return c.primary
	}
	c.lastProbe = now
	wasDegraded := c.degraded
	c.mu.Unlock()

	probeCtx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	err := c.primary.Ping(probeCtx)
	cancel()

	degraded := err != nil

	c.mu.Lock()
	c.degraded = degraded
	c.mu.Unlock()

	if degraded != wasDegraded {
		if degraded {
			c.cfg.Logger.Warn("primary store unreachable, serving from memory fallback", "error", err)
			c.metrics.degraded.Set(1)
			c.metrics.transitions.Inc()
		} else {
			c.cfg.Logger.Info("primary store recovered, resuming primary serving")
			c.metrics.degraded.Set(0)
			c.metrics.transitions.Inc()
		}
	}

	if degraded {
		return c.fallback
	}
	return c.primary
}

// Load returns the record for the identity from the active store.
func (c *Controller) Load(ctx context.Context, identity string) (*storage.Record, int64, error) {
	return c.active(ctx).Load(ctx, identity)
}

// Save writes the record unconditionally to the active store.
func (c *Controller) Save(ctx context.Context, identity string, rec *storage.Record) error {
	return c.active(ctx).Save(ctx, identity, rec)
}

// CompareAndSave writes the record to the active store if its version
// still matches.
func (c *Controller) CompareAndSave(ctx context.Context, identity string, expectedVersion int64, rec *storage.Record) error {
	return c.active(ctx).CompareAndSave(ctx, identity, expectedVersion, rec)
}

// Delete removes the record from the active store.
func (c *Controller) Delete(ctx context.Context, identity string) error {
	return c.active(ctx).Delete(ctx, identity)
}

// Cleanup removes stale records from both stores; fallback entries age
// out the same way primary ones do.
func (c *Controller) Cleanup(ctx context.Context, olderThan time.Time) (int, error) {
	deleted, err := c.active(ctx).Cleanup(ctx, olderThan)
	if fbDeleted, fbErr := c.fallback.Cleanup(ctx, olderThan); fbErr == nil {
		deleted += fbDeleted
	}
	return deleted, err
}

// Ping reports health of the active store. The fallback is always
// healthy, so a degraded controller still answers readiness checks.
func (c *Controller) Ping(ctx context.Context) error {
	return c.active(ctx).Ping(ctx)
}

// Close closes the primary. The fallback holds no external resources.
func (c *Controller) Close() error {
	return c.primary.Close()
}

var _ storage.Adapter = (*Controller)(nil)

type controllerMetrics struct {
	degraded    prometheus.Gauge
	transitions prometheus.Counter
}

var (
	controllerMetricsOnce sync.Once
	controllerMetricsInst *controllerMetrics
)

func defaultControllerMetrics() *controllerMetrics {
	controllerMetricsOnce.Do(func() {
		controllerMetricsInst = &controllerMetrics{
			degraded: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "exifquarter_store_degraded",
				Help: "1 while the memory fallback is serving, 0 otherwise.",
			}),
			transitions: promauto.NewCounter(prometheus.CounterOpts{
				Name: "exifquarter_store_degradation_transitions_total",
				Help: "Transitions between primary and fallback serving.",
			}),
		}
	})
	return controllerMetricsInst
}
